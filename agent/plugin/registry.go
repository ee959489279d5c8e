package plugin

import (
	"context"
	"fmt"
	"strings"

	contractx "github.com/kwkraus/fleet-assistant/agent/contract"
)

// BuildFunc instantiates a descriptor's tool bundle for one tenant.
// Called per request; bundles carry no cross-request state.
type BuildFunc func(ctx context.Context, tenantID string, creds contractx.Credential) (contractx.ToolBundle, error)

// Descriptor registers one backend integration: a stable key, the
// capability tags it offers, and a factory bound to tenant credentials.
type Descriptor struct {
	Key          string
	Capabilities []string
	Build        BuildFunc
}

// Matches reports whether the descriptor's capability set intersects
// the requested set. Matching is flat tag equality; there is no
// hierarchy.
func (d Descriptor) Matches(requested []string) bool {
	for _, want := range requested {
		for _, have := range d.Capabilities {
			if have == want {
				return true
			}
		}
	}
	return false
}

// Registry holds the plugin descriptors registered at process start.
// Registration order is resolution order.
type Registry struct {
	ordered []Descriptor
	byKey   map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]struct{})}
}

func (r *Registry) Register(d Descriptor) error {
	key := strings.TrimSpace(d.Key)
	if key == "" {
		return fmt.Errorf("%w: descriptor key is empty", contractx.ErrValidation)
	}
	if _, dup := r.byKey[key]; dup {
		return fmt.Errorf("%w: duplicate descriptor key=%s", contractx.ErrValidation, key)
	}
	if len(d.Capabilities) == 0 {
		return fmt.Errorf("%w: descriptor key=%s declares no capabilities", contractx.ErrValidation, key)
	}
	if d.Build == nil {
		return fmt.Errorf("%w: descriptor key=%s has no factory", contractx.ErrValidation, key)
	}
	d.Key = key
	r.byKey[key] = struct{}{}
	r.ordered = append(r.ordered, d)
	return nil
}

func (r *Registry) MustRegister(d Descriptor) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Descriptors returns the registered descriptors in registration order.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, len(r.ordered))
	copy(out, r.ordered)
	return out
}

func (r *Registry) Lookup(key string) (Descriptor, bool) {
	if _, ok := r.byKey[key]; !ok {
		return Descriptor{}, false
	}
	for _, d := range r.ordered {
		if d.Key == key {
			return d, true
		}
	}
	return Descriptor{}, false
}

// NewBuiltinRegistry registers the stock fleet integrations.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(GeotabDescriptor())
	r.MustRegister(FleetioDescriptor())
	r.MustRegister(SamsaraDescriptor())
	return r
}
