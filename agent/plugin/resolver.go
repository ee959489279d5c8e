package plugin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	contractx "github.com/kwkraus/fleet-assistant/agent/contract"
	logx "github.com/kwkraus/fleet-assistant/pkg/logger"
)

const defaultBuildTimeout = 10 * time.Second

// Resolver maps a tenant's enabled integrations to the registered
// descriptors whose capabilities intersect a requested set, and
// instantiates the matching tool bundles with tenant credentials.
type Resolver struct {
	registry     *Registry
	config       contractx.ConfigStore
	creds        contractx.CredentialStore
	buildTimeout time.Duration
	log          zerolog.Logger
}

var _ contractx.PluginResolver = (*Resolver)(nil)

type ResolverOption func(*Resolver)

func WithBuildTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.buildTimeout = d
		}
	}
}

func NewResolver(registry *Registry, config contractx.ConfigStore, creds contractx.CredentialStore, opts ...ResolverOption) (*Resolver, error) {
	if registry == nil {
		return nil, errors.New("plugin registry is required")
	}
	if config == nil {
		return nil, errors.New("config store is required")
	}
	if creds == nil {
		return nil, errors.New("credential store is required")
	}
	r := &Resolver{
		registry:     registry,
		config:       config,
		creds:        creds,
		buildTimeout: defaultBuildTimeout,
		log:          logx.Component("plugin.resolver"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resolve walks the registry in registration order. A failure for one
// descriptor (missing credentials, factory error, timeout) is recorded
// as a warning and never prevents the remaining descriptors from
// resolving. Only a ConfigStore failure returns an error.
func (r *Resolver) Resolve(ctx context.Context, tenantID string, capabilities []string) (contractx.Resolution, error) {
	enabled, err := r.config.GetEnabledIntegrations(ctx, tenantID)
	if err != nil {
		return contractx.Resolution{}, fmt.Errorf("%w: enabled integrations for tenant=%s: %v", contractx.ErrPluginResolution, tenantID, err)
	}

	enabledSet := make(map[string]struct{}, len(enabled))
	for _, key := range enabled {
		enabledSet[key] = struct{}{}
	}

	var resolution contractx.Resolution
	for _, d := range r.registry.Descriptors() {
		if _, ok := enabledSet[d.Key]; !ok {
			continue
		}
		if !d.Matches(capabilities) {
			continue
		}

		creds, ok, err := r.creds.GetCredentials(ctx, tenantID, d.Key)
		if err != nil {
			resolution.Warnings = append(resolution.Warnings,
				fmt.Sprintf("integration %s skipped: credential lookup failed", d.Key))
			r.log.Warn().Err(err).Str("tenant_id", tenantID).Str("integration", d.Key).Msg("credential lookup failed")
			continue
		}
		if !ok {
			resolution.Warnings = append(resolution.Warnings,
				fmt.Sprintf("integration %s skipped: no credentials configured", d.Key))
			continue
		}

		buildCtx, cancel := context.WithTimeout(ctx, r.buildTimeout)
		bundle, err := d.Build(buildCtx, tenantID, creds)
		cancel()
		if err != nil {
			resolution.Warnings = append(resolution.Warnings,
				fmt.Sprintf("integration %s skipped: %v", d.Key, err))
			r.log.Warn().Err(err).Str("tenant_id", tenantID).Str("integration", d.Key).Msg("tool bundle build failed")
			continue
		}
		if bundle.Integration == "" {
			bundle.Integration = d.Key
		}
		resolution.Bundles = append(resolution.Bundles, bundle)
	}

	r.log.Debug().
		Str("tenant_id", tenantID).
		Strs("capabilities", capabilities).
		Int("bundles", len(resolution.Bundles)).
		Int("warnings", len(resolution.Warnings)).
		Msg("resolved tool bundles")
	return resolution, nil
}
