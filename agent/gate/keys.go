package gate

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"

	contractx "github.com/kwkraus/fleet-assistant/agent/contract"
)

// Authenticator turns a presented bearer credential into an Identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (contractx.Identity, error)
}

// KeyTable is a static bearer-key authenticator loaded at startup.
type KeyTable struct {
	entries []keyEntry
}

type keyEntry struct {
	token    string
	identity contractx.Identity
}

var _ Authenticator = (*KeyTable)(nil)

// ParseKeyTable parses the FLEET_API_KEYS format: semicolon-separated
// entries of pipe-separated fields
//
//	keyID|token|tenantID|tier|environment|scope,scope,...
//
// Scopes keep their colons (fleet:query), which is why the field
// separator is a pipe.
func ParseKeyTable(spec string) (*KeyTable, error) {
	table := &KeyTable{}
	for _, entry := range strings.Split(spec, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		fields := strings.Split(entry, "|")
		if len(fields) != 6 {
			return nil, fmt.Errorf("api key entry needs 6 fields, got %d", len(fields))
		}
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		if fields[1] == "" || fields[2] == "" {
			return nil, fmt.Errorf("api key entry %q: token and tenant are required", fields[0])
		}

		tier := contractx.Tier(fields[3])
		switch tier {
		case contractx.TierFree, contractx.TierPro, contractx.TierEnterprise:
		case "":
			tier = contractx.TierFree
		default:
			return nil, fmt.Errorf("api key entry %q: unknown tier %q", fields[0], fields[3])
		}

		var scopes []string
		for _, s := range strings.Split(fields[5], ",") {
			if s = strings.TrimSpace(s); s != "" {
				scopes = append(scopes, s)
			}
		}

		table.entries = append(table.entries, keyEntry{
			token: fields[1],
			identity: contractx.Identity{
				TenantID:    fields[2],
				KeyID:       fields[0],
				Scopes:      scopes,
				Environment: fields[4],
				Tier:        tier,
			},
		})
	}
	return table, nil
}

func MustParseKeyTable(spec string) *KeyTable {
	table, err := ParseKeyTable(spec)
	if err != nil {
		panic(err)
	}
	return table
}

func (t *KeyTable) Authenticate(_ context.Context, token string) (contractx.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return contractx.Identity{}, fmt.Errorf("%w: missing credential", contractx.ErrAuthentication)
	}
	for _, e := range t.entries {
		if subtle.ConstantTimeCompare([]byte(e.token), []byte(token)) == 1 {
			return e.identity, nil
		}
	}
	return contractx.Identity{}, fmt.Errorf("%w: unknown credential", contractx.ErrAuthentication)
}
