package gate

import (
	"context"
	"errors"
	"testing"

	contractx "github.com/kwkraus/fleet-assistant/agent/contract"
)

const keySpec = "kid-1|tok_acme|acme|free|production|fleet:query,fleet:export;" +
	"kid-2|tok_beta|beta|enterprise|staging|fleet:query"

func TestParseKeyTable(t *testing.T) {
	table, err := ParseKeyTable(keySpec)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	identity, err := table.Authenticate(context.Background(), "tok_acme")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if identity.TenantID != "acme" || identity.KeyID != "kid-1" {
		t.Fatalf("identity = %+v", identity)
	}
	if identity.Tier != contractx.TierFree {
		t.Fatalf("tier = %q", identity.Tier)
	}
	if !identity.HasScope("fleet:query") || !identity.HasScope("fleet:export") {
		t.Fatalf("scopes = %v", identity.Scopes)
	}
	if identity.HasScope("fleet:admin") {
		t.Fatal("unexpected admin scope")
	}
}

func TestAuthenticateUnknownToken(t *testing.T) {
	table := MustParseKeyTable(keySpec)

	_, err := table.Authenticate(context.Background(), "tok_nope")
	if !errors.Is(err, contractx.ErrAuthentication) {
		t.Fatalf("err = %v, want ErrAuthentication", err)
	}

	_, err = table.Authenticate(context.Background(), "")
	if !errors.Is(err, contractx.ErrAuthentication) {
		t.Fatalf("empty token err = %v, want ErrAuthentication", err)
	}
}

func TestParseKeyTableRejectsBadEntries(t *testing.T) {
	if _, err := ParseKeyTable("kid|tok|tenant|free|prod"); err == nil {
		t.Fatal("expected error for missing field")
	}
	if _, err := ParseKeyTable("kid|tok|tenant|gold|prod|fleet:query"); err == nil {
		t.Fatal("expected error for unknown tier")
	}
	if _, err := ParseKeyTable("kid||tenant|free|prod|fleet:query"); err == nil {
		t.Fatal("expected error for empty token")
	}
}
