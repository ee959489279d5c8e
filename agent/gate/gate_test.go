package gate

import (
	"context"
	"sync"
	"testing"
	"time"

	contractx "github.com/kwkraus/fleet-assistant/agent/contract"
)

func testIdentity(tier contractx.Tier, scopes ...string) contractx.Identity {
	return contractx.Identity{
		TenantID:    "tenant-a",
		KeyID:       "key-1",
		Scopes:      scopes,
		Environment: "test",
		Tier:        tier,
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestAuthorizeMissingScope(t *testing.T) {
	g := New(NewMemoryQuotaStore())
	identity := testIdentity(contractx.TierFree, PermFleetExport)

	decision, err := g.Authorize(context.Background(), identity, PermFleetQuery)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if decision.Allowed {
		t.Fatal("expected denial for missing scope")
	}
	if decision.Reason != ReasonForbidden {
		t.Fatalf("reason = %q, want %q", decision.Reason, ReasonForbidden)
	}
	if decision.Minute.Limit == 0 {
		t.Fatal("expected tier limit on forbidden decision")
	}
}

func TestAuthorizeUnknownPermission(t *testing.T) {
	g := New(NewMemoryQuotaStore())
	identity := testIdentity(contractx.TierFree, "fleet:anything")

	decision, err := g.Authorize(context.Background(), identity, "fleet:anything")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if decision.Allowed {
		t.Fatal("unknown permission must be denied even when the scope string matches")
	}
}

func TestQuotaMonotonicity(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 30, 10, 0, time.UTC)
	limits := Limits{PerMinute: 5, PerDay: 100, MaxInFlight: 10}
	g := New(NewMemoryQuotaStore(),
		WithClock(fixedClock(now)),
		WithLimits(func(contractx.Tier) Limits { return limits }),
	)
	identity := testIdentity(contractx.TierFree, PermFleetQuery)
	ctx := context.Background()

	for i := 0; i < limits.PerMinute; i++ {
		decision, err := g.Authorize(ctx, identity, PermFleetQuery)
		if err != nil {
			t.Fatalf("authorize %d: %v", i, err)
		}
		if !decision.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		wantRemaining := limits.PerMinute - i
		if decision.Minute.Remaining != wantRemaining {
			t.Fatalf("request %d remaining = %d, want %d", i, decision.Minute.Remaining, wantRemaining)
		}
		g.RecordUsage(ctx, identity, 10*time.Millisecond, true)
	}

	decision, err := g.Authorize(ctx, identity, PermFleetQuery)
	if err != nil {
		t.Fatalf("authorize overflow: %v", err)
	}
	if decision.Allowed {
		t.Fatal("request over the per-minute ceiling must be denied")
	}
	if decision.Reason != ReasonRateLimited {
		t.Fatalf("reason = %q, want %q", decision.Reason, ReasonRateLimited)
	}
	if decision.Minute.Remaining != 0 {
		t.Fatalf("remaining = %d, want 0", decision.Minute.Remaining)
	}
	wantRetry := 50 * time.Second
	if decision.RetryAfter != wantRetry {
		t.Fatalf("retryAfter = %v, want %v", decision.RetryAfter, wantRetry)
	}
}

func TestQuotaWindowRolls(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 30, 59, 0, time.UTC)
	clock := now
	limits := Limits{PerMinute: 1, PerDay: 100, MaxInFlight: 10}
	g := New(NewMemoryQuotaStore(),
		WithClock(func() time.Time { return clock }),
		WithLimits(func(contractx.Tier) Limits { return limits }),
	)
	identity := testIdentity(contractx.TierFree, PermFleetQuery)
	ctx := context.Background()

	if d, _ := g.Authorize(ctx, identity, PermFleetQuery); !d.Allowed {
		t.Fatal("first request should be allowed")
	}
	g.RecordUsage(ctx, identity, time.Millisecond, true)

	if d, _ := g.Authorize(ctx, identity, PermFleetQuery); d.Allowed {
		t.Fatal("second request in the same minute should be denied")
	}

	clock = now.Add(2 * time.Second) // crosses the minute edge
	if d, _ := g.Authorize(ctx, identity, PermFleetQuery); !d.Allowed {
		t.Fatal("request after the window edge should be allowed")
	}
}

func TestInFlightCeiling(t *testing.T) {
	limits := Limits{PerMinute: 100, PerDay: 100, MaxInFlight: 2}
	g := New(NewMemoryQuotaStore(), WithLimits(func(contractx.Tier) Limits { return limits }))
	identity := testIdentity(contractx.TierFree, PermFleetQuery)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if d, _ := g.Authorize(ctx, identity, PermFleetQuery); !d.Allowed {
			t.Fatalf("in-flight slot %d should be granted", i)
		}
	}
	if d, _ := g.Authorize(ctx, identity, PermFleetQuery); d.Allowed {
		t.Fatal("third concurrent request should be denied")
	}

	g.RecordUsage(ctx, identity, time.Millisecond, true)
	if d, _ := g.Authorize(ctx, identity, PermFleetQuery); !d.Allowed {
		t.Fatal("slot should be free after settle")
	}
}

func TestFailedRequestsStillCount(t *testing.T) {
	store := NewMemoryQuotaStore()
	g := New(store)
	identity := testIdentity(contractx.TierFree, PermFleetQuery)
	ctx := context.Background()

	if d, _ := g.Authorize(ctx, identity, PermFleetQuery); !d.Allowed {
		t.Fatal("request should be allowed")
	}
	g.RecordUsage(ctx, identity, time.Millisecond, false)

	usage, err := store.Settle(ctx, identity.TenantID, time.Now(), false)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if usage.Minute != 2 {
		t.Fatalf("minute count = %d, want 2 (failed requests count)", usage.Minute)
	}
	if usage.Errors != 2 {
		t.Fatalf("errors = %d, want 2", usage.Errors)
	}
}

func TestConcurrentAuthorizeSameTenant(t *testing.T) {
	limits := Limits{PerMinute: 1000, PerDay: 10000, MaxInFlight: 1000}
	store := NewMemoryQuotaStore()
	g := New(store, WithLimits(func(contractx.Tier) Limits { return limits }))
	identity := testIdentity(contractx.TierPro, PermFleetQuery)
	ctx := context.Background()

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d, err := g.Authorize(ctx, identity, PermFleetQuery); err != nil || !d.Allowed {
				t.Errorf("authorize: allowed=%v err=%v", d.Allowed, err)
				return
			}
			g.RecordUsage(ctx, identity, time.Millisecond, true)
		}()
	}
	wg.Wait()

	usage, _, err := store.Acquire(ctx, identity.TenantID, limits, time.Now())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if usage.Minute != n {
		t.Fatalf("minute count = %d, want %d", usage.Minute, n)
	}
	if usage.InFlight != 1 {
		t.Fatalf("in-flight = %d, want 1 (the probe itself)", usage.InFlight)
	}
}
