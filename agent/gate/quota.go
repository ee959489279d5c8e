package gate

import (
	"context"
	"sync"
	"time"

	contractx "github.com/kwkraus/fleet-assistant/agent/contract"
)

// Limits are the quota ceilings derived from a tenant's tier.
type Limits struct {
	PerMinute   int
	PerDay      int
	MaxInFlight int
}

func LimitsForTier(tier contractx.Tier) Limits {
	switch tier {
	case contractx.TierEnterprise:
		return Limits{PerMinute: 600, PerDay: 50000, MaxInFlight: 64}
	case contractx.TierPro:
		return Limits{PerMinute: 60, PerDay: 2000, MaxInFlight: 16}
	default:
		return Limits{PerMinute: 10, PerDay: 100, MaxInFlight: 4}
	}
}

// Usage is a point-in-time view of one tenant's counters.
type Usage struct {
	Minute      int
	Day         int
	InFlight    int
	Errors      int
	MinuteReset time.Time
	DayReset    time.Time
}

// QuotaStore tracks per-tenant counters. Acquire atomically evaluates
// the ceilings and, when allowed, marks one request in flight. Settle
// releases the in-flight slot and counts the finished request toward
// the rolling windows; failed requests still count but bump the error
// counter. Implementations must be safe for arbitrary concurrent
// callers on the same tenant.
type QuotaStore interface {
	Acquire(ctx context.Context, tenantID string, limits Limits, now time.Time) (Usage, bool, error)
	Settle(ctx context.Context, tenantID string, now time.Time, success bool) (Usage, error)
}

func minuteWindow(now time.Time) (start, reset time.Time) {
	start = now.Truncate(time.Minute)
	return start, start.Add(time.Minute)
}

func dayWindow(now time.Time) (start, reset time.Time) {
	y, m, d := now.UTC().Date()
	start = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

// MemoryQuotaStore keeps counters in process, one record per tenant.
// The per-tenant mutex is the only synchronized state in the core.
type MemoryQuotaStore struct {
	mu      sync.Mutex
	tenants map[string]*tenantCounters
}

type tenantCounters struct {
	mu          sync.Mutex
	minuteStart time.Time
	minute      int
	dayStart    time.Time
	day         int
	inFlight    int
	errors      int
}

var _ QuotaStore = (*MemoryQuotaStore)(nil)

func NewMemoryQuotaStore() *MemoryQuotaStore {
	return &MemoryQuotaStore{tenants: make(map[string]*tenantCounters)}
}

func (s *MemoryQuotaStore) tenant(tenantID string) *tenantCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	tc, ok := s.tenants[tenantID]
	if !ok {
		tc = &tenantCounters{}
		s.tenants[tenantID] = tc
	}
	return tc
}

// roll resets any window whose edge has passed. Caller holds tc.mu.
func (tc *tenantCounters) roll(now time.Time) (minuteReset, dayReset time.Time) {
	minuteStart, minuteReset := minuteWindow(now)
	if !tc.minuteStart.Equal(minuteStart) {
		tc.minuteStart = minuteStart
		tc.minute = 0
	}
	dayStart, dayReset := dayWindow(now)
	if !tc.dayStart.Equal(dayStart) {
		tc.dayStart = dayStart
		tc.day = 0
		tc.errors = 0
	}
	return minuteReset, dayReset
}

func (tc *tenantCounters) usage(minuteReset, dayReset time.Time) Usage {
	return Usage{
		Minute:      tc.minute,
		Day:         tc.day,
		InFlight:    tc.inFlight,
		Errors:      tc.errors,
		MinuteReset: minuteReset,
		DayReset:    dayReset,
	}
}

func (s *MemoryQuotaStore) Acquire(_ context.Context, tenantID string, limits Limits, now time.Time) (Usage, bool, error) {
	tc := s.tenant(tenantID)
	tc.mu.Lock()
	defer tc.mu.Unlock()

	minuteReset, dayReset := tc.roll(now)

	if tc.minute >= limits.PerMinute || tc.day >= limits.PerDay ||
		(limits.MaxInFlight > 0 && tc.inFlight >= limits.MaxInFlight) {
		return tc.usage(minuteReset, dayReset), false, nil
	}

	tc.inFlight++
	return tc.usage(minuteReset, dayReset), true, nil
}

func (s *MemoryQuotaStore) Settle(_ context.Context, tenantID string, now time.Time, success bool) (Usage, error) {
	tc := s.tenant(tenantID)
	tc.mu.Lock()
	defer tc.mu.Unlock()

	minuteReset, dayReset := tc.roll(now)

	if tc.inFlight > 0 {
		tc.inFlight--
	}
	tc.minute++
	tc.day++
	if !success {
		tc.errors++
	}
	return tc.usage(minuteReset, dayReset), nil
}
