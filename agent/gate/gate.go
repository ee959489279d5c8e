package gate

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	contractx "github.com/kwkraus/fleet-assistant/agent/contract"
	logx "github.com/kwkraus/fleet-assistant/pkg/logger"
)

const (
	ReasonForbidden   = "forbidden"
	ReasonRateLimited = "rate limited"
)

// RateLimit is the machine-readable quota view surfaced as response
// headers on both allowed and denied outcomes.
type RateLimit struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// Decision is the outcome of one authorization check.
type Decision struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
	Minute     RateLimit
	Day        RateLimit
}

// Gate validates permission scope and quota in front of the planning
// coordinator. Authorize reserves an in-flight slot; the caller must
// invoke RecordUsage after the request finishes, allowed or not
// completed, so failed requests still count toward quota.
type Gate struct {
	quota  QuotaStore
	limits func(contractx.Tier) Limits
	now    func() time.Time
	log    zerolog.Logger
}

type Option func(*Gate)

func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

func WithLimits(limits func(contractx.Tier) Limits) Option {
	return func(g *Gate) {
		if limits != nil {
			g.limits = limits
		}
	}
}

func New(quota QuotaStore, opts ...Option) *Gate {
	g := &Gate{
		quota:  quota,
		limits: LimitsForTier,
		now:    time.Now,
		log:    logx.Component("gate"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gate) Authorize(ctx context.Context, identity contractx.Identity, permissionID string) (Decision, error) {
	limits := g.limits(identity.Tier)

	if _, known := PermissionByID(permissionID); !known || !identity.HasScope(permissionID) {
		g.log.Warn().
			Str("tenant_id", identity.TenantID).
			Str("key_id", identity.KeyID).
			Str("permission", permissionID).
			Msg("scope check failed")
		return Decision{
			Allowed: false,
			Reason:  ReasonForbidden,
			Minute:  RateLimit{Limit: limits.PerMinute},
			Day:     RateLimit{Limit: limits.PerDay},
		}, nil
	}

	now := g.now()
	usage, allowed, err := g.quota.Acquire(ctx, identity.TenantID, limits, now)
	if err != nil {
		return Decision{}, err
	}

	decision := Decision{
		Allowed: allowed,
		Minute:  rateLimit(limits.PerMinute, usage.Minute, usage.MinuteReset),
		Day:     rateLimit(limits.PerDay, usage.Day, usage.DayReset),
	}
	if !allowed {
		decision.Reason = ReasonRateLimited
		decision.RetryAfter = retryAfter(usage, limits, now)
		g.log.Warn().
			Str("tenant_id", identity.TenantID).
			Int("minute_used", usage.Minute).
			Int("day_used", usage.Day).
			Int("in_flight", usage.InFlight).
			Dur("retry_after", decision.RetryAfter).
			Msg("quota exceeded")
	}
	return decision, nil
}

// RecordUsage settles the request started by a successful Authorize.
// Elapsed time and the success flag feed error-rate accounting; quota
// counters increment regardless of success.
func (g *Gate) RecordUsage(ctx context.Context, identity contractx.Identity, elapsed time.Duration, success bool) {
	usage, err := g.quota.Settle(ctx, identity.TenantID, g.now(), success)
	if err != nil {
		g.log.Error().Err(err).Str("tenant_id", identity.TenantID).Msg("record usage failed")
		return
	}
	g.log.Info().
		Str("tenant_id", identity.TenantID).
		Dur("elapsed", elapsed).
		Bool("success", success).
		Int("minute_used", usage.Minute).
		Int("day_used", usage.Day).
		Int("errors_today", usage.Errors).
		Msg("usage recorded")
}

func rateLimit(limit, used int, reset time.Time) RateLimit {
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return RateLimit{Limit: limit, Remaining: remaining, Reset: reset}
}

// retryAfter is the time to the edge of the first window whose ceiling
// was hit; an in-flight rejection retries quickly.
func retryAfter(usage Usage, limits Limits, now time.Time) time.Duration {
	switch {
	case usage.Minute >= limits.PerMinute:
		return usage.MinuteReset.Sub(now)
	case usage.Day >= limits.PerDay:
		return usage.DayReset.Sub(now)
	default:
		return time.Second
	}
}
