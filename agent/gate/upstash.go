package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultQuotaKeyPrefix = "fleet:quota:"
	maxQuotaResponseBytes = 1 << 16
)

// UpstashQuotaStore keeps per-tenant quota counters in Upstash Redis
// via its REST API, using INCR/DECR for atomicity so multiple gateway
// replicas share one view of a tenant's usage. Counter keys carry the
// window start, so a rolled window is simply a fresh key and stale
// keys expire on their own.
type UpstashQuotaStore struct {
	baseURL    string
	token      string
	httpClient *http.Client
	keyPrefix  string
}

type UpstashQuotaConfig struct {
	URL     string        `envconfig:"URL" split_words:"true" required:"true"`
	Token   string        `envconfig:"TOKEN" split_words:"true" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
}

type QuotaStoreOption func(*UpstashQuotaStore)

func WithQuotaKeyPrefix(prefix string) QuotaStoreOption {
	return func(s *UpstashQuotaStore) {
		if trimmed := strings.TrimSpace(prefix); trimmed != "" {
			s.keyPrefix = trimmed
		}
	}
}

func WithQuotaHTTPClient(client *http.Client) QuotaStoreOption {
	return func(s *UpstashQuotaStore) {
		if client != nil {
			s.httpClient = client
		}
	}
}

var _ QuotaStore = (*UpstashQuotaStore)(nil)

func NewUpstashQuotaStore(cfg UpstashQuotaConfig, opts ...QuotaStoreOption) (*UpstashQuotaStore, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("upstash redis url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid redis rest url: %w", err)
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("upstash redis token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	store := &UpstashQuotaStore{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		keyPrefix:  defaultQuotaKeyPrefix,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

func (s *UpstashQuotaStore) keys(tenantID string, now time.Time) (minuteKey, dayKey, inFlightKey, errorKey string) {
	minuteStart, _ := minuteWindow(now)
	dayStart, _ := dayWindow(now)
	base := s.keyPrefix + tenantID
	minuteKey = base + ":m:" + strconv.FormatInt(minuteStart.Unix(), 10)
	day := dayStart.Format("20060102")
	dayKey = base + ":d:" + day
	inFlightKey = base + ":if"
	errorKey = base + ":e:" + day
	return
}

func (s *UpstashQuotaStore) Acquire(ctx context.Context, tenantID string, limits Limits, now time.Time) (Usage, bool, error) {
	if strings.TrimSpace(tenantID) == "" {
		return Usage{}, false, errors.New("tenant id is empty")
	}
	minuteKey, dayKey, inFlightKey, errorKey := s.keys(tenantID, now)
	_, minuteReset := minuteWindow(now)
	_, dayReset := dayWindow(now)

	// Reserve the in-flight slot first; INCR is the atomic check.
	inFlight, err := s.execInt(ctx, []any{"INCR", inFlightKey})
	if err != nil {
		return Usage{}, false, err
	}
	// Any failure past this point must give the slot back, even when
	// the request context is already dead; the key expiry only bounds
	// a process that dies mid-request.
	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_, _ = s.execInt(releaseCtx, []any{"DECR", inFlightKey})
	}
	if inFlight == 1 {
		if _, err := s.execInt(ctx, []any{"EXPIRE", inFlightKey, 3600}); err != nil {
			release()
			return Usage{}, false, err
		}
	}

	minute, err := s.execInt(ctx, []any{"GET", minuteKey})
	if err != nil {
		release()
		return Usage{}, false, err
	}
	day, err := s.execInt(ctx, []any{"GET", dayKey})
	if err != nil {
		release()
		return Usage{}, false, err
	}
	errs, err := s.execInt(ctx, []any{"GET", errorKey})
	if err != nil {
		release()
		return Usage{}, false, err
	}

	usage := Usage{
		Minute:      int(minute),
		Day:         int(day),
		InFlight:    int(inFlight),
		Errors:      int(errs),
		MinuteReset: minuteReset,
		DayReset:    dayReset,
	}

	if usage.Minute >= limits.PerMinute || usage.Day >= limits.PerDay ||
		(limits.MaxInFlight > 0 && usage.InFlight > limits.MaxInFlight) {
		if _, err := s.execInt(ctx, []any{"DECR", inFlightKey}); err != nil {
			return usage, false, err
		}
		usage.InFlight--
		return usage, false, nil
	}
	return usage, true, nil
}

func (s *UpstashQuotaStore) Settle(ctx context.Context, tenantID string, now time.Time, success bool) (Usage, error) {
	minuteKey, dayKey, inFlightKey, errorKey := s.keys(tenantID, now)
	_, minuteReset := minuteWindow(now)
	_, dayReset := dayWindow(now)

	inFlight, err := s.execInt(ctx, []any{"DECR", inFlightKey})
	if err != nil {
		return Usage{}, err
	}
	if inFlight < 0 {
		// Settle without a matching Acquire; clamp rather than drift.
		if _, err := s.execInt(ctx, []any{"SET", inFlightKey, 0}); err != nil {
			return Usage{}, err
		}
		inFlight = 0
	}

	minute, err := s.execInt(ctx, []any{"INCR", minuteKey})
	if err != nil {
		return Usage{}, err
	}
	if minute == 1 {
		if _, err := s.execInt(ctx, []any{"EXPIRE", minuteKey, 120}); err != nil {
			return Usage{}, err
		}
	}

	day, err := s.execInt(ctx, []any{"INCR", dayKey})
	if err != nil {
		return Usage{}, err
	}
	if day == 1 {
		if _, err := s.execInt(ctx, []any{"EXPIRE", dayKey, 2 * 86400}); err != nil {
			return Usage{}, err
		}
	}

	var errs int64
	if !success {
		if errs, err = s.execInt(ctx, []any{"INCR", errorKey}); err != nil {
			return Usage{}, err
		}
		if errs == 1 {
			if _, err := s.execInt(ctx, []any{"EXPIRE", errorKey, 2 * 86400}); err != nil {
				return Usage{}, err
			}
		}
	} else if errs, err = s.execInt(ctx, []any{"GET", errorKey}); err != nil {
		return Usage{}, err
	}

	return Usage{
		Minute:      int(minute),
		Day:         int(day),
		InFlight:    int(inFlight),
		Errors:      int(errs),
		MinuteReset: minuteReset,
		DayReset:    dayReset,
	}, nil
}

type redisRESTResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// execInt runs one Redis command and coerces the result to an integer.
// GET on a missing key yields 0.
func (s *UpstashQuotaStore) execInt(ctx context.Context, command []any) (int64, error) {
	resp, err := s.exec(ctx, command)
	if err != nil {
		return 0, err
	}
	result := bytes.TrimSpace(resp.Result)
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return 0, nil
	}
	var n int64
	if err := json.Unmarshal(result, &n); err == nil {
		return n, nil
	}
	var str string
	if err := json.Unmarshal(result, &str); err != nil {
		return 0, fmt.Errorf("unexpected redis result %q", string(result))
	}
	if strings.TrimSpace(str) == "" || str == "OK" {
		return 0, nil
	}
	n, err = strconv.ParseInt(strings.TrimSpace(str), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse redis counter: %w", err)
	}
	return n, nil
}

func (s *UpstashQuotaStore) exec(ctx context.Context, command []any) (*redisRESTResponse, error) {
	if len(command) == 0 {
		return nil, errors.New("empty redis command")
	}

	body, err := json.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("marshal redis command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build redis request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("redis request failed: %w", err)
	}
	defer httpResp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(httpResp.Body, maxQuotaResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read redis response: %w", err)
	}

	var resp redisRESTResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("decode redis response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK || resp.Error != "" {
		return nil, fmt.Errorf("redis command failed: status=%d error=%s", httpResp.StatusCode, resp.Error)
	}
	return &resp, nil
}
