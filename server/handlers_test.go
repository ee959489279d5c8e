package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	contractx "github.com/kwkraus/fleet-assistant/agent/contract"
	coordinatorx "github.com/kwkraus/fleet-assistant/agent/coordinator"
	gatex "github.com/kwkraus/fleet-assistant/agent/gate"
)

type echoCompletion struct{}

func (echoCompletion) Complete(_ context.Context, req contractx.CompletionRequest) (contractx.Completion, error) {
	return contractx.Completion{Text: "assistant answer for: " + req.UserMessage}, nil
}

const testKeySpec = "key-1|token-free|tenant-free|free|prod|fleet:query;" +
	"key-2|token-noscope|tenant-noscope|free|prod|fleet:export"

func newTestRouter(t *testing.T, opts ...gatex.Option) http.Handler {
	t.Helper()

	coordinator, err := coordinatorx.New(echoCompletion{}, coordinatorx.Prompts{
		Classify:   "classify",
		Synthesize: "synthesize",
	}, nil)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	return newTestRouterWith(coordinator, opts...)
}

func newTestRouterWith(svc QueryService, opts ...gatex.Option) http.Handler {
	gate := gatex.New(gatex.NewMemoryQuotaStore(), opts...)
	handler := NewHandler(gate, svc)
	return NewRouter(gatex.MustParseKeyTable(testKeySpec), handler)
}

func postQuery(router http.Handler, token, message string) *httptest.ResponseRecorder {
	body, _ := json.Marshal(contractx.QueryRequest{Message: message})
	req := httptest.NewRequest(http.MethodPost, "/fleet/query", bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestQuerySuccess(t *testing.T) {
	router := newTestRouter(t)

	rec := postQuery(router, "token-free", "How is my fleet doing?")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp contractx.QueryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Response == "" {
		t.Fatal("empty response text")
	}
	if len(resp.AgentsUsed) == 0 || resp.AgentsUsed[len(resp.AgentsUsed)-1] != string(contractx.AgentCoordinator) {
		t.Fatalf("agentsUsed = %v", resp.AgentsUsed)
	}

	if rec.Header().Get("X-RateLimit-Limit") == "" {
		t.Fatal("missing X-RateLimit-Limit header")
	}
	if rec.Header().Get("X-RateLimit-Remaining") == "" {
		t.Fatal("missing X-RateLimit-Remaining header")
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("missing X-Request-Id header")
	}
}

func TestQueryMissingCredential(t *testing.T) {
	router := newTestRouter(t)

	rec := postQuery(router, "", "hello")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestQueryUnknownCredential(t *testing.T) {
	router := newTestRouter(t)

	rec := postQuery(router, "token-bogus", "hello")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestQueryApiKeyHeaderFallback(t *testing.T) {
	router := newTestRouter(t)

	body, _ := json.Marshal(contractx.QueryRequest{Message: "hello"})
	req := httptest.NewRequest(http.MethodPost, "/fleet/query", bytes.NewReader(body))
	req.Header.Set("X-Api-Key", "token-free")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestQueryMissingScope(t *testing.T) {
	router := newTestRouter(t)

	rec := postQuery(router, "token-noscope", "hello")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got == "" {
		t.Fatal("forbidden responses still carry rate headers")
	}
}

func TestQueryRateLimited(t *testing.T) {
	limits := func(contractx.Tier) gatex.Limits {
		return gatex.Limits{PerMinute: 1, PerDay: 100, MaxInFlight: 10}
	}
	router := newTestRouter(t, gatex.WithLimits(limits))

	if rec := postQuery(router, "token-free", "first"); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}
	rec := postQuery(router, "token-free", "second")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("X-RateLimit-Remaining = %q, want 0", got)
	}
}

// crashingService panics for its first N calls, then answers normally.
type crashingService struct {
	panicsLeft int
}

func (s *crashingService) HandleQuery(_ context.Context, _ contractx.QueryRequest, _ contractx.Identity) (contractx.QueryResponse, error) {
	if s.panicsLeft > 0 {
		s.panicsLeft--
		panic("pipeline exploded")
	}
	return contractx.QueryResponse{
		Response:   "recovered",
		AgentData:  map[string]any{"coordinator": map[string]any{}},
		AgentsUsed: []string{"coordinator"},
	}, nil
}

func TestQueryPanicReleasesQuotaSlot(t *testing.T) {
	limits := func(contractx.Tier) gatex.Limits {
		return gatex.Limits{PerMinute: 100, PerDay: 100, MaxInFlight: 1}
	}
	router := newTestRouterWith(&crashingService{panicsLeft: 2}, gatex.WithLimits(limits))

	for i := 0; i < 2; i++ {
		rec := postQuery(router, "token-free", "boom")
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("panic request %d status = %d, want 500", i, rec.Code)
		}
	}

	// With a single in-flight slot, a leak on either panic would make
	// this request a 429.
	rec := postQuery(router, "token-free", "still alive?")
	if rec.Code != http.StatusOK {
		t.Fatalf("status after panics = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestQueryEmptyMessage(t *testing.T) {
	router := newTestRouter(t)

	rec := postQuery(router, "token-free", "   ")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "message is required") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestQueryInvalidBody(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/fleet/query", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer token-free")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestRequestIDHonorsCaller(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "trace-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got != "trace-123" {
		t.Fatalf("X-Request-Id = %q", got)
	}
}
