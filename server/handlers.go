package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	contractx "github.com/kwkraus/fleet-assistant/agent/contract"
	gatex "github.com/kwkraus/fleet-assistant/agent/gate"
	logx "github.com/kwkraus/fleet-assistant/pkg/logger"
)

// QueryService runs one fleet query through the planning pipeline.
type QueryService interface {
	HandleQuery(ctx context.Context, req contractx.QueryRequest, identity contractx.Identity) (contractx.QueryResponse, error)
}

// Handler serves the fleet query API.
type Handler struct {
	gate        *gatex.Gate
	coordinator QueryService
	log         zerolog.Logger
}

func NewHandler(gate *gatex.Gate, coordinator QueryService) *Handler {
	return &Handler{
		gate:        gate,
		coordinator: coordinator,
		log:         logx.Component("server"),
	}
}

// HandleQuery implements POST /fleet/query: authorize, run the
// coordinator, record usage regardless of outcome, respond.
func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}

	var req contractx.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	decision, err := h.gate.Authorize(r.Context(), identity, gatex.PermFleetQuery)
	if err != nil {
		h.log.Error().Err(err).Str("tenant_id", identity.TenantID).Msg("authorization check failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "authorization unavailable")
		return
	}
	writeRateHeaders(w, decision)
	if !decision.Allowed {
		switch decision.Reason {
		case gatex.ReasonRateLimited:
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(decision.RetryAfter)))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "quota exceeded; retry later")
		default:
			writeError(w, http.StatusForbidden, "forbidden", "missing permission "+gatex.PermFleetQuery)
		}
		return
	}

	// Settle deferred, not inline: the in-flight slot reserved by
	// Authorize must be released even when the pipeline panics.
	start := time.Now()
	success := false
	defer func() {
		h.gate.RecordUsage(r.Context(), identity, time.Since(start), success)
	}()

	resp, err := h.coordinator.HandleQuery(r.Context(), req, identity)
	if err != nil {
		if errors.Is(err, contractx.ErrValidation) {
			writeError(w, http.StatusBadRequest, "bad_request", "message is required")
			return
		}
		h.log.Error().Err(err).Str("tenant_id", identity.TenantID).Msg("query pipeline failed")
		writeError(w, http.StatusInternalServerError, "internal_error",
			"an unexpected error occurred; reference trace id "+requestIDFrom(r.Context()))
		return
	}

	success = true
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeRateHeaders(w http.ResponseWriter, decision gatex.Decision) {
	if decision.Minute.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Minute.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Minute.Remaining))
		if !decision.Minute.Reset.IsZero() {
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.Minute.Reset.Unix(), 10))
		}
	}
	if decision.Day.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit-Day", strconv.Itoa(decision.Day.Limit))
		w.Header().Set("X-RateLimit-Remaining-Day", strconv.Itoa(decision.Day.Remaining))
	}
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(d.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
