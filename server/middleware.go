package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	contractx "github.com/kwkraus/fleet-assistant/agent/contract"
	gatex "github.com/kwkraus/fleet-assistant/agent/gate"
)

type ctxKey int

const (
	ctxKeyIdentity ctxKey = iota
	ctxKeyRequestID
)

const headerRequestID = "X-Request-Id"

// RequestID tags every request with a trace identifier, honoring one
// supplied by the caller.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(headerRequestID))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(headerRequestID, requestID)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKeyRequestID).(string); ok {
		return id
	}
	return ""
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// RequestLogger emits one access log line per request.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("elapsed", time.Since(start)).
			Str("request_id", requestIDFrom(r.Context())).
			Msg("request served")
	})
}

// Recoverer converts an escaped panic into a generic failure response
// carrying the trace identifier for operator correlation.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				requestID := requestIDFrom(r.Context())
				log.Error().
					Any("panic", rec).
					Str("request_id", requestID).
					Str("path", r.URL.Path).
					Msg("request panicked")
				writeError(w, http.StatusInternalServerError, "internal_error",
					"an unexpected error occurred; reference trace id "+requestID)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Auth authenticates the bearer credential and stores the resulting
// Identity on the request context. Fails closed with 401.
func Auth(authenticator gatex.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer credential")
				return
			}

			identity, err := authenticator.Authenticate(r.Context(), token)
			if err != nil {
				log.Warn().
					Err(err).
					Str("request_id", requestIDFrom(r.Context())).
					Msg("authentication failed")
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid credential")
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyIdentity, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	// Equivalent header for clients that cannot set Authorization.
	return strings.TrimSpace(r.Header.Get("X-Api-Key"))
}

func identityFrom(ctx context.Context) (contractx.Identity, bool) {
	identity, ok := ctx.Value(ctxKeyIdentity).(contractx.Identity)
	return identity, ok
}
