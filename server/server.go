package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	gatex "github.com/kwkraus/fleet-assistant/agent/gate"
)

type Config struct {
	Addr            string        `envconfig:"ADDR" split_words:"true" default:":8080"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" split_words:"true" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" split_words:"true" default:"120s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" split_words:"true" default:"10s"`
}

// NewRouter assembles the middleware chain and routes.
func NewRouter(authenticator gatex.Authenticator, handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(RequestLogger)
	r.Use(Recoverer)

	r.Get("/healthz", handler.HandleHealth)

	r.Group(func(r chi.Router) {
		r.Use(Auth(authenticator))
		r.Post("/fleet/query", handler.HandleQuery)
	})

	return r
}

// New builds the HTTP server around the assembled router.
func New(cfg Config, authenticator gatex.Authenticator, handler *Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      NewRouter(authenticator, handler),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}
