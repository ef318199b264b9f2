package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"nuclight.org/editwatch-tg-bot/pkg/logger"
)

// Server exposes liveness, Prometheus metrics and, in webhook mode, the Telegram webhook.
type Server struct {
	log        logger.Logger
	httpServer *http.Server
}

type Options struct {
	Addr string

	// Metrics serves /metrics when set
	Metrics http.Handler

	// Webhook serves POST /webhook when set
	Webhook http.Handler
}

func New(log logger.Logger, opts Options) *Server {
	return &Server{
		log: log,
		httpServer: &http.Server{
			Addr:              opts.Addr,
			Handler:           NewRouter(opts),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	if opts.Webhook != nil {
		r.Method(http.MethodPost, "/webhook", opts.Webhook)
	}

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Start serves in the background. Failures other than a regular shutdown are logged.
func (s *Server) Start() {
	go func() {
		s.log.Info("http server listening", "addr", s.httpServer.Addr)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("serving http", "error", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}
