package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/osm-viewport/internal/core/config"
	"github.com/mohammed-shakir/osm-viewport/internal/core/health"
	middleware "github.com/mohammed-shakir/osm-viewport/internal/core/middleware"
	"github.com/mohammed-shakir/osm-viewport/internal/core/router"
	"github.com/mohammed-shakir/osm-viewport/internal/metrics"
)

// NewHandler builds the chi router with health, metrics and the viewport API.
// mp may be nil; metrics are then not served here.
func NewHandler(logger *slog.Logger, p router.Pipeline, ready health.ReadinessReporter, mp *metrics.Provider) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(ready))
	if mp != nil && mp.Enabled() && mp.Addr() == "" {
		r.Handle(mp.Path(), mp.Handler())
	}
	router.Mount(r, logger, p)
	return r
}

// sets up http and starts serving
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, handler http.Handler) error {
	return serve(ctx, cfg.Addr, logger, handler, 60*time.Second)
}

// RunMetrics serves the metrics handler on its own address when one is
// configured.
func RunMetrics(ctx context.Context, logger *slog.Logger, mp *metrics.Provider) error {
	if mp == nil || !mp.Enabled() || mp.Addr() == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(mp.Path(), mp.Handler())
	return serve(ctx, mp.Addr(), logger, mux, 10*time.Second)
}

func serve(ctx context.Context, addr string, logger *slog.Logger, h http.Handler, writeTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
