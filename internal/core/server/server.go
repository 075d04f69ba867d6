// Package server wires the serve-mode routes and runs the HTTP listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/osm-poi-fetcher/internal/core/health"
	middleware "github.com/mohammed-shakir/osm-poi-fetcher/internal/core/middleware"
	"github.com/mohammed-shakir/osm-poi-fetcher/internal/core/router"
)

type Deps struct {
	Exec    router.Executor
	Types   router.TypeLister
	Catalog health.CatalogReporter
	Runs    router.RunLister // optional
	Metrics http.Handler     // defaults to the global promhttp handler
}

func NewHandler(logger *slog.Logger, d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.RequestLog(logger))
	r.Use(middleware.Metrics())

	metricsHandler := d.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(d.Catalog))
	r.Method(http.MethodGet, "/metrics", metricsHandler)
	r.Get("/types", router.HandleTypes(d.Types))
	r.Get("/fetch", router.HandleFetch(logger, d.Exec))
	if d.Runs != nil {
		r.Get("/runs", router.HandleRuns(d.Runs))
		r.Get("/runs/{id}", router.HandleRun(d.Runs))
	}
	return r
}

// Run serves h on addr until ctx is done or the listener fails.
func Run(ctx context.Context, addr string, logger *slog.Logger, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// no WriteTimeout: /fetch waits out the whole retry schedule
		IdleTimeout: 60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listen", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}
