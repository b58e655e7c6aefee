// Package proxy serves the offline cache worker over HTTP.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"AdaAssist/internal/cache"
)

// Health is the /healthz response body.
type Health struct {
	Status  string `json:"status"`
	State   string `json:"state"`
	Cache   string `json:"cache"`
	Entries int    `json:"entries"`
}

// NewRouter mounts w behind request-id, real-ip, logging and recovery middleware.
// /healthz answers 503 until the worker is active.
func NewRouter(w *cache.Worker, store *cache.Store, logger *slog.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(rw http.ResponseWriter, req *http.Request) {
		h := Health{Status: "ok", State: w.State().String(), Cache: w.Name()}
		n, err := store.Count(req.Context(), w.Name())
		if err != nil {
			logger.Error("failed to count cache entries", "error", err)
		}
		h.Entries = n

		status := http.StatusOK
		if w.State() != cache.StateActive {
			h.Status = "starting"
			status = http.StatusServiceUnavailable
		}
		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(status)
		json.NewEncoder(rw).Encode(h)
	})

	r.Handle("/*", w)
	return r
}

// requestLogger logs one line per request with its id and cache outcome.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
			ww := middleware.NewWrapResponseWriter(rw, req.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("request",
					"request_id", middleware.GetReqID(req.Context()),
					"method", req.Method,
					"path", req.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"cache", ww.Header().Get("X-Cache"),
					"duration_ms", time.Since(start).Milliseconds())
			}()
			next.ServeHTTP(ww, req)
		})
	}
}

// Serve runs handler on addr until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("offline proxy listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down offline proxy")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
