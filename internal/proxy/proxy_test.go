package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AdaAssist/internal/cache"
	"AdaAssist/internal/telemetry"
)

func setup(t *testing.T) (*cache.Worker, *cache.Store, http.Handler) {
	t.Helper()
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "origin %s", r.URL.Path)
	}))
	t.Cleanup(origin.Close)

	db, err := telemetry.InitDB(filepath.Join(t.TempDir(), "proxy.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	scope, err := url.Parse(origin.URL)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := cache.NewStore(db)
	w, err := cache.NewWorker(cache.Options{
		CacheName: "adai-cache-v1",
		Manifest:  []string{"/", "/static/css/style.css"},
		Scope:     scope,
		Store:     store,
		Fetcher:   origin.Client(),
		Logger:    logger,
	})
	require.NoError(t, err)
	return w, store, NewRouter(w, store, logger)
}

func TestHealthReportsLifecycle(t *testing.T) {
	w, _, h := setup(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.NoError(t, w.Start(context.Background()))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var health Health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, Health{Status: "ok", State: "active", Cache: "adai-cache-v1", Entries: 2}, health)
}

func TestRouterServesThroughWorker(t *testing.T) {
	w, _, h := setup(t)
	require.NoError(t, w.Start(context.Background()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/css/style.css", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hit", rec.Header().Get("X-Cache"))
	assert.Equal(t, "origin /static/css/style.css", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("Content-Length"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, "bypass", rec.Header().Get("X-Cache"))
}

func TestServeStopsOnCancel(t *testing.T) {
	_, _, h := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, "127.0.0.1:0", h, slog.New(slog.NewTextHandler(io.Discard, nil)))
	}()
	cancel()
	assert.NoError(t, <-done)
}
