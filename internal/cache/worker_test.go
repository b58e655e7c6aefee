package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AdaAssist/internal/telemetry"
)

// origin is a fake application origin that counts requests per path.
type origin struct {
	srv      *httptest.Server
	version  atomic.Int32
	redirect atomic.Pointer[string] // target for /static/moved.css

	mu   sync.Mutex
	hits map[string]int
}

func newOrigin(t *testing.T) *origin {
	t.Helper()
	o := &origin{hits: map[string]int{}}
	o.version.Store(1)

	o.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.mu.Lock()
		o.hits[r.URL.Path]++
		o.mu.Unlock()

		v := o.version.Load()
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/"):
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"reply":"live %d"}`, v)
		case r.URL.Path == "/" || r.URL.Path == "/signin" || r.URL.Path == "/privacy":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprintf(w, "<html>%s v%d</html>", r.URL.Path, v)
		case r.URL.Path == "/static/moved.css" && o.redirect.Load() != nil:
			http.Redirect(w, r, *o.redirect.Load(), http.StatusFound)
		case r.URL.Path == "/static/missing.js":
			http.NotFound(w, r)
		case strings.HasPrefix(r.URL.Path, "/static/"):
			w.Header().Set("Content-Type", "text/css")
			fmt.Fprintf(w, "asset %s v%d", r.URL.Path, v)
		default:
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprintf(w, "<html>page %s v%d</html>", r.URL.Path, v)
		}
	}))
	t.Cleanup(o.srv.Close)
	return o
}

func (o *origin) count(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[path]
}

// switchable fails every request while offline is set.
type switchable struct {
	client  *http.Client
	offline atomic.Bool
}

func (s *switchable) Do(req *http.Request) (*http.Response, error) {
	if s.offline.Load() {
		return nil, &url.Error{Op: req.Method, URL: req.URL.String(), Err: errors.New("network is unreachable")}
	}
	return s.client.Do(req)
}

type harness struct {
	origin   *origin
	net      *switchable
	store    *Store
	scope    *url.URL
	manifest []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	o := newOrigin(t)
	scope, err := url.Parse(o.srv.URL)
	require.NoError(t, err)
	return &harness{
		origin:   o,
		net:      &switchable{client: o.srv.Client()},
		store:    newStore(t),
		scope:    scope,
		manifest: []string{"/", "/signin", "/static/css/style.css", "/static/js/script.js", "/static/missing.js"},
	}
}

func (h *harness) worker(t *testing.T, name string) *Worker {
	t.Helper()
	w, err := NewWorker(Options{
		CacheName: name,
		Manifest:  h.manifest,
		Scope:     h.scope,
		Store:     h.store,
		Fetcher:   h.net,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return w
}

func (h *harness) started(t *testing.T, name string) *Worker {
	t.Helper()
	w := h.worker(t, name)
	require.NoError(t, w.Start(context.Background()))
	require.Equal(t, StateActive, w.State())
	return w
}

func serve(w *Worker, method, target string, navigate bool) *httptest.ResponseRecorder {
	var body io.Reader
	if method == http.MethodPost {
		body = strings.NewReader(`{"message":"Hello","history":[]}`)
	}
	r := httptest.NewRequest(method, target, body)
	if navigate {
		r.Header.Set("Sec-Fetch-Mode", "navigate")
	}
	rec := httptest.NewRecorder()
	w.ServeHTTP(rec, r)
	return rec
}

func TestNewWorkerValidates(t *testing.T) {
	h := newHarness(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := NewWorker(Options{Scope: h.scope, Store: h.store, Fetcher: h.net, Logger: logger})
	assert.Error(t, err)
	_, err = NewWorker(Options{CacheName: "c", Scope: &url.URL{Path: "/"}, Store: h.store, Fetcher: h.net, Logger: logger})
	assert.Error(t, err)
	_, err = NewWorker(Options{CacheName: "c", Scope: h.scope, Fetcher: h.net, Logger: logger})
	assert.Error(t, err)
	_, err = NewWorker(Options{CacheName: "c", Scope: h.scope, Store: h.store, Logger: logger})
	assert.Error(t, err)
	_, err = NewWorker(Options{CacheName: "c", Scope: h.scope, Store: h.store, Fetcher: h.net})
	assert.Error(t, err)
}

func TestInstallIsBestEffort(t *testing.T) {
	h := newHarness(t)
	w := h.worker(t, "adai-cache-v1")
	ctx := context.Background()

	assert.Equal(t, StateIdle, w.State())
	stored, err := w.Install(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stored)
	assert.Equal(t, StateInstalled, w.State())

	urls, err := h.store.urls(ctx, "adai-cache-v1")
	require.NoError(t, err)
	assert.Contains(t, urls, h.origin.srv.URL+"/static/css/style.css")
	assert.NotContains(t, urls, h.origin.srv.URL+"/static/missing.js")
}

func TestInstallOfflineStillInstalls(t *testing.T) {
	h := newHarness(t)
	h.net.offline.Store(true)
	w := h.worker(t, "adai-cache-v1")

	stored, err := w.Install(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stored)
	assert.Equal(t, StateInstalled, w.State())
}

func TestActivationLeavesOneGeneration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for v := 1; v <= 4; v++ {
		name := fmt.Sprintf("adai-cache-v%d", v)
		w := h.started(t, name)
		assert.Equal(t, name, w.Name())

		keys, err := h.store.Keys(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{name}, keys)
	}
}

func TestActivateReportsDeletedGenerations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.Open(ctx, "adai-cache-v1"))
	require.NoError(t, h.store.Open(ctx, "unrelated-cache"))

	w := h.worker(t, "adai-cache-v2")
	_, err := w.Install(ctx)
	require.NoError(t, err)
	deleted, err := w.Activate(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"adai-cache-v1", "unrelated-cache"}, deleted)
}

func TestInactiveWorkerPassesThrough(t *testing.T) {
	h := newHarness(t)
	w := h.worker(t, "adai-cache-v1")

	rec := serve(w, http.MethodGet, "/static/css/other.css", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bypass", rec.Header().Get("X-Cache"))

	n, err := h.store.Count(context.Background(), "adai-cache-v1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAPIIsNetworkOnly(t *testing.T) {
	h := newHarness(t)
	w := h.started(t, "adai-cache-v1")
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		rec := serve(w, http.MethodGet, "/api/status", false)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "bypass", rec.Header().Get("X-Cache"))
		assert.Equal(t, i, h.origin.count("/api/status"))
	}

	rec := serve(w, http.MethodPost, "/api/chat", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"reply":"live 1"}`, rec.Body.String())

	urls, err := h.store.urls(ctx, "adai-cache-v1")
	require.NoError(t, err)
	for _, u := range urls {
		assert.NotContains(t, u, "/api/")
	}
}

func TestAPINeverReadsCache(t *testing.T) {
	h := newHarness(t)
	w := h.started(t, "adai-cache-v1")
	ctx := context.Background()

	// even a planted entry must be ignored
	planted := h.origin.srv.URL + "/api/status"
	require.NoError(t, h.store.Put(ctx, "adai-cache-v1", &Entry{URL: planted, Status: 200, Body: []byte(`{"reply":"stale"}`)}))

	rec := serve(w, http.MethodGet, "/api/status", false)
	assert.JSONEq(t, `{"reply":"live 1"}`, rec.Body.String())

	h.net.offline.Store(true)
	rec = serve(w, http.MethodGet, "/api/status", false)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, OfflineAPIError, body["error"])
}

func TestNavigationIsNetworkFirst(t *testing.T) {
	h := newHarness(t)
	w := h.started(t, "adai-cache-v1")

	h.origin.version.Store(2)
	rec := serve(w, http.MethodGet, "/signin", false)
	assert.Equal(t, "<html>/signin v2</html>", rec.Body.String())
	assert.Equal(t, "miss", rec.Header().Get("X-Cache"))

	h.net.offline.Store(true)

	rec = serve(w, http.MethodGet, "/signin", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<html>/signin v1</html>", rec.Body.String())
	assert.Equal(t, "fallback", rec.Header().Get("X-Cache"))

	rec = serve(w, http.MethodGet, "/lessons/3", true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<html>/ v1</html>", rec.Body.String())
}

func TestNavigationOfflineWithoutShell(t *testing.T) {
	h := newHarness(t)
	h.manifest = nil
	w := h.started(t, "adai-cache-v1")
	h.net.offline.Store(true)

	rec := serve(w, http.MethodGet, "/privacy", false)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStaticAssetsAreCacheFirst(t *testing.T) {
	h := newHarness(t)
	h.manifest = nil
	w := h.started(t, "adai-cache-v1")
	ctx := context.Background()

	rec := serve(w, http.MethodGet, "/static/img/logo.png", false)
	assert.Equal(t, "miss", rec.Header().Get("X-Cache"))
	assert.Equal(t, "asset /static/img/logo.png v1", rec.Body.String())

	h.origin.version.Store(2)
	rec = serve(w, http.MethodGet, "/static/img/logo.png", false)
	assert.Equal(t, "hit", rec.Header().Get("X-Cache"))
	assert.Equal(t, "asset /static/img/logo.png v1", rec.Body.String())
	assert.Equal(t, "text/css", rec.Header().Get("Content-Type"))
	assert.Equal(t, 1, h.origin.count("/static/img/logo.png"))

	h.net.offline.Store(true)
	rec = serve(w, http.MethodGet, "/static/img/logo.png", false)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(w, http.MethodGet, "/static/img/never-seen.png", false)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	n, err := h.store.Count(ctx, "adai-cache-v1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestErrorResponsesAreNotCached(t *testing.T) {
	h := newHarness(t)
	h.manifest = nil
	w := h.started(t, "adai-cache-v1")

	for i := 1; i <= 2; i++ {
		rec := serve(w, http.MethodGet, "/static/missing.js", false)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, i, h.origin.count("/static/missing.js"))
	}
}

func TestCrossOriginResponsesAreNotCached(t *testing.T) {
	h := newHarness(t)
	h.manifest = nil
	w := h.started(t, "adai-cache-v1")

	cdn := newOrigin(t)
	target := cdn.srv.URL + "/static/fonts/all.min.css"

	for i := 1; i <= 2; i++ {
		rec := serve(w, http.MethodGet, target, false)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "miss", rec.Header().Get("X-Cache"))
		assert.Equal(t, i, cdn.count("/static/fonts/all.min.css"))
	}

	n, err := h.store.Count(context.Background(), "adai-cache-v1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedirectedCrossOriginResponsesAreNotCached(t *testing.T) {
	h := newHarness(t)
	h.manifest = nil
	w := h.started(t, "adai-cache-v1")

	cdn := newOrigin(t)
	dest := cdn.srv.URL + "/static/font.css"
	h.origin.redirect.Store(&dest)

	for i := 1; i <= 2; i++ {
		rec := serve(w, http.MethodGet, "/static/moved.css", false)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "miss", rec.Header().Get("X-Cache"))
		assert.Equal(t, "asset /static/font.css v1", rec.Body.String())
		assert.Equal(t, i, cdn.count("/static/font.css"))
	}

	urls, err := h.store.urls(context.Background(), "adai-cache-v1")
	require.NoError(t, err)
	assert.Empty(t, urls)
}

func TestActivateFailureRestoresState(t *testing.T) {
	h := newHarness(t)
	db, err := telemetry.InitDB(filepath.Join(t.TempDir(), "closed.db"))
	require.NoError(t, err)
	h.store = NewStore(db)
	w := h.worker(t, "adai-cache-v1")
	ctx := context.Background()

	_, err = w.Install(ctx)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = w.Activate(ctx)
	require.Error(t, err)
	assert.Equal(t, StateInstalled, w.State())

	rec := serve(w, http.MethodGet, "/static/css/style.css", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bypass", rec.Header().Get("X-Cache"))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "installing", StateInstalling.String())
	assert.Equal(t, "installed", StateInstalled.String())
	assert.Equal(t, "activating", StateActivating.String())
	assert.Equal(t, "active", StateActive.String())
}
