// Package cache implements the offline cache policy that sits between the
// browser and the application origin.
//
// A Worker owns one cache generation. It moves through
// installing → installed → activating → active; once active it serves every
// request with the strategy chosen by Routes.Classify.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// State is the worker lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// OfflineAPIError is the body returned for API calls while the network is down.
const OfflineAPIError = "Offline: Cannot reach API"

// Fetcher performs network requests. *http.Client satisfies it.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures a Worker. CacheName, Scope, Store, Fetcher and Logger are required.
type Options struct {
	CacheName string   // version-tagged generation, e.g. adai-cache-v1
	Manifest  []string // critical assets stored on install
	Scope     *url.URL // origin whose responses count as same-origin
	Routes    Routes

	Store   *Store
	Fetcher Fetcher
	Logger  *slog.Logger
	Tracer  trace.Tracer
	Meter   metric.Meter
}

// Worker applies the offline cache policy.
type Worker struct {
	name     string
	manifest []string
	scope    *url.URL
	routes   Routes

	store   *Store
	fetcher Fetcher
	logger  *slog.Logger
	tracer  trace.Tracer

	hits   metric.Int64Counter
	misses metric.Int64Counter
	stores metric.Int64Counter

	state     atomic.Int32
	lifecycle sync.Mutex
}

// NewWorker creates a Worker in StateIdle.
func NewWorker(opts Options) (*Worker, error) {
	switch {
	case opts.CacheName == "":
		return nil, fmt.Errorf("cache name cannot be empty")
	case opts.Scope == nil || !opts.Scope.IsAbs():
		return nil, fmt.Errorf("scope must be an absolute url")
	case opts.Store == nil:
		return nil, fmt.Errorf("store cannot be nil")
	case opts.Fetcher == nil:
		return nil, fmt.Errorf("fetcher cannot be nil")
	case opts.Logger == nil:
		return nil, fmt.Errorf("logger cannot be nil")
	}

	w := &Worker{
		name:     opts.CacheName,
		manifest: opts.Manifest,
		scope:    opts.Scope,
		routes:   opts.Routes,
		store:    opts.Store,
		fetcher:  opts.Fetcher,
		logger:   opts.Logger.With("cache", opts.CacheName),
		tracer:   opts.Tracer,
	}
	if w.routes.APIPrefix == "" {
		w.routes = DefaultRoutes()
	}
	if w.tracer == nil {
		w.tracer = otel.Tracer("adaassist/cache")
	}

	meter := opts.Meter
	if meter == nil {
		meter = otel.Meter("adaassist/cache")
	}
	var err error
	if w.hits, err = meter.Int64Counter("cache.hits", metric.WithDescription("Requests served from cache")); err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	if w.misses, err = meter.Int64Counter("cache.misses", metric.WithDescription("Cache lookups that went to the network")); err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	if w.stores, err = meter.Int64Counter("cache.stores", metric.WithDescription("Responses written to cache")); err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}

	return w, nil
}

// Name returns the cache generation this worker owns.
func (w *Worker) Name() string { return w.name }

// State returns the current lifecycle state.
func (w *Worker) State() State { return State(w.state.Load()) }

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
	w.logger.Info("service worker state", "state", s.String())
}

// Start installs and then activates immediately, without waiting for older
// workers to go away.
func (w *Worker) Start(ctx context.Context) error {
	if _, err := w.Install(ctx); err != nil {
		return err
	}
	if _, err := w.Activate(ctx); err != nil {
		return err
	}
	return nil
}

// Install fetches the manifest into the current generation. Assets that fail
// are skipped; entries written before a failure stay. It returns the number of
// assets stored.
func (w *Worker) Install(ctx context.Context) (int, error) {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	w.setState(StateInstalling)
	if err := w.store.Open(ctx, w.name); err != nil {
		w.setState(StateIdle)
		return 0, err
	}
	w.logger.Info("opened cache")

	stored := 0
	for _, raw := range w.manifest {
		target, err := w.resolve(raw)
		if err != nil {
			w.logger.Error("failed to cache resource during install", "url", raw, "error", err)
			continue
		}

		resp, err := w.fetch(ctx, nil, http.MethodGet, target)
		if err != nil {
			w.logger.Error("failed to cache resource during install", "url", target.String(), "error", err)
			continue
		}
		if resp.status < 200 || resp.status > 299 {
			w.logger.Error("failed to cache resource during install", "url", target.String(), "status", resp.status)
			continue
		}

		if err := w.store.Put(ctx, w.name, resp.entry()); err != nil {
			w.logger.Error("failed to cache resource during install", "url", target.String(), "error", err)
			continue
		}
		w.stores.Add(ctx, 1, metric.WithAttributes(attribute.String("cache.phase", "install")))
		stored++
	}

	w.setState(StateInstalled)
	w.logger.Info("install complete", "stored", stored, "manifest", len(w.manifest))
	return stored, nil
}

// Activate deletes every generation other than the current one and takes
// control of request handling. It returns the deleted generation names. On
// failure the worker returns to its previous state.
func (w *Worker) Activate(ctx context.Context) (deleted []string, err error) {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	prev := w.State()
	w.setState(StateActivating)
	defer func() {
		if err != nil {
			w.logger.Error("activation failed", "error", err)
			w.setState(prev)
		}
	}()

	names, err := w.store.Keys(ctx)
	if err != nil {
		return nil, err
	}

	for _, name := range names {
		if name == w.name {
			continue
		}
		w.logger.Info("deleting old cache", "old", name)
		if _, err := w.store.Delete(ctx, name); err != nil {
			return deleted, err
		}
		deleted = append(deleted, name)
	}

	if err := w.store.Open(ctx, w.name); err != nil {
		return deleted, err
	}

	w.setState(StateActive)
	return deleted, nil
}

// ServeHTTP serves r according to its strategy. Until the worker is active,
// requests go straight to the network.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	target := w.resolveRequest(r)
	if w.State() != StateActive {
		w.passThrough(rw, r, target)
		return
	}

	strategy := w.routes.Classify(r)
	ctx, span := w.tracer.Start(r.Context(), "cache_fetch", trace.WithAttributes(
		attribute.String("cache.strategy", strategy.String()),
		attribute.String("url.full", target.String()),
	))
	defer span.End()

	switch strategy {
	case NetworkOnly:
		w.networkOnly(ctx, rw, r, target)
	case NetworkFirst:
		w.networkFirst(ctx, rw, r, target)
	default:
		w.cacheFirst(ctx, rw, r, target)
	}
}

func (w *Worker) passThrough(rw http.ResponseWriter, r *http.Request, target *url.URL) {
	resp, err := w.fetch(r.Context(), r, r.Method, target)
	if err != nil {
		w.logger.Error("network fetch failed", "url", target.String(), "error", err)
		http.Error(rw, "Bad Gateway", http.StatusBadGateway)
		return
	}
	resp.write(rw, "bypass")
}

func (w *Worker) networkOnly(ctx context.Context, rw http.ResponseWriter, r *http.Request, target *url.URL) {
	resp, err := w.fetch(ctx, r, r.Method, target)
	if err != nil {
		w.logger.Error("network fetch failed for API", "url", target.String(), "error", err)
		writeOfflineAPI(rw)
		return
	}
	resp.write(rw, "bypass")
}

func (w *Worker) networkFirst(ctx context.Context, rw http.ResponseWriter, r *http.Request, target *url.URL) {
	resp, err := w.fetch(ctx, r, r.Method, target)
	if err == nil {
		resp.write(rw, "miss")
		return
	}
	w.logger.Info("network fetch failed for HTML, trying cache", "url", target.String(), "error", err)

	root := w.scope.ResolveReference(&url.URL{Path: "/"})
	for _, candidate := range []string{target.String(), root.String()} {
		entry, ok, err := w.store.Match(ctx, w.name, candidate)
		if err != nil {
			w.logger.Error("cache lookup failed", "url", candidate, "error", err)
			continue
		}
		if ok {
			w.hits.Add(ctx, 1, metric.WithAttributes(attribute.String("cache.strategy", NetworkFirst.String())))
			writeEntry(rw, entry, "fallback")
			return
		}
	}

	w.misses.Add(ctx, 1, metric.WithAttributes(attribute.String("cache.strategy", NetworkFirst.String())))
	http.Error(rw, "Offline", http.StatusServiceUnavailable)
}

func (w *Worker) cacheFirst(ctx context.Context, rw http.ResponseWriter, r *http.Request, target *url.URL) {
	attrs := metric.WithAttributes(attribute.String("cache.strategy", CacheFirst.String()))

	if r.Method == http.MethodGet {
		entry, ok, err := w.store.Match(ctx, w.name, target.String())
		if err != nil {
			w.logger.Error("cache lookup failed", "url", target.String(), "error", err)
		}
		if ok {
			w.hits.Add(ctx, 1, attrs)
			writeEntry(rw, entry, "hit")
			return
		}
	}
	w.misses.Add(ctx, 1, attrs)

	resp, err := w.fetch(ctx, r, r.Method, target)
	if err != nil {
		w.logger.Error("network fetch failed for static asset", "url", target.String(), "error", err)
		http.Error(rw, "Offline", http.StatusServiceUnavailable)
		return
	}

	if Cacheable(r.Method, resp.status, resp.typ) {
		if err := w.store.Put(ctx, w.name, resp.entry()); err != nil {
			w.logger.Error("failed to cache response", "url", target.String(), "error", err)
		} else {
			w.stores.Add(ctx, 1, attrs)
		}
	} else {
		w.logger.Debug("not caching response", "url", target.String(), "status", resp.status, "type", resp.typ.String())
	}

	resp.write(rw, "miss")
}

// resolve turns a manifest entry into an absolute URL within scope.
func (w *Worker) resolve(raw string) (*url.URL, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", raw, err)
	}
	return w.scope.ResolveReference(ref), nil
}

// resolveRequest returns the URL r refers to. Origin-form requests resolve
// against the scope; absolute-form requests keep their own origin.
func (w *Worker) resolveRequest(r *http.Request) *url.URL {
	if r.URL.IsAbs() {
		u := *r.URL
		return &u
	}
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	return w.scope.ResolveReference(&url.URL{Path: path, RawQuery: r.URL.RawQuery})
}

// fetched is a fully buffered network response.
type fetched struct {
	url    string
	status int
	header http.Header
	body   []byte
	typ    ResponseType
}

func (f *fetched) entry() *Entry {
	return &Entry{URL: f.url, Status: f.status, Header: f.header.Clone(), Body: f.body}
}

func (f *fetched) write(rw http.ResponseWriter, cacheStatus string) {
	writeResponse(rw, f.status, f.header, f.body, cacheStatus)
}

// fetch sends method to target, forwarding headers and body from in when set.
func (w *Worker) fetch(ctx context.Context, in *http.Request, method string, target *url.URL) (*fetched, error) {
	var body io.Reader
	if in != nil && in.Body != nil && in.Method != http.MethodGet && in.Method != http.MethodHead {
		body = in.Body
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		copyHeader(req.Header, in.Header)
	}

	resp, err := w.fetcher.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	// redirects may leave scope; type by where the body came from
	final := target
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL
	}

	return &fetched{
		url:    target.String(),
		status: resp.StatusCode,
		header: resp.Header,
		body:   data,
		typ:    TypeOf(w.scope, final, resp.Header),
	}, nil
}

func writeEntry(rw http.ResponseWriter, e *Entry, cacheStatus string) {
	writeResponse(rw, e.Status, e.Header, e.Body, cacheStatus)
}

func writeResponse(rw http.ResponseWriter, status int, header http.Header, body []byte, cacheStatus string) {
	copyHeader(rw.Header(), header)
	rw.Header().Del("Content-Length")
	rw.Header().Set("Content-Length", strconv.Itoa(len(body)))
	rw.Header().Set("X-Cache", cacheStatus)
	rw.WriteHeader(status)
	rw.Write(body)
}

func writeOfflineAPI(rw http.ResponseWriter) {
	rw.Header().Set("Content-Type", "application/json")
	rw.Header().Set("X-Cache", "offline")
	rw.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(rw).Encode(map[string]string{"error": OfflineAPIError})
}

// Hop-by-hop headers are meaningful for a single connection only.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		dst.Del(h)
	}
}
