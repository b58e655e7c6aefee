package cache

import (
	"net/http"
	"net/url"
	"strings"
)

// Strategy is how a single request is served.
type Strategy int

const (
	// NetworkOnly never touches the cache.
	NetworkOnly Strategy = iota
	// NetworkFirst falls back to the cached shell when the network fails.
	NetworkFirst
	// CacheFirst serves from cache and fills it on a miss.
	CacheFirst
)

func (s Strategy) String() string {
	switch s {
	case NetworkOnly:
		return "network-only"
	case NetworkFirst:
		return "network-first"
	case CacheFirst:
		return "cache-first"
	default:
		return "unknown"
	}
}

// Routes decides the strategy for a request path.
type Routes struct {
	APIPrefix   string   // backend calls, default "/api/"
	ShellRoutes []string // HTML shells, default "/", "/signin", "/privacy"
}

// DefaultRoutes mirrors the application's URL layout.
func DefaultRoutes() Routes {
	return Routes{
		APIPrefix:   "/api/",
		ShellRoutes: []string{"/", "/signin", "/privacy"},
	}
}

// Classify picks the strategy for r. API paths win over navigations, which win
// over everything else.
func (rt Routes) Classify(r *http.Request) Strategy {
	path := r.URL.Path
	if path == "" {
		path = "/"
	}

	if strings.HasPrefix(path, rt.APIPrefix) {
		return NetworkOnly
	}

	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return NetworkFirst
	}
	for _, shell := range rt.ShellRoutes {
		if path == shell {
			return NetworkFirst
		}
	}

	return CacheFirst
}

// ResponseType mirrors the fetch response types that matter for caching.
type ResponseType int

const (
	ResponseBasic  ResponseType = iota // same origin
	ResponseCORS                       // cross origin, readable
	ResponseOpaque                     // cross origin, not readable
)

func (t ResponseType) String() string {
	switch t {
	case ResponseBasic:
		return "basic"
	case ResponseCORS:
		return "cors"
	case ResponseOpaque:
		return "opaque"
	default:
		return "unknown"
	}
}

// SameOrigin reports whether a and b share scheme, host and port.
func SameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(originHost(a), originHost(b))
}

func originHost(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		return u.Hostname() + ":80"
	case "https":
		return u.Hostname() + ":443"
	}
	return u.Host
}

// TypeOf classifies a response to target as seen from scope.
func TypeOf(scope, target *url.URL, header http.Header) ResponseType {
	if SameOrigin(scope, target) {
		return ResponseBasic
	}
	if header.Get("Access-Control-Allow-Origin") != "" {
		return ResponseCORS
	}
	return ResponseOpaque
}

// Cacheable reports whether a fetched response may be stored. Only successful
// same-origin GET responses qualify; everything else is passed through untouched.
func Cacheable(method string, status int, typ ResponseType) bool {
	return method == http.MethodGet && status == http.StatusOK && typ == ResponseBasic
}
