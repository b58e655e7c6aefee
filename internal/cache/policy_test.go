package cache

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	routes := DefaultRoutes()

	tests := []struct {
		name     string
		method   string
		target   string
		navigate bool
		want     Strategy
	}{
		{name: "api post", method: http.MethodPost, target: "/api/chat", want: NetworkOnly},
		{name: "api get", method: http.MethodGet, target: "/api/status", want: NetworkOnly},
		{name: "api navigation still network only", method: http.MethodGet, target: "/api/export", navigate: true, want: NetworkOnly},
		{name: "root shell", method: http.MethodGet, target: "/", want: NetworkFirst},
		{name: "signin shell", method: http.MethodGet, target: "/signin", want: NetworkFirst},
		{name: "privacy shell", method: http.MethodGet, target: "/privacy", want: NetworkFirst},
		{name: "other navigation", method: http.MethodGet, target: "/lessons/3", navigate: true, want: NetworkFirst},
		{name: "stylesheet", method: http.MethodGet, target: "/static/css/style.css", want: CacheFirst},
		{name: "icon", method: http.MethodGet, target: "/static/icons/icon-192x192.png", want: CacheFirst},
		{name: "api lookalike", method: http.MethodGet, target: "/apis.js", want: CacheFirst},
		{name: "signin with query", method: http.MethodGet, target: "/signin?next=/", want: NetworkFirst},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, tt.target, nil)
			if tt.navigate {
				r.Header.Set("Sec-Fetch-Mode", "navigate")
			}
			assert.Equal(t, tt.want, routes.Classify(r))
		})
	}
}

func TestCacheable(t *testing.T) {
	tests := []struct {
		name   string
		method string
		status int
		typ    ResponseType
		want   bool
	}{
		{name: "same origin ok", method: http.MethodGet, status: 200, typ: ResponseBasic, want: true},
		{name: "not found", method: http.MethodGet, status: 404, typ: ResponseBasic},
		{name: "partial content", method: http.MethodGet, status: 206, typ: ResponseBasic},
		{name: "server error", method: http.MethodGet, status: 500, typ: ResponseBasic},
		{name: "cors", method: http.MethodGet, status: 200, typ: ResponseCORS},
		{name: "opaque", method: http.MethodGet, status: 200, typ: ResponseOpaque},
		{name: "post", method: http.MethodPost, status: 200, typ: ResponseBasic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Cacheable(tt.method, tt.status, tt.typ))
		})
	}
}

func TestTypeOf(t *testing.T) {
	scope, _ := url.Parse("https://ada.example")
	same, _ := url.Parse("https://ada.example:443/static/app.js")
	cdn, _ := url.Parse("https://cdnjs.cloudflare.com/font.css")
	plain, _ := url.Parse("http://ada.example/static/app.js")

	assert.Equal(t, ResponseBasic, TypeOf(scope, same, http.Header{}))
	assert.Equal(t, ResponseOpaque, TypeOf(scope, cdn, http.Header{}))
	assert.Equal(t, ResponseCORS, TypeOf(scope, cdn, http.Header{"Access-Control-Allow-Origin": {"*"}}))
	assert.Equal(t, ResponseOpaque, TypeOf(scope, plain, http.Header{}))
}

func TestStrategyString(t *testing.T) {
	assert.Equal(t, "network-only", NetworkOnly.String())
	assert.Equal(t, "network-first", NetworkFirst.String())
	assert.Equal(t, "cache-first", CacheFirst.String())
}
