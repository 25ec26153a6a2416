package oauthgw

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fiberplane/mcp-gateway/internal/domain/registry"
)

type fakeLookup map[string]registry.Server

func (f fakeLookup) Get(ctx context.Context, name string) (registry.Server, error) {
	srv, ok := f[name]
	if !ok {
		return registry.Server{}, registry.ErrNotFound
	}
	return srv, nil
}

func newGateway(t *testing.T, upstream *httptest.Server, name string) *Gateway {
	t.Helper()
	lookup := fakeLookup{name: {Name: name, URL: upstream.URL + "/mcp"}}
	return NewGateway(lookup, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHandlerSetsCORSHeaders(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer upstream.Close()

	gw := newGateway(t, upstream, "demo")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/.well-known/oauth-protected-resource/demo/mcp", nil)
	gw.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204 for OPTIONS preflight", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected Access-Control-Allow-Origin: *")
	}
}

func TestHandleProtectedResourcePassthrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/.well-known/oauth-protected-resource" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"resource":"https://upstream.example/mcp","authorization_servers":["https://auth.example"]}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer upstream.Close()

	gw := newGateway(t, upstream, "demo")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-protected-resource/demo/mcp", nil)
	gw.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var doc map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if doc["resource"] != "http://example.com/s/demo/mcp" {
		t.Errorf("resource = %v, want rewritten to the gateway's own proxied URL", doc["resource"])
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != sessionCookieName || cookies[0].Value != "demo" {
		t.Errorf("expected scoped session cookie for server demo, got %v", cookies)
	}
}

func TestHandleProtectedResourceSynthesizesFrom404(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/.well-known/oauth-protected-resource":
			http.NotFound(w, r)
		case "/.well-known/oauth-authorization-server":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"issuer":"https://auth.example"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer upstream.Close()

	gw := newGateway(t, upstream, "demo")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-protected-resource/demo/mcp", nil)
	gw.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for synthesized document", rec.Code)
	}
	var doc struct {
		Resource             string   `json:"resource"`
		AuthorizationServers []string `json:"authorization_servers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if doc.Resource != "http://example.com/s/demo/mcp" {
		t.Errorf("resource = %q, want gateway proxied URL", doc.Resource)
	}
	if len(doc.AuthorizationServers) != 1 || doc.AuthorizationServers[0] != "https://auth.example" {
		t.Errorf("authorization_servers = %v, want [https://auth.example]", doc.AuthorizationServers)
	}
}

func TestHandlePassthroughAuthorizationServer(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/.well-known/oauth-authorization-server" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"issuer":"https://auth.example"}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer upstream.Close()

	gw := newGateway(t, upstream, "demo")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server/demo/mcp", nil)
	gw.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleRegisterForwardsBody(t *testing.T) {
	var gotBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/register" {
			b, _ := io.ReadAll(r.Body)
			gotBody = string(b)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"client_id":"abc"}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer upstream.Close()

	gw := newGateway(t, upstream, "demo")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/s/demo/mcp/register", strings.NewReader(`{"client_name":"test"}`))
	gw.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if gotBody != `{"client_name":"test"}` {
		t.Errorf("upstream received body %q", gotBody)
	}
}

func TestHandlerUnknownServerNotFound(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	gw := newGateway(t, upstream, "demo")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-protected-resource/unknown/mcp", nil)
	gw.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for unregistered server", rec.Code)
	}
}

func TestHandlerBarePathUsesCookieFallback(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/.well-known/oauth-authorization-server" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"issuer":"https://auth.example"}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer upstream.Close()

	gw := newGateway(t, upstream, "demo")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "demo"})
	gw.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 via cookie fallback", rec.Code)
	}
}

func TestHandlerBarePathWithoutCookieNotFound(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	gw := newGateway(t, upstream, "demo")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil)
	gw.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 with no fallback cookie", rec.Code)
	}
}

func TestBaseURLStripsTrailingSegment(t *testing.T) {
	cases := map[string]string{
		"https://upstream.example/mcp": "https://upstream.example",
		"https://upstream.example/sse": "https://upstream.example",
		"https://upstream.example":     "https://upstream.example",
	}
	for in, want := range cases {
		if got := baseURL(in); got != want {
			t.Errorf("baseURL(%q) = %q, want %q", in, got, want)
		}
	}
}
