// Package oauthgw implements the OAuth discovery proxy (component H):
// it forwards and rewrites the `.well-known/*` and `/register` routes
// an MCP client uses to discover an upstream server's OAuth metadata,
// since those routes live outside the `/s/<name>/mcp` wire path and
// cannot simply be tunneled through the reverse proxy unchanged.
package oauthgw

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fiberplane/mcp-gateway/internal/domain/registry"
)

const sessionCookieName = "mcp-gateway-server"

// ServerLookup resolves a registered server by name.
type ServerLookup interface {
	Get(ctx context.Context, name string) (registry.Server, error)
}

// Gateway implements component H's five route families.
type Gateway struct {
	servers ServerLookup
	client  *http.Client
	logger  *slog.Logger
}

// NewGateway builds a Gateway.
func NewGateway(servers ServerLookup, logger *slog.Logger) *Gateway {
	return &Gateway{
		servers: servers,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

// Handler dispatches on the request path to the right discovery route.
func (g *Gateway) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		path := r.URL.Path
		switch {
		case strings.HasPrefix(path, "/.well-known/oauth-protected-resource/"):
			g.handleProtectedResource(w, r, trimServerSegment(path, "/.well-known/oauth-protected-resource/"))
		case strings.HasPrefix(path, "/.well-known/oauth-authorization-server/"):
			g.handlePassthrough(w, r, trimServerSegment(path, "/.well-known/oauth-authorization-server/"), "/.well-known/oauth-authorization-server")
		case strings.HasPrefix(path, "/.well-known/openid-configuration/"):
			g.handlePassthrough(w, r, trimServerSegment(path, "/.well-known/openid-configuration/"), "/.well-known/openid-configuration")
		case strings.HasSuffix(path, "/mcp/.well-known/openid-configuration"):
			g.handlePassthrough(w, r, serverNameFromAltPath(path), "/.well-known/openid-configuration")
		case strings.HasSuffix(path, "/mcp/register"):
			g.handleRegister(w, r, serverNameFromAltPath(path))
		case path == "/.well-known/oauth-protected-resource" || path == "/.well-known/oauth-authorization-server" || path == "/.well-known/openid-configuration":
			// Bare discovery hit with no server in the path: route via the
			// fallback cookie set by the proxy on a 401.
			name := cookieServerName(r)
			if name == "" {
				http.NotFound(w, r)
				return
			}
			if path == "/.well-known/oauth-protected-resource" {
				g.handleProtectedResource(w, r, name)
			} else {
				g.handlePassthrough(w, r, name, path)
			}
		default:
			http.NotFound(w, r)
		}
	})
}

// trimServerSegment extracts :name from "<prefix>:name/mcp".
func trimServerSegment(path, prefix string) string {
	rest := strings.TrimPrefix(path, prefix)
	rest = strings.TrimSuffix(rest, "/mcp")
	return strings.Trim(rest, "/")
}

// serverNameFromAltPath extracts :name from "/{s|servers}/:name/mcp/...".
func serverNameFromAltPath(path string) string {
	for _, prefix := range []string{"/s/", "/servers/"} {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		rest := strings.TrimPrefix(path, prefix)
		if idx := strings.Index(rest, "/mcp"); idx >= 0 {
			return rest[:idx]
		}
	}
	return ""
}

func cookieServerName(r *http.Request) string {
	c, err := r.Cookie(sessionCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func writeCORSHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, MCP-Protocol-Version")
}

func setServerCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    name,
		Path:     "/.well-known",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// baseURL drops a trailing "/mcp" or "/sse" path segment from an
// upstream URL, yielding the server's discovery document root.
func baseURL(upstream string) string {
	for _, suffix := range []string{"/mcp", "/sse"} {
		if strings.HasSuffix(upstream, suffix) {
			return strings.TrimSuffix(upstream, suffix)
		}
	}
	return upstream
}

func (g *Gateway) handlePassthrough(w http.ResponseWriter, r *http.Request, name, wellKnownPath string) {
	srv, err := g.servers.Get(r.Context(), name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	setServerCookie(w, name)

	upstreamURL := baseURL(srv.URL) + wellKnownPath
	body, status, err := g.fetch(r.Context(), upstreamURL)
	if err != nil {
		http.Error(w, `{"error":"upstream discovery fetch failed"}`, http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (g *Gateway) handleProtectedResource(w http.ResponseWriter, r *http.Request, name string) {
	srv, err := g.servers.Get(r.Context(), name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	setServerCookie(w, name)

	upstreamURL := baseURL(srv.URL) + "/.well-known/oauth-protected-resource"
	body, status, err := g.fetch(r.Context(), upstreamURL)
	if err == nil && status != http.StatusNotFound {
		rewritten := rewriteResourceField(body, gatewayResourceURL(r, name))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(rewritten)
		return
	}

	// Upstream has no protected-resource document; synthesize one from
	// the authorization-server document instead.
	authBody, authStatus, authErr := g.fetch(r.Context(), baseURL(srv.URL)+"/.well-known/oauth-authorization-server")
	if authErr != nil || authStatus != http.StatusOK {
		http.Error(w, `{"error":"no oauth metadata available"}`, http.StatusBadGateway)
		return
	}
	var authDoc struct {
		Issuer string `json:"issuer"`
	}
	_ = json.Unmarshal(authBody, &authDoc)

	synthesized := map[string]any{
		"resource":              gatewayResourceURL(r, name),
		"authorization_servers": []string{authDoc.Issuer},
	}
	out, _ := json.Marshal(synthesized)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (g *Gateway) handleRegister(w http.ResponseWriter, r *http.Request, name string) {
	srv, err := g.servers.Get(r.Context(), name)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, `{"error":"failed to read request body"}`, http.StatusBadRequest)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, baseURL(srv.URL)+"/register", strings.NewReader(string(body)))
	if err != nil {
		http.Error(w, `{"error":"failed to build upstream request"}`, http.StatusInternalServerError)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Warn("oauthgw: register forward failed", "error", err, "server", name)
		http.Error(w, `{"error":"upstream registration failed"}`, http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(respBody)
}

func (g *Gateway) fetch(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

func rewriteResourceField(body []byte, resource string) []byte {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return body
	}
	doc["resource"] = resource
	out, err := json.Marshal(doc)
	if err != nil {
		return body
	}
	return out
}

func gatewayResourceURL(r *http.Request, name string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + "/s/" + name + "/mcp"
}
