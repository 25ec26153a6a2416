// Package proxygw implements the per-server reverse proxy (component G):
// it forwards JSON-RPC traffic to a registered upstream, tees unary and
// SSE responses into the capture pipeline, and synthesizes a JSON-RPC
// error on upstream transport failure.
package proxygw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fiberplane/mcp-gateway/internal/domain/capture"
	"github.com/fiberplane/mcp-gateway/internal/domain/gatewayerr"
	"github.com/fiberplane/mcp-gateway/internal/domain/registry"
	"github.com/fiberplane/mcp-gateway/internal/service"
)

var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Transfer-Encoding", "TE", "Trailers",
	"Upgrade", "Proxy-Authenticate", "Proxy-Authorization",
}

// HTTPContext is an alias for service.HTTPContext, the per-request side
// information attached to a capture record.
type HTTPContext = service.HTTPContext

// ServerLookup resolves a registered server by name.
type ServerLookup interface {
	Get(ctx context.Context, name string) (registry.Server, error)
}

// Recorder is the subset of the capture engine the proxy drives.
type Recorder interface {
	CreateRequestRecord(serverName, sessionID, method string, id json.RawMessage, raw json.RawMessage, hc HTTPContext, methodDetail string)
	CreateResponseRecord(serverName, sessionID string, id json.RawMessage, raw json.RawMessage, httpStatus int, method string, hc HTTPContext, methodDetail string)
	CaptureErrorResponse(serverName, sessionID string, id json.RawMessage, code int, message string, httpStatus int, durationMs int64)
	CaptureSSEEvent(serverName, sessionID, eventID, eventType string, raw json.RawMessage, hc HTTPContext)
	CaptureSSEJSONRPC(serverName, sessionID string, env *capture.Envelope, hc HTTPContext)
	RecordSessionTransition(oldSessionID, newSessionID string)
}

// MetricsRecorder is the subset of the gateway's Prometheus metrics the
// proxy emits. Satisfied by *httptransport.Metrics; kept as a narrow
// interface here so proxygw does not depend on the inbound HTTP package.
type MetricsRecorder interface {
	ObserveRequest(serverName, status string, elapsed time.Duration)
}

// Proxy is component G.
type Proxy struct {
	servers ServerLookup
	capture Recorder
	client  *http.Client
	logger  *slog.Logger
	metrics MetricsRecorder
	tracer  trace.Tracer
}

// NewProxy builds a Proxy. metrics may be nil, in which case request
// outcomes are not recorded. tracer may be nil, in which case upstream
// calls are not traced.
func NewProxy(servers ServerLookup, capture Recorder, logger *slog.Logger, metrics MetricsRecorder, tracer trace.Tracer) *Proxy {
	return &Proxy{
		servers: servers,
		capture: capture,
		client: &http.Client{
			Timeout: 60 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
	}
}

// Handler returns an http.Handler that resolves the target server name
// from the request path -- "/s/<name>/mcp" or "/servers/<name>/mcp" --
// and dispatches to ServeHTTP. Mount it at both prefixes.
func (p *Proxy) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := serverNameFromPath(r.URL.Path)
		if name == "" {
			http.Error(w, `{"error":"server not found"}`, http.StatusNotFound)
			return
		}
		p.ServeHTTP(w, r, name)
	})
}

// serverNameFromPath extracts <name> from "/s/<name>/mcp" or
// "/servers/<name>/mcp".
func serverNameFromPath(path string) string {
	for _, prefix := range []string{"/s/", "/servers/"} {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		rest := strings.TrimPrefix(path, prefix)
		rest = strings.TrimSuffix(rest, "/mcp")
		rest = strings.Trim(rest, "/")
		if rest != "" && !strings.Contains(rest, "/") {
			return rest
		}
	}
	return ""
}

// ServeHTTP handles both POST (unary or streaming request) and GET (SSE
// subscription) for a resolved server name.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request, serverName string) {
	start := time.Now()
	ctx := r.Context()
	srv, err := p.servers.Get(ctx, serverName)
	if err != nil {
		http.Error(w, `{"error":"server not found"}`, http.StatusNotFound)
		return
	}

	sessionID := sessionIDFromRequest(r)
	hc := HTTPContext{UserAgent: r.UserAgent(), ClientIP: clientIP(r)}

	var body []byte
	if r.Method == http.MethodPost {
		body, err = io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, `{"error":"failed to read request body"}`, http.StatusBadRequest)
			return
		}
		p.recordRequests(serverName, sessionID, body, hc)
	}

	outReq, err := p.buildUpstreamRequest(ctx, r, srv, body)
	if err != nil {
		p.writeUpstreamError(w, serverName, sessionID, body, err)
		p.observe(serverName, "upstream_error", start)
		return
	}

	resp, err := p.doUpstream(ctx, serverName, outReq)
	if err != nil {
		p.writeUpstreamError(w, serverName, sessionID, body, err)
		p.observe(serverName, "upstream_error", start)
		return
	}
	defer resp.Body.Close()

	if newSession := resp.Header.Get("Mcp-Session-Id"); newSession != "" && newSession != sessionID {
		p.capture.RecordSessionTransition(sessionID, newSession)
		sessionID = newSession
	}

	if resp.StatusCode == http.StatusUnauthorized {
		http.SetCookie(w, &http.Cookie{
			Name: "mcp-gateway-server", Value: serverName, Path: "/.well-known",
		})
	}

	copyResponseHeaders(w, resp.Header)

	if isEventStream(resp.Header.Get("Content-Type")) {
		w.WriteHeader(resp.StatusCode)
		teeSSE(ctx, w, resp.Body, p.capture, serverName, sessionID, hc)
		p.observe(serverName, strconv.Itoa(resp.StatusCode), start)
		return
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		p.logger.Warn("proxy: failed to read upstream response body", "error", err, "server", serverName)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(respBody)

	p.recordResponses(serverName, sessionID, respBody, resp.StatusCode, hc)
	p.observe(serverName, strconv.Itoa(resp.StatusCode), start)
}

// doUpstream performs the outbound call wrapped in a
// "mcp-gateway.proxy.upstream" span that carries the target server's
// name as the mcp.server_name attribute, recording the resolved status
// code or error.
func (p *Proxy) doUpstream(ctx context.Context, serverName string, req *http.Request) (*http.Response, error) {
	if p.tracer == nil {
		return p.client.Do(req)
	}

	ctx, span := p.tracer.Start(ctx, "mcp-gateway.proxy.upstream",
		trace.WithAttributes(
			attribute.String("mcp.server_name", serverName),
			attribute.String("http.method", req.Method),
			attribute.String("http.url", req.URL.String()),
		))
	defer span.End()

	resp, err := p.client.Do(req.WithContext(ctx))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= 500 {
		span.SetStatus(codes.Error, fmt.Sprintf("upstream returned %d", resp.StatusCode))
	}
	return resp, nil
}

func (p *Proxy) observe(serverName, status string, start time.Time) {
	if p.metrics == nil {
		return
	}
	p.metrics.ObserveRequest(serverName, status, time.Since(start))
}

func (p *Proxy) recordRequests(serverName, sessionID string, body []byte, hc HTTPContext) {
	messages, err := capture.SplitBatch(body)
	if err != nil {
		return
	}
	for _, raw := range messages {
		env, err := capture.ParseEnvelope(raw)
		if err != nil || !env.IsRequest {
			continue
		}
		p.capture.CreateRequestRecord(serverName, sessionID, env.Method, env.ID, raw, hc, env.Method)
	}
}

func (p *Proxy) recordResponses(serverName, sessionID string, body []byte, httpStatus int, hc HTTPContext) {
	messages, err := capture.SplitBatch(body)
	if err != nil {
		return
	}
	for _, raw := range messages {
		env, err := capture.ParseEnvelope(raw)
		if err != nil || env.IsRequest {
			continue
		}
		p.capture.CreateResponseRecord(serverName, sessionID, env.ID, raw, httpStatus, "", hc, "")
	}
}

func (p *Proxy) writeUpstreamError(w http.ResponseWriter, serverName, sessionID string, requestBody []byte, cause error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)

	messages, _ := capture.SplitBatch(requestBody)
	for _, raw := range messages {
		env, err := capture.ParseEnvelope(raw)
		if err != nil || !env.IsRequest || env.IsNotification() {
			continue
		}
		p.capture.CaptureErrorResponse(serverName, sessionID, env.ID,
			gatewayerr.CodeUpstreamError, "upstream error", http.StatusBadGateway, 0)
	}

	out := capture.BuildErrorResponse(nil, gatewayerr.CodeUpstreamError, "upstream error",
		json.RawMessage(`{"detail":"`+jsonEscape(cause.Error())+`"}`))
	_, _ = w.Write(out)
}

func (p *Proxy) buildUpstreamRequest(ctx context.Context, r *http.Request, srv registry.Server, body []byte) (*http.Request, error) {
	url := srv.URL
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	outReq, err := http.NewRequestWithContext(ctx, r.Method, url, reader)
	if err != nil {
		return nil, err
	}

	for _, h := range []string{"Accept", "Content-Type", "Mcp-Session-Id", "Mcp-Protocol-Version", "Authorization"} {
		if v := r.Header.Get(h); v != "" {
			outReq.Header.Set(h, v)
		}
	}
	for k, v := range srv.Headers {
		outReq.Header.Set(k, v)
	}
	for _, h := range hopByHopHeaders {
		outReq.Header.Del(h)
	}
	outReq.Host = outReq.URL.Host
	return outReq, nil
}

func copyResponseHeaders(w http.ResponseWriter, header http.Header) {
	for k, values := range header {
		if isHopByHop(k) {
			continue
		}
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
}

func isHopByHop(header string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(h, header) {
			return true
		}
	}
	return false
}

func isEventStream(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(contentType), "text/event-stream")
}

func sessionIDFromRequest(r *http.Request) string {
	if v := r.Header.Get("Mcp-Session-Id"); v != "" {
		return v
	}
	return capture.StatelessSession
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return r.RemoteAddr
}

func jsonEscape(s string) string {
	b, _ := json.Marshal(s)
	return strings.Trim(string(b), `"`)
}
