// Package api implements the management REST surface (component J's
// thin CRUD plus read-only aggregations over the capture log), mounted
// at /api behind the gateway's bearer-token middleware.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fiberplane/mcp-gateway/internal/domain/capture"
	"github.com/fiberplane/mcp-gateway/internal/domain/gatewayerr"
	"github.com/fiberplane/mcp-gateway/internal/domain/registry"
	"github.com/fiberplane/mcp-gateway/internal/service"
)

// Handler serves every /api route over a Gateway facade.
type Handler struct {
	gateway *service.Gateway
}

// NewHandler builds a Handler.
func NewHandler(gateway *service.Gateway) *Handler {
	return &Handler{gateway: gateway}
}

// Mux returns an http.Handler routing every documented /api path.
func (h *Handler) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/logs", h.queryLogs)
	mux.HandleFunc("POST /api/logs/clear", h.clearLogs)
	mux.HandleFunc("GET /api/servers", h.getServers)
	mux.HandleFunc("GET /api/sessions", h.getSessions)
	mux.HandleFunc("GET /api/clients", h.getClients)
	mux.HandleFunc("GET /api/methods", h.getMethods)
	mux.HandleFunc("GET /api/servers/config", h.listServerConfigs)
	mux.HandleFunc("POST /api/servers/config", h.addServer)
	mux.HandleFunc("PUT /api/servers/config/{name}", h.updateServer)
	mux.HandleFunc("DELETE /api/servers/config/{name}", h.removeServer)
	mux.HandleFunc("POST /api/servers/{name}/health-check", h.healthCheck)
	return mux
}

func (h *Handler) queryLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := capture.QueryOptions{
		ServerName:    q.Get("server"),
		SessionID:     q.Get("sessionId"),
		Method:        q.Get("method"),
		ClientName:    q.Get("clientName"),
		ClientVersion: q.Get("clientVersion"),
		ClientIP:      q.Get("clientIp"),
		Order:         q.Get("order"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, gatewayerr.Validation(gatewayerr.CodeInvalidParams, "limit must be an integer"))
			return
		}
		opts.Limit = n
	}
	var err error
	if opts.After, err = parseTimeParam(q.Get("after")); err != nil {
		writeError(w, gatewayerr.Validation(gatewayerr.CodeInvalidParams, "after must be RFC3339"))
		return
	}
	if opts.Before, err = parseTimeParam(q.Get("before")); err != nil {
		writeError(w, gatewayerr.Validation(gatewayerr.CodeInvalidParams, "before must be RFC3339"))
		return
	}
	opts.Normalize()

	result, err := h.gateway.Storage.QueryLogs(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

func (h *Handler) clearLogs(w http.ResponseWriter, r *http.Request) {
	if err := h.gateway.Storage.ClearAll(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

func (h *Handler) getServers(w http.ResponseWriter, r *http.Request) {
	servers, err := h.gateway.Storage.GetServers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, servers)
}

func (h *Handler) getSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.gateway.Storage.GetSessions(r.Context(), r.URL.Query().Get("server"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *Handler) getClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.gateway.Storage.GetClients(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clients)
}

func (h *Handler) getMethods(w http.ResponseWriter, r *http.Request) {
	methods, err := h.gateway.Storage.GetMethods(r.Context(), r.URL.Query().Get("server"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, methods)
}

func (h *Handler) listServerConfigs(w http.ResponseWriter, r *http.Request) {
	servers, err := h.gateway.Registry.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, servers)
}

func (h *Handler) addServer(w http.ResponseWriter, r *http.Request) {
	var srv registry.Server
	if err := json.NewDecoder(r.Body).Decode(&srv); err != nil {
		writeError(w, gatewayerr.Validation(gatewayerr.CodeParseError, "invalid request body"))
		return
	}
	if err := h.gateway.Registry.AddServer(r.Context(), srv); err != nil {
		writeError(w, translateRegistryErr(err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"name": srv.Name})
}

func (h *Handler) updateServer(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var patch struct {
		URL     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, gatewayerr.Validation(gatewayerr.CodeParseError, "invalid request body"))
		return
	}

	existing, err := h.gateway.Registry.Get(r.Context(), name)
	if err != nil {
		writeError(w, translateRegistryErr(err))
		return
	}
	if patch.URL != "" {
		existing.URL = patch.URL
	}
	if patch.Headers != nil {
		existing.Headers = patch.Headers
	}
	if err := h.gateway.Registry.UpdateServer(r.Context(), name, existing); err != nil {
		writeError(w, translateRegistryErr(err))
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (h *Handler) removeServer(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.gateway.Registry.RemoveServer(r.Context(), name); err != nil {
		writeError(w, translateRegistryErr(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": true})
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	srv, err := h.gateway.Registry.Get(r.Context(), name)
	if err != nil {
		writeError(w, translateRegistryErr(err))
		return
	}
	h.gateway.Health.CheckOne(r.Context(), srv.Name, srv.URL)
	rec, err := h.gateway.Storage.GetServerHealth(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// translateRegistryErr maps registry.Store sentinel errors onto the
// gatewayerr taxonomy so writeError can pick the right HTTP status.
func translateRegistryErr(err error) error {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return gatewayerr.NotFound("server not found")
	case errors.Is(err, registry.ErrAlreadyExists):
		return gatewayerr.Conflict("server already exists")
	default:
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var gerr *gatewayerr.Error
	if !errors.As(err, &gerr) {
		gerr = gatewayerr.New(gatewayerr.KindInternal, "internal error")
	}
	writeJSON(w, statusForKind(gerr.Kind), map[string]any{
		"error": map[string]string{"message": messageFor(gerr)},
	})
}

func messageFor(err *gatewayerr.Error) string {
	if err.Kind == gatewayerr.KindStorage || err.Kind == gatewayerr.KindInternal {
		return "internal error"
	}
	return strings.TrimSpace(err.Message)
}

func statusForKind(kind gatewayerr.Kind) int {
	switch kind {
	case gatewayerr.KindValidation:
		return http.StatusBadRequest
	case gatewayerr.KindNotFound:
		return http.StatusNotFound
	case gatewayerr.KindConflict:
		return http.StatusConflict
	case gatewayerr.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
