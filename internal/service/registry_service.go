package service

import (
	"context"
	"sync"

	"github.com/fiberplane/mcp-gateway/internal/domain/registry"
	"github.com/fiberplane/mcp-gateway/internal/domain/session"
)

// RegistryService is component J: thin CRUD over the storage backend's
// servers table. Removing a server clears every cached session
// identity, not only those of sessions bound to the removed name.
type RegistryService struct {
	store      registry.Store
	clientInfo *session.Store
	serverInfo *session.Store
	scheduler  *HealthScheduler

	mu sync.Mutex // serializes registry writes per the concurrent-modification open question
}

// NewRegistryService builds a RegistryService.
func NewRegistryService(store registry.Store, clientInfo, serverInfo *session.Store, scheduler *HealthScheduler) *RegistryService {
	return &RegistryService{store: store, clientInfo: clientInfo, serverInfo: serverInfo, scheduler: scheduler}
}

// List returns every registered server.
func (r *RegistryService) List(ctx context.Context) ([]registry.Server, error) {
	return r.store.List(ctx)
}

// Get returns a single server by name.
func (r *RegistryService) Get(ctx context.Context, name string) (registry.Server, error) {
	return r.store.Get(ctx, name)
}

// AddServer validates and inserts a new server.
func (r *RegistryService) AddServer(ctx context.Context, srv registry.Server) error {
	srv.Normalize()
	if err := srv.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Add(ctx, srv)
}

// UpdateServer validates and overwrites an existing server's url/headers.
func (r *RegistryService) UpdateServer(ctx context.Context, name string, srv registry.Server) error {
	srv.Name = name
	srv.Normalize()
	if err := srv.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Update(ctx, name, srv)
}

// RemoveServer deletes a server and clears every cached session
// identity, including sessions of other servers. Logs are preserved.
func (r *RegistryService) RemoveServer(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.Remove(ctx, name); err != nil {
		return err
	}
	// TODO: D does not track which server name a cached session belongs
	// to, so removal clears every cached session rather than only those
	// bound to name. Storage-backed fallback keeps this safe.
	for _, sessionID := range r.clientInfo.GetActiveSessions() {
		r.clientInfo.Clear(sessionID)
		r.serverInfo.Clear(sessionID)
	}
	return nil
}
