// Package session implements the in-memory client-info/server-info
// caches keyed by MCP session id, with a storage-backed fallback lookup
// and the "stateless" sentinel session contract.
package session

import (
	"context"
	"sync"

	"github.com/fiberplane/mcp-gateway/internal/domain/capture"
)

// Stateless is the sentinel session id used before the MCP handshake
// assigns a real Mcp-Session-Id.
const Stateless = capture.StatelessSession

// MetadataSource is the storage-backend fallback consulted on a cache
// miss, keyed by session id.
type MetadataSource interface {
	GetSessionMetadata(ctx context.Context, sessionID string) (client, server *capture.Identity, err error)
}

// Store is an in-memory cache of one identity kind (client or server),
// keyed by session id, falling back to storage and then to the
// "stateless" session on a miss.
type Store struct {
	mu     sync.RWMutex
	values map[string]*capture.Identity
	source MetadataSource
	pick   func(client, server *capture.Identity) *capture.Identity
}

// NewClientStore builds the client-info store.
func NewClientStore(source MetadataSource) *Store {
	return &Store{
		values: make(map[string]*capture.Identity),
		source: source,
		pick:   func(client, _ *capture.Identity) *capture.Identity { return client },
	}
}

// NewServerStore builds the server-info store.
func NewServerStore(source MetadataSource) *Store {
	return &Store{
		values: make(map[string]*capture.Identity),
		source: source,
		pick:   func(_, server *capture.Identity) *capture.Identity { return server },
	}
}

// Store caches identity for sessionID, overwriting any prior value.
func (s *Store) Store(sessionID string, id *capture.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[sessionID] = id
}

// Get resolves identity for sessionID: in-memory cache, then storage,
// then (for non-stateless ids) a retry of both steps against
// "stateless". Returns nil, false if nothing is found anywhere.
func (s *Store) Get(ctx context.Context, sessionID string) (*capture.Identity, bool) {
	if id, ok := s.lookup(ctx, sessionID); ok {
		return id, true
	}
	if sessionID != Stateless {
		return s.lookup(ctx, Stateless)
	}
	return nil, false
}

func (s *Store) lookup(ctx context.Context, sessionID string) (*capture.Identity, bool) {
	s.mu.RLock()
	id, ok := s.values[sessionID]
	s.mu.RUnlock()
	if ok {
		return id, true
	}
	if s.source == nil {
		return nil, false
	}
	client, server, err := s.source.GetSessionMetadata(ctx, sessionID)
	if err != nil {
		return nil, false
	}
	id = s.pick(client, server)
	if id == nil {
		return nil, false
	}
	return id, true
}

// Clear removes the cached identity for sessionID.
func (s *Store) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, sessionID)
}

// ClearAll empties the cache.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string]*capture.Identity)
}

// GetActiveSessions returns the session ids currently cached in memory.
func (s *Store) GetActiveSessions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.values))
	for id := range s.values {
		out = append(out, id)
	}
	return out
}
