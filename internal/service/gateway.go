package service

import (
	"context"
	"log/slog"

	"github.com/fiberplane/mcp-gateway/internal/adapter/outbound/storage"
	"github.com/fiberplane/mcp-gateway/internal/domain/capture"
	"github.com/fiberplane/mcp-gateway/internal/domain/registry"
	"github.com/fiberplane/mcp-gateway/internal/domain/session"
	"github.com/fiberplane/mcp-gateway/internal/domain/tracker"
)

var _ registry.Store = (*storage.Store)(nil)

// Gateway is component K: the facade exposing capture, session, request
// tracking, storage, and health as a single composed unit, wired once
// per process by CreateGateway and shared by every inbound adapter.
type Gateway struct {
	Capture        *CaptureService
	ClientInfo     *session.Store
	ServerInfo     *session.Store
	RequestTracker *tracker.Tracker
	Storage        *storage.Store
	Registry       *RegistryService
	Health         *HealthScheduler
}

// CreateGatewayOptions configures gateway construction.
type CreateGatewayOptions struct {
	StorageDir     string
	CaptureOptions CaptureOptions
	HealthMetrics  HealthMetricsRecorder
}

// CreateGateway opens storage at opts.StorageDir and wires every
// component together.
func CreateGateway(ctx context.Context, opts CreateGatewayOptions, logger *slog.Logger) (*Gateway, error) {
	store, err := storage.Open(ctx, opts.StorageDir)
	if err != nil {
		return nil, err
	}

	trk := tracker.New()
	metadataSource := sessionMetadataAdapter{store}
	clientInfo := session.NewClientStore(metadataSource)
	serverInfo := session.NewServerStore(metadataSource)

	captureSvc := NewCaptureService(store, store, trk, clientInfo, serverInfo, logger, opts.CaptureOptions)
	scheduler := NewHealthScheduler(store, store, logger, opts.HealthMetrics)
	registrySvc := NewRegistryService(store, clientInfo, serverInfo, scheduler)

	return &Gateway{
		Capture:        captureSvc,
		ClientInfo:     clientInfo,
		ServerInfo:     serverInfo,
		RequestTracker: trk,
		Storage:        store,
		Registry:       registrySvc,
		Health:         scheduler,
	}, nil
}

// Start starts the capture engine's background writer and the health
// scheduler's periodic probing.
func (g *Gateway) Start(ctx context.Context, healthIntervalMs int64, onHealthUpdate UpdateCallback) {
	g.Capture.Start(ctx)
	g.Health.Start(ctx, healthIntervalMs, onHealthUpdate)
}

// Close stops the health scheduler, flushes and stops the capture
// engine, and closes storage.
func (g *Gateway) Close() error {
	g.Health.Stop()
	g.Capture.Stop()
	return g.Storage.Close()
}

// sessionMetadataAdapter adapts *storage.Store to session.MetadataSource.
type sessionMetadataAdapter struct{ store *storage.Store }

func (a sessionMetadataAdapter) GetSessionMetadata(ctx context.Context, sessionID string) (*capture.Identity, *capture.Identity, error) {
	return a.store.GetSessionMetadata(ctx, sessionID)
}
