// Package service implements the gateway's application-layer
// components: the capture engine, health scheduler, registry service,
// and the facade that wires them together.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fiberplane/mcp-gateway/internal/domain/capture"
	"github.com/fiberplane/mcp-gateway/internal/domain/session"
	"github.com/fiberplane/mcp-gateway/internal/domain/tracker"
)

// RecordWriter is the storage-backend port the capture engine writes
// through (component B's write operation).
type RecordWriter interface {
	Write(ctx context.Context, r capture.Record) error
}

// RequestInfoUpdater is the storage-backend port used to backfill the
// upstream server identity onto an already-captured "initialize" request
// once the response reveals it.
type RequestInfoUpdater interface {
	UpdateServerInfoForInitializeRequest(ctx context.Context, serverName, sessionID string, requestID json.RawMessage, serverInfo capture.Identity) error
}

// HTTPContext carries the per-request side information attached to a
// capture record (component F's httpContext? parameter).
type HTTPContext struct {
	HTTPStatus int
	UserAgent  string
	ClientIP   string
}

// CaptureOptions configures CaptureService's background writer.
type CaptureOptions struct {
	ChannelSize   int
	BatchSize     int
	FlushInterval time.Duration
	SendTimeout   time.Duration
}

func (o *CaptureOptions) setDefaults() {
	if o.ChannelSize <= 0 {
		o.ChannelSize = 4096
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 200 * time.Millisecond
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 25 * time.Millisecond
	}
}

// CaptureService is component F: it builds capture records from
// requests, responses, and SSE frames, consults the request tracker and
// session stores, and enqueues writes to storage on a best-effort,
// batched basis. When the channel is full, enqueue waits at most
// SendTimeout for room, then drops the record and logs a warning.
type CaptureService struct {
	writer      RecordWriter
	infoUpdater RequestInfoUpdater
	tracker     *tracker.Tracker
	clientInfo  *session.Store
	serverInfo  *session.Store
	logger      *slog.Logger
	opts        CaptureOptions
	records     chan capture.Record
	done        chan struct{}
	droppedLogs atomic.Int64
}

// NewCaptureService builds a CaptureService. Call Start to begin the
// background writer and Stop to flush and shut it down.
func NewCaptureService(writer RecordWriter, infoUpdater RequestInfoUpdater, trk *tracker.Tracker, clientInfo, serverInfo *session.Store, logger *slog.Logger, opts CaptureOptions) *CaptureService {
	opts.setDefaults()
	return &CaptureService{
		writer:      writer,
		infoUpdater: infoUpdater,
		tracker:     trk,
		clientInfo:  clientInfo,
		serverInfo:  serverInfo,
		logger:      logger,
		opts:        opts,
		records:     make(chan capture.Record, opts.ChannelSize),
		done:        make(chan struct{}),
	}
}

// Start launches the background batch-flush worker.
func (c *CaptureService) Start(ctx context.Context) {
	go c.worker(ctx)
}

// Stop closes the channel and waits up to 5s for the background worker
// to write the queued records and exit.
func (c *CaptureService) Stop() {
	close(c.records)
	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		c.logger.Warn("capture drain timed out, abandoning queued records", "queued", len(c.records))
	}
}

// enqueue is the single non-blocking-then-timeout-then-drop entry point
// used by every capture method below.
func (c *CaptureService) enqueue(r capture.Record) {
	select {
	case c.records <- r:
		return
	default:
	}

	timer := time.NewTimer(c.opts.SendTimeout)
	defer timer.Stop()
	select {
	case c.records <- r:
	case <-timer.C:
		total := c.droppedLogs.Add(1)
		c.logger.Warn("capture channel full, dropping record",
			"direction", r.Direction, "server", r.Metadata.ServerName, "dropped_total", total)
	}
}

func (c *CaptureService) worker(ctx context.Context) {
	defer close(c.done)

	batch := make([]capture.Record, 0, c.opts.BatchSize)
	ticker := time.NewTicker(c.opts.FlushInterval)
	defer ticker.Stop()
	// Writes outlive ctx so that records queued before shutdown are
	// still stored; the worker exits once Stop closes the channel.
	writeCtx := context.WithoutCancel(ctx)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		for _, r := range batch {
			if err := c.writer.Write(writeCtx, r); err != nil {
				c.logger.Error("capture write failed", "error", err, "direction", r.Direction)
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case r, ok := <-c.records:
			if !ok {
				flush()
				return
			}
			batch = append(batch, r)
			if len(batch) >= c.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// CreateRequestRecord records an inbound JSON-RPC request. For an
// "initialize" request it also extracts and caches the client identity
// from the handshake so later records on this session carry it.
func (c *CaptureService) CreateRequestRecord(serverName, sessionID, method string, id json.RawMessage, raw json.RawMessage, hc HTTPContext, methodDetail string) {
	if method == "initialize" {
		if info, ok := capture.ExtractClientInfo(raw); ok {
			c.clientInfo.Store(sessionID, info)
		} else {
			c.logger.Debug("initialize request missing a valid clientInfo", "server", serverName, "session", sessionID)
		}
	}

	clientID, _ := c.clientInfo.Get(context.Background(), sessionID)
	serverID, _ := c.serverInfo.Get(context.Background(), sessionID)

	key := tracker.Key(serverName, sessionID, string(id))
	if len(id) > 0 && string(id) != "null" {
		c.tracker.TrackRequest(key, method)
	}

	c.enqueue(capture.Record{
		Timestamp: time.Now().UTC(),
		Method:    method,
		ID:        id,
		Direction: capture.DirectionRequest,
		Request:   raw,
		Metadata: capture.Metadata{
			ServerName:   serverName,
			SessionID:    sessionID,
			DurationMs:   0,
			HTTPStatus:   httpStatusOr(hc.HTTPStatus, 200),
			Client:       clientID,
			Server:       serverID,
			UserAgent:    hc.UserAgent,
			ClientIP:     hc.ClientIP,
			MethodDetail: methodDetail,
		},
	})
}

// CreateResponseRecord records a response to a previously tracked
// request, computing durationMs via the tracker. If the id is unknown
// to the tracker (orphan response), durationMs is 0.
func (c *CaptureService) CreateResponseRecord(serverName, sessionID string, id json.RawMessage, raw json.RawMessage, httpStatus int, method string, hc HTTPContext, methodDetail string) {
	key := tracker.Key(serverName, sessionID, string(id))
	if method == "" {
		method, _ = c.tracker.GetMethod(key)
	}
	durationMs, _ := c.tracker.CalculateDuration(key)

	if method == "initialize" {
		if info, ok := capture.ExtractServerInfo(raw); ok {
			c.serverInfo.Store(sessionID, info)
			if c.infoUpdater != nil {
				if err := c.infoUpdater.UpdateServerInfoForInitializeRequest(context.Background(), serverName, sessionID, id, *info); err != nil {
					c.logger.Error("backfill server info onto initialize request failed", "error", err, "server", serverName, "session", sessionID)
				}
			}
		} else {
			c.logger.Debug("initialize response missing a valid serverInfo", "server", serverName, "session", sessionID)
		}
	}

	clientID, _ := c.clientInfo.Get(context.Background(), sessionID)
	serverID, _ := c.serverInfo.Get(context.Background(), sessionID)

	c.enqueue(capture.Record{
		Timestamp: time.Now().UTC(),
		Method:    method,
		ID:        id,
		Direction: capture.DirectionResponse,
		Response:  raw,
		Metadata: capture.Metadata{
			ServerName:   serverName,
			SessionID:    sessionID,
			DurationMs:   durationMs,
			HTTPStatus:   httpStatus,
			Client:       clientID,
			Server:       serverID,
			UserAgent:    hc.UserAgent,
			ClientIP:     hc.ClientIP,
			MethodDetail: methodDetail,
		},
	})
}

// CaptureErrorResponse synthesizes a JSON-RPC error response record for
// a request that failed at the transport level. Skipped for
// notifications (id == null), which never receive a response.
func (c *CaptureService) CaptureErrorResponse(serverName, sessionID string, id json.RawMessage, code int, message string, httpStatus int, durationMs int64) {
	if len(id) == 0 || string(id) == "null" {
		return
	}
	raw := capture.BuildErrorResponse(id, code, message, nil)
	c.enqueue(capture.Record{
		Timestamp: time.Now().UTC(),
		ID:        id,
		Direction: capture.DirectionResponse,
		Response:  raw,
		Metadata: capture.Metadata{
			ServerName: serverName,
			SessionID:  sessionID,
			DurationMs: durationMs,
			HTTPStatus: httpStatus,
		},
	})
}

// CaptureSSEEvent records a raw SSE event with no recognized JSON-RPC payload.
func (c *CaptureService) CaptureSSEEvent(serverName, sessionID, eventID, eventType string, raw json.RawMessage, hc HTTPContext) {
	c.enqueue(capture.Record{
		Timestamp: time.Now().UTC(),
		Direction: capture.DirectionSSEEvent,
		SSEEvent:  raw,
		Metadata: capture.Metadata{
			ServerName:   serverName,
			SessionID:    sessionID,
			SSEEventID:   eventID,
			SSEEventType: eventType,
			UserAgent:    hc.UserAgent,
			ClientIP:     hc.ClientIP,
		},
	})
}

// CaptureSSEJSONRPC records a JSON-RPC frame recovered from an SSE body.
// For a response frame it tries to resolve duration via the tracker;
// otherwise durationMs is 0.
func (c *CaptureService) CaptureSSEJSONRPC(serverName, sessionID string, env *capture.Envelope, hc HTTPContext) {
	direction := capture.DirectionSSEJSONRPC
	var durationMs int64
	if env.HasID && !env.IsRequest {
		key := tracker.Key(serverName, sessionID, string(env.ID))
		durationMs, _ = c.tracker.CalculateDuration(key)
	}

	clientID, _ := c.clientInfo.Get(context.Background(), sessionID)
	serverID, _ := c.serverInfo.Get(context.Background(), sessionID)

	c.enqueue(capture.Record{
		Timestamp: time.Now().UTC(),
		Method:    env.Method,
		ID:        env.ID,
		Direction: direction,
		SSEEvent:  env.Raw,
		Metadata: capture.Metadata{
			ServerName: serverName,
			SessionID:  sessionID,
			DurationMs: durationMs,
			Client:     clientID,
			Server:     serverID,
			UserAgent:  hc.UserAgent,
			ClientIP:   hc.ClientIP,
		},
	})
}

// ChannelDepth reports the number of records currently queued.
func (c *CaptureService) ChannelDepth() int {
	return len(c.records)
}

// ChannelCapacity reports the configured channel buffer size.
func (c *CaptureService) ChannelCapacity() int {
	return c.opts.ChannelSize
}

// DroppedRecords reports the cumulative count of records dropped due to
// backpressure since startup.
func (c *CaptureService) DroppedRecords() int64 {
	return c.droppedLogs.Load()
}

// RecordSessionTransition copies cached client/server identity from
// oldSessionID to newSessionID, used when a stateless request is assigned
// a real Mcp-Session-Id in its response (component D keeping the
// newly-minted session's identity without waiting on another handshake).
func (c *CaptureService) RecordSessionTransition(oldSessionID, newSessionID string) {
	if client, ok := c.clientInfo.Get(context.Background(), oldSessionID); ok {
		c.clientInfo.Store(newSessionID, client)
	}
	if server, ok := c.serverInfo.Get(context.Background(), oldSessionID); ok {
		c.serverInfo.Store(newSessionID, server)
	}
}

func httpStatusOr(status, fallback int) int {
	if status == 0 {
		return fallback
	}
	return status
}
