// Package capture defines the wire-level and storage-level types shared
// by the SSE parser, capture engine, and storage backend: JSON-RPC
// envelopes, capture records, and query options.
package capture

import (
	"encoding/json"
	"time"
)

// Direction classifies a capture record.
type Direction string

const (
	DirectionRequest    Direction = "request"
	DirectionResponse   Direction = "response"
	DirectionSSEEvent   Direction = "sse-event"
	DirectionSSEJSONRPC Direction = "sse-jsonrpc"
)

// StatelessSession is the sentinel session id used for traffic observed
// before a real Mcp-Session-Id has been assigned.
const StatelessSession = "stateless"

// Identity is the {name, version, title?} triple captured from an MCP
// initialize handshake, for either the client or the server side.
type Identity struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Title   string `json:"title,omitempty"`
}

// Metadata is the capture record's side-channel information: everything
// about a message besides its JSON-RPC envelope.
type Metadata struct {
	ServerName   string    `json:"serverName"`
	SessionID    string    `json:"sessionId"`
	DurationMs   int64     `json:"durationMs"`
	HTTPStatus   int       `json:"httpStatus,omitempty"`
	Client       *Identity `json:"client,omitempty"`
	Server       *Identity `json:"server,omitempty"`
	UserAgent    string    `json:"userAgent,omitempty"`
	ClientIP     string    `json:"clientIp,omitempty"`
	SSEEventID   string    `json:"sseEventId,omitempty"`
	SSEEventType string    `json:"sseEventType,omitempty"`
	InputTokens  int64     `json:"inputTokens,omitempty"`
	OutputTokens int64     `json:"outputTokens,omitempty"`
	MethodDetail string    `json:"methodDetail,omitempty"`
}

// Record is a single append-only observation of traffic passing through
// the gateway: a request, a response, a raw SSE event, or a JSON-RPC
// frame recovered from an SSE body.
type Record struct {
	Timestamp time.Time       `json:"timestamp"`
	Method    string          `json:"method,omitempty"`
	ID        json.RawMessage `json:"id,omitempty"` // string | number | null
	Direction Direction       `json:"direction"`
	Metadata  Metadata        `json:"metadata"`
	Request   json.RawMessage `json:"request,omitempty"`
	Response  json.RawMessage `json:"response,omitempty"`
	SSEEvent  json.RawMessage `json:"sseEvent,omitempty"`
}

// QueryOptions filters a logs query. Limit is clamped to [1,1000],
// defaulting to 100; Order defaults to "desc".
type QueryOptions struct {
	ServerName    string
	SessionID     string
	Method        string
	ClientName    string
	ClientVersion string
	ClientIP      string
	After         time.Time
	Before        time.Time
	Limit         int
	Order         string // "asc" | "desc"
}

// Normalize clamps Limit and Order to their documented defaults/bounds.
func (o *QueryOptions) Normalize() {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Order != "asc" {
		o.Order = "desc"
	}
}

// QueryResult is the paginated response to a logs query.
type QueryResult struct {
	Data            []Record  `json:"data"`
	Count           int       `json:"count"`
	Limit           int       `json:"limit"`
	HasMore         bool      `json:"hasMore"`
	OldestTimestamp time.Time `json:"oldestTimestamp,omitzero"`
	NewestTimestamp time.Time `json:"newestTimestamp,omitzero"`
}

// ServerMetrics is the result of getServerMetrics(name).
type ServerMetrics struct {
	LastActivity  time.Time `json:"lastActivity,omitzero"`
	ExchangeCount int64     `json:"exchangeCount"`
}
