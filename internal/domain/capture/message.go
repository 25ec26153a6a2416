package capture

import (
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"

	gwmcp "github.com/fiberplane/mcp-gateway/pkg/mcp"
)

// Envelope is a single parsed JSON-RPC 2.0 message: either a request
// (method present) or a response (result/error present). Unlike an MCP
// client SDK, the gateway does not whitelist method names -- any method
// string decodes successfully and is transparently observed.
type Envelope struct {
	Raw       []byte
	Decoded   jsonrpc.Message // *jsonrpc.Request or *jsonrpc.Response
	IsRequest bool
	Method    string          // set iff IsRequest
	ID        json.RawMessage // raw "id" field, extracted from Raw directly
	HasID     bool
}

// ParseEnvelope decodes a single JSON-RPC message via the MCP SDK's
// jsonrpc codec and extracts the id as raw bytes. The id is read
// straight from the wire bytes rather than through the decoded struct,
// since jsonrpc.ID does not round-trip losslessly through interface{}.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	decoded, err := gwmcp.DecodeMessage(raw)
	if err != nil {
		return nil, &ParseError{Reason: err.Error()}
	}

	env := &Envelope{Raw: raw, Decoded: decoded}
	env.ID, env.HasID = rawID(raw)

	if req, ok := decoded.(*jsonrpc.Request); ok {
		env.IsRequest = true
		env.Method = req.Method
	}
	return env, nil
}

// IsNotification reports whether a request envelope carries no id, or an
// explicit null id -- both mean "no response is expected."
func (e *Envelope) IsNotification() bool {
	if !e.IsRequest {
		return false
	}
	if !e.HasID {
		return true
	}
	s := string(e.ID)
	return s == "" || s == "null"
}

// rawID extracts the "id" field from raw JSON-RPC bytes as-is (preserving
// whether it was a string, number, or null), without decoding through the
// SDK's jsonrpc.ID type.
func rawID(raw []byte) (json.RawMessage, bool) {
	var m map[string]json.RawMessage
	if json.Unmarshal(raw, &m) != nil {
		return nil, false
	}
	id, ok := m["id"]
	return id, ok
}

// ParseError is returned by ParseEnvelope for malformed input.
type ParseError struct{ Reason string }

func (e *ParseError) Error() string { return "invalid json-rpc message: " + e.Reason }

// ExtractClientInfo pulls params.clientInfo out of a raw initialize
// request. It returns ok=false for anything that doesn't parse or whose
// clientInfo is missing or malformed -- the caller is expected to treat
// that as "nothing to record," not an error.
func ExtractClientInfo(raw []byte) (*Identity, bool) {
	var env struct {
		Params struct {
			ClientInfo *Identity `json:"clientInfo"`
		} `json:"params"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false
	}
	return validIdentity(env.Params.ClientInfo)
}

// ExtractServerInfo pulls result.serverInfo out of a raw initialize
// response, with the same malformed-input semantics as ExtractClientInfo.
func ExtractServerInfo(raw []byte) (*Identity, bool) {
	var env struct {
		Result struct {
			ServerInfo *Identity `json:"serverInfo"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false
	}
	return validIdentity(env.Result.ServerInfo)
}

// validIdentity discards identities missing the one required field: a
// {name, version} triple with no name is not trustworthy enough to key a
// session store entry on.
func validIdentity(id *Identity) (*Identity, bool) {
	if id == nil || id.Name == "" {
		return nil, false
	}
	return id, true
}

// SplitBatch splits a JSON-RPC batch array into individual raw messages.
// If raw is a single object (not an array), it returns a one-element
// slice containing raw unchanged.
func SplitBatch(raw []byte) ([][]byte, error) {
	trimmed := jsonTrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return [][]byte{raw}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &ParseError{Reason: err.Error()}
	}
	out := make([][]byte, len(items))
	for i, item := range items {
		out[i] = []byte(item)
	}
	return out, nil
}

func jsonTrimSpace(b []byte) []byte {
	i := 0
	for i < len(b) {
		switch b[i] {
		case ' ', '\t', '\n', '\r':
			i++
			continue
		}
		break
	}
	return b[i:]
}

// BuildErrorResponse constructs the raw JSON bytes for a synthesized
// JSON-RPC error response, used for upstream transport failures and for
// parse/invalid-request errors the gateway itself detects. id may be nil
// for a notification (though callers should not synthesize a response
// for a notification at all).
func BuildErrorResponse(id json.RawMessage, code int, message string, data json.RawMessage) []byte {
	type errObj struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data,omitempty"`
	}
	type resp struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Error   errObj          `json:"error"`
	}
	if id == nil {
		id = json.RawMessage("null")
	}
	out, _ := json.Marshal(resp{
		JSONRPC: "2.0",
		ID:      id,
		Error:   errObj{Code: code, Message: message, Data: data},
	})
	return out
}
