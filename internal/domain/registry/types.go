// Package registry defines the server registry domain type: the set of
// upstream MCP servers the gateway proxies to, persisted by the storage
// backend and managed by the registry service's CRUD surface.
package registry

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/fiberplane/mcp-gateway/internal/domain/gatewayerr"
)

var namePattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// Server is a single registered upstream MCP server.
type Server struct {
	Name            string            `json:"name"`
	URL             string            `json:"url"`
	Type            string            `json:"type"` // always "http"
	Headers         map[string]string `json:"headers,omitempty"`
	ProtocolVersion string            `json:"protocolVersion,omitempty"`
}

// Normalize lowercases and trims Name, strips a trailing slash from URL,
// and defaults Type to "http". Call before Validate.
func (s *Server) Normalize() {
	s.Name = strings.ToLower(strings.TrimSpace(s.Name))
	s.URL = strings.TrimSuffix(strings.TrimSpace(s.URL), "/")
	if s.Type == "" {
		s.Type = "http"
	}
}

// Validate enforces the registry write rules: name matches
// [a-z0-9_-]+ after normalization, type is "http", and url is an
// absolute http(s) URL.
func (s *Server) Validate() error {
	if s.Name == "" || !namePattern.MatchString(s.Name) {
		return gatewayerr.Validation(gatewayerr.CodeInvalidParams,
			"server name must match [a-z0-9_-]+ after lowercasing and trimming")
	}
	if s.Type != "http" {
		return gatewayerr.Validation(gatewayerr.CodeInvalidParams,
			"server type must be \"http\"")
	}
	u, err := url.Parse(s.URL)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return gatewayerr.Validation(gatewayerr.CodeInvalidParams,
			"server url must be an absolute http or https URL")
	}
	return nil
}
