package registry

import "testing"

func TestNormalizeLowercasesAndTrims(t *testing.T) {
	s := Server{Name: "  Demo_Server ", URL: "https://upstream.example/mcp/"}
	s.Normalize()
	if s.Name != "demo_server" {
		t.Errorf("Name = %q, want demo_server", s.Name)
	}
	if s.URL != "https://upstream.example/mcp" {
		t.Errorf("URL = %q, want trailing slash stripped", s.URL)
	}
	if s.Type != "http" {
		t.Errorf("Type = %q, want defaulted to http", s.Type)
	}
}

func TestNormalizePreservesExplicitType(t *testing.T) {
	s := Server{Name: "demo", URL: "https://upstream.example", Type: "http"}
	s.Normalize()
	if s.Type != "http" {
		t.Errorf("Type = %q, want http", s.Type)
	}
}

func TestValidateRejectsBadName(t *testing.T) {
	s := Server{Name: "Not Valid!", URL: "https://upstream.example", Type: "http"}
	if err := s.Validate(); err == nil {
		t.Error("expected error for name with uppercase/space/punctuation")
	}
}

func TestValidateRejectsEmptyName(t *testing.T) {
	s := Server{Name: "", URL: "https://upstream.example", Type: "http"}
	if err := s.Validate(); err == nil {
		t.Error("expected error for empty name")
	}
}

func TestValidateRejectsNonHTTPType(t *testing.T) {
	s := Server{Name: "demo", URL: "https://upstream.example", Type: "stdio"}
	if err := s.Validate(); err == nil {
		t.Error("expected error for non-http type")
	}
}

func TestValidateRejectsRelativeURL(t *testing.T) {
	s := Server{Name: "demo", URL: "/relative/path", Type: "http"}
	if err := s.Validate(); err == nil {
		t.Error("expected error for relative URL")
	}
}

func TestValidateRejectsNonHTTPScheme(t *testing.T) {
	s := Server{Name: "demo", URL: "ftp://upstream.example", Type: "http"}
	if err := s.Validate(); err == nil {
		t.Error("expected error for non-http(s) scheme")
	}
}

func TestValidateAcceptsWellFormedServer(t *testing.T) {
	s := Server{Name: "demo-server_1", URL: "https://upstream.example/mcp", Type: "http"}
	if err := s.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
