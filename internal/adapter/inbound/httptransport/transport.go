package httptransport

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the gateway's single HTTP listener: it mounts the reverse
// proxy, the OAuth discovery handler, and the management REST API
// behind shared middleware, plus /health and /metrics.
type Server struct {
	addr           string
	allowedOrigins []string
	managementToken string
	rateLimiter    *RateLimiter
	logger         *slog.Logger
	healthChecker  *HealthChecker
	metrics        *Metrics
	registry       *prometheus.Registry

	proxyHandler  http.Handler // mounted at /s/ and /servers/
	oauthHandler  http.Handler // mounted at /.well-known/, /register and /{s|servers}/{name}/mcp/{register,.well-known/openid-configuration}
	apiHandler    http.Handler // mounted at /api/

	certFile, keyFile string

	server *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address. Default "127.0.0.1:8080".
func WithAddr(addr string) Option { return func(s *Server) { s.addr = addr } }

// WithTLS enables TLS with the given certificate/key pair.
func WithTLS(certFile, keyFile string) Option {
	return func(s *Server) { s.certFile, s.keyFile = certFile, keyFile }
}

// WithAllowedOrigins configures DNS-rebinding protection for the proxy path.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.allowedOrigins = origins }
}

// WithManagementToken sets the bearer token required on /api routes.
func WithManagementToken(token string) Option {
	return func(s *Server) { s.managementToken = token }
}

// WithRateLimiter attaches a per-IP rate limiter to /api routes.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(s *Server) { s.rateLimiter = rl }
}

// WithLogger sets the request-scoped logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithHealthChecker sets the /health handler's backing checker.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(s *Server) { s.healthChecker = hc }
}

// WithProxyHandler mounts the reverse proxy adapter at /s/ and /servers/.
func WithProxyHandler(h http.Handler) Option { return func(s *Server) { s.proxyHandler = h } }

// WithOAuthHandler mounts the OAuth discovery adapter.
func WithOAuthHandler(h http.Handler) Option { return func(s *Server) { s.oauthHandler = h } }

// WithAPIHandler mounts the management REST adapter at /api/.
func WithAPIHandler(h http.Handler) Option { return func(s *Server) { s.apiHandler = h } }

// NewServer builds a Server and its Prometheus registry; call Start to
// begin serving. Metrics() is available immediately, before Start runs,
// so inbound adapters constructed by the caller can be wired to observe
// into it.
func NewServer(opts ...Option) *Server {
	s := &Server{
		addr:   "127.0.0.1:8080",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = NewMetrics(s.registry)
	return s
}

// Configure applies additional options after construction. Useful for
// mounting handlers that are themselves wired against Metrics(), which
// is only available once NewServer has returned.
func (s *Server) Configure(opts ...Option) {
	for _, opt := range opts {
		opt(s)
	}
}

// Start builds the mux and middleware chain and serves until ctx is
// cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	if s.rateLimiter == nil {
		s.rateLimiter = NewRateLimiter(5, 10, func(n int) { s.metrics.RateLimitKeys.Set(float64(n)) })
	}

	mux := http.NewServeMux()

	if s.proxyHandler != nil {
		proxyChain := RequestIDMiddleware(s.logger)(
			RealIPMiddleware(
				DNSRebindingProtection(s.allowedOrigins)(s.proxyHandler),
			),
		)
		mux.Handle("/s/", proxyChain)
		mux.Handle("/servers/", proxyChain)
	}

	if s.oauthHandler != nil {
		mux.Handle("/.well-known/", s.oauthHandler)
		mux.Handle("/register", s.oauthHandler)
		for _, prefix := range []string{"/s/", "/servers/"} {
			mux.Handle(prefix+"{name}/mcp/register", s.oauthHandler)
			mux.Handle(prefix+"{name}/mcp/.well-known/openid-configuration", s.oauthHandler)
		}
	}

	if s.apiHandler != nil {
		apiChain := RequestIDMiddleware(s.logger)(
			RealIPMiddleware(
				s.rateLimiter.Middleware(
					BearerAuth(s.managementToken)(s.apiHandler),
				),
			),
		)
		mux.Handle("/api/", apiChain)
	}

	if s.healthChecker != nil {
		mux.Handle("/health", s.healthChecker.Handler())
	}
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))

	s.server = &http.Server{Addr: s.addr, Handler: mux}
	if s.certFile != "" && s.keyFile != "" {
		s.server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.certFile != "" && s.keyFile != "" {
			s.logger.Info("starting HTTPS server", "addr", s.addr)
			err = s.server.ListenAndServeTLS(s.certFile, s.keyFile)
		} else {
			s.logger.Info("starting HTTP server", "addr", s.addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down HTTP server")
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return err
	}
	s.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the server if it was started.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	return s.shutdown()
}

// Metrics returns the registered Prometheus metrics. Available as soon
// as NewServer returns, so callers can wire it into other components
// before Start is called.
func (s *Server) Metrics() *Metrics { return s.metrics }
