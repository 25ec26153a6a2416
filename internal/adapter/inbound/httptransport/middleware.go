// Package httptransport wires the gateway's HTTP server: request
// middleware, the Prometheus endpoint, and the liveness handler shared
// by every inbound route (proxy, OAuth discovery, management REST).
package httptransport

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type requestIDContextKey struct{}
type loggerContextKey struct{}
type clientIPContextKey struct{}

// RequestIDKey is the context key for the per-request correlation id.
var RequestIDKey = requestIDContextKey{}

// LoggerKey is the context key for the request-scoped logger.
var LoggerKey = loggerContextKey{}

// IPAddressKey is the context key for the caller's resolved IP.
var IPAddressKey = clientIPContextKey{}

// RequestIDMiddleware extracts or generates a request id and enriches
// the logger with it for request-scoped logging.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}

			enriched := logger.With("request_id", requestID)
			ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
			ctx = context.WithValue(ctx, LoggerKey, enriched)

			w.Header().Set("X-Request-ID", requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggerFromContext retrieves the request-scoped logger, falling back
// to slog.Default() if none was attached.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// DNSRebindingProtection validates the Origin header against an
// allowlist. Requests with no Origin header pass (same-origin or
// non-browser clients); an Origin outside the allowlist is rejected.
func DNSRebindingProtection(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := allowed[origin]; !ok {
				http.Error(w, "Forbidden: origin not allowed", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RealIPMiddleware resolves the caller's IP from X-Forwarded-For,
// X-Real-IP, or RemoteAddr, in that order, and stores it in context
// for rate limiting and capture records.
func RealIPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := extractRealIP(r)
		ctx := context.WithValue(r.Context(), IPAddressKey, ip)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIPFromContext returns the IP resolved by RealIPMiddleware, or
// "" if the middleware was not run.
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(IPAddressKey).(string)
	return ip
}

func extractRealIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if ip := strings.TrimSpace(ips[0]); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// BearerAuth enforces the management plane's single static token,
// accepted either as Authorization: Bearer <token> or a ?token=
// query parameter.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			presented := r.URL.Query().Get("token")
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				presented = strings.TrimPrefix(auth, "Bearer ")
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimiter throttles the management REST surface per client IP
// using a token bucket per key. Buckets are kept for the limiter's
// lifetime; idle buckets are never evicted.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
	gauge    func(int)
}

// NewRateLimiter builds a RateLimiter allowing ratePerSecond sustained
// requests per IP with the given burst. gauge, if non-nil, is called
// with the current number of tracked keys after every Allow.
func NewRateLimiter(ratePerSecond float64, burst int, gauge func(int)) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(ratePerSecond),
		burst:    burst,
		gauge:    gauge,
	}
}

// Allow reports whether a request from key may proceed, creating a new
// bucket for key on first use.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	lim, ok := rl.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rl.r, rl.burst)
		rl.limiters[key] = lim
	}
	n := len(rl.limiters)
	rl.mu.Unlock()

	if rl.gauge != nil {
		rl.gauge(n)
	}
	return lim.Allow()
}

// Middleware rejects requests over the per-IP rate limit with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ClientIPFromContext(r.Context())
		if key == "" {
			key = extractRealIP(r)
		}
		if !rl.Allow(key) {
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
