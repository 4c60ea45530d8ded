package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/render"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	apierrors "shopmgr/internal/errors"
	"shopmgr/internal/infrastructure"
)

// RequestIDHeader carries the request trace ID in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestID assigns every request a trace ID, reusing a well-formed
// X-Request-ID from the client. It should be the first middleware.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = infrastructure.GenerateTraceID()
		}

		w.Header().Set(RequestIDHeader, requestID)
		ctx := infrastructure.WithTraceID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RateLimiter applies a token bucket per client address. Buckets idle for
// longer than the eviction window are dropped.
type RateLimiter struct {
	rps    rate.Limit
	burst  int
	logger *slog.Logger

	trustProxy bool

	mu      sync.Mutex
	clients map[string]*client
	now     func() time.Time
	idleTTL time.Duration
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter with logging
func NewRateLimiter(rps float64, burst int, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		logger:  logger.With(slog.String("component", "rate_limiter")),
		clients: make(map[string]*client),
		now:     time.Now,
		idleTTL: 10 * time.Minute,
	}
}

// TrustForwardedHeaders makes the limiter key clients by forwarding headers
// set by a reverse proxy instead of the connection address.
func (rl *RateLimiter) TrustForwardedHeaders(trust bool) *RateLimiter {
	rl.trustProxy = trust
	return rl
}

// Allow reports whether key may proceed now.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for k, c := range rl.clients {
		if now.Sub(c.lastSeen) > rl.idleTTL {
			delete(rl.clients, k)
		}
	}

	c, ok := rl.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// Handler implements rate limiting middleware
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		if rl.trustProxy {
			ip = ForwardedClientIP(r)
		}
		if rl.Allow(ip) {
			next.ServeHTTP(w, r)
			return
		}

		rl.logger.WarnContext(r.Context(), "rate limit exceeded",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("client_ip", ip),
		)

		retryAfter := 1
		if rl.rps > 0 {
			retryAfter = int(1/float64(rl.rps) + 0.999)
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		problem := apierrors.RateLimited(r.URL.Path, retryAfter).
			WithExtension("trace_id", infrastructure.GetTraceID(r.Context()))
		_ = render.Render(w, r, problem)
	})
}

// ClientIP returns the host part of RemoteAddr. Client supplied headers are
// ignored.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ForwardedClientIP returns the first X-Forwarded-For address, then
// X-Real-IP, then falls back to ClientIP. Only use it behind a proxy that
// overwrites these headers.
func ForwardedClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return ClientIP(r)
}
