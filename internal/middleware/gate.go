package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	apierrors "shopmgr/internal/errors"
	"shopmgr/internal/entitlement"
	"shopmgr/internal/infrastructure"
)

// AccessResolver produces the current entitlement decision.
type AccessResolver interface {
	Resolve(ctx context.Context) entitlement.AccessState
}

// AccessGate blocks the application while the device has neither a valid
// license nor trial days left. Page requests are redirected to the
// activation page; API requests receive a 403 problem document.
type AccessGate struct {
	resolver        AccessResolver
	logger          *slog.Logger
	activationPage  string
	excludePaths    map[string]struct{}
	excludePrefixes []string
	decisions       metric.Int64Counter
}

// DefaultActivationPage is used when no usable activation page is configured.
// The site root never qualifies since excluding it would open every path.
const DefaultActivationPage = "/settings"

// NewAccessGate creates the gate. The activation page, the license and
// status API, health, metrics, the live socket and static assets stay
// reachable regardless of entitlement.
func NewAccessGate(resolver AccessResolver, activationPage string, logger *slog.Logger) *AccessGate {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimRight(activationPage, "/") == "" {
		activationPage = DefaultActivationPage
	}

	g := &AccessGate{
		resolver:       resolver,
		logger:         logger.With(slog.String("component", "access_gate")),
		activationPage: activationPage,
		excludePaths: map[string]struct{}{
			activationPage:          {},
			"/favicon.ico":          {},
			"/api/entitlement":      {},
			"/api/license":          {},
			"/api/license/activate": {},
			"/api/device":           {},
			"/api/health":           {},
			"/metrics":              {},
			"/ws":                   {},
			"/ws/entitlement":       {},
		},
		excludePrefixes: []string{
			"/static/",
			"/assets/",
			"/_next/",
			strings.TrimSuffix(activationPage, "/") + "/",
		},
	}

	counter, err := otel.Meter(entitlement.MeterName).Int64Counter(
		"access_gate_decisions_total",
		metric.WithDescription("Access gate decisions by outcome"),
	)
	if err == nil {
		g.decisions = counter
	}
	return g
}

// AddExcludePath keeps path reachable without entitlement.
func (g *AccessGate) AddExcludePath(path string) {
	g.excludePaths[path] = struct{}{}
}

// Handler returns the middleware handler function
func (g *AccessGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.excluded(r.URL.Path) {
			g.record(r.Context(), "excluded")
			next.ServeHTTP(w, r)
			return
		}

		ctx, span := otel.Tracer(entitlement.TracerName).Start(r.Context(), "access_gate.check",
			trace.WithAttributes(attribute.String("http.route", r.URL.Path)))
		state := g.resolver.Resolve(ctx)
		span.SetAttributes(
			attribute.Bool("entitlement.allowed", state.Allowed),
			attribute.String("entitlement.reason", string(state.Reason)),
		)
		span.End()

		if state.Allowed {
			g.record(ctx, "allowed")
			next.ServeHTTP(w, r)
			return
		}

		g.record(ctx, "blocked")
		infrastructure.LoggerWithContext(ctx, g.logger).InfoContext(ctx, "access blocked, entitlement required",
			slog.String("path", r.URL.Path),
			slog.String("reason", string(state.Reason)),
		)

		if isAPIRequest(r) {
			problem := apierrors.EntitlementRequired(r.URL.Path, g.activationPage).
				WithExtension("reason", string(state.Reason)).
				WithExtension("trace_id", infrastructure.GetTraceID(ctx))
			_ = render.Render(w, r, problem)
			return
		}

		g.redirect(w, r, string(state.Reason))
	})
}

func (g *AccessGate) excluded(path string) bool {
	if _, ok := g.excludePaths[path]; ok {
		return true
	}
	if trimmed := strings.TrimSuffix(path, "/"); trimmed != path && trimmed != "" {
		if _, ok := g.excludePaths[trimmed]; ok {
			return true
		}
	}
	for _, prefix := range g.excludePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (g *AccessGate) redirect(w http.ResponseWriter, r *http.Request, reason string) {
	q := url.Values{}
	q.Set("reason", reason)
	if r.URL.Path != "/" {
		q.Set("return", r.URL.RequestURI())
	}
	http.Redirect(w, r, g.activationPage+"?"+q.Encode(), http.StatusTemporaryRedirect)
}

func (g *AccessGate) record(ctx context.Context, outcome string) {
	if g.decisions == nil {
		return
	}
	g.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// isAPIRequest checks if the request expects a JSON response
func isAPIRequest(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	return strings.Contains(r.Header.Get("Content-Type"), "application/json")
}
