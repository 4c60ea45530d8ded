package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"shopmgr/internal/clock"
	api "shopmgr/pkg/contracts/api/v1"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	storage Pinger
	version string
	clock   clock.Clock
	logger  *slog.Logger
}

// NewHealthHandler creates a new health handler. storage may be nil for
// stores without a connection to check.
func NewHealthHandler(storage Pinger, version string, clk clock.Clock, logger *slog.Logger) *HealthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &HealthHandler{
		storage: storage,
		version: version,
		clock:   clk,
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// HealthCheck handles GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := api.HealthResponse{
		Status:    "ok",
		Version:   h.version,
		Checks:    map[string]string{"storage": "ok"},
		Timestamp: h.clock.Now().UTC(),
	}

	if h.storage != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := h.storage.Ping(ctx); err != nil {
			h.logger.ErrorContext(ctx, "storage health check failed", slog.String("error", err.Error()))
			resp.Status = "degraded"
			resp.Checks["storage"] = "unreachable"
			render.Status(r, http.StatusServiceUnavailable)
		}
	}

	render.JSON(w, r, resp)
}
