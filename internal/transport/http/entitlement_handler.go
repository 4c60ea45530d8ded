package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"shopmgr/internal/clock"
	"shopmgr/internal/device"
	"shopmgr/internal/entitlement"
	apierrors "shopmgr/internal/errors"
	"shopmgr/internal/infrastructure"
	"shopmgr/internal/license"
	"shopmgr/internal/middleware"
	api "shopmgr/pkg/contracts/api/v1"
)

// EntitlementService is the part of entitlement.Resolver the handlers use.
type EntitlementService interface {
	Resolve(ctx context.Context) entitlement.AccessState
	Activate(ctx context.Context, token string) (license.Payload, error)
	Deactivate(ctx context.Context) error
	StoredToken(ctx context.Context) (string, error)
	DeviceID(ctx context.Context) string
}

// ChangeNotifier is told when the stored license changes.
type ChangeNotifier interface {
	Notify(ctx context.Context)
}

// EntitlementHandler serves the entitlement and license endpoints.
type EntitlementHandler struct {
	service   EntitlementService
	notifier  ChangeNotifier
	errors    *apierrors.ErrorHandler
	validator *middleware.RequestValidator
	limiter   *middleware.RateLimiter
	clock     clock.Clock
	logger    *slog.Logger
}

// NewEntitlementHandler creates the handler. A nil limiter disables rate
// limiting of activation attempts.
func NewEntitlementHandler(service EntitlementService, limiter *middleware.RateLimiter, clk clock.Clock, logger *slog.Logger) *EntitlementHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &EntitlementHandler{
		service:   service,
		errors:    apierrors.NewErrorHandler(logger, false),
		validator: middleware.NewRequestValidator(),
		limiter:   limiter,
		clock:     clk,
		logger:    logger.With(slog.String("handler", "entitlement")),
	}
}

// WithNotifier registers n to be told about activations and deactivations.
func (h *EntitlementHandler) WithNotifier(n ChangeNotifier) *EntitlementHandler {
	h.notifier = n
	return h
}

func (h *EntitlementHandler) changed(ctx context.Context) {
	if h.notifier != nil {
		h.notifier.Notify(context.WithoutCancel(ctx))
	}
}

// Routes mounts the endpoints on r. Paths are absolute so the access gate's
// exclusions match them.
func (h *EntitlementHandler) Routes(r chi.Router) {
	r.Get("/api/entitlement", h.GetEntitlement)
	r.Get("/api/device", h.GetDevice)

	r.Route("/api/license", func(r chi.Router) {
		r.Get("/", h.GetLicense)
		r.Delete("/", h.Deactivate)

		r.Group(func(r chi.Router) {
			if h.limiter != nil {
				r.Use(h.limiter.Handler)
			}
			r.Use(middleware.ContentTypeValidator("application/json"))
			r.Post("/activate", h.Activate)
		})
	})
}

// GetEntitlement handles GET /api/entitlement
func (h *EntitlementHandler) GetEntitlement(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.Resolve(r.Context()))
}

// GetDevice handles GET /api/device
func (h *EntitlementHandler) GetDevice(w http.ResponseWriter, r *http.Request) {
	id := h.service.DeviceID(r.Context())
	render.JSON(w, r, api.DeviceResponse{DeviceID: id, Known: id != device.Unknown})
}

// GetLicense handles GET /api/license
func (h *EntitlementHandler) GetLicense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token, err := h.service.StoredToken(ctx)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	if token == "" {
		h.errors.HandleError(w, r, apierrors.LicenseNotFound(r.URL.Path))
		return
	}

	state := h.service.Resolve(ctx)
	resp := api.StoredLicenseResponse{Valid: state.Reason == entitlement.ReasonLicensed}

	switch {
	case resp.Valid:
		resp.License = viewOf(token, state.License.Type, state.License.ExpiresAt, state.License.Version)
	default:
		resp.Rejection = string(state.LicenseRejection)
		resp.Message = state.LicenseRejection.Message()
		// Show what the stored code claims even when it is not accepted.
		encoded, _, _ := strings.Cut(token, license.Separator)
		if p, err := license.Decode(encoded); err == nil {
			resp.License = viewOf(token, p.Type, p.ExpiresAt, p.SchemeVersion())
		} else {
			resp.License = &api.LicenseView{TokenMasked: license.MaskToken(token)}
		}
	}

	render.JSON(w, r, resp)
}

// Activate handles POST /api/license/activate
func (h *EntitlementHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.ActivateLicenseRequest
	if problem := h.validator.Bind(r, &req); problem != nil {
		h.errors.HandleError(w, r, problem)
		return
	}

	payload, err := h.service.Activate(ctx, req.Token)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	h.changed(ctx)

	render.JSON(w, r, api.ActivateLicenseResponse{
		Success:     true,
		Message:     "License activated",
		License:     *viewOf(req.Token, payload.Type, payload.ExpiresAt, payload.SchemeVersion()),
		ActivatedAt: h.clock.Now().UTC(),
		TraceID:     infrastructure.GetTraceID(ctx),
	})
}

// Deactivate handles DELETE /api/license
func (h *EntitlementHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Deactivate(r.Context()); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	h.changed(r.Context())
	render.NoContent(w, r)
}

func viewOf(token string, typ license.Type, expiresAt *time.Time, version int) *api.LicenseView {
	return &api.LicenseView{
		TokenMasked: license.MaskToken(token),
		Type:        string(typ),
		ExpiresAt:   expiresAt,
		Version:     version,
	}
}
