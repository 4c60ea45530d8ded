// Package entitlement decides whether the application may be used: with a
// valid license, during the trial, or not at all.
package entitlement

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"shopmgr/internal/clock"
	"shopmgr/internal/device"
	"shopmgr/internal/license"
	"shopmgr/internal/storage"
	"shopmgr/internal/trial"
)

// LicenseValidator checks a token for a device.
type LicenseValidator interface {
	Validate(token, deviceID string) (license.Payload, error)
}

// Config wires a Resolver. Store, Validator and Identity are required.
type Config struct {
	Store     storage.Store
	Validator LicenseValidator
	Identity  device.IdentityProvider
	Clock     clock.Clock
	TrialDays int
	Metrics   *Metrics
	Logger    *slog.Logger
}

// Resolver combines the trial record and the stored license into an
// AccessState. It keeps no state between calls; every call re-reads the
// store, so concurrent use is safe.
type Resolver struct {
	store     storage.Store
	validator LicenseValidator
	identity  device.IdentityProvider
	trial     *trial.Clock
	clock     clock.Clock
	trialDays int
	metrics   *Metrics
	tracer    trace.Tracer
	logger    *slog.Logger
}

// NewResolver creates a Resolver from cfg.
func NewResolver(cfg Config) (*Resolver, error) {
	if cfg.Store == nil || cfg.Validator == nil || cfg.Identity == nil {
		return nil, fmt.Errorf("entitlement: store, validator and identity provider are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.TrialDays <= 0 {
		cfg.TrialDays = trial.DefaultDays
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Resolver{
		store:     cfg.Store,
		validator: cfg.Validator,
		identity:  cfg.Identity,
		trial:     trial.NewClock(cfg.Store, cfg.Clock, cfg.Logger),
		clock:     cfg.Clock,
		trialDays: cfg.TrialDays,
		metrics:   cfg.Metrics,
		tracer:    otel.Tracer(TracerName),
		logger:    cfg.Logger.With(slog.String("component", "entitlement")),
	}, nil
}

// Resolve returns the current AccessState. It never fails: identity, store
// and record problems degrade to the trial path or to the "unknown" device.
func (r *Resolver) Resolve(ctx context.Context) AccessState {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "entitlement.resolve", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	if err := r.trial.EnsureStarted(ctx); err != nil {
		r.logger.WarnContext(ctx, "could not record trial start", slog.String("error", err.Error()))
	}

	deviceID := device.Resolve(ctx, r.identity, r.logger)
	info := r.trial.Status(ctx, r.trialDays)

	state := AccessState{
		DeviceID:   deviceID,
		Trial:      &info,
		ResolvedAt: r.clock.Now(),
	}

	if token := r.loadToken(ctx); token != "" {
		payload, err := r.validator.Validate(token, deviceID)
		if err == nil {
			state.Allowed = true
			state.Reason = ReasonLicensed
			state.License = licenseInfo(payload)
			r.finish(ctx, span, state, start)
			return state
		}

		state.LicenseRejection = license.ReasonOf(err)
		r.metrics.recordRejection(ctx, "stored", string(state.LicenseRejection))
		r.logger.InfoContext(ctx, "stored license ignored",
			slog.String("reason", string(state.LicenseRejection)),
			slog.String("token_hash", license.TokenHash(token)))
	}

	if info.Active() {
		state.Allowed = true
		state.Reason = ReasonTrial
	} else {
		state.Reason = ReasonExpired
	}

	r.finish(ctx, span, state, start)
	return state
}

func (r *Resolver) finish(ctx context.Context, span trace.Span, state AccessState, start time.Time) {
	span.SetAttributes(
		attribute.String("entitlement.reason", string(state.Reason)),
		attribute.Bool("entitlement.allowed", state.Allowed),
	)
	if state.LicenseRejection != license.ReasonNone {
		span.SetAttributes(attribute.String("license.rejection", string(state.LicenseRejection)))
	}
	r.metrics.recordResolution(ctx, state.Reason, time.Since(start))

	r.logger.DebugContext(ctx, "entitlement resolved",
		slog.String("reason", string(state.Reason)),
		slog.Bool("allowed", state.Allowed),
		slog.Int("trial_remaining_days", state.Trial.RemainingDays))
}

// Activate validates token for this device and stores it when valid.
// Surrounding whitespace is ignored. A rejected token leaves any stored
// license untouched; the returned error wraps a license rejection sentinel.
func (r *Resolver) Activate(ctx context.Context, token string) (license.Payload, error) {
	ctx, span := r.tracer.Start(ctx, "entitlement.activate", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	token = strings.TrimSpace(token)
	deviceID := device.Resolve(ctx, r.identity, r.logger)

	payload, err := r.validator.Validate(token, deviceID)
	if err != nil {
		reason := license.ReasonOf(err)
		span.SetAttributes(attribute.String("license.rejection", string(reason)))
		r.metrics.recordRejection(ctx, "activation", string(reason))
		r.metrics.recordActivation(ctx, "rejected")
		r.logger.InfoContext(ctx, "license activation rejected",
			slog.String("reason", string(reason)),
			slog.String("token_masked", license.MaskToken(token)),
			slog.String("token_hash", license.TokenHash(token)))
		return license.Payload{}, err
	}

	if err := r.store.Set(ctx, storage.KeyLicense, token); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store license")
		r.metrics.recordActivation(ctx, "error")
		return license.Payload{}, fmt.Errorf("store license: %w", err)
	}

	r.metrics.recordActivation(ctx, "activated")
	span.SetAttributes(attribute.String("license.type", string(payload.Type)))
	r.logger.InfoContext(ctx, "license activated",
		slog.String("type", string(payload.Type)),
		slog.String("token_hash", license.TokenHash(token)))
	return payload, nil
}

// Deactivate removes the stored license. The trial record is not touched.
func (r *Resolver) Deactivate(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "entitlement.deactivate", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	if err := r.store.Remove(ctx, storage.KeyLicense); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "remove license")
		return fmt.Errorf("remove license: %w", err)
	}

	r.metrics.recordDeactivation(ctx)
	r.logger.InfoContext(ctx, "license deactivated")
	return nil
}

// StoredToken returns the stored license token, or "" when none is stored.
func (r *Resolver) StoredToken(ctx context.Context) (string, error) {
	token, _, err := r.store.Get(ctx, storage.KeyLicense)
	if err != nil {
		return "", fmt.Errorf("read license: %w", err)
	}
	return token, nil
}

// DeviceID returns the id licenses must be issued for, or device.Unknown.
func (r *Resolver) DeviceID(ctx context.Context) string {
	return device.Resolve(ctx, r.identity, r.logger)
}

// TrialDays returns the configured trial length.
func (r *Resolver) TrialDays() int {
	return r.trialDays
}

func (r *Resolver) loadToken(ctx context.Context) string {
	token, err := r.StoredToken(ctx)
	if err != nil {
		r.logger.WarnContext(ctx, "stored license unreadable, ignoring", slog.String("error", err.Error()))
		return ""
	}
	return token
}

func licenseInfo(p license.Payload) *LicenseInfo {
	return &LicenseInfo{
		Type:      p.Type,
		ExpiresAt: p.ExpiresAt,
		Version:   p.SchemeVersion(),
	}
}
