package entitlement

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	TracerName = "shopmgr.entitlement"
	MeterName  = "shopmgr.entitlement"
)

// Metrics holds the entitlement instruments.
type Metrics struct {
	Resolutions       metric.Int64Counter
	ResolveDuration   metric.Float64Histogram
	LicenseRejections metric.Int64Counter
	Activations       metric.Int64Counter
	Deactivations     metric.Int64Counter
}

// NewMetrics creates the instruments on meter, or on the global meter
// provider when meter is nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(MeterName)
	}

	m := &Metrics{}
	var err error

	m.Resolutions, err = meter.Int64Counter(
		"entitlement_resolutions_total",
		metric.WithDescription("Entitlement resolutions by resulting reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolutions counter: %w", err)
	}

	m.ResolveDuration, err = meter.Float64Histogram(
		"entitlement_resolve_duration_seconds",
		metric.WithDescription("Entitlement resolution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolve duration histogram: %w", err)
	}

	m.LicenseRejections, err = meter.Int64Counter(
		"license_rejections_total",
		metric.WithDescription("Stored or submitted license tokens rejected, by reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rejections counter: %w", err)
	}

	m.Activations, err = meter.Int64Counter(
		"license_activation_attempts_total",
		metric.WithDescription("License activation attempts by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activations counter: %w", err)
	}

	m.Deactivations, err = meter.Int64Counter(
		"license_deactivations_total",
		metric.WithDescription("License deactivations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create deactivations counter: %w", err)
	}

	return m, nil
}

func (m *Metrics) recordResolution(ctx context.Context, reason Reason, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("reason", string(reason)))
	m.Resolutions.Add(ctx, 1, attrs)
	m.ResolveDuration.Record(ctx, d.Seconds(), attrs)
}

func (m *Metrics) recordRejection(ctx context.Context, source, reason string) {
	if m == nil {
		return
	}
	m.LicenseRejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("reason", reason),
	))
}

func (m *Metrics) recordActivation(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.Activations.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *Metrics) recordDeactivation(ctx context.Context) {
	if m == nil {
		return
	}
	m.Deactivations.Add(ctx, 1)
}
