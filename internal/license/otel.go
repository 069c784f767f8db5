package license

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"policyhub/internal/policy"
	"policyhub/internal/security"
)

const (
	TracerName = "policyhub.license"
	MeterName  = "policyhub.license"
)

// Load outcomes recorded on spans and metrics.
const (
	resultAccepted = "accepted"
	resultRejected = "rejected"
	resultFailed   = "failed"
)

// Metrics holds the license service instruments. A nil *Metrics records nothing.
type Metrics struct {
	loads        metric.Int64Counter
	loadDuration metric.Float64Histogram
	payloads     metric.Int64Counter
	fragments    metric.Int64Gauge
}

// NewMetrics creates the instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(MeterName)

	loads, err := meter.Int64Counter(
		"policyhub_license_loads_total",
		metric.WithDescription("License loads by source and result"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create loads counter: %w", err)
	}

	loadDuration, err := meter.Float64Histogram(
		"policyhub_license_load_duration_seconds",
		metric.WithDescription("Time to validate, persist and dispatch a license"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create load duration histogram: %w", err)
	}

	payloads, err := meter.Int64Counter(
		"policyhub_policy_payloads_total",
		metric.WithDescription("Per-application content payloads produced by license diffs"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create payloads counter: %w", err)
	}

	fragments, err := meter.Int64Gauge(
		"policyhub_policy_fragments",
		metric.WithDescription("Fragments in the currently held policy document"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create fragments gauge: %w", err)
	}

	return &Metrics{
		loads:        loads,
		loadDuration: loadDuration,
		payloads:     payloads,
		fragments:    fragments,
	}, nil
}

func (m *Metrics) recordLoad(ctx context.Context, source, result string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("result", result),
	)
	m.loads.Add(ctx, 1, attrs)
	m.loadDuration.Record(ctx, d.Seconds(), attrs)
}

func (m *Metrics) recordApplied(ctx context.Context, doc *policy.Document, payloads int) {
	if m == nil {
		return
	}
	m.payloads.Add(ctx, int64(payloads))
	m.fragments.Record(ctx, int64(doc.Len()))
}

// traceLoad wraps one license load in a span named after source.
func traceLoad(ctx context.Context, source string, fn func(context.Context) (bool, error)) (bool, error) {
	ctx, span := otel.Tracer(TracerName).Start(ctx, "license."+source,
		trace.WithAttributes(
			attribute.String("license.source", source),
			attribute.String("component", "license_service"),
		),
	)
	defer span.End()

	start := time.Now()
	accepted, err := fn(ctx)

	span.SetAttributes(
		attribute.Float64("license.duration_ms", float64(time.Since(start).Milliseconds())),
		attribute.Bool("license.accepted", accepted),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return accepted, err
}

// rejectReason classifies a validation failure for logs and audit entries.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, security.ErrDecrypt):
		return "decrypt"
	case errors.Is(err, policy.ErrMalformedDocument):
		return "malformed"
	case errors.Is(err, policy.ErrDuplicateFragment):
		return "duplicate_fragment"
	case errors.Is(err, policy.ErrMissingBrand):
		return "missing_brand"
	case errors.Is(err, policy.ErrBrandMismatch):
		return "brand_mismatch"
	default:
		return "invalid"
	}
}
