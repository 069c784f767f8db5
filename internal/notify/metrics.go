package notify

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "policyhub.notify"

// Metrics records delivery and subscriber lifecycle measurements. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	deliveries       metric.Int64Counter
	deliveryDuration metric.Float64Histogram
	transitions      metric.Int64Counter
	workersActive    metric.Int64UpDownCounter
	evictions        metric.Int64Counter
	dispatches       metric.Int64Counter
	enqueued         metric.Int64Counter
}

// NewMetrics creates the instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)

	deliveries, err := meter.Int64Counter(
		"policyhub_deliveries_total",
		metric.WithDescription("Notification delivery attempts by outcome"),
	)
	if err != nil {
		return nil, err
	}

	deliveryDuration, err := meter.Float64Histogram(
		"policyhub_delivery_duration_seconds",
		metric.WithDescription("Time spent in subscriber callbacks"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	transitions, err := meter.Int64Counter(
		"policyhub_worker_state_transitions_total",
		metric.WithDescription("Delivery worker connection state transitions"),
	)
	if err != nil {
		return nil, err
	}

	workersActive, err := meter.Int64UpDownCounter(
		"policyhub_workers_active",
		metric.WithDescription("Registered delivery workers"),
	)
	if err != nil {
		return nil, err
	}

	evictions, err := meter.Int64Counter(
		"policyhub_worker_evictions_total",
		metric.WithDescription("Dead delivery workers removed from the hub"),
	)
	if err != nil {
		return nil, err
	}

	dispatches, err := meter.Int64Counter(
		"policyhub_dispatches_total",
		metric.WithDescription("Notifications routed by the hub"),
	)
	if err != nil {
		return nil, err
	}

	enqueued, err := meter.Int64Counter(
		"policyhub_notifications_enqueued_total",
		metric.WithDescription("Notifications appended to worker queues"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		deliveries:       deliveries,
		deliveryDuration: deliveryDuration,
		transitions:      transitions,
		workersActive:    workersActive,
		evictions:        evictions,
		dispatches:       dispatches,
		enqueued:         enqueued,
	}, nil
}

func (m *Metrics) recordDelivery(ctx context.Context, n Notification, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("notification", n.Name()),
		attribute.String("outcome", outcome),
	)
	m.deliveries.Add(ctx, 1, attrs)
	m.deliveryDuration.Record(ctx, d.Seconds(), attrs)
}

func (m *Metrics) recordTransition(ctx context.Context, to State) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", to.String())))
}

func (m *Metrics) recordWorkers(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.workersActive.Add(ctx, delta)
}

func (m *Metrics) recordEvictions(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.evictions.Add(ctx, int64(n))
}

func (m *Metrics) recordDispatch(ctx context.Context, n Notification, targets int) {
	if m == nil {
		return
	}
	m.dispatches.Add(ctx, 1, metric.WithAttributes(attribute.String("notification", n.Name())))
	m.enqueued.Add(ctx, int64(targets), metric.WithAttributes(attribute.String("notification", n.Name())))
}
