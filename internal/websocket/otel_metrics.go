package websocket

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "policyhub.websocket"
)

// OTelMetrics provides OpenTelemetry metrics for websocket subscribers.
// A nil *OTelMetrics records nothing.
type OTelMetrics struct {
	// Connection metrics
	connectionsTotal   metric.Int64Counter
	connectionsActive  metric.Int64UpDownCounter
	connectionDuration metric.Float64Histogram

	// Message metrics
	messagesTotal metric.Int64Counter
	messageBytes  metric.Int64Counter
	frameErrors   metric.Int64Counter
}

// NewOTelMetrics creates the instruments on the global meter provider.
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter(meterName)

	connectionsTotal, err := meter.Int64Counter(
		"policyhub_websocket_connections_total",
		metric.WithDescription("Total number of websocket connections"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connections counter: %w", err)
	}

	connectionsActive, err := meter.Int64UpDownCounter(
		"policyhub_websocket_connections_active",
		metric.WithDescription("Number of open websocket connections"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active connections counter: %w", err)
	}

	connectionDuration, err := meter.Float64Histogram(
		"policyhub_websocket_connection_duration_seconds",
		metric.WithDescription("Duration of websocket connections"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection duration histogram: %w", err)
	}

	messagesTotal, err := meter.Int64Counter(
		"policyhub_websocket_messages_total",
		metric.WithDescription("Websocket frames by direction and type"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messages counter: %w", err)
	}

	messageBytes, err := meter.Int64Counter(
		"policyhub_websocket_message_bytes_total",
		metric.WithDescription("Websocket payload bytes by direction"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create message bytes counter: %w", err)
	}

	frameErrors, err := meter.Int64Counter(
		"policyhub_websocket_frame_errors_total",
		metric.WithDescription("Inbound frames answered with a protocol error"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create frame errors counter: %w", err)
	}

	return &OTelMetrics{
		connectionsTotal:   connectionsTotal,
		connectionsActive:  connectionsActive,
		connectionDuration: connectionDuration,
		messagesTotal:      messagesTotal,
		messageBytes:       messageBytes,
		frameErrors:        frameErrors,
	}, nil
}

// RecordConnection records a new websocket connection
func (m *OTelMetrics) RecordConnection(ctx context.Context) {
	if m == nil {
		return
	}
	m.connectionsTotal.Add(ctx, 1)
	m.connectionsActive.Add(ctx, 1)
}

// RecordDisconnection records a closed websocket connection
func (m *OTelMetrics) RecordDisconnection(ctx context.Context, duration time.Duration) {
	if m == nil {
		return
	}
	m.connectionsActive.Add(ctx, -1)
	m.connectionDuration.Record(ctx, duration.Seconds())
}

// RecordMessage records one frame in direction "inbound" or "outbound".
func (m *OTelMetrics) RecordMessage(ctx context.Context, direction, messageType string, size int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("direction", direction),
		attribute.String("message_type", messageType),
	)
	m.messagesTotal.Add(ctx, 1, attrs)
	m.messageBytes.Add(ctx, int64(size), metric.WithAttributes(attribute.String("direction", direction)))
}

// RecordFrameError records an inbound frame rejected with code.
func (m *OTelMetrics) RecordFrameError(ctx context.Context, code string) {
	if m == nil {
		return
	}
	m.frameErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
}
