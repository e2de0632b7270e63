package websocket

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "sessiongate.websocket"
)

// Delivery outcomes recorded for hub Send calls
const (
	deliveryDelivered  = "delivered"
	deliveryNotFound   = "not_found"
	deliveryBufferFull = "buffer_full"
)

// OTelMetrics provides OpenTelemetry metrics for the gateway.
// All methods are safe on a nil receiver.
type OTelMetrics struct {
	connectionsTotal   metric.Int64Counter
	connectionsActive  metric.Int64UpDownCounter
	connectionDuration metric.Float64Histogram

	messagesTotal metric.Int64Counter
	messageBytes  metric.Int64Counter

	deliveries metric.Int64Counter
}

// NewOTelMetrics creates gateway instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter(meterName)

	connectionsTotal, err := meter.Int64Counter(
		"websocket_connections_total",
		metric.WithDescription("Total number of WebSocket connections"),
	)
	if err != nil {
		return nil, err
	}

	connectionsActive, err := meter.Int64UpDownCounter(
		"websocket_connections_active",
		metric.WithDescription("Number of active WebSocket connections"),
	)
	if err != nil {
		return nil, err
	}

	connectionDuration, err := meter.Float64Histogram(
		"websocket_connection_duration_seconds",
		metric.WithDescription("Duration of WebSocket connections"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	messagesTotal, err := meter.Int64Counter(
		"websocket_messages_total",
		metric.WithDescription("Total number of WebSocket frames by direction"),
	)
	if err != nil {
		return nil, err
	}

	messageBytes, err := meter.Int64Counter(
		"websocket_message_bytes_total",
		metric.WithDescription("Total WebSocket payload bytes by direction"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	deliveries, err := meter.Int64Counter(
		"websocket_deliveries_total",
		metric.WithDescription("Total number of targeted pushes by result"),
	)
	if err != nil {
		return nil, err
	}

	return &OTelMetrics{
		connectionsTotal:   connectionsTotal,
		connectionsActive:  connectionsActive,
		connectionDuration: connectionDuration,
		messagesTotal:      messagesTotal,
		messageBytes:       messageBytes,
		deliveries:         deliveries,
	}, nil
}

// RecordConnection records a registered connection
func (m *OTelMetrics) RecordConnection(ctx context.Context) {
	if m == nil {
		return
	}
	m.connectionsTotal.Add(ctx, 1)
	m.connectionsActive.Add(ctx, 1)
}

// RecordDisconnection records an unregistered connection
func (m *OTelMetrics) RecordDisconnection(ctx context.Context, duration time.Duration) {
	if m == nil {
		return
	}
	m.connectionsActive.Add(ctx, -1)
	m.connectionDuration.Record(ctx, duration.Seconds())
}

// RecordMessageSent records a frame written to a client
func (m *OTelMetrics) RecordMessageSent(ctx context.Context, size int64) {
	m.recordMessage(ctx, "outbound", size)
}

// RecordMessageReceived records a frame read from a client
func (m *OTelMetrics) RecordMessageReceived(ctx context.Context, size int64) {
	m.recordMessage(ctx, "inbound", size)
}

func (m *OTelMetrics) recordMessage(ctx context.Context, direction string, size int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("direction", direction))
	m.messagesTotal.Add(ctx, 1, attrs)
	m.messageBytes.Add(ctx, size, attrs)
}

// RecordDelivery records the result of a targeted push
func (m *OTelMetrics) RecordDelivery(ctx context.Context, result string, size int64) {
	if m == nil {
		return
	}
	m.deliveries.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	if size > 0 {
		m.messageBytes.Add(ctx, size, metric.WithAttributes(attribute.String("direction", "push")))
	}
}
