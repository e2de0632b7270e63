package session

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "sessiongate.session"
)

// Outcome labels recorded on session metrics
const (
	OutcomeBound               = "bound"
	OutcomeInvalidLicense      = "invalid_license"
	OutcomeInvalidSubscription = "invalid_subscription"
	OutcomeError               = "error"
	OutcomeRemoved             = "removed"
	OutcomeNoop                = "noop"
	OutcomeValid               = "valid"
	OutcomeNotFound            = "not_found"
	OutcomeFailOpen            = "fail_open"
	OutcomeDelivered           = "delivered"
	OutcomeFailed              = "failed"
	OutcomeDropped             = "dropped"
)

// Telemetry holds the OpenTelemetry instruments for session control
type Telemetry struct {
	tracer trace.Tracer
	meter  metric.Meter

	connects      metric.Int64Counter
	displacements metric.Int64Counter
	disconnects   metric.Int64Counter
	validations   metric.Int64Counter
	invalidations metric.Int64Counter
	boundSessions metric.Int64ObservableGauge
}

// NewTelemetry creates session instruments from the global providers
func NewTelemetry() (*Telemetry, error) {
	return newTelemetry(otel.Meter(instrumentationName))
}

func newTelemetry(meter metric.Meter) (*Telemetry, error) {

	connects, err := meter.Int64Counter(
		"session_connects_total",
		metric.WithDescription("Total number of session connect events by outcome"),
	)
	if err != nil {
		return nil, err
	}

	displacements, err := meter.Int64Counter(
		"session_displacements_total",
		metric.WithDescription("Total number of sessions superseded by a newer connection"),
	)
	if err != nil {
		return nil, err
	}

	disconnects, err := meter.Int64Counter(
		"session_disconnects_total",
		metric.WithDescription("Total number of disconnect events by outcome"),
	)
	if err != nil {
		return nil, err
	}

	validations, err := meter.Int64Counter(
		"session_validations_total",
		metric.WithDescription("Total number of session validations by outcome"),
	)
	if err != nil {
		return nil, err
	}

	invalidations, err := meter.Int64Counter(
		"session_invalidations_total",
		metric.WithDescription("Total number of displacement notifications by outcome"),
	)
	if err != nil {
		return nil, err
	}

	boundSessions, err := meter.Int64ObservableGauge(
		"session_bound",
		metric.WithDescription("Number of licenses currently bound to a connection"),
	)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		tracer:        otel.Tracer(instrumentationName),
		meter:         meter,
		connects:      connects,
		displacements: displacements,
		disconnects:   disconnects,
		validations:   validations,
		invalidations: invalidations,
		boundSessions: boundSessions,
	}, nil
}

// startSpan starts a span, falling back to the global tracer for a nil Telemetry
func (t *Telemetry) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(instrumentationName)
	if t != nil {
		tracer = t.tracer
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordConnect records a connect outcome. replaced means the license was
// already bound; displaced means it was bound to a different connection.
func (t *Telemetry) RecordConnect(ctx context.Context, outcome string, replaced, displaced bool) {
	if t == nil {
		return
	}
	t.connects.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.Bool("replaced", replaced)))
	if outcome != OutcomeBound {
		return
	}
	if displaced {
		t.displacements.Add(ctx, 1)
	}
}

// RecordDisconnect records a disconnect outcome
func (t *Telemetry) RecordDisconnect(ctx context.Context, outcome string) {
	if t == nil {
		return
	}
	t.disconnects.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// ObserveBound reports directory.Count as the bound-session gauge on every
// collection. The caller unregisters the returned registration on shutdown.
func (t *Telemetry) ObserveBound(directory Directory) (metric.Registration, error) {
	if t == nil {
		return nil, nil
	}
	return t.meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		n, err := directory.Count(ctx)
		if err != nil {
			return err
		}
		o.ObserveInt64(t.boundSessions, int64(n))
		return nil
	}, t.boundSessions)
}

// RecordValidation records a validation outcome
func (t *Telemetry) RecordValidation(ctx context.Context, outcome string) {
	if t == nil {
		return
	}
	t.validations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordInvalidation records the fate of a displacement notification
func (t *Telemetry) RecordInvalidation(ctx context.Context, outcome string) {
	if t == nil {
		return
	}
	t.invalidations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
