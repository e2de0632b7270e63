package license

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	MeterName = "sessiongate.license"
)

// Metrics holds the license lookup instruments
type Metrics struct {
	CacheHits      metric.Int64Counter
	CacheMisses    metric.Int64Counter
	BackendLookups metric.Int64Counter
	BackendErrors  metric.Int64Counter
	LookupDuration metric.Float64Histogram
}

// InitializeMetrics creates license metrics on the global meter provider
func InitializeMetrics() (*Metrics, error) {
	meter := otel.Meter(MeterName)
	metrics := &Metrics{}

	var err error

	metrics.CacheHits, err = meter.Int64Counter(
		"license_cache_hits_total",
		metric.WithDescription("Total number of license lookups served from cache"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}

	metrics.CacheMisses, err = meter.Int64Counter(
		"license_cache_misses_total",
		metric.WithDescription("Total number of license lookups that missed the cache"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache misses counter: %w", err)
	}

	metrics.BackendLookups, err = meter.Int64Counter(
		"license_backend_lookups_total",
		metric.WithDescription("Total number of license lookups sent to the backing store"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend lookups counter: %w", err)
	}

	metrics.BackendErrors, err = meter.Int64Counter(
		"license_backend_errors_total",
		metric.WithDescription("Total number of failed backing store lookups"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend errors counter: %w", err)
	}

	metrics.LookupDuration, err = meter.Float64Histogram(
		"license_lookup_duration_seconds",
		metric.WithDescription("Backing store lookup duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create lookup duration histogram: %w", err)
	}

	return metrics, nil
}

func (m *Metrics) recordCache(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.Add(ctx, 1)
		return
	}
	m.CacheMisses.Add(ctx, 1)
}

func (m *Metrics) recordBackend(ctx context.Context, started time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
		m.BackendErrors.Add(ctx, 1)
	}
	m.BackendLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	m.LookupDuration.Record(ctx, time.Since(started).Seconds(),
		metric.WithAttributes(attribute.String("result", result)))
}
