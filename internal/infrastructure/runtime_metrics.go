package infrastructure

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// RuntimeStats is a point-in-time view of process resources
type RuntimeStats struct {
	GoRoutines    int64
	HeapAlloc     int64
	HeapSys       int64
	GCCount       uint32
	ProcessUptime time.Duration
}

// ReadRuntimeStats samples the Go runtime
func ReadRuntimeStats(startTime time.Time) RuntimeStats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return RuntimeStats{
		GoRoutines:    int64(runtime.NumGoroutine()),
		HeapAlloc:     int64(mem.HeapAlloc),
		HeapSys:       int64(mem.HeapSys),
		GCCount:       mem.NumGC,
		ProcessUptime: time.Since(startTime),
	}
}

// RegisterRuntimeMetrics exposes goroutine, heap and uptime gauges sampled at
// collection time. Unregister the returned registration on shutdown.
func RegisterRuntimeMetrics(meter metric.Meter, startTime time.Time) (metric.Registration, error) {
	goroutines, err := meter.Int64ObservableGauge(
		"process_goroutines",
		metric.WithDescription("Number of live goroutines"),
	)
	if err != nil {
		return nil, fmt.Errorf("create goroutine gauge: %w", err)
	}

	heapAlloc, err := meter.Int64ObservableGauge(
		"process_heap_alloc_bytes",
		metric.WithDescription("Bytes of allocated heap objects"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("create heap gauge: %w", err)
	}

	gcCount, err := meter.Int64ObservableCounter(
		"process_gc_cycles_total",
		metric.WithDescription("Completed garbage collection cycles"),
	)
	if err != nil {
		return nil, fmt.Errorf("create gc counter: %w", err)
	}

	uptime, err := meter.Float64ObservableGauge(
		"process_uptime_seconds",
		metric.WithDescription("Seconds since the server started"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create uptime gauge: %w", err)
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stats := ReadRuntimeStats(startTime)
		o.ObserveInt64(goroutines, stats.GoRoutines)
		o.ObserveInt64(heapAlloc, stats.HeapAlloc)
		o.ObserveInt64(gcCount, int64(stats.GCCount))
		o.ObserveFloat64(uptime, stats.ProcessUptime.Seconds())
		return nil
	}, goroutines, heapAlloc, gcCount, uptime)
}
