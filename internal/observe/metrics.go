// Package observe provides application-wide observability primitives for
// shadowalign: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all shadowalign metrics.
const meterName = "github.com/MrWong99/shadowalign"

// Metrics holds all OpenTelemetry metric instruments for the application.
// The underlying OTel types handle their own synchronisation.
type Metrics struct {
	// StageDuration tracks the latency of one pipeline stage for one side.
	// Attributes: stage (decode, detect, trim, align), side.
	StageDuration metric.Float64Histogram

	// PrepareDuration tracks a whole Prepare call, both sides plus alignment.
	PrepareDuration metric.Float64Histogram

	// SideRuns counts finished side runs. Attributes: side, status.
	SideRuns metric.Int64Counter

	// CacheLookups counts side cache lookups. Attributes: side, result (hit, miss).
	CacheLookups metric.Int64Counter

	// Supersessions counts side runs cancelled by a newer recording.
	Supersessions metric.Int64Counter

	// DecodeErrors counts rejected recordings. Attributes: kind, codec.
	DecodeErrors metric.Int64Counter

	// Alignments counts alignment outcomes. Attributes: strategy, status.
	Alignments metric.Int64Counter

	// VADFallbacks counts detection runs served by a fallback engine.
	// Attributes: engine.
	VADFallbacks metric.Int64Counter

	// ActiveSessions tracks the number of live alignment sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveRuns tracks side runs currently in flight.
	ActiveRuns metric.Int64UpDownCounter

	// LiveConnections tracks open WebSocket connections.
	LiveConnections metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, route, status (class such as "2xx").
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// per-recording processing times.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.StageDuration, err = m.Float64Histogram("shadowalign.stage.duration",
		metric.WithDescription("Latency of one pipeline stage for one recording."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PrepareDuration, err = m.Float64Histogram("shadowalign.prepare.duration",
		metric.WithDescription("Latency of preparing and aligning a recording pair."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SideRuns, err = m.Int64Counter("shadowalign.side.runs",
		metric.WithDescription("Finished side runs by side and status."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("shadowalign.cache.lookups",
		metric.WithDescription("Side cache lookups by side and result."),
	); err != nil {
		return nil, err
	}
	if met.Supersessions, err = m.Int64Counter("shadowalign.side.superseded",
		metric.WithDescription("Side runs discarded because a newer recording arrived."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("shadowalign.decode.errors",
		metric.WithDescription("Rejected recordings by error kind and codec."),
	); err != nil {
		return nil, err
	}
	if met.Alignments, err = m.Int64Counter("shadowalign.alignments",
		metric.WithDescription("Alignment outcomes by strategy and status."),
	); err != nil {
		return nil, err
	}
	if met.VADFallbacks, err = m.Int64Counter("shadowalign.vad.fallbacks",
		metric.WithDescription("Detections served by a fallback VAD engine."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("shadowalign.active_sessions",
		metric.WithDescription("Number of live alignment sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveRuns, err = m.Int64UpDownCounter("shadowalign.active_runs",
		metric.WithDescription("Number of side runs in flight."),
	); err != nil {
		return nil, err
	}
	if met.LiveConnections, err = m.Int64UpDownCounter("shadowalign.live_connections",
		metric.WithDescription("Number of open WebSocket connections."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("shadowalign.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status class."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordStage records how long stage took for side.
func (m *Metrics) RecordStage(ctx context.Context, stage, side string, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("side", side),
		),
	)
}

// RecordSideRun records a finished side run.
func (m *Metrics) RecordSideRun(ctx context.Context, side, status string) {
	m.SideRuns.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("side", side),
			attribute.String("status", status),
		),
	)
}

// RecordCacheLookup records a cache hit or miss for side.
func (m *Metrics) RecordCacheLookup(ctx context.Context, side string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("side", side),
			attribute.String("result", result),
		),
	)
}

// RecordSupersession records a discarded run for side.
func (m *Metrics) RecordSupersession(ctx context.Context, side string) {
	m.Supersessions.Add(ctx, 1, metric.WithAttributes(attribute.String("side", side)))
}

// RecordDecodeError records a rejected recording.
func (m *Metrics) RecordDecodeError(ctx context.Context, kind, codec string) {
	m.DecodeErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("codec", codec),
		),
	)
}

// RecordAlignment records an alignment outcome.
func (m *Metrics) RecordAlignment(ctx context.Context, strategy, status string) {
	m.Alignments.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("strategy", strategy),
			attribute.String("status", status),
		),
	)
}

// RecordVADFallback records a detection served by engine instead of the
// primary.
func (m *Metrics) RecordVADFallback(ctx context.Context, engine string) {
	m.VADFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("engine", engine)))
}
