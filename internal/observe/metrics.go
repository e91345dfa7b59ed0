// Package observe provides application-wide observability primitives for
// diarist: OpenTelemetry metrics, distributed tracing, structured logging,
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all diarist metrics.
const meterName = "github.com/verbalis/diarist"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TranscribeDuration tracks transcription backend latency.
	TranscribeDuration metric.Float64Histogram

	// DiarizeDuration tracks diarizer latency, including the transcode step
	// feeding it.
	DiarizeDuration metric.Float64Histogram

	// EmbedDuration tracks voice embedding extraction latency.
	EmbedDuration metric.Float64Histogram

	// ChunkDuration tracks end-to-end chunk processing latency from upload
	// to annotated response.
	ChunkDuration metric.Float64Histogram

	// --- Counters ---

	// Resolutions counts identity resolver outcomes. Use with attribute:
	//   attribute.String("outcome", "matched"|"created"|"forced"|"passthrough")
	Resolutions metric.Int64Counter

	// ProviderErrors counts backend failures. Use with attribute:
	//   attribute.String("provider", "transcriber"|"diarizer"|"embedder"|"transcoder")
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of sessions currently materialized in
	// the speaker store.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Chunk
// processing is dominated by model inference, so the buckets reach further
// out than typical HTTP latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscribeDuration, err = m.Float64Histogram("diarist.transcribe.duration",
		metric.WithDescription("Latency of the transcription backend."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DiarizeDuration, err = m.Float64Histogram("diarist.diarize.duration",
		metric.WithDescription("Latency of transcode plus diarization."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EmbedDuration, err = m.Float64Histogram("diarist.embed.duration",
		metric.WithDescription("Latency of voice embedding extraction."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ChunkDuration, err = m.Float64Histogram("diarist.chunk.duration",
		metric.WithDescription("End-to-end chunk processing latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Resolutions, err = m.Int64Counter("diarist.resolver.outcomes",
		metric.WithDescription("Identity resolver outcomes by kind."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("diarist.provider.errors",
		metric.WithDescription("Total backend failures by provider."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("diarist.active_sessions",
		metric.WithDescription("Number of sessions materialized in the speaker store."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("diarist.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordResolution records n resolver outcomes of the given kind. Zero counts
// are skipped so callers can pass resolver stats unconditionally.
func (m *Metrics) RecordResolution(ctx context.Context, outcome string, n int) {
	if n == 0 {
		return
	}
	m.Resolutions.Add(ctx, int64(n),
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordProviderError records a single backend failure for the given
// provider.
func (m *Metrics) RecordProviderError(ctx context.Context, provider string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}
