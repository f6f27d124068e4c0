// Package observe provides application-wide observability primitives for
// Rescribe: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all Rescribe metrics.
const meterName = "github.com/MrWong99/rescribe"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use since the underlying OTel types
// handle their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// ASRDuration tracks first-pass speech-to-text latency for a whole file.
	ASRDuration metric.Float64Histogram

	// ClipDuration tracks second-pass latency for a single low-confidence
	// window: slicing, audio-LLM inference, and verification combined.
	ClipDuration metric.Float64Histogram

	// JobDuration tracks end-to-end job processing time from claim to
	// terminal status.
	JobDuration metric.Float64Histogram

	// --- Counters ---

	// JobsClaimed counts jobs claimed by the worker loop.
	JobsClaimed metric.Int64Counter

	// JobsProcessed counts jobs that reached a terminal status. Use with
	// attribute: attribute.String("status", "completed"|"failed")
	JobsProcessed metric.Int64Counter

	// Corrections counts second-pass correction decisions. Use with
	// attribute: attribute.String("outcome", "applied"|"skipped")
	Corrections metric.Int64Counter

	// --- Gauges ---

	// JobsInFlight tracks the number of jobs currently being processed.
	JobsInFlight metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// clipLatencyBuckets defines histogram bucket boundaries (in seconds) for
// per-clip second-pass latencies. Audio-LLM inference on a 20 second clip can
// take tens of seconds on CPU-only hosts.
var clipLatencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// jobLatencyBuckets defines histogram bucket boundaries (in seconds) for
// whole-file operations: the first pass over a long recording and the
// end-to-end job both run for minutes.
var jobLatencyBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 1800,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ASRDuration, err = m.Float64Histogram("rescribe.asr.duration",
		metric.WithDescription("Latency of the first-pass word-level transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(jobLatencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ClipDuration, err = m.Float64Histogram("rescribe.clip.duration",
		metric.WithDescription("Latency of one second-pass window: slice, re-hear, verify."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(clipLatencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.JobDuration, err = m.Float64Histogram("rescribe.job.duration",
		metric.WithDescription("End-to-end job processing time from claim to terminal status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(jobLatencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.JobsClaimed, err = m.Int64Counter("rescribe.jobs.claimed",
		metric.WithDescription("Total jobs claimed by the worker loop."),
	); err != nil {
		return nil, err
	}
	if met.JobsProcessed, err = m.Int64Counter("rescribe.jobs.processed",
		metric.WithDescription("Total jobs that reached a terminal status, by status."),
	); err != nil {
		return nil, err
	}
	if met.Corrections, err = m.Int64Counter("rescribe.corrections",
		metric.WithDescription("Total second-pass correction decisions by outcome."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.JobsInFlight, err = m.Int64UpDownCounter("rescribe.jobs.in_flight",
		metric.WithDescription("Number of jobs currently being processed."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("rescribe.http.request.duration",
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

// RecordJobProcessed records a terminal job outcome with the standard status
// attribute.
func (m *Metrics) RecordJobProcessed(ctx context.Context, status string) {
	m.JobsProcessed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordCorrection records one second-pass correction decision with the
// standard outcome attribute.
func (m *Metrics) RecordCorrection(ctx context.Context, outcome string) {
	m.Corrections.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}
