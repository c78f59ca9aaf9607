// Package observe provides application-wide observability primitives for
// Tilawa: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported
// to Prometheus once [Init] has run. [DefaultMetrics] binds to the global
// meter provider; tests use [NewMetrics] with their own provider.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Tilawa metrics.
const meterName = "github.com/MrWong99/tilawa"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// TranscribeDuration tracks exam clip transcription latency.
	TranscribeDuration metric.Float64Histogram

	// ExamRecordingDuration tracks how long exam recordings run.
	ExamRecordingDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time by method,
	// route pattern and status. Recorded by [Middleware].
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// Verdicts counts judged words. Use with attributes:
	//   attribute.String("mode", ...), attribute.String("verdict", ...)
	Verdicts metric.Int64Counter

	// Completions counts finished coaching passes by mode.
	Completions metric.Int64Counter

	// Fallbacks counts switches from live recognition to raw capture.
	Fallbacks metric.Int64Counter

	// Exams counts exam outcomes. Use with attribute:
	//   attribute.String("status", "completed"|"failed"|"cleared")
	Exams metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks connected recitation sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ListeningSessions tracks coach sessions currently streaming audio.
	ListeningSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries in seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// recordingBuckets covers exam recordings from a single ayah to a long surah.
var recordingBuckets = []float64{
	5, 15, 30, 60, 120, 300, 600, 1200,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TranscribeDuration, err = m.Float64Histogram("tilawa.transcribe.duration",
		metric.WithDescription("Latency of exam clip transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ExamRecordingDuration, err = m.Float64Histogram("tilawa.exam.recording.duration",
		metric.WithDescription("Length of exam recordings."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(recordingBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("tilawa.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("tilawa.provider.requests",
		metric.WithDescription("Total provider requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("tilawa.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.Verdicts, err = m.Int64Counter("tilawa.verdicts",
		metric.WithDescription("Judged words by coaching mode and verdict."),
	); err != nil {
		return nil, err
	}
	if met.Completions, err = m.Int64Counter("tilawa.completions",
		metric.WithDescription("Completed coaching passes by mode."),
	); err != nil {
		return nil, err
	}
	if met.Fallbacks, err = m.Int64Counter("tilawa.fallbacks",
		metric.WithDescription("Switches from live recognition to raw capture."),
	); err != nil {
		return nil, err
	}
	if met.Exams, err = m.Int64Counter("tilawa.exams",
		metric.WithDescription("Exam outcomes by status."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("tilawa.active_sessions",
		metric.WithDescription("Number of connected recitation sessions."),
	); err != nil {
		return nil, err
	}
	if met.ListeningSessions, err = m.Int64UpDownCounter("tilawa.listening_sessions",
		metric.WithDescription("Number of coach sessions streaming audio."),
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails.
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request with the standard
// attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordVerdict records one judged word.
func (m *Metrics) RecordVerdict(ctx context.Context, mode, verdict string) {
	m.Verdicts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("verdict", verdict),
		),
	)
}

// RecordCompletion records a finished coaching pass.
func (m *Metrics) RecordCompletion(ctx context.Context, mode string) {
	m.Completions.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

// RecordFallback records a switch to raw capture.
func (m *Metrics) RecordFallback(ctx context.Context, mode string) {
	m.Fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

// RecordExam records an exam outcome.
func (m *Metrics) RecordExam(ctx context.Context, status string) {
	m.Exams.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
