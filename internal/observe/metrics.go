// Package observe provides application-wide observability primitives for
// snacstream: OpenTelemetry metrics, distributed tracing, trace-aware
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. Tests should use [NewMetrics]
// with a custom [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all snacstream metrics.
const meterName = "github.com/MrWong99/snacstream"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// DecodeDuration tracks the latency of one windowed codec call.
	DecodeDuration metric.Float64Histogram

	// DecodeFailures counts skipped triggers. Use with attribute:
	//   attribute.String("reason", ...)
	DecodeFailures metric.Int64Counter

	// Chunks counts PCM chunks delivered to sinks.
	Chunks metric.Int64Counter

	// Tokens counts codec tokens read from token sources.
	Tokens metric.Int64Counter

	// Triggers counts decode windows submitted.
	Triggers metric.Int64Counter

	// AudioSeconds totals the delivered audio length.
	AudioSeconds metric.Float64Counter

	// ActiveStreams tracks the number of running bridge streams.
	ActiveStreams metric.Int64UpDownCounter

	// TokenSourceRequests counts stream opens. Use with attributes:
	//   attribute.String("source", ...), attribute.String("status", ...)
	TokenSourceRequests metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// decodeBuckets defines histogram bucket boundaries (in seconds) for one
// codec call, which is expected to run well under the 85 ms of audio it
// produces.
var decodeBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.085, 0.1, 0.25, 0.5, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.DecodeDuration, err = m.Float64Histogram("snacstream.decode.duration",
		metric.WithDescription("Latency of one windowed codec decode."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(decodeBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DecodeFailures, err = m.Int64Counter("snacstream.decode.failures",
		metric.WithDescription("Decode triggers that produced no audio, by reason."),
	); err != nil {
		return nil, err
	}
	if met.Chunks, err = m.Int64Counter("snacstream.chunks",
		metric.WithDescription("PCM chunks delivered to sinks."),
	); err != nil {
		return nil, err
	}
	if met.Tokens, err = m.Int64Counter("snacstream.tokens",
		metric.WithDescription("Codec tokens consumed."),
	); err != nil {
		return nil, err
	}
	if met.Triggers, err = m.Int64Counter("snacstream.triggers",
		metric.WithDescription("Decode windows submitted."),
	); err != nil {
		return nil, err
	}
	if met.AudioSeconds, err = m.Float64Counter("snacstream.audio.seconds",
		metric.WithDescription("Seconds of audio delivered."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("snacstream.streams.active",
		metric.WithDescription("Number of running synthesis streams."),
	); err != nil {
		return nil, err
	}
	if met.TokenSourceRequests, err = m.Int64Counter("snacstream.token_source.requests",
		metric.WithDescription("Token stream opens by source and status."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("snacstream.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// RecordTokenSourceRequest records one stream open against source.
func (m *Metrics) RecordTokenSourceRequest(ctx context.Context, source, status string) {
	m.TokenSourceRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("source", source),
			attribute.String("status", status),
		),
	)
}
