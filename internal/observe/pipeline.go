package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/snacstream/pkg/bridge"
	"github.com/MrWong99/snacstream/pkg/decode"
)

var (
	_ decode.Observer = (*PipelineObserver)(nil)
	_ bridge.Observer = (*PipelineObserver)(nil)
)

// PipelineObserver feeds decoder and bridge events into [Metrics] and the
// active span.
type PipelineObserver struct {
	m          *Metrics
	sampleRate int
}

// Pipeline returns an observer for a decoder producing sampleRate Hz audio.
func (m *Metrics) Pipeline(sampleRate int) *PipelineObserver {
	return &PipelineObserver{m: m, sampleRate: sampleRate}
}

// DecodeSucceeded implements decode.Observer.
func (o *PipelineObserver) DecodeSucceeded(ctx context.Context, elapsed time.Duration, _ int) {
	o.m.DecodeDuration.Record(ctx, elapsed.Seconds())
}

// DecodeFailed implements decode.Observer.
func (o *PipelineObserver) DecodeFailed(ctx context.Context, reason string, err error) {
	o.m.DecodeFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	trace.SpanFromContext(ctx).AddEvent("decode skipped", trace.WithAttributes(
		attribute.String("reason", reason),
		attribute.String("error", err.Error()),
	))
}

// StreamStarted implements bridge.Observer.
func (o *PipelineObserver) StreamStarted(ctx context.Context) {
	o.m.ActiveStreams.Add(ctx, 1)
}

// StreamEnded implements bridge.Observer.
func (o *PipelineObserver) StreamEnded(ctx context.Context, res bridge.Result, err error) {
	o.m.ActiveStreams.Add(ctx, -1)
	o.m.Tokens.Add(ctx, int64(res.Tokens))
	o.m.Triggers.Add(ctx, int64(res.Triggers))
	o.m.Chunks.Add(ctx, int64(res.Chunks))
	o.m.AudioSeconds.Add(ctx, res.Duration(o.sampleRate).Seconds())

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.Int("snacstream.tokens", res.Tokens),
		attribute.Int("snacstream.chunks", res.Chunks),
		attribute.Int("snacstream.skipped", res.Skipped),
		attribute.Bool("snacstream.cancelled", res.Cancelled),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
