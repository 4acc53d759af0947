package loom

import (
	"context"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// metricAttrs builds the shared attribute set for both histograms.
// responseModel and errType are added only when non-empty.
func metricAttrs(operation, requestModel, responseModel string, call callInfo, errType string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrOperationName, operation),
		attribute.String(AttrProviderName, providerName),
	}
	if requestModel != "" {
		attrs = append(attrs, attribute.String(AttrRequestModel, requestModel))
	}
	if responseModel != "" {
		attrs = append(attrs, attribute.String(AttrResponseModel, responseModel))
	}
	if call.server != "" {
		attrs = append(attrs, attribute.String(AttrServerAddress, call.server))
		if call.port != 0 {
			attrs = append(attrs, attribute.Int(AttrServerPort, call.port))
		}
	}
	if errType != "" {
		attrs = append(attrs, attribute.String(AttrErrorType, errType))
	}
	return attrs
}

// recordMetrics records operation duration and, when usage is known, input
// and output token counts. It runs regardless of whether a span is
// recording, so sampled-out calls still produce metrics. Before Instrument
// the histograms do not exist and this is a no-op.
func (in *Instrumentor) recordMetrics(ctx context.Context, operation, requestModel, responseModel string, usage *Usage, call callInfo, elapsed time.Duration, errType string) {
	duration, tokens := in.histograms()
	if duration == nil {
		return
	}

	// The metric API takes ownership of attribute slices, so each Record
	// call gets its own copy.
	attrs := metricAttrs(operation, requestModel, responseModel, call, errType)
	duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(slices.Clone(attrs)...))

	if usage == nil {
		return
	}
	inTok, outTok := usageTokens(usage)
	if inTok > 0 {
		tokens.Record(ctx, inTok, metric.WithAttributes(append(slices.Clone(attrs),
			attribute.String(AttrTokenType, "input"))...))
	}
	if outTok > 0 {
		tokens.Record(ctx, outTok, metric.WithAttributes(append(slices.Clone(attrs),
			attribute.String(AttrTokenType, "output"))...))
	}
}
