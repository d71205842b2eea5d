package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics records dispatch outcomes.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordDispatch records one completed dispatch with its duration,
	// retries used, and final error status.
	RecordDispatch(ctx context.Context, key, category string, duration time.Duration, retries int, err error)
}

// metricsImpl is the concrete OpenTelemetry implementation of Metrics.
type metricsImpl struct {
	totalCount   metric.Int64Counter
	errorCount   metric.Int64Counter
	retryCount   metric.Int64Counter
	durationHist metric.Float64Histogram
}

// NewMetrics creates a Metrics instance backed by the given meter provider.
// A nil provider yields a no-op implementation.
func NewMetrics(provider metric.MeterProvider) (Metrics, error) {
	if provider == nil {
		provider = noop.NewMeterProvider()
	}
	meter := provider.Meter("github.com/jonwraymond/toolflow")

	totalCount, err := meter.Int64Counter(
		"dispatch.total",
		metric.WithDescription("Total number of dispatch executions"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"dispatch.errors",
		metric.WithDescription("Total number of failed dispatches"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	retryCount, err := meter.Int64Counter(
		"dispatch.retries",
		metric.WithDescription("Total number of retry attempts"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"dispatch.duration_ms",
		metric.WithDescription("Dispatch duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		totalCount:   totalCount,
		errorCount:   errorCount,
		retryCount:   retryCount,
		durationHist: durationHist,
	}, nil
}

// RecordDispatch records metrics for one dispatch.
func (m *metricsImpl) RecordDispatch(ctx context.Context, key, category string, duration time.Duration, retries int, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("endpoint.key", key),
	}
	if category != "" {
		attrs = append(attrs, attribute.String("endpoint.category", category))
	}
	opt := metric.WithAttributes(attrs...)

	m.totalCount.Add(ctx, 1, opt)
	if err != nil {
		m.errorCount.Add(ctx, 1, opt)
	}
	if retries > 0 {
		m.retryCount.Add(ctx, int64(retries), opt)
	}
	m.durationHist.Record(ctx, float64(duration.Milliseconds()), opt)
}

// NopMetrics is a metrics implementation that does nothing.
type NopMetrics struct{}

// RecordDispatch discards the sample.
func (NopMetrics) RecordDispatch(ctx context.Context, key, category string, duration time.Duration, retries int, err error) {
}

var _ Metrics = NopMetrics{}
