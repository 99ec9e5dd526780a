package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/stock-portfolio/internal/service"

// Order outcomes recorded on the orders counter
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Metrics records order execution metrics
type Metrics struct {
	ordersTotal   metric.Int64Counter
	orderDuration metric.Float64Histogram
	sideEffects   metric.Int64Counter
}

// NewMetrics creates order metrics on the global meter provider
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithProvider(otel.GetMeterProvider())
}

// NewMetricsWithProvider creates order metrics on a custom meter provider
func NewMetricsWithProvider(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(instrumentationName)

	ordersTotal, err := meter.Int64Counter(
		"orders_total",
		metric.WithDescription("Orders received, by type and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create orders_total counter: %w", err)
	}

	orderDuration, err := meter.Float64Histogram(
		"order_duration_seconds",
		metric.WithDescription("Time taken to execute an order transaction"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create order_duration_seconds histogram: %w", err)
	}

	sideEffects, err := meter.Int64Counter(
		"order_side_effect_failures_total",
		metric.WithDescription("Post-commit ledger and event publish failures"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create order_side_effect_failures_total counter: %w", err)
	}

	return &Metrics{
		ordersTotal:   ordersTotal,
		orderDuration: orderDuration,
		sideEffects:   sideEffects,
	}, nil
}

// RecordOrder records one order attempt. A nil receiver records nothing.
func (m *Metrics) RecordOrder(ctx context.Context, orderType, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("order.type", orderType),
		attribute.String("outcome", outcome),
	)
	m.ordersTotal.Add(ctx, 1, attrs)
	m.orderDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordSideEffectFailure counts a failed post-commit step ("ledger" or "events")
func (m *Metrics) RecordSideEffectFailure(ctx context.Context, step string) {
	if m == nil {
		return
	}
	m.sideEffects.Add(ctx, 1, metric.WithAttributes(attribute.String("step", step)))
}

// StartSpan starts an internal span on the service tracer
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// EndSpan marks span as failed when err is non-nil and ends it
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
