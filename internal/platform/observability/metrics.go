package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/masar-academy/api/internal/platform/observability"

// TransitionMetrics counts committed booking and order status changes.
type TransitionMetrics struct {
	transitions metric.Int64Counter
}

// NewTransitionMetrics registers the transition counter on provider. A nil provider uses the
// global meter provider.
func NewTransitionMetrics(provider metric.MeterProvider) (*TransitionMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	counter, err := provider.Meter(meterName).Int64Counter(
		"masar.status_transitions",
		metric.WithDescription("Committed status transitions by aggregate"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: register transition counter: %w", err)
	}
	return &TransitionMetrics{transitions: counter}, nil
}

// ObserveTransition records a single from → to change for aggregate (booking or order).
func (m *TransitionMetrics) ObserveTransition(ctx context.Context, aggregate, from, to string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("aggregate", aggregate),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}
