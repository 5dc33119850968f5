package network

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the metrics instruments for network negotiation.
type Metrics struct {
	conflicts metric.Int64Counter
}

func newNetworkMetrics(meter metric.Meter) (*Metrics, error) {
	conflicts, err := meter.Int64Counter(
		"installer_network_conflicts_total",
		metric.WithDescription("Host resources that conflicted with a default during negotiation"),
	)
	if err != nil {
		return nil, err
	}
	return &Metrics{conflicts: conflicts}, nil
}

func (n *negotiator) recordConflict(ctx context.Context, resource string) {
	if n.metrics == nil {
		return
	}
	n.metrics.conflicts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("resource", resource)))
}
