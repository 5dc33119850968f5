package provision

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Metrics holds the instruments for provisioning steps.
type Metrics struct {
	stepsTotal   metric.Int64Counter
	stepDuration metric.Float64Histogram
	rollbacks    metric.Int64Counter
	tracer       trace.Tracer
}

// NewMetrics creates provisioning instruments. If meter is nil, returns nil
// (metrics disabled).
func NewMetrics(meter metric.Meter, tracer trace.Tracer) (*Metrics, error) {
	if meter == nil {
		return nil, nil
	}

	stepsTotal, err := meter.Int64Counter(
		"installer_steps_total",
		metric.WithDescription("Provisioning steps executed, by outcome"),
	)
	if err != nil {
		return nil, err
	}

	stepDuration, err := meter.Float64Histogram(
		"installer_step_duration_seconds",
		metric.WithDescription("Time spent in each provisioning step"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	rollbacks, err := meter.Int64Counter(
		"installer_rollbacks_total",
		metric.WithDescription("Rollbacks performed after a failed step"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		stepsTotal:   stepsTotal,
		stepDuration: stepDuration,
		rollbacks:    rollbacks,
		tracer:       tracer,
	}, nil
}

func (m *Metrics) startStep(ctx context.Context, step string) (context.Context, trace.Span) {
	if m == nil || m.tracer == nil {
		return ctx, nil
	}
	return m.tracer.Start(ctx, step)
}

func (m *Metrics) endStep(ctx context.Context, span trace.Span, step string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	if span != nil {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("step", step),
		attribute.String("status", status),
	)
	m.stepsTotal.Add(ctx, 1, attrs)
	m.stepDuration.Record(ctx, time.Since(start).Seconds(), attrs)
}

func (m *Metrics) recordRollback(ctx context.Context, step string, code int) {
	if m == nil {
		return
	}
	m.rollbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("step", step),
		attribute.Int("code", code),
	))
}
