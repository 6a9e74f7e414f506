package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "tracelab"

// Metrics holds all TraceLab metric instruments.
type Metrics struct {
	EventsAccepted  metric.Int64Counter
	EventsRejected  metric.Int64Counter
	EventsNotStored metric.Int64Counter
	NotifyFailures  metric.Int64Counter
	ExportDuration  metric.Float64Histogram
	ExportRows      metric.Int64Counter
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.EventsAccepted, err = meter.Int64Counter("tracelab.events.accepted",
		metric.WithDescription("Telemetry records stored and counted"))
	if err != nil {
		return nil, err
	}

	m.EventsRejected, err = meter.Int64Counter("tracelab.events.rejected",
		metric.WithDescription("Telemetry submissions rejected as malformed or from unknown participants"))
	if err != nil {
		return nil, err
	}

	m.EventsNotStored, err = meter.Int64Counter("tracelab.events.not_stored",
		metric.WithDescription("Valid telemetry lost to storage failures"))
	if err != nil {
		return nil, err
	}

	m.NotifyFailures, err = meter.Int64Counter("tracelab.notify.failures",
		metric.WithDescription("Recorded-event notifications that could not be published"))
	if err != nil {
		return nil, err
	}

	m.ExportDuration, err = meter.Float64Histogram("tracelab.export.duration_seconds",
		metric.WithDescription("Report export duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.ExportRows, err = meter.Int64Counter("tracelab.export.rows",
		metric.WithDescription("Rows written by report exports"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Accepted counts a stored record.
func (m *Metrics) Accepted(ctx context.Context, kind string) {
	m.EventsAccepted.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// Rejected counts a refused submission.
func (m *Metrics) Rejected(ctx context.Context, kind, reason string) {
	m.EventsRejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("reason", reason),
	))
}

// NotStored counts a valid submission lost to a storage failure.
func (m *Metrics) NotStored(ctx context.Context, kind string) {
	m.EventsNotStored.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// NotifyFailed counts a failed notification publish.
func (m *Metrics) NotifyFailed(ctx context.Context, kind string) {
	m.NotifyFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// Exported records one finished export.
func (m *Metrics) Exported(ctx context.Context, elapsed time.Duration, rows int, err error) {
	attrs := metric.WithAttributes(attribute.Bool("error", err != nil))
	m.ExportDuration.Record(ctx, elapsed.Seconds(), attrs)
	m.ExportRows.Add(ctx, int64(rows), attrs)
}
