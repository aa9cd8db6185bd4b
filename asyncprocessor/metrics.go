package asyncprocessor

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const metricPrefix = "asyncprocessor."

type processorMetrics struct {
	submitted metric.Int64Counter
	rejected  metric.Int64Counter
	attempts  metric.Int64Counter
	completed metric.Int64Counter
}

func newProcessorMetrics(meter metric.Meter, queueDepth func() int) (m *processorMetrics, err error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("")
	}

	m = &processorMetrics{}

	m.submitted, err = meter.Int64Counter(
		metricPrefix+"submitted",
		metric.WithDescription("Number of events accepted into the queue."),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create submitted counter: %w", err)
	}

	m.rejected, err = meter.Int64Counter(
		metricPrefix+"rejected",
		metric.WithDescription("Number of events rejected at submission time."),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rejected counter: %w", err)
	}

	m.attempts, err = meter.Int64Counter(
		metricPrefix+"attempts",
		metric.WithDescription("Number of delivery attempts made through the transport."),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create attempts counter: %w", err)
	}

	m.completed, err = meter.Int64Counter(
		metricPrefix+"completed",
		metric.WithDescription("Number of events whose delivery completed, by outcome."),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create completed counter: %w", err)
	}

	_, err = meter.Int64ObservableGauge(
		metricPrefix+"queue.depth",
		metric.WithDescription("Number of events waiting in the queue."),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(queueDepth()))
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue depth gauge: %w", err)
	}

	return m, nil
}

func (m *processorMetrics) recordSubmitted() {
	m.submitted.Add(context.Background(), 1)
}

func (m *processorMetrics) recordRejected(err error) {
	var reason string
	switch {
	case errors.Is(err, ErrQueueFull):
		reason = "queue_full"
	case errors.Is(err, ErrNilTransport):
		reason = "nil_transport"
	default:
		reason = "invalid_event"
	}
	m.rejected.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

func (m *processorMetrics) recordAttempt() {
	m.attempts.Add(context.Background(), 1)
}

func (m *processorMetrics) recordCompleted(success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.completed.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}
