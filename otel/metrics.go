// Package otel provides OpenTelemetry integration for the calendar ticker:
// pipeline metrics and an OTLP trace exporter bootstrap.
package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records refresh-pipeline and broadcast instrumentation. A nil
// *Metrics is valid and records nothing, so callers never need to guard
// instrumentation sites.
type Metrics struct {
	refreshCycles   metric.Int64Counter
	refreshFailures metric.Int64Counter
	refreshDuration metric.Float64Histogram
	broadcastSends  metric.Int64Counter
	sendFailures    metric.Int64Counter
	clients         metric.Int64UpDownCounter
}

// NewMetrics creates the ticker pipeline instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	cycles, err := meter.Int64Counter("calticker.refresh.cycles",
		metric.WithDescription("Number of refresh cycles attempted"),
	)
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter("calticker.refresh.failures",
		metric.WithDescription("Number of refresh cycles that failed"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram("calticker.refresh.duration",
		metric.WithDescription("Duration of a refresh cycle in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	sends, err := meter.Int64Counter("calticker.broadcast.sends",
		metric.WithDescription("Number of snapshot messages sent to clients"),
	)
	if err != nil {
		return nil, err
	}

	sendFailures, err := meter.Int64Counter("calticker.broadcast.send_failures",
		metric.WithDescription("Number of snapshot sends that failed"),
	)
	if err != nil {
		return nil, err
	}

	clients, err := meter.Int64UpDownCounter("calticker.clients.connected",
		metric.WithDescription("Number of currently connected display clients"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		refreshCycles:   cycles,
		refreshFailures: failures,
		refreshDuration: duration,
		broadcastSends:  sends,
		sendFailures:    sendFailures,
		clients:         clients,
	}, nil
}

// RefreshCycle records one completed refresh attempt.
func (m *Metrics) RefreshCycle(ctx context.Context, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("success", err == nil))
	m.refreshCycles.Add(ctx, 1, attrs)
	m.refreshDuration.Record(ctx, elapsed.Seconds(), attrs)
	if err != nil {
		m.refreshFailures.Add(ctx, 1)
	}
}

// BroadcastSend records one snapshot send attempt to a client.
func (m *Metrics) BroadcastSend(ctx context.Context, err error) {
	if m == nil {
		return
	}
	m.broadcastSends.Add(ctx, 1)
	if err != nil {
		m.sendFailures.Add(ctx, 1)
	}
}

// ClientConnected adjusts the connected-client gauge by delta.
func (m *Metrics) ClientConnected(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.clients.Add(ctx, delta)
}
