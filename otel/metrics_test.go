package otel_test

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	tickerotel "github.com/petal-labs/calticker/otel"
)

func newTestMetrics(t *testing.T) (*tickerotel.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := tickerotel.NewMetrics(provider.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collectSum(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, scope := range rm.ScopeMetrics {
		for _, metric := range scope.Metrics {
			if metric.Name != name {
				continue
			}
			sum, ok := metric.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %s is not an int64 sum: %T", name, metric.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestMetricsRefreshCycle(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RefreshCycle(ctx, 100*time.Millisecond, nil)
	m.RefreshCycle(ctx, 200*time.Millisecond, errors.New("source down"))

	if got := collectSum(t, reader, "calticker.refresh.cycles"); got != 2 {
		t.Errorf("cycles: got %d, want 2", got)
	}
	if got := collectSum(t, reader, "calticker.refresh.failures"); got != 1 {
		t.Errorf("failures: got %d, want 1", got)
	}
}

func TestMetricsBroadcastAndClients(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.BroadcastSend(ctx, nil)
	m.BroadcastSend(ctx, nil)
	m.BroadcastSend(ctx, errors.New("write timeout"))
	m.ClientConnected(ctx, 1)
	m.ClientConnected(ctx, 1)
	m.ClientConnected(ctx, -1)

	if got := collectSum(t, reader, "calticker.broadcast.sends"); got != 3 {
		t.Errorf("sends: got %d, want 3", got)
	}
	if got := collectSum(t, reader, "calticker.broadcast.send_failures"); got != 1 {
		t.Errorf("send failures: got %d, want 1", got)
	}
	if got := collectSum(t, reader, "calticker.clients.connected"); got != 1 {
		t.Errorf("connected clients: got %d, want 1", got)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *tickerotel.Metrics
	ctx := context.Background()

	// Must not panic.
	m.RefreshCycle(ctx, time.Second, nil)
	m.BroadcastSend(ctx, nil)
	m.ClientConnected(ctx, 1)
}
