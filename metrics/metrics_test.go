package metrics

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := New(mp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumValue(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	m := findMetric(rm, name)
	if m == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q data is %T, want Sum[int64]", name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestRecordCycle(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCycle(ctx, "dmr", OutcomeComplete, 2*time.Millisecond, 6144, 1024)
	m.RecordCycle(ctx, "dmr", OutcomeShort, time.Millisecond, 6144, 1000)
	m.RecordCycle(ctx, "dmr", OutcomeZero, 0, 6144, 1024)

	rm := collect(t, reader)

	if got := sumValue(t, rm, "dsdtuner.bridge.cycles"); got != 3 {
		t.Errorf("cycles = %d, want 3", got)
	}
	// Zero blocks never reach the decoder, so they add no samples.
	if got := sumValue(t, rm, "dsdtuner.bridge.samples.in"); got != 2*6144 {
		t.Errorf("samples.in = %d, want %d", got, 2*6144)
	}
	if got := sumValue(t, rm, "dsdtuner.bridge.samples.out"); got != 2024 {
		t.Errorf("samples.out = %d, want 2024", got)
	}

	hm := findMetric(rm, "dsdtuner.bridge.cycle.duration")
	if hm == nil {
		t.Fatal("cycle duration histogram not found")
	}
	hist, ok := hm.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("histogram data is %T", hm.Data)
	}
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	if count != 2 {
		t.Errorf("histogram count = %d, want 2", count)
	}
}

func TestCyclesByOutcome(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCycle(ctx, "auto", OutcomeStalled, time.Second, 60, 0)
	m.RecordCycle(ctx, "auto", OutcomeComplete, time.Millisecond, 60, 10)
	m.RecordCycle(ctx, "auto", OutcomeComplete, time.Millisecond, 60, 10)

	rm := collect(t, reader)
	sum := findMetric(rm, "dsdtuner.bridge.cycles").Data.(metricdata.Sum[int64])

	byOutcome := map[string]int64{}
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value("outcome")
		byOutcome[v.AsString()] += dp.Value
	}
	if byOutcome[OutcomeStalled] != 1 || byOutcome[OutcomeComplete] != 2 {
		t.Errorf("by outcome = %v", byOutcome)
	}
}

func TestDefault(t *testing.T) {
	if Default() == nil || Default() != Default() {
		t.Error("Default() must return one shared instance")
	}
}
