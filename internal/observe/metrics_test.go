package observe

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
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

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordTurn(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTurn(ctx, "committed", 1.5)
	m.RecordTurn(ctx, "committed", 0.5)
	m.RecordTurn(ctx, "inference_failed", 0.1)

	rm := collect(t, reader)

	turns := findMetric(rm, "sprout.turns")
	if turns == nil {
		t.Fatal("sprout.turns not found")
	}
	sum, ok := turns.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("sprout.turns data type = %T", turns.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 3 {
		t.Errorf("total turns = %d, want 3", total)
	}
	if len(sum.DataPoints) != 2 {
		t.Errorf("datapoints = %d, want 2 (one per status)", len(sum.DataPoints))
	}

	if findMetric(rm, "sprout.turn.duration") == nil {
		t.Error("sprout.turn.duration not found")
	}
}

func TestRecordInference(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordInference(ctx, "ollama", 2.0, false)
	m.RecordInference(ctx, "ollama", 0.3, true)

	rm := collect(t, reader)

	errs := findMetric(rm, "sprout.inference.errors")
	if errs == nil {
		t.Fatal("sprout.inference.errors not found")
	}
	sum, ok := errs.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("data type = %T", errs.Data)
	}
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Errorf("error count datapoints = %+v, want single value 1", sum.DataPoints)
	}
}

func TestRecordExperience(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordExperience(ctx, 6, 0, 1)
	m.RecordExperience(ctx, 250, 1, 2)

	rm := collect(t, reader)

	xp := findMetric(rm, "sprout.xp.awarded")
	if xp == nil {
		t.Fatal("sprout.xp.awarded not found")
	}
	if sum := xp.Data.(metricdata.Sum[int64]); sum.DataPoints[0].Value != 256 {
		t.Errorf("xp awarded = %d, want 256", sum.DataPoints[0].Value)
	}

	level := findMetric(rm, "sprout.companion.level")
	if level == nil {
		t.Fatal("sprout.companion.level not found")
	}
	gauge, ok := level.Data.(metricdata.Gauge[int64])
	if !ok {
		t.Fatalf("gauge data type = %T", level.Data)
	}
	if gauge.DataPoints[0].Value != 2 {
		t.Errorf("companion level = %d, want 2", gauge.DataPoints[0].Value)
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics should return the same instance")
	}
}
