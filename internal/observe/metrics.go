// Package observe provides observability primitives for Sprout: OpenTelemetry
// metrics with a Prometheus exporter bridge, plus the provider setup that
// registers them globally.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A package-level
// default [Metrics] instance ([DefaultMetrics]) is provided for convenience;
// tests should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Sprout metrics.
const meterName = "github.com/oakmund/sprout"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// TurnDuration tracks full turn-cycle latency (prompt build through
	// persistence).
	TurnDuration metric.Float64Histogram

	// InferenceDuration tracks the generation call latency alone.
	InferenceDuration metric.Float64Histogram

	// Turns counts turn outcomes. Use with attribute:
	//   attribute.String("status", "committed"|"inference_failed"|"persist_failed")
	Turns metric.Int64Counter

	// InferenceErrors counts generation failures. Use with attribute:
	//   attribute.String("engine", ...)
	InferenceErrors metric.Int64Counter

	// XPAwarded accumulates experience granted across committed turns.
	XPAwarded metric.Int64Counter

	// LevelUps counts level transitions.
	LevelUps metric.Int64Counter

	// CompanionLevel reports the companion's current level.
	CompanionLevel metric.Int64Gauge
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Inference
// against a local model can take tens of seconds, so the tail is long.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TurnDuration, err = m.Float64Histogram("sprout.turn.duration",
		metric.WithDescription("Latency of a full turn cycle."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.InferenceDuration, err = m.Float64Histogram("sprout.inference.duration",
		metric.WithDescription("Latency of the generation engine call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("sprout.turns",
		metric.WithDescription("Total turns by outcome status."),
	); err != nil {
		return nil, err
	}
	if met.InferenceErrors, err = m.Int64Counter("sprout.inference.errors",
		metric.WithDescription("Total generation failures by engine."),
	); err != nil {
		return nil, err
	}
	if met.XPAwarded, err = m.Int64Counter("sprout.xp.awarded",
		metric.WithDescription("Total experience points awarded."),
	); err != nil {
		return nil, err
	}
	if met.LevelUps, err = m.Int64Counter("sprout.level.ups",
		metric.WithDescription("Total level transitions."),
	); err != nil {
		return nil, err
	}
	if met.CompanionLevel, err = m.Int64Gauge("sprout.companion.level",
		metric.WithDescription("Current companion level."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordTurn records a turn outcome with the standard status attribute.
func (m *Metrics) RecordTurn(ctx context.Context, status string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.Turns.Add(ctx, 1, attrs)
	m.TurnDuration.Record(ctx, seconds, attrs)
}

// RecordInference records one generation call.
func (m *Metrics) RecordInference(ctx context.Context, engineName string, seconds float64, failed bool) {
	m.InferenceDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("engine", engineName)))
	if failed {
		m.InferenceErrors.Add(ctx, 1,
			metric.WithAttributes(attribute.String("engine", engineName)))
	}
}

// RecordExperience records the XP outcome of a committed turn.
func (m *Metrics) RecordExperience(ctx context.Context, award int, levelUps int, level int) {
	m.XPAwarded.Add(ctx, int64(award))
	if levelUps > 0 {
		m.LevelUps.Add(ctx, int64(levelUps))
	}
	m.CompanionLevel.Record(ctx, int64(level))
}
