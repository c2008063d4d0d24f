// Package metrics holds the OpenTelemetry instruments recorded by the bridge.
//
// Instruments are created from a [metric.MeterProvider] by [New]. The
// process-wide instance returned by [Default] uses the global provider,
// which is a no-op until [InitProvider] installs the Prometheus exporter.
// Tests should build their own with an SDK provider and a manual reader.
package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/jrwynneiii/dsdtuner"

// Cycle outcomes, recorded as the "outcome" attribute on Cycles.
const (
	OutcomeComplete = "complete"
	OutcomeShort    = "short"
	OutcomeZero     = "zero"
	OutcomeStalled  = "stalled"
	OutcomeError    = "error"
)

type Metrics struct {
	// CycleDuration is the time Work spent waiting on the decoder.
	CycleDuration metric.Float64Histogram

	// Cycles counts Work calls by outcome.
	Cycles metric.Int64Counter

	// SamplesIn and SamplesOut count samples handed to and returned by the
	// decoder. Zero blocks are not counted.
	SamplesIn  metric.Int64Counter
	SamplesOut metric.Int64Counter

	// Pending is 1 while a stalled cycle is still owed by the decoder.
	Pending metric.Int64UpDownCounter
}

// Decode cycles of a few hundred samples take well under a millisecond; a
// stalled engine shows up in the top buckets.
var cycleBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.1, 0.5, 1,
}

func New(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CycleDuration, err = m.Float64Histogram("dsdtuner.bridge.cycle.duration",
		metric.WithDescription("Time spent waiting for the decoder to finish a cycle."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(cycleBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Cycles, err = m.Int64Counter("dsdtuner.bridge.cycles",
		metric.WithDescription("Bridge work calls by outcome."),
	); err != nil {
		return nil, err
	}
	if met.SamplesIn, err = m.Int64Counter("dsdtuner.bridge.samples.in",
		metric.WithDescription("Discriminator samples handed to the decoder."),
	); err != nil {
		return nil, err
	}
	if met.SamplesOut, err = m.Int64Counter("dsdtuner.bridge.samples.out",
		metric.WithDescription("PCM samples produced by the decoder."),
	); err != nil {
		return nil, err
	}
	if met.Pending, err = m.Int64UpDownCounter("dsdtuner.bridge.pending",
		metric.WithDescription("Stalled cycles still owed by the decoder."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// Default returns the process-wide Metrics built on the global provider.
func Default() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = New(otel.GetMeterProvider())
		if err != nil {
			panic("metrics: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordCycle records one Work call. frame is the resolved frame mode name.
func (m *Metrics) RecordCycle(ctx context.Context, frame, outcome string, wait time.Duration, in, out int) {
	attrs := metric.WithAttributes(
		attribute.String("frame_mode", frame),
		attribute.String("outcome", outcome),
	)
	m.Cycles.Add(ctx, 1, attrs)
	if outcome == OutcomeZero {
		return
	}

	m.CycleDuration.Record(ctx, wait.Seconds(), metric.WithAttributes(attribute.String("frame_mode", frame)))
	m.SamplesIn.Add(ctx, int64(in))
	m.SamplesOut.Add(ctx, int64(out))
}
