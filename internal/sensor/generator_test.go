package sensor

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/fluxline/servoloop/internal/telemetry"
)

func TestNextStaysNearBaseline(t *testing.T) {
	g := NewGenerator(GeneratorConfig{
		SensorID: "s1", Kind: telemetry.KindForce, Interval: time.Millisecond,
		BaseValue: 10.0, NoiseLevel: 0.2, DriftFactor: 0.01, AnomalyRate: 0, Seed: 99,
	})

	for i := 0; i < 1000; i++ {
		r := g.Next()
		if r.IsAnomaly {
			t.Fatalf("reading %d flagged anomalous with zero anomaly rate", i)
		}
		if math.Abs(r.Value-10.0) > 5.0 {
			t.Fatalf("reading %d value %v drifted implausibly far from baseline", i, r.Value)
		}
		if r.SensorID != "s1" || r.Kind != telemetry.KindForce {
			t.Fatalf("reading %d has wrong identity: %+v", i, r)
		}
	}
}

func TestAnomalyInjectionRate(t *testing.T) {
	g := NewGenerator(GeneratorConfig{
		SensorID: "s1", Kind: telemetry.KindForce, Interval: time.Millisecond,
		BaseValue: 10.0, NoiseLevel: 0.2, AnomalyRate: 0.01, Seed: 1,
	})

	const n = 10000
	anomalies := 0
	for i := 0; i < n; i++ {
		r := g.Next()
		if r.IsAnomaly {
			anomalies++
			if math.Abs(r.Value) < 2.0*10.0 {
				t.Errorf("anomaly value %v not a clear spike", r.Value)
			}
		}
	}

	// 3-sigma binomial bound around the 1% rate.
	mean := float64(n) * 0.01
	sigma := math.Sqrt(float64(n) * 0.01 * 0.99)
	if float64(anomalies) < mean-3*sigma || float64(anomalies) > mean+3*sigma {
		t.Errorf("anomalies = %d over %d readings, want near %.0f", anomalies, n, mean)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	g := NewGenerator(GeneratorConfig{
		SensorID: "s1", Kind: telemetry.KindForce, Interval: time.Millisecond,
		BaseValue: 10.0, NoiseLevel: 0.1, Seed: 5,
	})

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan telemetry.Reading, 16)
	done := make(chan struct{})
	go func() {
		g.Run(ctx, out)
		close(done)
	}()

	// Let a few readings through, then cancel.
	<-out
	<-out
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("generator did not stop after cancellation")
	}
}

func TestNewArrayCoversAllKinds(t *testing.T) {
	gens := NewArray(ArrayConfig{SampleInterval: time.Millisecond, AnomalyRate: 0.01, Seed: 7})
	if len(gens) != 4 {
		t.Fatalf("array has %d generators, want 4", len(gens))
	}

	seen := map[telemetry.SensorKind]bool{}
	for _, g := range gens {
		seen[g.kind] = true
	}
	for _, kind := range telemetry.Kinds() {
		if !seen[kind] {
			t.Errorf("no generator for kind %s", kind)
		}
	}
}
