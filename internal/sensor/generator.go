// Package sensor simulates the sensing source: periodic noisy readings
// with slow baseline drift and occasional injected anomaly spikes.
package sensor

import (
	"context"
	"math/rand"
	"time"

	"github.com/fluxline/servoloop/internal/telemetry"
)

// Recorder receives per-operation timing samples.
type Recorder interface {
	Record(operation string, duration time.Duration, success bool)
}

// Generator produces simulated readings for one sensor. Owned by a single
// goroutine; the embedded rand source is not locked.
type Generator struct {
	sensorID    string
	kind        telemetry.SensorKind
	interval    time.Duration
	noiseLevel  float64
	driftFactor float64
	anomalyRate float64
	spikeMin    float64
	spikeMax    float64

	rng       *rand.Rand
	lastValue float64
	recorder  Recorder
}

// GeneratorConfig describes one simulated sensor.
type GeneratorConfig struct {
	SensorID    string
	Kind        telemetry.SensorKind
	Interval    time.Duration
	BaseValue   float64
	NoiseLevel  float64 // stddev of Gaussian noise
	DriftFactor float64 // random-walk step size of the baseline
	AnomalyRate float64 // probability of an injected spike per reading
	Seed        int64   // 0 seeds from the clock
	Recorder    Recorder
}

// NewGenerator creates a Generator from cfg.
func NewGenerator(cfg GeneratorConfig) *Generator {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{
		sensorID:    cfg.SensorID,
		kind:        cfg.Kind,
		interval:    cfg.Interval,
		noiseLevel:  cfg.NoiseLevel,
		driftFactor: cfg.DriftFactor,
		anomalyRate: cfg.AnomalyRate,
		spikeMin:    3.0,
		spikeMax:    5.0,
		rng:         rand.New(rand.NewSource(seed)),
		lastValue:   cfg.BaseValue,
		recorder:    cfg.Recorder,
	}
}

// Next produces one reading: baseline random walk plus Gaussian noise,
// with an anomaly spike injected at the configured rate.
func (g *Generator) Next() telemetry.Reading {
	start := time.Now()

	drift := (g.rng.Float64() - 0.5) * g.driftFactor
	g.lastValue += drift
	value := g.lastValue + g.rng.NormFloat64()*g.noiseLevel

	isAnomaly := g.rng.Float64() < g.anomalyRate
	if isAnomaly {
		value *= g.spikeMin + g.rng.Float64()*(g.spikeMax-g.spikeMin)
	}

	reading := telemetry.Reading{
		SensorID:    g.sensorID,
		Kind:        g.kind,
		Value:       value,
		TimestampMS: telemetry.NowMillis(),
		IsAnomaly:   isAnomaly,
		Confidence:  1.0, // adjusted by the processor
	}

	if g.recorder != nil {
		g.recorder.Record(telemetry.OpReadingGeneration, time.Since(start), true)
	}
	return reading
}

// Run emits readings on out at the configured interval until ctx is
// cancelled or the consumer disappears. Sending blocks on a full queue, so
// a slow consumer applies backpressure to sampling.
func (g *Generator) Run(ctx context.Context, out chan<- telemetry.Reading) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case out <- g.Next():
			case <-ctx.Done():
				return
			}
		}
	}
}
