package sensor

import (
	"context"
	"sync"
	"time"

	"github.com/fluxline/servoloop/internal/telemetry"
)

// ArrayConfig describes the simulated sensor array.
type ArrayConfig struct {
	// SampleInterval is the base sampling period. Temperature samples at
	// half this rate, matching real plants where thermal state moves
	// slowly.
	SampleInterval time.Duration
	// AnomalyRate is the injected spike probability per reading.
	AnomalyRate float64
	// Seed makes the array deterministic for tests; 0 seeds from the clock.
	Seed int64
	// Recorder receives sensor_reading_generation samples. Optional.
	Recorder Recorder
}

// NewArray builds the standard simulation set: one sensor per kind with
// plant-plausible baselines and noise.
func NewArray(cfg ArrayConfig) []*Generator {
	seed := func(i int64) int64 {
		if cfg.Seed == 0 {
			return 0
		}
		return cfg.Seed + i
	}
	return []*Generator{
		NewGenerator(GeneratorConfig{
			SensorID: "force_sensor_1", Kind: telemetry.KindForce,
			Interval: cfg.SampleInterval, BaseValue: 10.0, NoiseLevel: 0.2,
			DriftFactor: 0.01, AnomalyRate: cfg.AnomalyRate, Seed: seed(1), Recorder: cfg.Recorder,
		}),
		NewGenerator(GeneratorConfig{
			SensorID: "position_sensor_1", Kind: telemetry.KindPosition,
			Interval: cfg.SampleInterval, BaseValue: 100.0, NoiseLevel: 0.5,
			DriftFactor: 0.005, AnomalyRate: cfg.AnomalyRate, Seed: seed(2), Recorder: cfg.Recorder,
		}),
		NewGenerator(GeneratorConfig{
			SensorID: "velocity_sensor_1", Kind: telemetry.KindVelocity,
			Interval: cfg.SampleInterval, BaseValue: 50.0, NoiseLevel: 0.4,
			DriftFactor: 0.008, AnomalyRate: cfg.AnomalyRate, Seed: seed(3), Recorder: cfg.Recorder,
		}),
		NewGenerator(GeneratorConfig{
			SensorID: "temp_sensor_1", Kind: telemetry.KindTemperature,
			Interval: 2 * cfg.SampleInterval, BaseValue: 25.0, NoiseLevel: 0.1,
			DriftFactor: 0.002, AnomalyRate: cfg.AnomalyRate, Seed: seed(4), Recorder: cfg.Recorder,
		}),
	}
}

// RunArray runs every generator on its own goroutine, all feeding out,
// and blocks until ctx is cancelled and they have stopped.
func RunArray(ctx context.Context, generators []*Generator, out chan<- telemetry.Reading) {
	var wg sync.WaitGroup
	for _, g := range generators {
		wg.Add(1)
		go func(g *Generator) {
			defer wg.Done()
			g.Run(ctx, out)
		}(g)
	}
	wg.Wait()
}
