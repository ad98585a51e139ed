// Package process implements the statistical data processor: it filters
// noisy readings against each sensor's running baseline and flags
// anomalies by z-score.
package process

import (
	"math"
	"sync"
	"time"

	"github.com/fluxline/servoloop/internal/stats"
	"github.com/fluxline/servoloop/internal/telemetry"
)

// Confidence bounds for processed readings. Every code path, including the
// below-minimum-samples pass-through, clamps into this range.
const (
	ConfidenceFloor   = 0.10
	ConfidenceCeiling = 0.95
)

// DefaultMinSamples is the number of readings a sensor must accumulate
// before anomaly detection engages.
const DefaultMinSamples = 10

// Recorder receives per-operation timing samples. The metrics collector
// implements this.
type Recorder interface {
	Record(operation string, duration time.Duration, success bool)
}

// Result carries a processed reading together with the z-score and the
// threshold it was judged against, so downstream stages (the command
// generator) can grade urgency continuously.
type Result struct {
	Reading   telemetry.Reading
	ZScore    float64
	Threshold float64
}

// Processor consumes raw readings, applies the per-sensor running
// statistics and emits filtered readings with anomaly/confidence flags.
//
// The statistics registry is owned by the goroutine that calls Process and
// Recalibrate; only the anomaly thresholds may be adjusted concurrently.
type Processor struct {
	registry   *stats.Registry
	minSamples int
	recorder   Recorder

	mu         sync.RWMutex
	thresholds map[telemetry.SensorKind]float64
}

// Config tunes a Processor. Zero values fall back to defaults.
type Config struct {
	// MinSamples is the minimum accumulated count before anomaly detection
	// engages. Default DefaultMinSamples.
	MinSamples int
	// Thresholds overrides the per-kind z-score thresholds. Kinds left out
	// keep their defaults.
	Thresholds map[telemetry.SensorKind]float64
	// Recorder receives data_processing samples. Optional.
	Recorder Recorder
}

// DefaultThresholds returns the per-kind z-score anomaly thresholds.
func DefaultThresholds() map[telemetry.SensorKind]float64 {
	return map[telemetry.SensorKind]float64{
		telemetry.KindForce:       2.5,
		telemetry.KindPosition:    3.0,
		telemetry.KindVelocity:    2.8,
		telemetry.KindTemperature: 3.5,
	}
}

// FallbackThreshold is used for sensor kinds without a configured threshold.
const FallbackThreshold = 3.0

// NewProcessor creates a Processor with the given configuration.
func NewProcessor(cfg Config) *Processor {
	thresholds := DefaultThresholds()
	for kind, v := range cfg.Thresholds {
		thresholds[kind] = v
	}
	minSamples := cfg.MinSamples
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	return &Processor{
		registry:   stats.NewRegistry(),
		minSamples: minSamples,
		recorder:   cfg.Recorder,
		thresholds: thresholds,
	}
}

// SetThreshold overrides the anomaly threshold for a sensor kind at
// runtime. Safe to call concurrently with Process.
func (p *Processor) SetThreshold(kind telemetry.SensorKind, threshold float64) {
	p.mu.Lock()
	p.thresholds[kind] = threshold
	p.mu.Unlock()
}

// Threshold returns the active threshold for a sensor kind.
func (p *Processor) Threshold(kind telemetry.SensorKind) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if t, ok := p.thresholds[kind]; ok {
		return t
	}
	return FallbackThreshold
}

// Process filters one raw reading and evaluates it for anomaly. It never
// fails: invalid numeric input passes through unfiltered with a failed
// data_processing sample recorded.
//
// The reading's value is replaced with the running mean of its stream; the
// anomaly baseline and the filter deliberately share that statistic. Below
// the minimum sample count the input's anomaly/confidence flags pass
// through (clamped into the confidence bounds).
func (p *Processor) Process(raw telemetry.Reading) Result {
	start := time.Now()
	threshold := p.Threshold(raw.Kind)

	if math.IsNaN(raw.Value) || math.IsInf(raw.Value, 0) {
		// Invalid input is rejected at the boundary: the baseline is left
		// untouched and the reading is marked non-anomalous at floor
		// confidence.
		raw.IsAnomaly = false
		raw.Confidence = ConfidenceFloor
		p.record(start, false)
		return Result{Reading: raw, Threshold: threshold}
	}

	mean, stdDev, count := p.registry.Update(raw.SensorID, raw.Value)

	res := Result{Threshold: threshold}
	rawValue := raw.Value
	raw.Value = mean

	if count >= uint64(p.minSamples) {
		if stdDev == 0 {
			raw.IsAnomaly = false
			raw.Confidence = ConfidenceFloor
		} else {
			z := math.Abs(rawValue-mean) / stdDev
			raw.IsAnomaly = z > threshold
			raw.Confidence = math.Max(ConfidenceFloor, 1.0-math.Min(0.9, z/(threshold*2.0)))
			res.ZScore = z
		}
	}
	raw.Confidence = clampConfidence(raw.Confidence)

	res.Reading = raw
	p.record(start, true)
	return res
}

// Recalibrate resets the running baseline for one sensor stream. Must be
// called from the goroutine that owns this Processor, like Process.
func (p *Processor) Recalibrate(sensorID string) {
	p.registry.Reset(sensorID)
}

func (p *Processor) record(start time.Time, success bool) {
	if p.recorder != nil {
		p.recorder.Record(telemetry.OpDataProcessing, time.Since(start), success)
	}
}

func clampConfidence(c float64) float64 {
	if math.IsNaN(c) || c < ConfidenceFloor {
		return ConfidenceFloor
	}
	if c > ConfidenceCeiling {
		return ConfidenceCeiling
	}
	return c
}
