// Package command turns anomalous readings into prioritised actuation
// requests with deadlines graded by urgency.
package command

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/fluxline/servoloop/internal/telemetry"
)

// Defaults for the urgency grading knobs.
const (
	DefaultBasePriority = 10
	DefaultPriorityGain = 20.0
	DefaultHorizon      = 2000 * time.Millisecond
	DefaultMinWindow    = 100 * time.Millisecond
)

// Config tunes request generation. Zero values fall back to defaults.
type Config struct {
	// BasePriority is the priority assigned at zero urgency.
	BasePriority uint8
	// PriorityGain scales the z-score contribution to priority. The result
	// is clamped to [BasePriority, 255].
	PriorityGain float64
	// Horizon is the deadline window at zero urgency. Higher z-scores
	// shrink the window, never below MinWindow.
	Horizon time.Duration
	// MinWindow bounds how tight an urgent deadline may get.
	MinWindow time.Duration
	// Now supplies the clock; defaults to time.Now. Injectable for tests.
	Now func() time.Time
}

// Generator emits at most one ActuationRequest per anomalous reading.
type Generator struct {
	basePriority uint8
	priorityGain float64
	horizon      time.Duration
	minWindow    time.Duration
	now          func() time.Time
}

// NewGenerator creates a Generator from cfg.
func NewGenerator(cfg Config) *Generator {
	g := &Generator{
		basePriority: cfg.BasePriority,
		priorityGain: cfg.PriorityGain,
		horizon:      cfg.Horizon,
		minWindow:    cfg.MinWindow,
		now:          cfg.Now,
	}
	if g.basePriority == 0 {
		g.basePriority = DefaultBasePriority
	}
	if g.priorityGain <= 0 {
		g.priorityGain = DefaultPriorityGain
	}
	if g.horizon <= 0 {
		g.horizon = DefaultHorizon
	}
	if g.minWindow <= 0 {
		g.minWindow = DefaultMinWindow
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

// Generate returns a request for an anomalous reading, or nil otherwise.
// zScore and threshold come from the processor's evaluation of the reading
// and grade the request's priority and deadline continuously: a spike twice
// the threshold gets a higher priority and a tighter deadline than one just
// past it.
func (g *Generator) Generate(r telemetry.Reading, zScore, threshold float64) *telemetry.ActuationRequest {
	if !r.IsAnomaly {
		return nil
	}

	now := g.now()
	return &telemetry.ActuationRequest{
		ID:       fmt.Sprintf("req_%s", uuid.NewString()),
		TargetID: r.SensorID,
		Command: telemetry.ControlCommand{
			Kind:        "adjust_position",
			Payload:     fmt.Sprintf("sensor=%s kind=%s", r.SensorID, r.Kind),
			TimestampMS: uint64(now.UnixMilli()),
			Value:       r.Value,
		},
		Priority: g.priority(zScore),
		Deadline: now.Add(g.window(zScore, threshold)),
	}
}

// priority maps a z-score onto [base, 255].
func (g *Generator) priority(z float64) uint8 {
	if math.IsNaN(z) || z < 0 {
		z = 0
	}
	p := float64(g.basePriority) + g.priorityGain*z
	if p > 255 {
		return 255
	}
	return uint8(p)
}

// window shrinks the deadline horizon as urgency grows:
// horizon / (1 + z/threshold), floored at the minimum window.
func (g *Generator) window(z, threshold float64) time.Duration {
	if threshold <= 0 || math.IsNaN(z) || z <= 0 {
		return g.horizon
	}
	w := time.Duration(float64(g.horizon) / (1 + z/threshold))
	if w < g.minWindow {
		return g.minWindow
	}
	return w
}
