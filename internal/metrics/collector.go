// Package metrics aggregates per-operation timing samples into windowed
// statistical reports: success rate, duration spread, jitter and latency
// budget overruns.
package metrics

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/fluxline/servoloop/internal/telemetry"
)

// OperationStats is the aggregate for one named operation over a single
// reporting window. Recomputed every report cycle; never cumulative.
type OperationStats struct {
	Operation       string  `json:"operation"`
	Count           int     `json:"count"`
	SuccessRate     float64 `json:"success_rate"` // percentage, 0-100
	AvgMS           float64 `json:"avg_ms"`
	MinMS           float64 `json:"min_ms"`
	MaxMS           float64 `json:"max_ms"`
	JitterMS        float64 `json:"jitter_ms"` // stddev of durations in the window
	MissedDeadlines int     `json:"missed_deadlines"`
}

// DefaultBudgets returns the per-operation latency budgets compared
// against observed durations when counting deadline misses.
func DefaultBudgets() map[string]time.Duration {
	return map[string]time.Duration{
		telemetry.OpDataProcessing:   2 * time.Millisecond,
		telemetry.OpDataTransmission: 1 * time.Millisecond,
		telemetry.OpControlCompute:   1 * time.Millisecond,
		telemetry.OpCommandExecution: 5 * time.Millisecond,
	}
}

// Collector accumulates OperationSamples and produces windowed reports.
// Safe for concurrent use by every pipeline stage.
type Collector struct {
	mu      sync.Mutex
	samples map[string][]telemetry.OperationSample
	budgets map[string]time.Duration
}

// NewCollector creates a Collector with the given latency budgets. A nil
// budgets map falls back to DefaultBudgets.
func NewCollector(budgets map[string]time.Duration) *Collector {
	if budgets == nil {
		budgets = DefaultBudgets()
	}
	return &Collector{
		samples: make(map[string][]telemetry.OperationSample),
		budgets: budgets,
	}
}

// Record appends one sample for the named operation.
func (c *Collector) Record(operation string, duration time.Duration, success bool) {
	c.Add(telemetry.OperationSample{
		Operation: operation,
		Timestamp: time.Now(),
		Duration:  duration,
		Success:   success,
	})
}

// Add appends a pre-built sample.
func (c *Collector) Add(s telemetry.OperationSample) {
	c.mu.Lock()
	c.samples[s.Operation] = append(c.samples[s.Operation], s)
	c.mu.Unlock()
}

// Report aggregates the samples of the current window into per-operation
// stats without ending the window. Operations with no samples are omitted.
func (c *Collector) Report() map[string]OperationStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aggregate(c.samples)
}

// Drain atomically takes the current window's samples and aggregates them.
// Samples recorded after the swap belong to the next window, so nothing a
// stage records while sinks publish the returned report is lost.
func (c *Collector) Drain() map[string]OperationStats {
	c.mu.Lock()
	window := c.samples
	c.samples = make(map[string][]telemetry.OperationSample, len(window))
	c.mu.Unlock()
	return c.aggregate(window)
}

// aggregate computes per-operation stats for one window. Budgets are
// immutable after construction, so no lock is needed to read them.
func (c *Collector) aggregate(window map[string][]telemetry.OperationSample) map[string]OperationStats {
	report := make(map[string]OperationStats, len(window))
	for op, samples := range window {
		if len(samples) == 0 {
			continue
		}

		durations := make([]float64, len(samples))
		successes := 0
		missed := 0
		budget, hasBudget := c.budgets[op]
		for i, s := range samples {
			durations[i] = float64(s.Duration) / float64(time.Millisecond)
			if s.Success {
				successes++
			}
			if hasBudget && s.Duration > budget {
				missed++
			}
		}

		min, max := durations[0], durations[0]
		for _, d := range durations[1:] {
			if d < min {
				min = d
			}
			if d > max {
				max = d
			}
		}

		jitter := 0.0
		if len(durations) > 1 {
			jitter = stat.StdDev(durations, nil)
		}

		report[op] = OperationStats{
			Operation:       op,
			Count:           len(samples),
			SuccessRate:     float64(successes) / float64(len(samples)) * 100.0,
			AvgMS:           stat.Mean(durations, nil),
			MinMS:           min,
			MaxMS:           max,
			JitterMS:        jitter,
			MissedDeadlines: missed,
		}
	}
	return report
}

// Clear drops all samples, ending the current window.
func (c *Collector) Clear() {
	c.mu.Lock()
	for op := range c.samples {
		c.samples[op] = c.samples[op][:0]
	}
	c.mu.Unlock()
}

// Pending returns the number of buffered samples across all operations.
func (c *Collector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.samples {
		n += len(s)
	}
	return n
}
