package metrics

import (
	"context"
	"log"
	"time"
)

// ReportSink consumes one reporting window's aggregated stats. Sinks are
// expected to be fast; a slow sink delays the next window boundary rather
// than dropping data.
type ReportSink interface {
	Publish(ts time.Time, report map[string]OperationStats) error
}

// Runner drives a Collector on a fixed wall-clock cadence, publishing each
// window to the configured sinks and clearing the samples afterwards.
type Runner struct {
	collector *Collector
	interval  time.Duration
	sinks     []ReportSink
	logger    *log.Logger
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	// Collector holding the samples. Required.
	Collector *Collector
	// Interval is the reporting cadence, e.g. 1s. Required, must be > 0.
	Interval time.Duration
	// Sinks receive every non-empty report.
	Sinks []ReportSink
	// Logger is optional; if nil, uses log.Default().
	Logger *log.Logger
}

// NewRunner creates a Runner from cfg.
func NewRunner(cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		collector: cfg.Collector,
		interval:  cfg.Interval,
		sinks:     cfg.Sinks,
		logger:    logger,
	}
}

// Run publishes reports until ctx is cancelled, flushing a final partial
// window on the way out. Returns nil on clean shutdown.
func (r *Runner) Run(ctx context.Context) error {
	if r.interval <= 0 {
		r.logger.Printf("metrics runner: interval is zero or negative, not starting")
		return nil
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Printf("metrics runner started: interval=%v sinks=%d", r.interval, len(r.sinks))
	for {
		select {
		case <-ctx.Done():
			r.flush()
			r.logger.Printf("metrics runner stopped")
			return nil
		case <-ticker.C:
			r.flush()
		}
	}
}

func (r *Runner) flush() {
	report := r.collector.Drain()
	if len(report) == 0 {
		return
	}
	ts := time.Now()
	for _, sink := range r.sinks {
		if err := sink.Publish(ts, report); err != nil {
			r.logger.Printf("metrics runner: sink publish failed: %v", err)
		}
	}
}
