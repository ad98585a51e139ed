package control

import (
	"context"
	"log"
	"sync/atomic"
	"time"
)

// Scheduler invokes a task at a fixed interval independent of input
// arrival jitter. When a tick runs late the scheduler does not replay the
// missed work: it logs the miss, resynchronises the schedule to the
// current time and continues. Missed work is lost by policy
// (catch-up-by-skipping).
type Scheduler struct {
	interval time.Duration
	logger   *log.Logger
	onMiss   func(lateBy time.Duration)
	misses   atomic.Uint64
	ticks    atomic.Uint64
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	// Interval between task invocations. Required, must be > 0.
	Interval time.Duration
	// Logger is optional; if nil, uses log.Default().
	Logger *log.Logger
	// OnMiss is called with the overrun amount whenever a tick starts
	// late. Optional.
	OnMiss func(lateBy time.Duration)
}

// NewScheduler creates a Scheduler from cfg.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		interval: cfg.Interval,
		logger:   logger,
		onMiss:   cfg.OnMiss,
	}
}

// Run executes task once per interval until ctx is cancelled. The task
// receives the wall-clock time of its tick. Returns ctx.Err() on
// cancellation.
//
// Schedule discipline: next = next + interval after every tick. If the
// task overruns, the next tick fires immediately and next resynchronises
// to "now" — the scheduler never queues multiple catch-up ticks.
func (s *Scheduler) Run(ctx context.Context, task func(now time.Time)) error {
	if s.interval <= 0 {
		s.logger.Printf("Scheduler: interval is zero or negative, not starting")
		return nil
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	// Drain the immediate first fire so the loop below owns the timer.
	<-timer.C

	next := time.Now()
	for {
		next = next.Add(s.interval)

		task(time.Now())
		s.ticks.Add(1)

		now := time.Now()
		if next.After(now) {
			timer.Reset(next.Sub(now))
			select {
			case <-ctx.Done():
				s.logger.Printf("Scheduler stopping: %v", ctx.Err())
				return ctx.Err()
			case <-timer.C:
			}
		} else {
			lateBy := now.Sub(next)
			s.misses.Add(1)
			if s.onMiss != nil {
				s.onMiss(lateBy)
			}
			s.logger.Printf("Scheduler: tick overran by %v, resynchronising", lateBy)
			next = now

			select {
			case <-ctx.Done():
				s.logger.Printf("Scheduler stopping: %v", ctx.Err())
				return ctx.Err()
			default:
			}
		}
	}
}

// Ticks returns the number of task invocations so far.
func (s *Scheduler) Ticks() uint64 { return s.ticks.Load() }

// Misses returns the number of ticks that started late.
func (s *Scheduler) Misses() uint64 { return s.misses.Load() }
