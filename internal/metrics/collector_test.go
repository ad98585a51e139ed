package metrics

import (
	"context"
	"io"
	"log"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/fluxline/servoloop/internal/telemetry"
)

func TestReportAggregation(t *testing.T) {
	c := NewCollector(map[string]time.Duration{
		"op_a": 2 * time.Millisecond,
	})

	c.Record("op_a", 1*time.Millisecond, true)
	c.Record("op_a", 3*time.Millisecond, true)
	c.Record("op_a", 5*time.Millisecond, false)

	report := c.Report()
	got, ok := report["op_a"]
	if !ok {
		t.Fatal("op_a missing from report")
	}

	want := OperationStats{
		Operation:       "op_a",
		Count:           3,
		SuccessRate:     200.0 / 3.0,
		AvgMS:           3.0,
		MinMS:           1.0,
		MaxMS:           5.0,
		JitterMS:        2.0, // sample stddev of {1,3,5}
		MissedDeadlines: 2,   // 3ms and 5ms exceed the 2ms budget
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
}

func TestReportWithoutBudgetCountsNoMisses(t *testing.T) {
	c := NewCollector(map[string]time.Duration{})
	c.Record("unbudgeted", time.Hour, true)

	if got := c.Report()["unbudgeted"].MissedDeadlines; got != 0 {
		t.Errorf("missed deadlines = %d, want 0 for unbudgeted operation", got)
	}
}

func TestSingleSampleJitterIsZero(t *testing.T) {
	c := NewCollector(nil)
	c.Record("op", time.Millisecond, true)

	stats := c.Report()["op"]
	if stats.JitterMS != 0 {
		t.Errorf("jitter = %v, want 0 for a single sample", stats.JitterMS)
	}
	if math.IsNaN(stats.JitterMS) {
		t.Error("jitter is NaN")
	}
}

func TestClearEndsWindow(t *testing.T) {
	c := NewCollector(nil)
	c.Record("op", time.Millisecond, true)
	c.Clear()

	if got := c.Pending(); got != 0 {
		t.Errorf("pending = %d after clear, want 0", got)
	}
	if report := c.Report(); len(report) != 0 {
		t.Errorf("report after clear has %d operations, want 0", len(report))
	}
}

func TestDrainKeepsSamplesForNextWindow(t *testing.T) {
	c := NewCollector(nil)
	c.Record("op", time.Millisecond, true)

	first := c.Drain()
	if got := first["op"].Count; got != 1 {
		t.Fatalf("first window count = %d, want 1", got)
	}

	// A stage records while sinks are still publishing the first window;
	// the sample must land in the next window, not vanish.
	c.Record("op", time.Millisecond, true)

	second := c.Drain()
	if got := second["op"].Count; got != 1 {
		t.Errorf("next window count = %d, want 1", got)
	}
	if got := c.Pending(); got != 0 {
		t.Errorf("pending = %d after drain, want 0", got)
	}
}

func TestConcurrentRecord(t *testing.T) {
	c := NewCollector(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Record(telemetry.OpDataProcessing, time.Microsecond, true)
			}
		}()
	}
	wg.Wait()

	if got := c.Report()[telemetry.OpDataProcessing].Count; got != 800 {
		t.Errorf("count = %d, want 800", got)
	}
}

type captureSink struct {
	mu      sync.Mutex
	reports []map[string]OperationStats
}

func (s *captureSink) Publish(ts time.Time, report map[string]OperationStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, report)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports)
}

func TestRunnerPublishesWindowsAndClears(t *testing.T) {
	c := NewCollector(nil)
	sink := &captureSink{}
	r := NewRunner(RunnerConfig{
		Collector: c,
		Interval:  20 * time.Millisecond,
		Sinks:     []ReportSink{sink},
		Logger:    log.New(io.Discard, "", 0),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx)
		close(done)
	}()

	c.Record("op", time.Millisecond, true)
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	if sink.count() == 0 {
		t.Fatal("runner published no reports")
	}

	// The window was cleared after publication, so a second report cycle
	// with no new samples publishes nothing further about "op".
	total := 0
	for _, rep := range sink.reports {
		total += rep["op"].Count
	}
	if total != 1 {
		t.Errorf("total op samples across reports = %d, want 1 (windowed, not cumulative)", total)
	}
}
