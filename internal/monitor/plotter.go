package monitor

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/fluxline/servoloop/internal/metrics"
)

// DurationPlotter accumulates per-operation latency series over a run and
// renders one PNG time series per operation when the run ends. It
// satisfies metrics.ReportSink.
type DurationPlotter struct {
	mu      sync.Mutex
	start   time.Time
	samples map[string][]durationSample
}

type durationSample struct {
	offset time.Duration // since first window
	avgMS  float64
	maxMS  float64
	jitter float64
}

// NewDurationPlotter creates an empty plotter.
func NewDurationPlotter() *DurationPlotter {
	return &DurationPlotter{samples: make(map[string][]durationSample)}
}

// Publish appends one report window to the series.
func (dp *DurationPlotter) Publish(ts time.Time, report map[string]metrics.OperationStats) error {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if dp.start.IsZero() {
		dp.start = ts
	}
	for op, s := range report {
		dp.samples[op] = append(dp.samples[op], durationSample{
			offset: ts.Sub(dp.start),
			avgMS:  s.AvgMS,
			maxMS:  s.MaxMS,
			jitter: s.JitterMS,
		})
	}
	return nil
}

// WritePlots renders one PNG per operation into outputDir, creating it if
// needed. Operations with fewer than two windows are skipped.
func (dp *DurationPlotter) WritePlots(outputDir string) error {
	dp.mu.Lock()
	defer dp.mu.Unlock()

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("monitor: create plot dir: %w", err)
	}

	var operations []string
	for op := range dp.samples {
		operations = append(operations, op)
	}
	sort.Strings(operations)

	for _, op := range operations {
		samples := dp.samples[op]
		if len(samples) < 2 {
			continue
		}

		p := plot.New()
		p.Title.Text = fmt.Sprintf("%s latency", op)
		p.X.Label.Text = "Elapsed (s)"
		p.Y.Label.Text = "Duration (ms)"

		avgPts := make(plotter.XYs, len(samples))
		maxPts := make(plotter.XYs, len(samples))
		jitterPts := make(plotter.XYs, len(samples))
		for i, s := range samples {
			x := s.offset.Seconds()
			avgPts[i] = plotter.XY{X: x, Y: s.avgMS}
			maxPts[i] = plotter.XY{X: x, Y: s.maxMS}
			jitterPts[i] = plotter.XY{X: x, Y: s.jitter}
		}

		avgLine, err := plotter.NewLine(avgPts)
		if err != nil {
			return fmt.Errorf("monitor: avg line for %s: %w", op, err)
		}
		avgLine.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
		avgLine.Width = vg.Points(1)
		p.Add(avgLine)
		p.Legend.Add("avg", avgLine)

		maxLine, err := plotter.NewLine(maxPts)
		if err != nil {
			return fmt.Errorf("monitor: max line for %s: %w", op, err)
		}
		maxLine.Color = color.RGBA{R: 214, G: 39, B: 40, A: 255}
		maxLine.Width = vg.Points(1)
		p.Add(maxLine)
		p.Legend.Add("max", maxLine)

		jitterLine, err := plotter.NewLine(jitterPts)
		if err != nil {
			return fmt.Errorf("monitor: jitter line for %s: %w", op, err)
		}
		jitterLine.Color = color.RGBA{R: 44, G: 160, B: 44, A: 255}
		jitterLine.Width = vg.Points(1)
		p.Add(jitterLine)
		p.Legend.Add("jitter", jitterLine)

		file := filepath.Join(outputDir, fmt.Sprintf("%s.png", op))
		if err := p.Save(14*vg.Inch, 6*vg.Inch, file); err != nil {
			return fmt.Errorf("monitor: save plot for %s: %w", op, err)
		}
	}
	return nil
}
