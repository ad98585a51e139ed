// Package report renders periodic operation reports for humans: aligned
// columns on a writer, optionally appended to a log file.
package report

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fluxline/servoloop/internal/metrics"
	"github.com/fluxline/servoloop/internal/monitoring"
)

// Writer publishes reports as aligned text. It satisfies
// metrics.ReportSink.
type Writer struct {
	out io.Writer
	// logFile, when non-empty, receives an appended copy of every report.
	logFile string
}

// Option configures a Writer.
type Option func(*Writer)

// WithLogFile appends every report to the named file.
func WithLogFile(path string) Option {
	return func(w *Writer) { w.logFile = path }
}

// NewWriter renders reports to out (os.Stdout when nil).
func NewWriter(out io.Writer, opts ...Option) *Writer {
	w := &Writer{out: out}
	if w.out == nil {
		w.out = os.Stdout
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Publish renders one report window.
func (w *Writer) Publish(ts time.Time, report map[string]metrics.OperationStats) error {
	text := Render(ts, report)
	if _, err := io.WriteString(w.out, text); err != nil {
		return fmt.Errorf("report: write: %w", err)
	}
	if w.logFile != "" {
		if err := appendFile(w.logFile, text); err != nil {
			// A full disk must not stop the loop.
			monitoring.Logf("report: append to %s: %v", w.logFile, err)
		}
	}
	return nil
}

// Render formats one report window as an aligned table. Operations are
// sorted by name so consecutive reports diff cleanly.
func Render(ts time.Time, report map[string]metrics.OperationStats) string {
	names := make([]string, 0, len(report))
	for name := range report {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	fmt.Fprintf(&sb, "--- Performance Report ---\n")
	fmt.Fprintf(&sb, "Time: %s\n", ts.Format("2006-01-02 15:04:05"))

	tw := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Operation\tTotal\tSuccess%\tAvg(ms)\tMin(ms)\tMax(ms)\tJitter(ms)\tMissed")
	for _, name := range names {
		s := report[name]
		fmt.Fprintf(tw, "%s\t%d\t%.2f\t%.3f\t%.3f\t%.3f\t%.3f\t%d\n",
			s.Operation, s.Count, s.SuccessRate,
			s.AvgMS, s.MinMS, s.MaxMS, s.JitterMS, s.MissedDeadlines)
	}
	tw.Flush()
	fmt.Fprintln(&sb, "---------------------------")
	return sb.String()
}

func appendFile(path, text string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.WriteString(f, text)
	return err
}
