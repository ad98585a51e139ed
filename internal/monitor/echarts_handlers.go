package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// handleOperationCharts renders latency line charts (HTML) per operation
// from the archive using go-echarts. Debugging-only endpoint, no auth.
// Query params:
//   - operation (optional; defaults to every archived operation)
//   - window (optional; number of report windows to chart, default 200)
func (ws *WebServer) handleOperationCharts(w http.ResponseWriter, r *http.Request) {
	if ws.archive == nil {
		writeJSONError(w, http.StatusNotFound, "no archive configured")
		return
	}

	window := 200
	if p := r.URL.Query().Get("window"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 && v <= 5000 {
			window = v
		}
	}

	var operations []string
	if op := r.URL.Query().Get("operation"); op != "" {
		operations = []string{op}
	} else {
		var err error
		operations, err = ws.archive.Operations()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list operations: %v", err))
			return
		}
	}
	if len(operations) == 0 {
		writeJSONError(w, http.StatusNotFound, "no operations archived yet")
		return
	}

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.PageTitle = "Loop Operation Latency"

	for _, op := range operations {
		rows, err := ws.archive.RecentStats(op, window)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load stats for %s: %v", op, err))
			return
		}
		if len(rows) == 0 {
			continue
		}

		labels := make([]string, len(rows))
		avg := make([]opts.LineData, len(rows))
		max := make([]opts.LineData, len(rows))
		jitter := make([]opts.LineData, len(rows))
		missed := make([]opts.LineData, len(rows))
		for i, row := range rows {
			labels[i] = row.ReportedAt.Format("15:04:05")
			avg[i] = opts.LineData{Value: row.AvgMS}
			max[i] = opts.LineData{Value: row.MaxMS}
			jitter[i] = opts.LineData{Value: row.JitterMS}
			missed[i] = opts.LineData{Value: row.MissedDeadlines}
		}

		line := charts.NewLine()
		line.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px", Theme: "dark", AssetsHost: echartsAssetsPrefix}),
			charts.WithTitleOpts(opts.Title{Title: op, Subtitle: fmt.Sprintf("last %d report windows", len(rows))}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
			charts.WithYAxisOpts(opts.YAxis{Name: "ms"}),
		)
		line.SetXAxis(labels).
			AddSeries("avg", avg).
			AddSeries("max", max).
			AddSeries("jitter", jitter).
			AddSeries("missed deadlines", missed)
		page.AddCharts(line)
	}

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render charts: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
