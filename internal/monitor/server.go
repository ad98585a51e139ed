// Package monitor is the loop's HTTP ops surface: latest report JSON,
// debug charts rendered from the archive, and PNG time-series plots
// written at shutdown.
package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/fluxline/servoloop/internal/loopdb"
	"github.com/fluxline/servoloop/internal/metrics"
	"github.com/fluxline/servoloop/internal/monitoring"
)

// WebServer serves the monitor endpoints. It satisfies metrics.ReportSink
// so the metrics runner can feed it the latest window directly.
type WebServer struct {
	addr    string
	archive *loopdb.DB

	mu         sync.RWMutex
	latest     map[string]metrics.OperationStats
	latestTime time.Time
}

// NewWebServer creates a monitor bound to addr. archive may be nil, in
// which case the chart and debug endpoints report unavailability.
func NewWebServer(addr string, archive *loopdb.DB) *WebServer {
	return &WebServer{addr: addr, archive: archive}
}

// Publish retains the newest report window for /api/stats.
func (ws *WebServer) Publish(ts time.Time, report map[string]metrics.OperationStats) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.latest = report
	ws.latestTime = ts
	return nil
}

// Handler builds the monitor's route table.
func (ws *WebServer) Handler() (http.Handler, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", ws.handleHealth)
	mux.HandleFunc("/api/stats", ws.handleStats)
	mux.HandleFunc("/charts/operations", ws.handleOperationCharts)
	if ws.archive != nil {
		mux.HandleFunc("/api/requests", ws.handleRequestOutcomes)
		if err := ws.archive.AttachAdminRoutes(mux); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

// Run serves until ctx is cancelled, then drains with a short grace
// period.
func (ws *WebServer) Run(ctx context.Context) error {
	handler, err := ws.Handler()
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              ws.addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		monitoring.Logf("monitor: listening on %s", ws.addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStats returns the most recent report window.
func (ws *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	ws.mu.RLock()
	latest, ts := ws.latest, ws.latestTime
	ws.mu.RUnlock()

	if latest == nil {
		writeJSONError(w, http.StatusNotFound, "no report window published yet")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reported_at": ts,
		"operations":  latest,
	})
}

func (ws *WebServer) handleRequestOutcomes(w http.ResponseWriter, r *http.Request) {
	outcomes, err := ws.archive.RequestOutcomes()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, outcomes)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("monitor: encode response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
