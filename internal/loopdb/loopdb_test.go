package loopdb

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/fluxline/servoloop/internal/metrics"
	"github.com/fluxline/servoloop/internal/telemetry"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "loop.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loop.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() error = %v", err)
	}
	db.Close()

	// Reopening must not refuse already-applied migrations.
	db, err = Open(path)
	if err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	db.Close()
}

func TestPublishAndRecentStats(t *testing.T) {
	db := openTestDB(t)

	base := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		report := map[string]metrics.OperationStats{
			"data_processing": {
				Operation: "data_processing", Count: 100 + i, SuccessRate: 99.0,
				AvgMS: 0.5 + float64(i), MinMS: 0.1, MaxMS: 2.0, JitterMS: 0.2,
				MissedDeadlines: i,
			},
			"control_compute": {
				Operation: "control_compute", Count: 200, SuccessRate: 100,
				AvgMS: 0.05, MinMS: 0.01, MaxMS: 0.2, JitterMS: 0.01,
			},
		}
		if err := db.Publish(base.Add(time.Duration(i)*time.Second), report); err != nil {
			t.Fatalf("Publish() window %d error = %v", i, err)
		}
	}

	rows, err := db.RecentStats("data_processing", 10)
	if err != nil {
		t.Fatalf("RecentStats() error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("RecentStats() returned %d rows, want 3", len(rows))
	}
	// Chronological order for plotting.
	for i := 1; i < len(rows); i++ {
		if rows[i].ReportedAt.Before(rows[i-1].ReportedAt) {
			t.Errorf("rows not in chronological order: %v then %v",
				rows[i-1].ReportedAt, rows[i].ReportedAt)
		}
	}
	if rows[2].Count != 102 {
		t.Errorf("newest row count = %d, want 102", rows[2].Count)
	}

	ops, err := db.Operations()
	if err != nil {
		t.Fatalf("Operations() error = %v", err)
	}
	if len(ops) != 2 || ops[0] != "control_compute" || ops[1] != "data_processing" {
		t.Errorf("Operations() = %v, want [control_compute data_processing]", ops)
	}
}

func TestInsertRequestAndOutcomes(t *testing.T) {
	db := openTestDB(t)

	reqs := []struct {
		id, target, outcome string
	}{
		{"req_1", "force_sensor_1", "executed"},
		{"req_2", "force_sensor_1", "expired"},
		{"req_3", "velocity_sensor_1", "executed"},
	}
	for _, r := range reqs {
		req := telemetry.ActuationRequest{
			ID: r.id, TargetID: r.target, Priority: 50,
			Deadline: time.Now().Add(time.Second),
			Command:  telemetry.ControlCommand{Kind: "adjust_position", Value: 1.0},
		}
		if err := db.InsertRequest(req, r.outcome); err != nil {
			t.Fatalf("InsertRequest(%s) error = %v", r.id, err)
		}
	}

	outcomes, err := db.RequestOutcomes()
	if err != nil {
		t.Fatalf("RequestOutcomes() error = %v", err)
	}
	if outcomes["force_sensor_1"]["executed"] != 1 || outcomes["force_sensor_1"]["expired"] != 1 {
		t.Errorf("force_sensor_1 outcomes = %v", outcomes["force_sensor_1"])
	}
	if outcomes["velocity_sensor_1"]["executed"] != 1 {
		t.Errorf("velocity_sensor_1 outcomes = %v", outcomes["velocity_sensor_1"])
	}

	// Duplicate IDs violate the primary key.
	dup := telemetry.ActuationRequest{ID: "req_1", TargetID: "x", Deadline: time.Now()}
	if err := db.InsertRequest(dup, "executed"); err == nil {
		t.Error("InsertRequest() accepted a duplicate request id")
	}
}

func TestAdminRoutesServeTailsql(t *testing.T) {
	db := openTestDB(t)

	mux := http.NewServeMux()
	if err := db.AttachAdminRoutes(mux); err != nil {
		t.Fatalf("AttachAdminRoutes() error = %v", err)
	}

	req := httptest.NewRequest("GET", "/debug/tailsql/", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code == http.StatusNotFound {
		t.Errorf("tailsql route not mounted, got %d", rec.Code)
	}
}
