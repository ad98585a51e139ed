// Package loopdb archives operation reports and actuation requests in
// sqlite, with embedded migrations and operator debug routes.
package loopdb

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/fluxline/servoloop/internal/metrics"
	"github.com/fluxline/servoloop/internal/monitoring"
	"github.com/fluxline/servoloop/internal/telemetry"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps the sqlite archive. It satisfies metrics.ReportSink, so the
// metrics runner can write straight into it.
type DB struct {
	*sql.DB
	path string
}

// Open opens (or creates) the archive at path and applies any pending
// migrations.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("loopdb: open %s: %w", path, err)
	}
	// modernc sqlite allows one writer; the runner and request recorder
	// share this pool.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{DB: sqlDB, path: path}
	if err := db.migrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loopdb: load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("loopdb: create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("loopdb: create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	// Not closing m: that would close the underlying DB connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("loopdb: migration up failed: %w", err)
	}
	return nil
}

// migrateLogger routes golang-migrate output through the package logger.
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool { return false }

// Publish archives one reporting window, one row per operation.
func (db *DB) Publish(ts time.Time, report map[string]metrics.OperationStats) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("loopdb: begin report insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO operation_stats (
		reported_at, operation, count, success_rate,
		avg_ms, min_ms, max_ms, jitter_ms, missed_deadlines
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("loopdb: prepare report insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range report {
		if _, err := stmt.Exec(ts, s.Operation, s.Count, s.SuccessRate,
			s.AvgMS, s.MinMS, s.MaxMS, s.JitterMS, s.MissedDeadlines); err != nil {
			return fmt.Errorf("loopdb: insert stats for %s: %w", s.Operation, err)
		}
	}
	return tx.Commit()
}

// InsertRequest archives one actuation request and its outcome
// ("executed" or "expired").
func (db *DB) InsertRequest(req telemetry.ActuationRequest, outcome string) error {
	_, err := db.Exec(`INSERT INTO actuation_requests (
		request_id, target_id, priority, deadline,
		command_kind, command_value, outcome
	) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.TargetID, req.Priority, req.Deadline,
		req.Command.Kind, req.Command.Value, outcome)
	if err != nil {
		return fmt.Errorf("loopdb: insert request %s: %w", req.ID, err)
	}
	return nil
}

// StatsRow is one archived operation_stats record.
type StatsRow struct {
	ReportedAt      time.Time
	Operation       string
	Count           int
	SuccessRate     float64
	AvgMS           float64
	MinMS           float64
	MaxMS           float64
	JitterMS        float64
	MissedDeadlines int
}

// RecentStats returns the newest rows for one operation, oldest first.
func (db *DB) RecentStats(operation string, limit int) ([]StatsRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT reported_at, operation, count, success_rate,
			avg_ms, min_ms, max_ms, jitter_ms, missed_deadlines
		FROM operation_stats WHERE operation = ?
		ORDER BY reported_at DESC LIMIT ?`, operation, limit)
	if err != nil {
		return nil, fmt.Errorf("loopdb: query stats for %s: %w", operation, err)
	}
	defer rows.Close()

	var out []StatsRow
	for rows.Next() {
		var r StatsRow
		if err := rows.Scan(&r.ReportedAt, &r.Operation, &r.Count, &r.SuccessRate,
			&r.AvgMS, &r.MinMS, &r.MaxMS, &r.JitterMS, &r.MissedDeadlines); err != nil {
			return nil, fmt.Errorf("loopdb: scan stats row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loopdb: iterate stats rows: %w", err)
	}
	// Reverse into chronological order for plotting.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Operations returns the distinct operation names in the archive.
func (db *DB) Operations() ([]string, error) {
	rows, err := db.Query(`SELECT DISTINCT operation FROM operation_stats ORDER BY operation`)
	if err != nil {
		return nil, fmt.Errorf("loopdb: query operations: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("loopdb: scan operation name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// RequestOutcomes returns outcome counts per target, for the ops surface.
func (db *DB) RequestOutcomes() (map[string]map[string]int, error) {
	rows, err := db.Query(`SELECT target_id, outcome, COUNT(*)
		FROM actuation_requests GROUP BY target_id, outcome`)
	if err != nil {
		return nil, fmt.Errorf("loopdb: query request outcomes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[string]int)
	for rows.Next() {
		var target, outcome string
		var n int
		if err := rows.Scan(&target, &outcome, &n); err != nil {
			return nil, fmt.Errorf("loopdb: scan outcome row: %w", err)
		}
		if out[target] == nil {
			out[target] = make(map[string]int)
		}
		out[target][outcome] = n
	}
	return out, rows.Err()
}
