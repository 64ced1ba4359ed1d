package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/outletwatch/internal/model"

	_ "modernc.org/sqlite"
)

const createRunsTable = `
CREATE TABLE IF NOT EXISTS runs (
    id            TEXT PRIMARY KEY,
    status        TEXT NOT NULL,
    triggered_by  TEXT NOT NULL,
    total_outlets INTEGER NOT NULL DEFAULT 0,
    total_checked INTEGER NOT NULL DEFAULT 0,
    histogram     TEXT,
    error         TEXT NOT NULL DEFAULT '',
    duration_ms   INTEGER,
    created_at    DATETIME NOT NULL,
    started_at    DATETIME,
    finished_at   DATETIME
)`

const createResultsTable = `
CREATE TABLE IF NOT EXISTS results (
    run_id     TEXT NOT NULL REFERENCES runs(id),
    outlet_id  TEXT NOT NULL,
    status     TEXT NOT NULL,
    username   TEXT NOT NULL,
    attempts   INTEGER NOT NULL,
    failed     INTEGER NOT NULL,
    checked_at DATETIME NOT NULL,
    UNIQUE(run_id, outlet_id)
)`

// schema lists the tables in creation order. results references runs.
var schema = []struct {
	table string
	ddl   string
}{
	{"runs", createRunsTable},
	{"results", createResultsTable},
}

const runColumns = `id, status, triggered_by, total_outlets, total_checked, histogram,
	error, duration_ms, created_at, started_at, finished_at`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A private in-memory database exists per connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, t := range schema {
		if _, err := db.Exec(t.ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("create %s table: %w", t.table, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new run record.
func (s *SQLiteStore) CreateRun(ctx context.Context, r *model.Run) error {
	hist, err := encodeHistogram(r.Histogram)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Status, r.Trigger, r.TotalOutlets, r.TotalChecked, hist,
		r.Error, r.DurationMS, r.CreatedAt, r.StartedAt, r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*model.Run, error) {
	r := &model.Run{}
	var hist sql.NullString
	if err := sc.Scan(
		&r.ID, &r.Status, &r.Trigger, &r.TotalOutlets, &r.TotalChecked, &hist,
		&r.Error, &r.DurationMS, &r.CreatedAt, &r.StartedAt, &r.FinishedAt,
	); err != nil {
		return nil, err
	}
	if hist.Valid && hist.String != "" {
		if err := json.Unmarshal([]byte(hist.String), &r.Histogram); err != nil {
			return nil, fmt.Errorf("decode histogram: %w", err)
		}
	}
	return r, nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns a paginated list of runs ordered by created_at DESC,
// along with the total count of all runs.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*model.Run, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, total, nil
}

// currentStatus reads a run's status inside tx.
func currentStatus(ctx context.Context, tx *sql.Tx, id string) (string, error) {
	var status string
	err := tx.QueryRowContext(ctx, "SELECT status FROM runs WHERE id = ?", id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read run status: %w", err)
	}
	return status, nil
}

// UpdateRunStatus validates and applies a status transition. Moving to
// running sets started_at; terminal statuses set finished_at.
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, id, status string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	from, err := currentStatus(ctx, tx, id)
	if err != nil {
		return err
	}
	if !model.ValidTransition(from, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, status)
	}

	now := time.Now().UTC()
	switch {
	case status == model.RunRunning:
		_, err = tx.ExecContext(ctx, "UPDATE runs SET status = ?, started_at = ? WHERE id = ?", status, now, id)
	case model.Terminal(status):
		_, err = tx.ExecContext(ctx, "UPDATE runs SET status = ?, finished_at = ? WHERE id = ?", status, now, id)
	default:
		_, err = tx.ExecContext(ctx, "UPDATE runs SET status = ? WHERE id = ?", status, id)
	}
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	return tx.Commit()
}

// UpdateRun writes the mutable fields of r after validating its status
// transition.
func (s *SQLiteStore) UpdateRun(ctx context.Context, r *model.Run) error {
	hist, err := encodeHistogram(r.Histogram)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	from, err := currentStatus(ctx, tx, r.ID)
	if err != nil {
		return err
	}
	if from != r.Status && !model.ValidTransition(from, r.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, r.Status)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE runs SET status = ?, total_outlets = ?, total_checked = ?, histogram = ?,
			error = ?, duration_ms = ?, started_at = COALESCE(?, started_at),
			finished_at = COALESCE(?, finished_at)
		WHERE id = ?`,
		r.Status, r.TotalOutlets, r.TotalChecked, hist,
		r.Error, r.DurationMS, r.StartedAt, r.FinishedAt, r.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return tx.Commit()
}

// FailStaleRuns marks runs left pending or running by a previous process as
// failed and returns how many were updated.
func (s *SQLiteStore) FailStaleRuns(ctx context.Context, reason string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE status IN (?, ?)`,
		model.RunFailed, reason, time.Now().UTC(), model.RunPending, model.RunRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("fail stale runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return int(n), nil
}

// InsertResults stores a run's results in one transaction. A second result for
// the same outlet in the same run violates the unique constraint and rolls
// the whole batch back.
func (s *SQLiteStore) InsertResults(ctx context.Context, runID string, results []model.Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := currentStatus(ctx, tx, runID); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO results (run_id, outlet_id, status, username, attempts, failed, checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert result: %w", err)
	}
	defer stmt.Close()

	for _, r := range results {
		if _, err := stmt.ExecContext(ctx, runID, r.OutletID, r.Status, r.Username, r.Attempts, r.Failed, r.CheckedAt); err != nil {
			return fmt.Errorf("insert result %q: %w", r.OutletID, err)
		}
	}
	return tx.Commit()
}

// GetResults returns a run's results ordered by outlet id.
func (s *SQLiteStore) GetResults(ctx context.Context, runID string) ([]model.Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, outlet_id, status, username, attempts, failed, checked_at
		FROM results WHERE run_id = ? ORDER BY outlet_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("get results: %w", err)
	}
	defer rows.Close()

	var results []model.Result
	for rows.Next() {
		var r model.Result
		if err := rows.Scan(&r.RunID, &r.OutletID, &r.Status, &r.Username, &r.Attempts, &r.Failed, &r.CheckedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return results, nil
}

// GetRunStats computes aggregate statistics over runs and results.
func (s *SQLiteStore) GetRunStats(ctx context.Context) (*RunStats, error) {
	stats := &RunStats{
		RunsByStatus:    make(map[string]int),
		ResultsByStatus: make(map[string]int),
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var avg sql.NullFloat64
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*), AVG(duration_ms) FROM runs",
	).Scan(&stats.TotalRuns, &avg); err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}
	if avg.Valid {
		stats.AvgDurationMS = avg.Float64
	}

	if err := countBy(ctx, tx, "SELECT status, COUNT(*) FROM runs GROUP BY status", stats.RunsByStatus); err != nil {
		return nil, err
	}
	if err := countBy(ctx, tx, "SELECT status, COUNT(*) FROM results GROUP BY status", stats.ResultsByStatus); err != nil {
		return nil, err
	}
	for _, n := range stats.ResultsByStatus {
		stats.TotalResults += n
	}
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM results WHERE failed = 1",
	).Scan(&stats.FailedResults); err != nil {
		return nil, fmt.Errorf("count failed results: %w", err)
	}

	return stats, nil
}

func countBy(ctx context.Context, tx *sql.Tx, query string, into map[string]int) error {
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("group counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan group count: %w", err)
		}
		into[key] = n
	}
	return rows.Err()
}

func encodeHistogram(h map[string]int) (any, error) {
	if len(h) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("encode histogram: %w", err)
	}
	return string(b), nil
}
