// Package store persists alignment runs to a local SQLite database so past
// sessions can be reviewed after the fact.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/star/polargo/internal/polaralign"
)

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at  TEXT NOT NULL,
	finished_at TEXT,
	latitude    REAL NOT NULL,
	longitude   REAL NOT NULL,
	axis_az     REAL,
	axis_alt    REAL,
	az_error    REAL,
	alt_error   REAL
);

CREATE TABLE IF NOT EXISTS refreshes (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id         INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	at             TEXT NOT NULL,
	az_error       REAL NOT NULL,
	alt_error      REAL NOT NULL,
	az_adjustment  REAL NOT NULL,
	alt_adjustment REAL NOT NULL,
	residual       REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_refreshes_run ON refreshes(run_id);
`

// Run is one alignment session: where and when it ran, and the solved axis
// and pointing error once the session finished.
type Run struct {
	ID         int64                     `json:"id"`
	StartedAt  time.Time                 `json:"started_at"`
	FinishedAt *time.Time                `json:"finished_at,omitempty"`
	Latitude   float64                   `json:"latitude"`
	Longitude  float64                   `json:"longitude"`
	Axis       *polaralign.AxisEstimate  `json:"axis,omitempty"`
	Error      *polaralign.PointingError `json:"error,omitempty"`
}

// Refresh is one recorded refresh iteration within a run.
type Refresh struct {
	ID            int64                    `json:"id"`
	RunID         int64                    `json:"run_id"`
	At            time.Time                `json:"at"`
	Error         polaralign.PointingError `json:"error"`
	AzAdjustment  float64                  `json:"az_adjustment"`
	AltAdjustment float64                  `json:"alt_adjustment"`
	Residual      float64                  `json:"residual"`
}

// Store wraps the SQLite database holding run history.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the run database at path. WAL mode keeps
// writers from blocking the read-side API handlers.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateRun records the start of an alignment session and returns its id.
func (s *Store) CreateRun(ctx context.Context, startedAt time.Time, latDeg, lonDeg float64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (started_at, latitude, longitude) VALUES (?, ?, ?)`,
		encodeTime(startedAt), latDeg, lonDeg,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("run id: %w", err)
	}
	return id, nil
}

// FinishRun records the solved axis and pointing error for a run.
func (s *Store) FinishRun(ctx context.Context, id int64, finishedAt time.Time, axis polaralign.AxisEstimate, perr polaralign.PointingError) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, axis_az = ?, axis_alt = ?, az_error = ?, alt_error = ? WHERE id = ?`,
		encodeTime(finishedAt), axis.Az, axis.Alt, perr.Az, perr.Alt, id,
	)
	if err != nil {
		return fmt.Errorf("finishing run %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finishing run %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("run %d: %w", id, ErrNotFound)
	}
	return nil
}

// AddRefresh appends one refresh iteration to a run's history.
func (s *Store) AddRefresh(ctx context.Context, runID int64, at time.Time, r polaralign.RefreshResult) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO refreshes (run_id, at, az_error, alt_error, az_adjustment, alt_adjustment, residual)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, encodeTime(at), r.Error.Az, r.Error.Alt, r.AzAdjustment, r.AltAdjustment, r.Residual,
	)
	if err != nil {
		return fmt.Errorf("inserting refresh for run %d: %w", runID, err)
	}
	return nil
}

// Run fetches one run by id.
func (s *Store) Run(ctx context.Context, id int64) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, finished_at, latitude, longitude, axis_az, axis_alt, az_error, alt_error
		 FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading run %d: %w", id, err)
	}
	return run, nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, latitude, longitude, axis_az, axis_alt, az_error, alt_error
		 FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

// Refreshes returns a run's refresh history in insertion order.
func (s *Store) Refreshes(ctx context.Context, runID int64) ([]Refresh, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, at, az_error, alt_error, az_adjustment, alt_adjustment, residual
		 FROM refreshes WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing refreshes for run %d: %w", runID, err)
	}
	defer rows.Close()

	var out []Refresh
	for rows.Next() {
		var r Refresh
		var at string
		if err := rows.Scan(&r.ID, &r.RunID, &at, &r.Error.Az, &r.Error.Alt,
			&r.AzAdjustment, &r.AltAdjustment, &r.Residual); err != nil {
			return nil, fmt.Errorf("scanning refresh: %w", err)
		}
		if r.At, err = decodeTime(at); err != nil {
			return nil, fmt.Errorf("scanning refresh: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing refreshes for run %d: %w", runID, err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run        Run
		started    string
		finished   sql.NullString
		axisAz     sql.NullFloat64
		axisAlt    sql.NullFloat64
		azErr      sql.NullFloat64
		altErr     sql.NullFloat64
	)
	if err := row.Scan(&run.ID, &started, &finished, &run.Latitude, &run.Longitude,
		&axisAz, &axisAlt, &azErr, &altErr); err != nil {
		return nil, err
	}
	var err error
	if run.StartedAt, err = decodeTime(started); err != nil {
		return nil, err
	}
	if finished.Valid {
		t, err := decodeTime(finished.String)
		if err != nil {
			return nil, err
		}
		run.FinishedAt = &t
	}
	if axisAz.Valid && axisAlt.Valid {
		run.Axis = &polaralign.AxisEstimate{Az: axisAz.Float64, Alt: axisAlt.Float64}
	}
	if azErr.Valid && altErr.Valid {
		run.Error = &polaralign.PointingError{Az: azErr.Float64, Alt: altErr.Float64}
	}
	return &run, nil
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
