// Package history keeps past qualification runs in a local sqlite database so
// results of the same drive can be compared across firmware levels.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ftahirops/nvmequal/engine"
	"github.com/ftahirops/nvmequal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id       TEXT PRIMARY KEY,
	drive    TEXT NOT NULL,
	serial   TEXT NOT NULL,
	model    TEXT NOT NULL,
	firmware TEXT NOT NULL,
	started  INTEGER NOT NULL,
	finished INTEGER NOT NULL,
	passed   INTEGER NOT NULL,
	failed   INTEGER NOT NULL,
	ignored  INTEGER NOT NULL,
	aborted  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS runs_drive ON runs (drive, started);
CREATE TABLE IF NOT EXISTS outcomes (
	run_id   TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	name     TEXT NOT NULL,
	outcome  TEXT NOT NULL,
	log      TEXT NOT NULL,
	PRIMARY KEY (run_id, position)
);`

// Run is one stored qualification run.
type Run struct {
	ID       string
	Drive    model.DriveIdentity
	Started  time.Time
	Finished time.Time
	Passed   int
	Failed   int
	Ignored  int
	Aborted  string
	Outcomes []Outcome
}

// Outcome is the stored result of one procedure, in run order.
type Outcome struct {
	Name    string
	Outcome model.Outcome
	Log     string
}

// FromSummary converts a harness summary of the given drive.
func FromSummary(drive model.DriveIdentity, s *engine.Summary) Run {
	r := Run{
		ID:       s.RunID,
		Drive:    drive,
		Started:  s.Started,
		Finished: s.Finished,
		Passed:   s.Passed,
		Failed:   s.Failed,
		Ignored:  s.Ignored,
	}
	if s.Aborted != nil {
		r.Aborted = s.Aborted.Error()
	}
	for _, e := range s.Entries {
		r.Outcomes = append(r.Outcomes, Outcome{Name: e.Name, Outcome: e.Outcome, Log: e.Log})
	}
	return r
}

// Store is a sqlite backed run history.
type Store struct {
	db *sql.DB
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	// one writer; sqlite serialises anyway
	db.SetMaxOpenConns(1)
	for _, stmt := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000", schema} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init history %s: %w", path, err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores a run and its outcomes in one transaction.
func (s *Store) Save(ctx context.Context, r Run) (err error) {
	if r.ID == "" {
		return errors.New("history: run has no id")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
INSERT INTO runs (id, drive, serial, model, firmware, started, finished, passed, failed, ignored, aborted)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Drive.Name, r.Drive.Serial, r.Drive.Model, r.Drive.Firmware,
		r.Started.UnixNano(), r.Finished.UnixNano(), r.Passed, r.Failed, r.Ignored, r.Aborted)
	if err != nil {
		return fmt.Errorf("save run %s: %w", r.ID, err)
	}
	for i, o := range r.Outcomes {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO outcomes (run_id, position, name, outcome, log) VALUES (?, ?, ?, ?, ?)`,
			r.ID, i, o.Name, o.Outcome.String(), o.Log)
		if err != nil {
			return fmt.Errorf("save outcome %s of run %s: %w", o.Name, r.ID, err)
		}
	}
	return tx.Commit()
}

// Runs returns the stored runs of a drive, newest first. An empty drive
// returns every run.
func (s *Store) Runs(ctx context.Context, drive string) ([]Run, error) {
	q := `SELECT id, drive, serial, model, firmware, started, finished, passed, failed, ignored, aborted FROM runs`
	var args []any
	if drive != "" {
		q += ` WHERE drive = ?`
		args = append(args, drive)
	}
	q += ` ORDER BY started DESC, id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	var runs []Run
	for rows.Next() {
		var (
			r                 Run
			started, finished int64
		)
		if err := rows.Scan(&r.ID, &r.Drive.Name, &r.Drive.Serial, &r.Drive.Model, &r.Drive.Firmware,
			&started, &finished, &r.Passed, &r.Failed, &r.Ignored, &r.Aborted); err != nil {
			rows.Close()
			return nil, err
		}
		r.Started = time.Unix(0, started)
		r.Finished = time.Unix(0, finished)
		runs = append(runs, r)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// outcomes are read after the runs cursor is closed; the pool has one connection
	for i := range runs {
		if runs[i].Outcomes, err = s.outcomes(ctx, runs[i].ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (s *Store) outcomes(ctx context.Context, runID string) ([]Outcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, outcome, log FROM outcomes WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var (
			o    Outcome
			text string
		)
		if err := rows.Scan(&o.Name, &text, &o.Log); err != nil {
			return nil, err
		}
		if err := o.Outcome.UnmarshalText([]byte(text)); err != nil {
			return nil, fmt.Errorf("run %s: %w", runID, err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
