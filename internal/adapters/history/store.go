package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/provision/internal/ports"
)

const timeLayout = time.RFC3339Nano

// Store implements ports.HistoryRepository on SQLite.
type Store struct {
	DB *sql.DB
}

// NewStore wraps an opened database.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}

// Save inserts a run and its steps in one transaction.
func (s *Store) Save(ctx context.Context, run ports.RunRecord) error {
	warnings, err := json.Marshal(nonNil(run.Warnings))
	if err != nil {
		return fmt.Errorf("marshal warnings: %w", err)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, host, command, exit_code, aborted, warnings, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Host, run.Command, run.ExitCode, run.Aborted, string(warnings),
		formatTime(run.StartedAt), formatTime(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}

	for i, step := range run.Steps {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO run_steps (run_id, position, step_id, status, error, started_at, finished_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.ID, i, step.StepID, step.Status, step.Error,
			formatTime(step.StartedAt), formatTime(step.FinishedAt),
		)
		if err != nil {
			return fmt.Errorf("insert step %s: %w", step.StepID, err)
		}
	}
	return tx.Commit()
}

// Get loads one run with its steps.
func (s *Store) Get(ctx context.Context, id string) (ports.RunRecord, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, host, command, exit_code, aborted, warnings, started_at, finished_at
		 FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ports.RunRecord{}, fmt.Errorf("run %q: %w", id, ports.ErrRunNotFound)
	}
	if err != nil {
		return ports.RunRecord{}, err
	}
	run.Steps, err = s.steps(ctx, id)
	if err != nil {
		return ports.RunRecord{}, err
	}
	return run, nil
}

// List returns the most recent runs first, without their steps.
func (s *Store) List(ctx context.Context, limit int) ([]ports.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, host, command, exit_code, aborted, warnings, started_at, finished_at
		 FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []ports.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *Store) steps(ctx context.Context, runID string) ([]ports.StepRecord, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT step_id, status, error, started_at, finished_at
		 FROM run_steps WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("list steps of %s: %w", runID, err)
	}
	defer func() { _ = rows.Close() }()

	var steps []ports.StepRecord
	for rows.Next() {
		var (
			step              ports.StepRecord
			started, finished string
		)
		if err := rows.Scan(&step.StepID, &step.Status, &step.Error, &started, &finished); err != nil {
			return nil, err
		}
		if step.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if step.FinishedAt, err = parseTime(finished); err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (ports.RunRecord, error) {
	var (
		run               ports.RunRecord
		warnings          string
		started, finished string
	)
	if err := row.Scan(&run.ID, &run.Host, &run.Command, &run.ExitCode, &run.Aborted, &warnings, &started, &finished); err != nil {
		return ports.RunRecord{}, err
	}
	if err := json.Unmarshal([]byte(warnings), &run.Warnings); err != nil {
		return ports.RunRecord{}, fmt.Errorf("decode warnings of %s: %w", run.ID, err)
	}
	var err error
	if run.StartedAt, err = parseTime(started); err != nil {
		return ports.RunRecord{}, err
	}
	if run.FinishedAt, err = parseTime(finished); err != nil {
		return ports.RunRecord{}, err
	}
	return run, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ ports.HistoryRepository = (*Store)(nil)
