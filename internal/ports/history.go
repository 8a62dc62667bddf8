package ports

import (
	"context"
	"errors"
	"time"
)

// ErrRunNotFound is returned by HistoryRepository.Get for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// StepRecord is the persisted outcome of one step.
type StepRecord struct {
	StepID     string
	Status     string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// RunRecord is the persisted outcome of one plan run.
type RunRecord struct {
	ID         string
	Host       string
	Command    string
	ExitCode   int
	Aborted    bool
	Warnings   []string
	StartedAt  time.Time
	FinishedAt time.Time
	Steps      []StepRecord
}

// HistoryRepository stores run records.
type HistoryRepository interface {
	Save(ctx context.Context, run RunRecord) error
	Get(ctx context.Context, id string) (RunRecord, error)
	// List returns the most recent runs first, at most limit of them.
	List(ctx context.Context, limit int) ([]RunRecord, error)
}
