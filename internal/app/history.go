package app

import (
	"context"
	"path/filepath"

	"github.com/felixgeelhaar/provision/internal/adapters/filesystem"
	"github.com/felixgeelhaar/provision/internal/adapters/history"
	"github.com/felixgeelhaar/provision/internal/domain/config"
	"github.com/felixgeelhaar/provision/internal/domain/execution"
	"github.com/felixgeelhaar/provision/internal/ports"
)

// openHistory returns the run history. The SQLite file lives on the machine
// running provision, also for remote targets.
func (p *Provision) openHistory(ctx context.Context, cfg *config.HostConfig) (ports.HistoryRepository, func(), error) {
	if p.history != nil {
		return p.history, func() {}, nil
	}

	dsn := cfg.Settings.HistoryPath
	if err := filesystem.NewLocalFileSystem().MkdirAll(filepath.Dir(dsn), 0o700); err != nil {
		return nil, nil, err
	}
	db, err := history.Open(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	return history.NewStore(db), func() { _ = db.Close() }, nil
}

// NewRunRecord converts a finished run for the history store.
func NewRunRecord(host, command string, result *execution.PlanResult) ports.RunRecord {
	record := ports.RunRecord{
		ID:         result.RunID(),
		Host:       host,
		Command:    command,
		ExitCode:   result.ExitCode(),
		Aborted:    result.Aborted(),
		StartedAt:  result.StartedAt(),
		FinishedAt: result.FinishedAt(),
	}
	for _, w := range result.Warnings() {
		record.Warnings = append(record.Warnings, w.Error())
	}
	for _, res := range result.Results() {
		step := ports.StepRecord{
			StepID:     res.StepID().String(),
			Status:     res.Status().String(),
			StartedAt:  res.StartedAt(),
			FinishedAt: res.FinishedAt(),
		}
		if err := res.Error(); err != nil {
			step.Error = err.Error()
		}
		record.Steps = append(record.Steps, step)
	}
	return record
}
