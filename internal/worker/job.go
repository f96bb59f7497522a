package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/nyashahama/bulk-mail-dispatcher/internal/bulkmail"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/db"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/store"
)

// Executor runs a persisted dispatch run. *bulkmail.Service satisfies it.
type Executor interface {
	Resume(ctx context.Context, run db.DispatchRun) (bulkmail.Outcome, error)
}

// RunReader loads dispatch runs.
type RunReader interface {
	GetDispatchRun(ctx context.Context, id uuid.UUID) (db.DispatchRun, error)
}

// Job executes one dispatch run.
type Job struct {
	runs   RunReader
	exec   Executor
	logger *slog.Logger
}

// NewJob constructs a Job with all required dependencies.
func NewJob(runs RunReader, exec Executor, logger *slog.Logger) *Job {
	return &Job{runs: runs, exec: exec, logger: logger}
}

// Run executes a single run:
//
//  1. Load the run and skip it unless it is still pending.
//  2. Hand it to the executor, which claims it, sends and records the outcome.
//
// A run that another worker claimed first is not an error. A dispatch failure
// is returned so the Runner logs it; the run row already holds the failed
// and unsent ids.
func (j *Job) Run(ctx context.Context, runID uuid.UUID) error {
	log := j.logger.With("run_id", runID)

	run, err := j.runs.GetDispatchRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("job: get run: %w", err)
	}
	if run.Status != db.DispatchRunStatusPending {
		log.Debug("job: run already picked up", "status", run.Status)
		return nil
	}

	log.Info("job: starting", "template_id", run.TemplateID, "targets", len(run.Targets))
	out, err := j.exec.Resume(ctx, run)
	if errors.Is(err, store.ErrRunNotPending) {
		log.Debug("job: run claimed elsewhere")
		return nil
	}
	if err != nil {
		return fmt.Errorf("job: execute run: %w", err)
	}

	log.Info("job: run completed",
		"recipients", out.Recipients,
		"sent", len(out.Result.SentIDs),
		"rejected", len(out.Result.Rejected),
	)
	return nil
}
