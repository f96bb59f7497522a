// Package worker executes dispatch runs in the background. The api package
// schedules a run and calls Enqueue; the Runner picks it up from an
// in-process channel, and a poller recovers runs left pending by a restart.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nyashahama/bulk-mail-dispatcher/internal/db"
)

// ─── ENQUEUER INTERFACE ───────────────────────────────────────────────────────

// Enqueuer is the narrow interface the api package uses to hand off a
// scheduled run. In tests, any struct with an Enqueue method satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, runID uuid.UUID) error
}

// ErrQueueFull is returned by Enqueue when the channel buffer is exhausted.
// The run stays pending and the poller picks it up.
var ErrQueueFull = errors.New("worker: queue is full, run will be picked up by poller")

// ─── RUNNER ───────────────────────────────────────────────────────────────────

// RunnerConfig holds tuning parameters for the Runner. Zero fields take the
// values from DefaultRunnerConfig.
type RunnerConfig struct {
	// Workers is the number of concurrent job goroutines. Default: 1, so two
	// runs never compete for the provider's send quota.
	Workers int

	// PollInterval is how often ListPendingDispatchRuns is checked for runs
	// missed by the channel. Default: 30s.
	PollInterval time.Duration

	// JobTimeout bounds the lookups before sending starts. Sending itself is
	// not cancelled once started. Default: 30 minutes.
	JobTimeout time.Duration

	// PollBatch is the maximum number of pending runs fetched per poll.
	// Default: 20.
	PollBatch int32
}

// DefaultRunnerConfig returns safe production defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Workers:      1,
		PollInterval: 30 * time.Second,
		JobTimeout:   30 * time.Minute,
		PollBatch:    20,
	}
}

// PendingLister lists runs waiting for a worker.
type PendingLister interface {
	ListPendingDispatchRuns(ctx context.Context, limit int32) ([]db.DispatchRun, error)
}

// JobRunner executes one run. *Job satisfies it.
type JobRunner interface {
	Run(ctx context.Context, runID uuid.UUID) error
}

// Runner manages a pool of worker goroutines fed by Enqueue and the poller.
// Jobs are never retried: a failed run keeps its failed and unsent ids for
// an operator to act on.
type Runner struct {
	job    JobRunner
	q      PendingLister
	cfg    RunnerConfig
	logger *slog.Logger

	queue chan uuid.UUID
	wg    sync.WaitGroup
}

// NewRunner constructs a Runner. Call Start() to begin processing.
func NewRunner(job JobRunner, q PendingLister, cfg RunnerConfig, logger *slog.Logger) *Runner {
	def := DefaultRunnerConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = def.JobTimeout
	}
	if cfg.PollBatch <= 0 {
		cfg.PollBatch = def.PollBatch
	}

	return &Runner{
		job:    job,
		q:      q,
		cfg:    cfg,
		logger: logger,
		queue:  make(chan uuid.UUID, int(cfg.PollBatch)+cfg.Workers*2),
	}
}

// Enqueue pushes runID onto the in-process channel without blocking.
func (r *Runner) Enqueue(_ context.Context, runID uuid.UUID) error {
	select {
	case r.queue <- runID:
		r.logger.Info("worker: enqueued run", "run_id", runID)
		return nil
	default:
		return ErrQueueFull
	}
}

// Start launches the worker pool and the fallback poller. It blocks until ctx
// is cancelled.
//
//	go runner.Start(ctx)
func (r *Runner) Start(ctx context.Context) {
	r.logger.Info("worker: starting", "workers", r.cfg.Workers, "poll_interval", r.cfg.PollInterval)

	for i := range r.cfg.Workers {
		r.wg.Add(1)
		go r.work(ctx, i)
	}

	r.wg.Add(1)
	go r.poll(ctx)

	r.wg.Wait()
	r.logger.Info("worker: stopped")
}

func (r *Runner) work(ctx context.Context, id int) {
	defer r.wg.Done()
	log := r.logger.With("worker_id", id)
	log.Info("worker: goroutine started")

	for {
		select {
		case <-ctx.Done():
			log.Info("worker: goroutine stopping")
			return
		case runID := <-r.queue:
			r.runOnce(ctx, runID, log)
		}
	}
}

// poll checks the database on PollInterval for pending runs that were not
// delivered via the channel.
func (r *Runner) poll(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	// Once immediately on startup to pick up anything from before a restart.
	r.pollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pollOnce(ctx)
		}
	}
}

func (r *Runner) pollOnce(ctx context.Context) {
	runs, err := r.q.ListPendingDispatchRuns(ctx, r.cfg.PollBatch)
	if err != nil {
		r.logger.Error("worker: poll failed", "error", err)
		return
	}
	for _, run := range runs {
		select {
		case r.queue <- run.ID:
			r.logger.Debug("worker: poller enqueued run", "run_id", run.ID)
		default:
			// Queue full; next poll cycle.
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, runID uuid.UUID, log *slog.Logger) {
	jobCtx, cancel := context.WithTimeout(ctx, r.cfg.JobTimeout)
	defer cancel()

	start := time.Now()
	if err := r.job.Run(jobCtx, runID); err != nil {
		log.Error("worker: run failed", "run_id", runID, "error", err, "elapsed", time.Since(start))
		return
	}
	log.Info("worker: run finished", "run_id", runID, "elapsed", time.Since(start))
}
