package worker_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyashahama/bulk-mail-dispatcher/internal/bulkmail"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/db"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/dispatch"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/store"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/worker"
)

// ─── STUBS ────────────────────────────────────────────────────────────────────

type stubRuns struct {
	runs map[uuid.UUID]db.DispatchRun
}

func (s stubRuns) GetDispatchRun(_ context.Context, id uuid.UUID) (db.DispatchRun, error) {
	r, ok := s.runs[id]
	if !ok {
		return db.DispatchRun{}, errors.New("not found")
	}
	return r, nil
}

type stubExecutor struct {
	err     error
	resumed []uuid.UUID
}

func (e *stubExecutor) Resume(_ context.Context, run db.DispatchRun) (bulkmail.Outcome, error) {
	e.resumed = append(e.resumed, run.ID)
	if e.err != nil {
		return bulkmail.Outcome{RunID: run.ID}, e.err
	}
	return bulkmail.Outcome{RunID: run.ID, Result: dispatch.Result{State: dispatch.StateCompleted}}, nil
}

// recordingJob signals every run it receives.
type recordingJob struct {
	mu   sync.Mutex
	seen []uuid.UUID
	done chan uuid.UUID
}

func (j *recordingJob) Run(_ context.Context, id uuid.UUID) error {
	j.mu.Lock()
	j.seen = append(j.seen, id)
	j.mu.Unlock()
	j.done <- id
	return nil
}

type stubPending struct {
	runs []db.DispatchRun
}

func (p stubPending) ListPendingDispatchRuns(_ context.Context, _ int32) ([]db.DispatchRun, error) {
	return p.runs, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ─── Job ──────────────────────────────────────────────────────────────────────

func TestJob_ResumesPendingRun(t *testing.T) {
	id := uuid.New()
	exec := &stubExecutor{}
	job := worker.NewJob(stubRuns{runs: map[uuid.UUID]db.DispatchRun{
		id: {ID: id, Status: db.DispatchRunStatusPending},
	}}, exec, discardLogger())

	require.NoError(t, job.Run(context.Background(), id))
	assert.Equal(t, []uuid.UUID{id}, exec.resumed)
}

func TestJob_SkipsRunNoLongerPending(t *testing.T) {
	id := uuid.New()
	exec := &stubExecutor{}
	job := worker.NewJob(stubRuns{runs: map[uuid.UUID]db.DispatchRun{
		id: {ID: id, Status: db.DispatchRunStatusCompleted},
	}}, exec, discardLogger())

	require.NoError(t, job.Run(context.Background(), id))
	assert.Empty(t, exec.resumed)
}

func TestJob_LostClaimIsNotAnError(t *testing.T) {
	id := uuid.New()
	exec := &stubExecutor{err: store.ErrRunNotPending}
	job := worker.NewJob(stubRuns{runs: map[uuid.UUID]db.DispatchRun{
		id: {ID: id, Status: db.DispatchRunStatusPending},
	}}, exec, discardLogger())

	assert.NoError(t, job.Run(context.Background(), id))
}

func TestJob_DispatchFailureIsReturned(t *testing.T) {
	id := uuid.New()
	exec := &stubExecutor{err: dispatch.ErrDispatchFailed}
	job := worker.NewJob(stubRuns{runs: map[uuid.UUID]db.DispatchRun{
		id: {ID: id, Status: db.DispatchRunStatusPending},
	}}, exec, discardLogger())

	err := job.Run(context.Background(), id)
	assert.ErrorIs(t, err, dispatch.ErrDispatchFailed)
	assert.Len(t, exec.resumed, 1, "runs are never retried")
}

func TestJob_MissingRun(t *testing.T) {
	job := worker.NewJob(stubRuns{}, &stubExecutor{}, discardLogger())
	assert.Error(t, job.Run(context.Background(), uuid.New()))
}

// ─── Runner ───────────────────────────────────────────────────────────────────

func TestRunner_ProcessesEnqueuedAndPolledRuns(t *testing.T) {
	polled := uuid.New()
	enqueued := uuid.New()
	job := &recordingJob{done: make(chan uuid.UUID, 4)}
	r := worker.NewRunner(job, stubPending{runs: []db.DispatchRun{{ID: polled}}},
		worker.RunnerConfig{PollInterval: time.Hour}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(stopped)
	}()

	require.NoError(t, r.Enqueue(ctx, enqueued))

	got := map[uuid.UUID]bool{}
	for range 2 {
		select {
		case id := <-job.done:
			got[id] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for runs")
		}
	}
	assert.True(t, got[polled])
	assert.True(t, got[enqueued])

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestRunner_EnqueueNeverBlocks(t *testing.T) {
	r := worker.NewRunner(&recordingJob{done: make(chan uuid.UUID, 1)}, stubPending{},
		worker.RunnerConfig{PollBatch: 1, Workers: 1}, discardLogger())

	var err error
	for range 10 {
		if err = r.Enqueue(context.Background(), uuid.New()); err != nil {
			break
		}
	}
	assert.ErrorIs(t, err, worker.ErrQueueFull)
}
