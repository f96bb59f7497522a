package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"github.com/nyashahama/bulk-mail-dispatcher/internal/db"
)

// ─── INPUT TYPES ─────────────────────────────────────────────────────────────

// CreateRunParams describes a bulk send request to be recorded.
type CreateRunParams struct {
	TemplateID      int64
	DestinationType int16
	Targets         []string
	// Claimed records the run as already sending. Synchronous sends set it so
	// the poller never sees the row as pending.
	Claimed bool
}

// FinishRunParams carries the outcome of a dispatch. A non-nil Err marks the
// run failed and stores the failed and unsent recipient ids.
type FinishRunParams struct {
	ID             uuid.UUID
	RecipientCount int
	SentCount      int
	FailedIDs      []int64
	UnsentIDs      []int64
	Err            error
}

// ─── ERRORS ──────────────────────────────────────────────────────────────────

// ErrTemplateNotDispatchable is returned when a run is requested for a
// template that does not exist or is not a batch sending template.
var ErrTemplateNotDispatchable = errors.New("store: template is not dispatchable")

// ErrRunNotPending is returned by ClaimRun when another worker (or a finished
// dispatch) already moved the run out of pending.
var ErrRunNotPending = errors.New("store: dispatch run is not pending")

// ErrRunInterrupted is the error message recorded on runs that were still
// sending when their process stopped.
var ErrRunInterrupted = errors.New("store: dispatch interrupted before completion")

// ─── METHODS ─────────────────────────────────────────────────────────────────

// CreateRun re-reads the template inside a transaction and records a pending
// run for it, or a sending one when p.Claimed is set.
func (s *Store) CreateRun(ctx context.Context, p CreateRunParams) (db.DispatchRun, error) {
	var run db.DispatchRun

	err := s.withTx(ctx, func(ctx context.Context, q db.Querier) error {
		tpl, err := q.GetMailTemplate(ctx, p.TemplateID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTemplateNotDispatchable
		}
		if err != nil {
			return fmt.Errorf("CreateRun: get template: %w", err)
		}
		if tpl.TemplateType != db.TemplateTypeBatchSending {
			return ErrTemplateNotDispatchable
		}

		created, err := q.CreateDispatchRun(ctx, db.CreateDispatchRunParams{
			ID:              uuid.New(),
			TemplateID:      p.TemplateID,
			DestinationType: p.DestinationType,
			Targets:         p.Targets,
		})
		if err != nil {
			return fmt.Errorf("CreateRun: insert run: %w", err)
		}
		if p.Claimed {
			created, err = q.MarkDispatchRunSending(ctx, created.ID)
			if err != nil {
				return fmt.Errorf("CreateRun: claim run: %w", err)
			}
		}
		run = created
		return nil
	})
	if err != nil {
		return db.DispatchRun{}, err
	}
	return run, nil
}

// ClaimRun moves a pending run to sending. Exactly one caller wins; the rest
// get ErrRunNotPending.
func (s *Store) ClaimRun(ctx context.Context, id uuid.UUID) (db.DispatchRun, error) {
	run, err := s.q.MarkDispatchRunSending(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return db.DispatchRun{}, ErrRunNotPending
	}
	if err != nil {
		return db.DispatchRun{}, fmt.Errorf("store: claim run %s: %w", id, err)
	}
	return run, nil
}

// FinishRun writes the final state of a run.
func (s *Store) FinishRun(ctx context.Context, p FinishRunParams) (db.DispatchRun, error) {
	if p.Err == nil {
		run, err := s.q.CompleteDispatchRun(ctx, db.CompleteDispatchRunParams{
			ID:             p.ID,
			RecipientCount: int32(p.RecipientCount),
			SentCount:      int32(p.SentCount),
		})
		if err != nil {
			return db.DispatchRun{}, fmt.Errorf("store: complete run %s: %w", p.ID, err)
		}
		return run, nil
	}

	failed, err := idList(p.FailedIDs)
	if err != nil {
		return db.DispatchRun{}, fmt.Errorf("store: encode failed ids: %w", err)
	}
	unsent, err := idList(p.UnsentIDs)
	if err != nil {
		return db.DispatchRun{}, fmt.Errorf("store: encode unsent ids: %w", err)
	}

	run, err := s.q.FailDispatchRun(ctx, db.FailDispatchRunParams{
		ID:             p.ID,
		RecipientCount: int32(p.RecipientCount),
		SentCount:      int32(p.SentCount),
		FailedIds:      failed,
		UnsentIds:      unsent,
		ErrorMessage:   sql.NullString{String: p.Err.Error(), Valid: true},
	})
	if err != nil {
		return db.DispatchRun{}, fmt.Errorf("store: fail run %s: %w", p.ID, err)
	}
	return run, nil
}

// FailStaleRuns marks runs that have been sending for longer than maxAge as
// failed. A process that dies mid-dispatch leaves its run in sending; nothing
// else moves it out. Recipient ids are unknown at that point, so the id lists
// stay empty.
func (s *Store) FailStaleRuns(ctx context.Context, maxAge time.Duration) ([]db.DispatchRun, error) {
	runs, err := s.q.FailStaleDispatchRuns(ctx, db.FailStaleDispatchRunsParams{
		StartedBefore: time.Now().Add(-maxAge),
		ErrorMessage:  ErrRunInterrupted.Error(),
	})
	if err != nil {
		return nil, fmt.Errorf("store: fail stale runs: %w", err)
	}
	return runs, nil
}

// DecodeIDs reads a jsonb id list written by FinishRun. NULL decodes to nil.
func DecodeIDs(m pqtype.NullRawMessage) ([]int64, error) {
	if !m.Valid || len(m.RawMessage) == 0 {
		return nil, nil
	}
	var ids []int64
	if err := json.Unmarshal(m.RawMessage, &ids); err != nil {
		return nil, fmt.Errorf("store: decode ids: %w", err)
	}
	return ids, nil
}

func idList(ids []int64) (pqtype.NullRawMessage, error) {
	if ids == nil {
		ids = []int64{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return pqtype.NullRawMessage{}, err
	}
	return pqtype.NullRawMessage{RawMessage: raw, Valid: true}, nil
}
