package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"
)

const dispatchRunColumns = `id, template_id, destination_type, targets, status,
       recipient_count, sent_count, failed_ids, unsent_ids, error_message,
       started_at, finished_at, created_at, updated_at`

func scanDispatchRun(row interface{ Scan(...any) error }) (DispatchRun, error) {
	var i DispatchRun
	err := row.Scan(
		&i.ID,
		&i.TemplateID,
		&i.DestinationType,
		pq.Array(&i.Targets),
		&i.Status,
		&i.RecipientCount,
		&i.SentCount,
		&i.FailedIds,
		&i.UnsentIds,
		&i.ErrorMessage,
		&i.StartedAt,
		&i.FinishedAt,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createDispatchRun = `
INSERT INTO dispatch_runs (id, template_id, destination_type, targets)
VALUES ($1, $2, $3, $4)
RETURNING ` + dispatchRunColumns

type CreateDispatchRunParams struct {
	ID              uuid.UUID
	TemplateID      int64
	DestinationType int16
	Targets         []string
}

func (q *Queries) CreateDispatchRun(ctx context.Context, arg CreateDispatchRunParams) (DispatchRun, error) {
	row := q.db.QueryRowContext(ctx, createDispatchRun,
		arg.ID,
		arg.TemplateID,
		arg.DestinationType,
		pq.Array(arg.Targets),
	)
	return scanDispatchRun(row)
}

const getDispatchRun = `
SELECT ` + dispatchRunColumns + `
FROM dispatch_runs
WHERE id = $1
`

func (q *Queries) GetDispatchRun(ctx context.Context, id uuid.UUID) (DispatchRun, error) {
	return scanDispatchRun(q.db.QueryRowContext(ctx, getDispatchRun, id))
}

const markDispatchRunSending = `
UPDATE dispatch_runs
SET status = 'sending', started_at = now(), updated_at = now()
WHERE id = $1 AND status = 'pending'
RETURNING ` + dispatchRunColumns

// MarkDispatchRunSending moves a pending run to sending. It returns
// sql.ErrNoRows when the run is not pending.
func (q *Queries) MarkDispatchRunSending(ctx context.Context, id uuid.UUID) (DispatchRun, error) {
	return scanDispatchRun(q.db.QueryRowContext(ctx, markDispatchRunSending, id))
}

const completeDispatchRun = `
UPDATE dispatch_runs
SET status = 'completed', recipient_count = $2, sent_count = $3,
    finished_at = now(), updated_at = now()
WHERE id = $1
RETURNING ` + dispatchRunColumns

type CompleteDispatchRunParams struct {
	ID             uuid.UUID
	RecipientCount int32
	SentCount      int32
}

func (q *Queries) CompleteDispatchRun(ctx context.Context, arg CompleteDispatchRunParams) (DispatchRun, error) {
	return scanDispatchRun(q.db.QueryRowContext(ctx, completeDispatchRun, arg.ID, arg.RecipientCount, arg.SentCount))
}

const failDispatchRun = `
UPDATE dispatch_runs
SET status = 'failed', recipient_count = $2, sent_count = $3, failed_ids = $4,
    unsent_ids = $5, error_message = $6, finished_at = now(), updated_at = now()
WHERE id = $1
RETURNING ` + dispatchRunColumns

type FailDispatchRunParams struct {
	ID             uuid.UUID
	RecipientCount int32
	SentCount      int32
	FailedIds      pqtype.NullRawMessage
	UnsentIds      pqtype.NullRawMessage
	ErrorMessage   sql.NullString
}

func (q *Queries) FailDispatchRun(ctx context.Context, arg FailDispatchRunParams) (DispatchRun, error) {
	return scanDispatchRun(q.db.QueryRowContext(ctx, failDispatchRun,
		arg.ID,
		arg.RecipientCount,
		arg.SentCount,
		arg.FailedIds,
		arg.UnsentIds,
		arg.ErrorMessage,
	))
}

const listPendingDispatchRuns = `
SELECT ` + dispatchRunColumns + `
FROM dispatch_runs
WHERE status = 'pending'
ORDER BY created_at
LIMIT $1
`

func (q *Queries) ListPendingDispatchRuns(ctx context.Context, limit int32) ([]DispatchRun, error) {
	rows, err := q.db.QueryContext(ctx, listPendingDispatchRuns, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []DispatchRun
	for rows.Next() {
		i, err := scanDispatchRun(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const failStaleDispatchRuns = `
UPDATE dispatch_runs
SET status = 'failed', error_message = $2, finished_at = now(), updated_at = now()
WHERE status = 'sending' AND started_at < $1
RETURNING ` + dispatchRunColumns

type FailStaleDispatchRunsParams struct {
	StartedBefore time.Time
	ErrorMessage  string
}

func (q *Queries) FailStaleDispatchRuns(ctx context.Context, arg FailStaleDispatchRunsParams) ([]DispatchRun, error) {
	rows, err := q.db.QueryContext(ctx, failStaleDispatchRuns, arg.StartedBefore, arg.ErrorMessage)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []DispatchRun
	for rows.Next() {
		i, err := scanDispatchRun(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
