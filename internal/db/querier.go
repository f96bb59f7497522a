package db

import (
	"context"

	"github.com/google/uuid"
)

// Querier is the full set of queries the service runs.
type Querier interface {
	// ── Recipients ────────────────────────────────────────────────────────────
	ListRecipientsByIDs(ctx context.Context, ids []int64, columns []string) ([]RecipientRow, error)
	ListRecipientsByCertificationNumbers(ctx context.Context, numbers []string, columns []string) ([]RecipientRow, error)

	// ── Applications ──────────────────────────────────────────────────────────
	GetBaseApplication(ctx context.Context, userID int64) (Application, error)
	GetLatestPassedApplication(ctx context.Context, userID int64) (Application, error)
	GetLatestCompletedApplication(ctx context.Context, userID int64) (Application, error)

	// ── Templates ─────────────────────────────────────────────────────────────
	GetMailTemplate(ctx context.Context, id int64) (MailTemplate, error)
	ListMailTemplatesByType(ctx context.Context, types []TemplateType) ([]MailTemplate, error)
	ListMailTemplateVariables(ctx context.Context, templateID int64) ([]string, error)

	// ── Dispatch runs ─────────────────────────────────────────────────────────
	CreateDispatchRun(ctx context.Context, arg CreateDispatchRunParams) (DispatchRun, error)
	GetDispatchRun(ctx context.Context, id uuid.UUID) (DispatchRun, error)
	MarkDispatchRunSending(ctx context.Context, id uuid.UUID) (DispatchRun, error)
	CompleteDispatchRun(ctx context.Context, arg CompleteDispatchRunParams) (DispatchRun, error)
	FailDispatchRun(ctx context.Context, arg FailDispatchRunParams) (DispatchRun, error)
	ListPendingDispatchRuns(ctx context.Context, limit int32) ([]DispatchRun, error)
	FailStaleDispatchRuns(ctx context.Context, arg FailStaleDispatchRunsParams) ([]DispatchRun, error)
}
