package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// TemplateType mirrors mail_templates.template_type.
type TemplateType int16

const (
	TemplateTypeSystem       TemplateType = 1
	TemplateTypeBatchSending TemplateType = 2
)

func (t TemplateType) Valid() bool {
	return t == TemplateTypeSystem || t == TemplateTypeBatchSending
}

// DispatchRunStatus mirrors dispatch_runs.status.
type DispatchRunStatus string

const (
	DispatchRunStatusPending   DispatchRunStatus = "pending"
	DispatchRunStatusSending   DispatchRunStatus = "sending"
	DispatchRunStatusCompleted DispatchRunStatus = "completed"
	DispatchRunStatusFailed    DispatchRunStatus = "failed"
)

// RecipientRow is one users row. Columns holds only the columns the query
// selected beyond id and mail.
type RecipientRow struct {
	ID      int64
	Mail    string
	Columns map[string]sql.NullString
}

// Application is one applications row joined with its screening outcome.
type Application struct {
	ID                  int64
	UserID              int64
	ReceiptNumber       sql.NullString
	ExamineNumber       sql.NullString
	AttendanceNumber    sql.NullString
	CompletionNumber    sql.NullString
	PassFlag            bool
	AttendanceFlag      bool
	Status              sql.NullString
	CreatedAt           time.Time
	UpdatedAt           time.Time
	ExpAssoc            sql.NullInt16
	ExpAssocDescription sql.NullString
}

// MailTemplate is one non-deleted mail_templates row.
type MailTemplate struct {
	ID              int64
	TemplateName    string
	SesTemplateName string
	TemplateType    TemplateType
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DispatchRun is one dispatch_runs row.
type DispatchRun struct {
	ID              uuid.UUID
	TemplateID      int64
	DestinationType int16
	Targets         []string
	Status          DispatchRunStatus
	RecipientCount  int32
	SentCount       int32
	FailedIds       pqtype.NullRawMessage
	UnsentIds       pqtype.NullRawMessage
	ErrorMessage    sql.NullString
	StartedAt       sql.NullTime
	FinishedAt      sql.NullTime
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
