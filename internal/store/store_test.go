package store_test

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyashahama/bulk-mail-dispatcher/internal/db"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/store"
)

// ─── TEST INFRASTRUCTURE ──────────────────────────────────────────────────────

func newStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return store.New(conn, db.New(conn)), mock
}

var (
	templateCols = []string{"id", "template_name", "ses_template_name", "template_type", "created_at", "updated_at"}
	runCols      = []string{
		"id", "template_id", "destination_type", "targets", "status",
		"recipient_count", "sent_count", "failed_ids", "unsent_ids", "error_message",
		"started_at", "finished_at", "created_at", "updated_at",
	}
)

func runRow(id uuid.UUID, status string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(runCols).
		AddRow(id.String(), int64(7), int16(0), "{1,2,3}", status, int32(0), int32(0), nil, nil, nil, nil, nil, now, now)
}

// ─── CreateRun ────────────────────────────────────────────────────────────────

func TestCreateRun_InsertsPendingRun(t *testing.T) {
	st, mock := newStore(t)
	now := time.Now()
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM mail_templates")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(templateCols).AddRow(int64(7), "更新案内", "renewal_notice", int64(2), now, now))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO dispatch_runs")).
		WithArgs(sqlmock.AnyArg(), int64(7), int16(0), sqlmock.AnyArg()).
		WillReturnRows(runRow(id, "pending"))
	mock.ExpectCommit()

	run, err := st.CreateRun(context.Background(), store.CreateRunParams{
		TemplateID: 7,
		Targets:    []string{"1", "2", "3"},
	})
	require.NoError(t, err)
	assert.Equal(t, id, run.ID)
	assert.Equal(t, db.DispatchRunStatusPending, run.Status)
	assert.Equal(t, []string{"1", "2", "3"}, run.Targets)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRun_ClaimedRunCommitsAsSending(t *testing.T) {
	st, mock := newStore(t)
	now := time.Now()
	id := uuid.New()

	// The row only becomes visible at commit, already marked sending, so the
	// pending poller can never pick it up.
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM mail_templates")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(templateCols).AddRow(int64(7), "更新案内", "renewal_notice", int64(2), now, now))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO dispatch_runs")).
		WithArgs(sqlmock.AnyArg(), int64(7), int16(0), sqlmock.AnyArg()).
		WillReturnRows(runRow(id, "pending"))
	mock.ExpectQuery(regexp.QuoteMeta("SET status = 'sending'")).
		WithArgs(id).
		WillReturnRows(runRow(id, "sending"))
	mock.ExpectCommit()

	run, err := st.CreateRun(context.Background(), store.CreateRunParams{
		TemplateID: 7,
		Targets:    []string{"1", "2", "3"},
		Claimed:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, id, run.ID)
	assert.Equal(t, db.DispatchRunStatusSending, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRun_ClaimFailureRollsBack(t *testing.T) {
	st, mock := newStore(t)
	now := time.Now()
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM mail_templates")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(templateCols).AddRow(int64(7), "更新案内", "renewal_notice", int64(2), now, now))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO dispatch_runs")).
		WillReturnRows(runRow(id, "pending"))
	mock.ExpectQuery(regexp.QuoteMeta("SET status = 'sending'")).
		WithArgs(id).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := st.CreateRun(context.Background(), store.CreateRunParams{TemplateID: 7, Claimed: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "claim run")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRun_SystemTemplateRollsBack(t *testing.T) {
	st, mock := newStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM mail_templates")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(templateCols).AddRow(int64(1), "パスワード再設定", "password_reset", int64(1), now, now))
	mock.ExpectRollback()

	_, err := st.CreateRun(context.Background(), store.CreateRunParams{TemplateID: 1, Targets: []string{"1"}})
	assert.ErrorIs(t, err, store.ErrTemplateNotDispatchable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRun_MissingTemplateRollsBack(t *testing.T) {
	st, mock := newStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM mail_templates")).
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows(templateCols))
	mock.ExpectRollback()

	_, err := st.CreateRun(context.Background(), store.CreateRunParams{TemplateID: 404})
	assert.ErrorIs(t, err, store.ErrTemplateNotDispatchable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRun_BeginFails(t *testing.T) {
	st, mock := newStore(t)
	mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))

	_, err := st.CreateRun(context.Background(), store.CreateRunParams{TemplateID: 7})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin transaction")
}

// ─── ClaimRun ─────────────────────────────────────────────────────────────────

func TestClaimRun_NotPending(t *testing.T) {
	st, mock := newStore(t)
	id := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta("SET status = 'sending'")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(runCols))

	_, err := st.ClaimRun(context.Background(), id)
	assert.ErrorIs(t, err, store.ErrRunNotPending)
}

func TestClaimRun_Sending(t *testing.T) {
	st, mock := newStore(t)
	id := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta("SET status = 'sending'")).
		WithArgs(id).
		WillReturnRows(runRow(id, "sending"))

	run, err := st.ClaimRun(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, db.DispatchRunStatusSending, run.Status)
}

// ─── FinishRun ────────────────────────────────────────────────────────────────

func TestFinishRun_Completed(t *testing.T) {
	st, mock := newStore(t)
	id := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta("SET status = 'completed'")).
		WithArgs(id, int32(3), int32(3)).
		WillReturnRows(runRow(id, "completed"))

	run, err := st.FinishRun(context.Background(), store.FinishRunParams{ID: id, RecipientCount: 3, SentCount: 3})
	require.NoError(t, err)
	assert.Equal(t, db.DispatchRunStatusCompleted, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishRun_FailedStoresIDLists(t *testing.T) {
	st, mock := newStore(t)
	id := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta("SET status = 'failed'")).
		WithArgs(id, int32(30), int32(14),
			[]byte(`[15,16]`), []byte(`[]`),
			sql.NullString{String: "throttled", Valid: true}).
		WillReturnRows(runRow(id, "failed"))

	_, err := st.FinishRun(context.Background(), store.FinishRunParams{
		ID:             id,
		RecipientCount: 30,
		SentCount:      14,
		FailedIDs:      []int64{15, 16},
		Err:            errors.New("throttled"),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ─── FailStaleRuns ────────────────────────────────────────────────────────────

func TestFailStaleRuns_MarksOldSendingRunsFailed(t *testing.T) {
	st, mock := newStore(t)
	id := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = 'sending' AND started_at < $1")).
		WithArgs(sqlmock.AnyArg(), store.ErrRunInterrupted.Error()).
		WillReturnRows(runRow(id, "failed"))

	runs, err := st.FailStaleRuns(context.Background(), 30*time.Minute)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
	assert.Equal(t, db.DispatchRunStatusFailed, runs[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFailStaleRuns_QueryError(t *testing.T) {
	st, mock := newStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = 'sending'")).
		WillReturnError(errors.New("timeout"))

	_, err := st.FailStaleRuns(context.Background(), time.Minute)
	assert.Error(t, err)
}

// ─── DecodeIDs ────────────────────────────────────────────────────────────────

func TestDecodeIDs(t *testing.T) {
	ids, err := store.DecodeIDs(pqtype.NullRawMessage{RawMessage: []byte(`[29,30]`), Valid: true})
	require.NoError(t, err)
	assert.Equal(t, []int64{29, 30}, ids)

	ids, err = store.DecodeIDs(pqtype.NullRawMessage{})
	require.NoError(t, err)
	assert.Nil(t, ids)

	_, err = store.DecodeIDs(pqtype.NullRawMessage{RawMessage: []byte(`{`), Valid: true})
	assert.Error(t, err)
}
