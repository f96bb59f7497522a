package bulkmail_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyashahama/bulk-mail-dispatcher/internal/bulkmail"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/catalog"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/column"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/db"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/destination"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/dispatch"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/email"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/recipient"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/store"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/templatedata"
)

// ─── STUBS ────────────────────────────────────────────────────────────────────

type stubTemplates struct {
	tpl         catalog.Template
	err         error
	invalidated []int64
}

func (s *stubTemplates) Invalidate(id int64) { s.invalidated = append(s.invalidated, id) }

func (s *stubTemplates) BulkTemplate(_ context.Context, id int64) (catalog.Template, error) {
	if s.err != nil {
		return catalog.Template{}, s.err
	}
	if id != s.tpl.ID {
		return catalog.Template{}, catalog.ErrTemplateNotFound
	}
	return s.tpl, nil
}

// stubSelector returns a recipient for every numeric target in users.
type stubSelector struct {
	users map[int64]bool
	got   destination.Destination
	err   error
}

func (s *stubSelector) Select(_ context.Context, d destination.Destination) ([]recipient.Recipient, error) {
	s.got = d
	if s.err != nil {
		return nil, s.err
	}
	var out []recipient.Recipient
	for _, id := range d.TargetIDs() {
		if s.users[id] {
			out = append(out, recipient.New(recipient.Fields{ID: id, Mail: strconv.FormatInt(id, 10) + "@example.com"}))
		}
	}
	return out, nil
}

type stubBuilder struct {
	cols column.Resolved
}

func (b *stubBuilder) BuildAll(_ context.Context, rs []recipient.Recipient, cols column.Resolved) (map[int64]templatedata.Record, error) {
	b.cols = cols
	out := make(map[int64]templatedata.Record, len(rs))
	for _, r := range rs {
		out[r.ID()] = templatedata.Record{"name": "user " + strconv.FormatInt(r.ID(), 10)}
	}
	return out, nil
}

// stubSender fails the calls listed in failOn (1-based).
type stubSender struct {
	calls  []email.BulkRequest
	failOn map[int]error
}

func (s *stubSender) SendBulk(_ context.Context, req email.BulkRequest) (email.BulkResponse, error) {
	s.calls = append(s.calls, req)
	if err, ok := s.failOn[len(s.calls)]; ok {
		return email.BulkResponse{}, err
	}
	return email.BulkResponse{}, nil
}

type stubRuns struct {
	created   []store.CreateRunParams
	createErr error
	claimed   []uuid.UUID
	finished  []store.FinishRunParams
	claimErr  error
	id        uuid.UUID
}

func (s *stubRuns) CreateRun(_ context.Context, p store.CreateRunParams) (db.DispatchRun, error) {
	s.created = append(s.created, p)
	if s.createErr != nil {
		return db.DispatchRun{}, s.createErr
	}
	status := db.DispatchRunStatusPending
	if p.Claimed {
		status = db.DispatchRunStatusSending
	}
	return db.DispatchRun{ID: s.id, TemplateID: p.TemplateID, Targets: p.Targets, Status: status}, nil
}

func (s *stubRuns) ClaimRun(_ context.Context, id uuid.UUID) (db.DispatchRun, error) {
	if s.claimErr != nil {
		return db.DispatchRun{}, s.claimErr
	}
	s.claimed = append(s.claimed, id)
	return db.DispatchRun{ID: id, Status: db.DispatchRunStatusSending}, nil
}

func (s *stubRuns) FinishRun(_ context.Context, p store.FinishRunParams) (db.DispatchRun, error) {
	s.finished = append(s.finished, p)
	return db.DispatchRun{ID: p.ID}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ─── HELPERS ──────────────────────────────────────────────────────────────────

var renewal = catalog.Template{
	ID:           7,
	ProviderName: "renewal_notice",
	Type:         db.TemplateTypeBatchSending,
	Variables:    []string{"name", "expired_date", "passed_examine_number", "unknown_var"},
}

type fixture struct {
	svc       *bulkmail.Service
	templates *stubTemplates
	selector  *stubSelector
	builder   *stubBuilder
	sender    *stubSender
	runs      *stubRuns
}

func newFixture(users []int64, failOn map[int]error, withRuns bool) fixture {
	known := make(map[int64]bool, len(users))
	for _, id := range users {
		known[id] = true
	}
	f := fixture{
		selector: &stubSelector{users: known},
		builder:  &stubBuilder{},
		sender:   &stubSender{failOn: failOn},
	}
	d := dispatch.New(f.sender, dispatch.Config{Sleep: func(time.Duration) {}}, nil, discardLogger())

	var runs bulkmail.RunStore
	if withRuns {
		f.runs = &stubRuns{id: uuid.New()}
		runs = f.runs
	}
	f.templates = &stubTemplates{tpl: renewal}
	f.svc = bulkmail.NewService(f.templates, f.selector, f.builder, d, runs, discardLogger())
	return f
}

func targets(from, to int64) []string {
	var out []string
	for i := from; i <= to; i++ {
		out = append(out, strconv.FormatInt(i, 10))
	}
	return out
}

func ids(from, to int64) []int64 {
	var out []int64
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

// ─── Send ─────────────────────────────────────────────────────────────────────

func TestSend_ResolvesColumnsAndSendsEveryone(t *testing.T) {
	f := newFixture(ids(1, 20), nil, false)

	out, err := f.svc.Send(context.Background(), bulkmail.Command{
		TemplateID: 7,
		Mode:       destination.ByPrimaryID,
		Targets:    targets(1, 20),
	})
	require.NoError(t, err)

	assert.Equal(t, uuid.Nil, out.RunID)
	assert.Equal(t, 20, out.Recipients)
	assert.Equal(t, dispatch.StateCompleted, out.Result.State)
	assert.Equal(t, ids(1, 20), out.Result.SentIDs)

	require.Len(t, f.sender.calls, 2)
	assert.Equal(t, "renewal_notice", f.sender.calls[0].TemplateName)
	assert.Equal(t, "user 1", f.sender.calls[0].Entries[0].Data["name"])

	assert.Equal(t, []string{"name", "expired_date"}, f.builder.cols.Recipient.AllColumns())
	assert.Equal(t, []string{"passed_examine_number"}, f.builder.cols.Enrollment.AllColumns())
	assert.True(t, f.builder.cols.Screening.IsEmpty())
	assert.Equal(t, f.builder.cols.Recipient, f.selector.got.Columns())
}

func TestSend_FailureReportsFailedAndUnsent(t *testing.T) {
	boom := errors.New("throttling")
	f := newFixture(ids(1, 30), map[int]error{2: boom}, true)

	out, err := f.svc.Send(context.Background(), bulkmail.Command{
		TemplateID: 7,
		Mode:       destination.ByPrimaryID,
		Targets:    targets(1, 30),
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, dispatch.ErrDispatchFailed)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, f.runs.id, out.RunID)
	assert.Equal(t, ids(15, 28), out.Result.FailedIDs)
	assert.Equal(t, []int64{29, 30}, out.Result.UnsentIDs)

	require.Len(t, f.runs.finished, 1)
	fin := f.runs.finished[0]
	assert.Equal(t, 30, fin.RecipientCount)
	assert.Equal(t, 14, fin.SentCount)
	assert.Equal(t, ids(15, 28), fin.FailedIDs)
	assert.Equal(t, []int64{29, 30}, fin.UnsentIDs)
	assert.ErrorIs(t, fin.Err, boom)
}

func TestSend_PersistsCompletedRun(t *testing.T) {
	f := newFixture(ids(1, 3), nil, true)

	out, err := f.svc.Send(context.Background(), bulkmail.Command{
		TemplateID: 7,
		Mode:       destination.ByPrimaryID,
		Targets:    targets(1, 3),
	})
	require.NoError(t, err)

	require.Len(t, f.runs.created, 1)
	assert.True(t, f.runs.created[0].Claimed)
	assert.Empty(t, f.runs.claimed)
	assert.Equal(t, f.runs.id, out.RunID)
	require.Len(t, f.runs.finished, 1)
	assert.NoError(t, f.runs.finished[0].Err)
	assert.Equal(t, 3, f.runs.finished[0].SentCount)
}

func TestSend_PersistsCleanTargets(t *testing.T) {
	f := newFixture(ids(1, 2), nil, true)

	_, err := f.svc.Send(context.Background(), bulkmail.Command{
		TemplateID: 7,
		Mode:       destination.ByPrimaryID,
		Targets:    []string{" 1", "1", "", "2 ", "2"},
	})
	require.NoError(t, err)

	require.Len(t, f.runs.created, 1)
	assert.Equal(t, []string{"1", "2"}, f.runs.created[0].Targets)
}

func TestSend_TemplateChangedSinceCachedDropsCacheEntry(t *testing.T) {
	f := newFixture(ids(1, 2), nil, true)
	f.runs.createErr = store.ErrTemplateNotDispatchable

	_, err := f.svc.Send(context.Background(), bulkmail.Command{
		TemplateID: 7,
		Mode:       destination.ByPrimaryID,
		Targets:    targets(1, 2),
	})
	assert.ErrorIs(t, err, catalog.ErrTemplateNotFound)
	assert.Equal(t, []int64{7}, f.templates.invalidated)
	assert.Empty(t, f.sender.calls)
}

func TestSend_NoRecipients(t *testing.T) {
	f := newFixture(nil, nil, true)

	_, err := f.svc.Send(context.Background(), bulkmail.Command{
		TemplateID: 7,
		Mode:       destination.ByPrimaryID,
		Targets:    []string{"404"},
	})
	assert.ErrorIs(t, err, bulkmail.ErrNoRecipients)
	assert.Empty(t, f.sender.calls)
	assert.Empty(t, f.runs.created, "nothing is persisted before recipients resolve")
}

func TestSend_ValidationErrors(t *testing.T) {
	f := newFixture(ids(1, 3), nil, false)
	ctx := context.Background()

	_, err := f.svc.Send(ctx, bulkmail.Command{TemplateID: 99, Targets: []string{"1"}})
	assert.ErrorIs(t, err, catalog.ErrTemplateNotFound)

	_, err = f.svc.Send(ctx, bulkmail.Command{TemplateID: 7, Mode: destination.Mode(5), Targets: []string{"1"}})
	assert.ErrorIs(t, err, destination.ErrUnknownMode)

	_, err = f.svc.Send(ctx, bulkmail.Command{TemplateID: 7, Targets: []string{" ", ""}})
	assert.ErrorIs(t, err, bulkmail.ErrNoTargets)

	_, err = f.svc.Send(ctx, bulkmail.Command{TemplateID: 7, Targets: []string{"abc"}})
	assert.ErrorIs(t, err, destination.ErrInvalidTarget)

	assert.Empty(t, f.sender.calls)
}

func TestSend_SelectorErrorIsWrapped(t *testing.T) {
	f := newFixture(ids(1, 3), nil, false)
	f.selector.err = errors.New("db down")

	_, err := f.svc.Send(context.Background(), bulkmail.Command{TemplateID: 7, Targets: []string{"1"}})
	assert.ErrorIs(t, err, f.selector.err)
}

// ─── Schedule / Resume ────────────────────────────────────────────────────────

func TestSchedule_RecordsCleanTargets(t *testing.T) {
	f := newFixture(ids(1, 3), nil, true)

	run, err := f.svc.Schedule(context.Background(), bulkmail.Command{
		TemplateID: 7,
		Targets:    []string{" 1", "2", "2", ""},
	})
	require.NoError(t, err)
	assert.Equal(t, f.runs.id, run.ID)
	assert.Equal(t, []string{"1", "2"}, f.runs.created[0].Targets)
	assert.Empty(t, f.sender.calls)
}

func TestSchedule_WithoutRunStore(t *testing.T) {
	f := newFixture(ids(1, 3), nil, false)

	_, err := f.svc.Schedule(context.Background(), bulkmail.Command{TemplateID: 7, Targets: []string{"1"}})
	assert.Error(t, err)
}

func TestResume_ExecutesClaimedRun(t *testing.T) {
	f := newFixture(ids(1, 3), nil, true)
	run := db.DispatchRun{ID: uuid.New(), TemplateID: 7, Targets: []string{"1", "2", "3"}}

	out, err := f.svc.Resume(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, run.ID, out.RunID)
	assert.Equal(t, []uuid.UUID{run.ID}, f.runs.claimed)
	require.Len(t, f.sender.calls, 1)
	assert.Len(t, f.sender.calls[0].Entries, 3)
}

func TestResume_NotPendingSendsNothing(t *testing.T) {
	f := newFixture(ids(1, 3), nil, true)
	f.runs.claimErr = store.ErrRunNotPending

	_, err := f.svc.Resume(context.Background(), db.DispatchRun{ID: uuid.New(), TemplateID: 7, Targets: []string{"1"}})
	assert.ErrorIs(t, err, store.ErrRunNotPending)
	assert.Empty(t, f.sender.calls)
	assert.Empty(t, f.runs.finished)
}

func TestResume_PrepareFailureMarksEveryTargetUnsent(t *testing.T) {
	f := newFixture(nil, nil, true)
	run := db.DispatchRun{ID: uuid.New(), TemplateID: 7, Targets: []string{"4", "5"}}

	_, err := f.svc.Resume(context.Background(), run)
	assert.ErrorIs(t, err, bulkmail.ErrNoRecipients)

	require.Len(t, f.runs.finished, 1)
	assert.ErrorIs(t, f.runs.finished[0].Err, bulkmail.ErrNoRecipients)
	assert.Equal(t, []int64{4, 5}, f.runs.finished[0].UnsentIDs)
}
