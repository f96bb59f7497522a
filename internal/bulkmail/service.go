// Package bulkmail runs a bulk send end to end: it resolves the template's
// variables into column sets, selects the recipients, builds one data record
// per recipient and hands everything to the dispatcher. Runs are optionally
// persisted so their outcome can be inspected or resumed by the worker.
package bulkmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/nyashahama/bulk-mail-dispatcher/internal/catalog"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/column"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/db"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/destination"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/dispatch"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/metrics"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/recipient"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/store"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/templatedata"
)

// ─── ERRORS ──────────────────────────────────────────────────────────────────

// ErrNoRecipients is returned when none of the targets resolve to a user.
var ErrNoRecipients = errors.New("bulkmail: no recipients match the targets")

// ErrNoTargets is returned when the request carries no usable target.
var ErrNoTargets = destination.ErrNoTargets

// ─── DEPENDENCIES ────────────────────────────────────────────────────────────
// Each is satisfied by the concrete package type. Tests inject a stub.

// Templates looks up dispatchable templates.
type Templates interface {
	BulkTemplate(ctx context.Context, id int64) (catalog.Template, error)
	Invalidate(id int64)
}

// Selector loads the recipients behind a destination.
type Selector interface {
	Select(ctx context.Context, d destination.Destination) ([]recipient.Recipient, error)
}

// RecordBuilder builds template data for every recipient.
type RecordBuilder interface {
	BuildAll(ctx context.Context, rs []recipient.Recipient, cols column.Resolved) (map[int64]templatedata.Record, error)
}

// Dispatcher sends prepared recipients in chunks.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (dispatch.Result, error)
}

// RunStore persists dispatch runs. A nil RunStore disables persistence.
type RunStore interface {
	CreateRun(ctx context.Context, p store.CreateRunParams) (db.DispatchRun, error)
	ClaimRun(ctx context.Context, id uuid.UUID) (db.DispatchRun, error)
	FinishRun(ctx context.Context, p store.FinishRunParams) (db.DispatchRun, error)
}

// ─── TYPES ───────────────────────────────────────────────────────────────────

// Command is one bulk send request.
type Command struct {
	TemplateID int64
	Mode       destination.Mode
	Targets    []string
}

// Outcome reports what a send did. RunID is uuid.Nil when runs are not
// persisted.
type Outcome struct {
	RunID      uuid.UUID
	Template   catalog.Template
	Recipients int
	Result     dispatch.Result
}

// plan is everything resolved before the first provider call.
type plan struct {
	template   catalog.Template
	recipients []recipient.Recipient
	records    map[int64]templatedata.Record
	targets    []string
	targetIDs  []int64
}

// ─── SERVICE ─────────────────────────────────────────────────────────────────

// Service orchestrates bulk sends.
type Service struct {
	templates  Templates
	selector   Selector
	builder    RecordBuilder
	dispatcher Dispatcher
	runs       RunStore
	logger     *slog.Logger
}

// NewService wires the pipeline. runs may be nil.
func NewService(
	templates Templates,
	selector Selector,
	builder RecordBuilder,
	dispatcher Dispatcher,
	runs RunStore,
	logger *slog.Logger,
) *Service {
	return &Service{
		templates:  templates,
		selector:   selector,
		builder:    builder,
		dispatcher: dispatcher,
		runs:       runs,
		logger:     logger,
	}
}

// Send performs a bulk send synchronously. Validation and lookup errors are
// returned before anything is persisted or sent. A dispatch failure returns
// the partial Outcome alongside an error wrapping dispatch.ErrDispatchFailed.
func (s *Service) Send(ctx context.Context, cmd Command) (Outcome, error) {
	p, err := s.prepare(ctx, cmd)
	if err != nil {
		return Outcome{}, err
	}

	runID := uuid.Nil
	if s.runs != nil {
		run, err := s.runs.CreateRun(ctx, store.CreateRunParams{
			TemplateID:      cmd.TemplateID,
			DestinationType: int16(cmd.Mode),
			Targets:         p.targets,
			Claimed:         true,
		})
		if err != nil {
			return Outcome{}, s.mapRunError(err, cmd.TemplateID)
		}
		runID = run.ID
	}

	return s.deliver(ctx, runID, p)
}

// Schedule validates cmd and records it as a pending run for the worker.
// It does not select recipients; that happens when the run executes.
func (s *Service) Schedule(ctx context.Context, cmd Command) (db.DispatchRun, error) {
	if s.runs == nil {
		return db.DispatchRun{}, errors.New("bulkmail: run persistence is not configured")
	}
	if _, err := s.templates.BulkTemplate(ctx, cmd.TemplateID); err != nil {
		return db.DispatchRun{}, err
	}
	d, err := destination.New(cmd.Mode, cmd.Targets, column.Set{})
	if err != nil {
		return db.DispatchRun{}, err
	}

	run, err := s.runs.CreateRun(ctx, store.CreateRunParams{
		TemplateID:      cmd.TemplateID,
		DestinationType: int16(cmd.Mode),
		Targets:         d.Targets(),
	})
	if err != nil {
		return db.DispatchRun{}, s.mapRunError(err, cmd.TemplateID)
	}
	s.logger.Info("bulkmail: run scheduled",
		"run_id", run.ID,
		"template_id", cmd.TemplateID,
		"targets", len(run.Targets),
	)
	return run, nil
}

// Resume claims a pending run and executes it. It returns
// store.ErrRunNotPending when another worker got there first. Preparation
// failures mark the run failed with every target left unsent.
func (s *Service) Resume(ctx context.Context, run db.DispatchRun) (Outcome, error) {
	if s.runs == nil {
		return Outcome{}, errors.New("bulkmail: run persistence is not configured")
	}
	if _, err := s.runs.ClaimRun(ctx, run.ID); err != nil {
		return Outcome{}, err
	}

	cmd := Command{
		TemplateID: run.TemplateID,
		Mode:       destination.Mode(run.DestinationType),
		Targets:    run.Targets,
	}
	p, err := s.prepare(ctx, cmd)
	if err != nil {
		failed := dispatch.Result{State: dispatch.StateFailed}
		if cmd.Mode == destination.ByPrimaryID {
			failed.UnsentIDs = numericTargets(run.Targets)
		}
		s.finish(ctx, run.ID, 0, failed, err)
		return Outcome{RunID: run.ID}, err
	}
	return s.deliver(ctx, run.ID, p)
}

// prepare resolves everything needed before the first provider call.
func (s *Service) prepare(ctx context.Context, cmd Command) (plan, error) {
	tpl, err := s.templates.BulkTemplate(ctx, cmd.TemplateID)
	if err != nil {
		return plan{}, err
	}

	cols := column.Resolve(tpl.Variables)
	if dropped := cols.Dropped(tpl.Variables); len(dropped) > 0 {
		s.logger.Debug("bulkmail: template variables without a column",
			"template", tpl.ProviderName,
			"variables", dropped,
		)
	}

	d, err := destination.New(cmd.Mode, cmd.Targets, cols.Recipient)
	if err != nil {
		return plan{}, err
	}

	recipients, err := s.selector.Select(ctx, d)
	if err != nil {
		return plan{}, fmt.Errorf("bulkmail: select recipients: %w", err)
	}
	if len(recipients) == 0 {
		return plan{}, ErrNoRecipients
	}

	records, err := s.builder.BuildAll(ctx, recipients, cols)
	if err != nil {
		return plan{}, fmt.Errorf("bulkmail: build template data: %w", err)
	}

	return plan{
		template:   tpl,
		recipients: recipients,
		records:    records,
		targets:    d.Targets(),
		targetIDs:  destination.TargetIDs(d, recipients),
	}, nil
}

func (s *Service) deliver(ctx context.Context, runID uuid.UUID, p plan) (Outcome, error) {
	log := s.logger.With("template", p.template.ProviderName)
	if runID != uuid.Nil {
		log = log.With("run_id", runID)
	}

	res, err := s.dispatcher.Dispatch(ctx, dispatch.Request{
		TemplateName: p.template.ProviderName,
		Recipients:   p.recipients,
		Records:      p.records,
		TargetIDs:    p.targetIDs,
	})
	s.finish(ctx, runID, len(p.recipients), res, err)

	out := Outcome{
		RunID:      runID,
		Template:   p.template,
		Recipients: len(p.recipients),
		Result:     res,
	}
	if err != nil {
		return out, err
	}

	log.Info("bulk send target users", "user_ids", res.SentIDs)
	return out, nil
}

// finish records the outcome. Persistence errors are logged only; the send
// itself already happened.
func (s *Service) finish(ctx context.Context, runID uuid.UUID, recipients int, res dispatch.Result, sendErr error) {
	metrics.ObserveRun(res.State.String(), len(res.UnsentIDs))
	if s.runs == nil || runID == uuid.Nil {
		return
	}
	_, err := s.runs.FinishRun(context.WithoutCancel(ctx), store.FinishRunParams{
		ID:             runID,
		RecipientCount: recipients,
		SentCount:      len(res.SentIDs),
		FailedIDs:      res.FailedIDs,
		UnsentIDs:      res.UnsentIDs,
		Err:            sendErr,
	})
	if err != nil {
		s.logger.Error("bulkmail: could not record run outcome", "run_id", runID, "error", err)
	}
}

func (s *Service) mapRunError(err error, templateID int64) error {
	if errors.Is(err, store.ErrTemplateNotDispatchable) {
		// The cached copy said otherwise; the row changed since it was read.
		s.templates.Invalidate(templateID)
		return fmt.Errorf("%w: id %d", catalog.ErrTemplateNotFound, templateID)
	}
	return fmt.Errorf("bulkmail: create run: %w", err)
}

// numericTargets returns the targets that parse as user ids.
func numericTargets(targets []string) []int64 {
	var ids []int64
	for _, t := range targets {
		if id, err := strconv.ParseInt(t, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}
