package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nyashahama/bulk-mail-dispatcher/internal/bulkmail"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/catalog"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/destination"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/dispatch"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/store"
)

// codeDispatchFailed is the error code returned when the mail provider
// rejects a bulk call.
const codeDispatchFailed = "E50004"

// ─── REQUEST ──────────────────────────────────────────────────────────────────

// targetList accepts targets as JSON strings or numbers.
type targetList []string

func (t *targetList) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		dec := json.NewDecoder(bytes.NewReader(item))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return err
		}
		switch v := v.(type) {
		case string:
			out = append(out, v)
		case json.Number:
			out = append(out, v.String())
		default:
			return fmt.Errorf("target %s must be a string or a number", item)
		}
	}
	*t = out
	return nil
}

type bulkEmailRequest struct {
	TemplateID      int64      `json:"template_id"`
	DestinationType *int16     `json:"destination_type"`
	Targets         targetList `json:"targets"`
}

// command validates the shape of the request. Target contents are validated
// by the destination package.
func (req bulkEmailRequest) command() (bulkmail.Command, error) {
	if req.TemplateID <= 0 {
		return bulkmail.Command{}, errors.New("template_id is required")
	}
	if req.DestinationType == nil {
		return bulkmail.Command{}, errors.New("destination_type is required")
	}
	return bulkmail.Command{
		TemplateID: req.TemplateID,
		Mode:       destination.Mode(*req.DestinationType),
		Targets:    req.Targets,
	}, nil
}

// ─── POST /api/bulk-emails ───────────────────────────────────────────────────

type dispatchFailedResponse struct {
	Error     string  `json:"error"`
	Code      string  `json:"code"`
	RunID     string  `json:"run_id,omitempty"`
	FailedIDs []int64 `json:"failed_ids"`
	UnsentIDs []int64 `json:"unsent_ids"`
}

// handleSendBulkEmails sends synchronously and answers 204 once every chunk
// has been accepted. A provider failure answers 502 with the ids of the
// failed chunk and of every recipient that was never attempted.
func (s *Server) handleSendBulkEmails(w http.ResponseWriter, r *http.Request) {
	var req bulkEmailRequest
	if !decode(w, r, &req) {
		return
	}
	cmd, err := req.command()
	if err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := s.bulk.Send(r.Context(), cmd)
	if errors.Is(err, dispatch.ErrDispatchFailed) {
		body := dispatchFailedResponse{
			Error:     "mail provider rejected the bulk send",
			Code:      codeDispatchFailed,
			FailedIDs: nonNil(out.Result.FailedIDs),
			UnsentIDs: nonNil(out.Result.UnsentIDs),
		}
		if out.RunID != uuid.Nil {
			body.RunID = out.RunID.String()
		}
		s.logger.Error("bulk send failed",
			"error", err,
			"run_id", body.RunID,
			"failed_ids", body.FailedIDs,
			"unsent_ids", body.UnsentIDs,
			logField(r),
		)
		respond(w, http.StatusBadGateway, body)
		return
	}
	if err != nil {
		s.respondSendErr(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ─── POST /api/bulk-emails/async ─────────────────────────────────────────────

// handleScheduleBulkEmails records a pending run and hands it to the worker.
// A full worker queue is not an error; the poller picks the run up.
func (s *Server) handleScheduleBulkEmails(w http.ResponseWriter, r *http.Request) {
	var req bulkEmailRequest
	if !decode(w, r, &req) {
		return
	}
	cmd, err := req.command()
	if err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := s.bulk.Schedule(r.Context(), cmd)
	if err != nil {
		s.respondSendErr(w, r, err)
		return
	}

	if err := s.worker.Enqueue(r.Context(), run.ID); err != nil {
		s.logger.Warn("enqueue failed, leaving run to the poller",
			"run_id", run.ID,
			"error", err,
			logField(r),
		)
	}

	respond(w, http.StatusAccepted, map[string]string{"run_id": run.ID.String()})
}

// respondSendErr maps pipeline errors to status codes.
func (s *Server) respondSendErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, catalog.ErrTemplateNotFound):
		respondErr(w, http.StatusNotFound, "template not found")
	case errors.Is(err, bulkmail.ErrNoRecipients):
		respondErr(w, http.StatusNotFound, "no recipients match the targets")
	case errors.Is(err, destination.ErrUnknownMode),
		errors.Is(err, destination.ErrInvalidTarget),
		errors.Is(err, bulkmail.ErrNoTargets):
		respondErr(w, http.StatusBadRequest, err.Error())
	default:
		s.respondInternalErr(w, r, err)
	}
}

// ─── GET /api/bulk-emails/{runID} ────────────────────────────────────────────

type dispatchRunResponse struct {
	RunID           string   `json:"run_id"`
	TemplateID      int64    `json:"template_id"`
	DestinationType int16    `json:"destination_type"`
	Targets         []string `json:"targets"`
	Status          string   `json:"status"`
	RecipientCount  int32    `json:"recipient_count"`
	SentCount       int32    `json:"sent_count"`
	FailedIDs       []int64  `json:"failed_ids"`
	UnsentIDs       []int64  `json:"unsent_ids"`
	Error           string   `json:"error,omitempty"`
	StartedAt       string   `json:"started_at,omitempty"`
	FinishedAt      string   `json:"finished_at,omitempty"`
	CreatedAt       string   `json:"created_at"`
}

// handleGetDispatchRun reports the state of a persisted run.
func (s *Server) handleGetDispatchRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		respondErr(w, http.StatusBadRequest, "invalid run id")
		return
	}

	run, err := s.q.GetDispatchRun(r.Context(), runID)
	if errors.Is(err, sql.ErrNoRows) {
		respondErr(w, http.StatusNotFound, "dispatch run not found")
		return
	}
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("get dispatch run: %w", err))
		return
	}

	failed, err := store.DecodeIDs(run.FailedIds)
	if err != nil {
		s.respondInternalErr(w, r, err)
		return
	}
	unsent, err := store.DecodeIDs(run.UnsentIds)
	if err != nil {
		s.respondInternalErr(w, r, err)
		return
	}

	resp := dispatchRunResponse{
		RunID:           run.ID.String(),
		TemplateID:      run.TemplateID,
		DestinationType: run.DestinationType,
		Targets:         run.Targets,
		Status:          string(run.Status),
		RecipientCount:  run.RecipientCount,
		SentCount:       run.SentCount,
		FailedIDs:       nonNil(failed),
		UnsentIDs:       nonNil(unsent),
		Error:           run.ErrorMessage.String,
		CreatedAt:       run.CreatedAt.Format(time.RFC3339),
	}
	if run.StartedAt.Valid {
		resp.StartedAt = run.StartedAt.Time.Format(time.RFC3339)
	}
	if run.FinishedAt.Valid {
		resp.FinishedAt = run.FinishedAt.Time.Format(time.RFC3339)
	}

	respond(w, http.StatusOK, resp)
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
