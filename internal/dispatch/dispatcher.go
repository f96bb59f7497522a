// Package dispatch sends prepared template data to the mail provider in
// fixed-size chunks.
//
// Chunks go out one at a time with a fixed pause between them. The first
// chunk that fails stops the run: its recipients are reported as failed and
// every later target as unsent. Nothing is retried.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nyashahama/bulk-mail-dispatcher/internal/email"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/recipient"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/templatedata"
)

// ErrDispatchFailed wraps the provider error of the chunk that stopped a run.
var ErrDispatchFailed = errors.New("dispatch: bulk send failed")

const (
	// ChunkSize is the provider's per-call recipient limit.
	ChunkSize = email.MaxEntries

	// DefaultPause separates consecutive chunks.
	DefaultPause = 3 * time.Second
)

// ─── STATE ────────────────────────────────────────────────────────────────────

// State is the lifecycle position of one dispatch.
type State int

const (
	StatePending State = iota
	StateSending
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSending:
		return "sending"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ─── INPUT / OUTPUT ───────────────────────────────────────────────────────────

// Request is everything one dispatch needs.
type Request struct {
	TemplateName string
	Recipients   []recipient.Recipient        // sorted by id
	Records      map[int64]templatedata.Record // keyed by recipient id
	TargetIDs    []int64                       // every id the run is accountable for
}

// Result records what happened to each recipient. It is returned whether or
// not Dispatch fails.
type Result struct {
	State     State
	Chunks    [][]int64 // ids per attempted chunk, in send order
	SentIDs   []int64
	FailedIDs []int64
	UnsentIDs []int64
	Rejected  []email.EntryResult // per-entry rejections inside accepted calls
}

// Observer is told about every chunk. Metrics hook in here.
type Observer interface {
	ChunkDone(template string, size int, err error)
}

// ─── DISPATCHER ───────────────────────────────────────────────────────────────

// Config tunes a Dispatcher. Zero values fall back to the defaults; there is
// no way to turn the pause off.
type Config struct {
	ChunkSize int
	Pause     time.Duration

	// Sleep waits between chunks. Defaults to time.Sleep; tests replace it.
	Sleep func(time.Duration)
}

// Dispatcher sends Requests through a BulkSender.
type Dispatcher struct {
	sender   email.BulkSender
	cfg      Config
	observer Observer
	logger   *slog.Logger
}

// New returns a Dispatcher. observer may be nil.
func New(sender email.BulkSender, cfg Config, observer Observer, logger *slog.Logger) *Dispatcher {
	if cfg.ChunkSize <= 0 || cfg.ChunkSize > email.MaxEntries {
		cfg.ChunkSize = ChunkSize
	}
	if cfg.Pause <= 0 {
		cfg.Pause = DefaultPause
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	return &Dispatcher{sender: sender, cfg: cfg, observer: observer, logger: logger}
}

// Dispatch sends req chunk by chunk. Once started, a dispatch is not
// cancelled by ctx: every issued call runs to completion.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Result, error) {
	ctx = context.WithoutCancel(ctx)
	res := Result{State: StatePending}

	chunks := Chunk(req.Recipients, d.cfg.ChunkSize)
	log := d.logger.With("template", req.TemplateName, "recipients", len(req.Recipients), "chunks", len(chunks))

	for i, chunk := range chunks {
		res.State = StateSending
		ids := recipientIDs(chunk)
		res.Chunks = append(res.Chunks, ids)

		resp, err := d.sender.SendBulk(ctx, buildRequest(req, chunk))
		if d.observer != nil {
			d.observer.ChunkDone(req.TemplateName, len(chunk), err)
		}
		if err != nil {
			res.State = StateFailed
			res.FailedIDs = ids
			res.UnsentIDs = LeftOver(req.TargetIDs, ids)
			log.Error("dispatch: chunk failed",
				"chunk", i,
				"failed_ids", res.FailedIDs,
				"error", err,
			)
			log.Info("dispatch: unsent recipients", "unsent_ids", res.UnsentIDs)
			return res, fmt.Errorf("%w: chunk %d of %d: %w", ErrDispatchFailed, i+1, len(chunks), err)
		}

		res.SentIDs = append(res.SentIDs, ids...)
		res.Rejected = append(res.Rejected, resp.Rejected()...)
		log.Debug("dispatch: chunk sent", "chunk", i, "size", len(chunk))

		if i < len(chunks)-1 {
			d.cfg.Sleep(d.cfg.Pause)
		}
	}

	res.State = StateCompleted
	log.Info("dispatch: completed", "sent", len(res.SentIDs), "rejected", len(res.Rejected))
	return res, nil
}

// ─── HELPERS ──────────────────────────────────────────────────────────────────

// Chunk splits rs into consecutive slices of at most size recipients.
func Chunk(rs []recipient.Recipient, size int) [][]recipient.Recipient {
	if size <= 0 {
		size = ChunkSize
	}
	var out [][]recipient.Recipient
	for start := 0; start < len(rs); start += size {
		end := min(start+size, len(rs))
		out = append(out, rs[start:end])
	}
	return out
}

// LeftOver returns the targets above the highest id in processed that are
// not themselves in processed.
func LeftOver(targets, processed []int64) []int64 {
	if len(processed) == 0 {
		return append([]int64(nil), targets...)
	}
	seen := make(map[int64]struct{}, len(processed))
	maxID := processed[0]
	for _, id := range processed {
		seen[id] = struct{}{}
		maxID = max(maxID, id)
	}
	var out []int64
	for _, id := range targets {
		if id <= maxID {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		out = append(out, id)
	}
	return out
}

func recipientIDs(rs []recipient.Recipient) []int64 {
	ids := make([]int64, len(rs))
	for i, r := range rs {
		ids[i] = r.ID()
	}
	return ids
}

func buildRequest(req Request, chunk []recipient.Recipient) email.BulkRequest {
	entries := make([]email.Entry, len(chunk))
	for i, r := range chunk {
		data := req.Records[r.ID()]
		if data == nil {
			data = templatedata.Record{}
		}
		entries[i] = email.Entry{RecipientID: r.ID(), To: r.Mail(), Data: data}
	}
	return email.BulkRequest{TemplateName: req.TemplateName, Entries: entries}
}
