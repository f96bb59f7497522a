package destination

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/nyashahama/bulk-mail-dispatcher/internal/db"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/recipient"
)

// Store is the subset of db.Querier the Selector needs.
type Store interface {
	ListRecipientsByIDs(ctx context.Context, ids []int64, columns []string) ([]db.RecipientRow, error)
	ListRecipientsByCertificationNumbers(ctx context.Context, numbers []string, columns []string) ([]db.RecipientRow, error)
}

// fetchFunc loads the rows for one Destination and reports whether a row
// belongs to the requested targets.
type fetchFunc func(ctx context.Context, s Store, d Destination, columns []string) ([]db.RecipientRow, func(recipient.Recipient) bool, error)

var fetchers = map[Mode]fetchFunc{
	ByPrimaryID:           fetchByPrimaryID,
	ByCertificationNumber: fetchByCertificationNumber,
}

func fetchByPrimaryID(ctx context.Context, s Store, d Destination, columns []string) ([]db.RecipientRow, func(recipient.Recipient) bool, error) {
	ids := d.TargetIDs()
	rows, err := s.ListRecipientsByIDs(ctx, ids, columns)
	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	return rows, func(r recipient.Recipient) bool {
		_, ok := want[r.ID()]
		return ok
	}, err
}

func fetchByCertificationNumber(ctx context.Context, s Store, d Destination, columns []string) ([]db.RecipientRow, func(recipient.Recipient) bool, error) {
	// The filter below needs the certification number on every row.
	if !slices.Contains(columns, "certification_number") {
		columns = append(slices.Clone(columns), "certification_number")
	}
	rows, err := s.ListRecipientsByCertificationNumbers(ctx, d.targets, columns)
	want := make(map[string]struct{}, len(d.targets))
	for _, t := range d.targets {
		want[t] = struct{}{}
	}
	return rows, func(r recipient.Recipient) bool {
		_, ok := want[r.CertificationNumber()]
		return ok
	}, err
}

// Selector fetches the recipients a Destination names.
type Selector struct {
	store  Store
	logger *slog.Logger
}

// NewSelector returns a Selector reading from s.
func NewSelector(s Store, logger *slog.Logger) *Selector {
	return &Selector{store: s, logger: logger}
}

// Select returns the matching recipients, one per user, sorted by id. Only
// id, mail and the storage columns behind the destination's column set are
// loaded.
func (s *Selector) Select(ctx context.Context, d Destination) ([]recipient.Recipient, error) {
	fetch, ok := fetchers[d.mode]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMode, d.mode)
	}

	var columns []string
	for _, c := range d.columns.StorageColumns() {
		if db.IsRecipientColumn(c) {
			columns = append(columns, c)
		}
	}

	rows, match, err := fetch(ctx, s.store, d, columns)
	if err != nil {
		return nil, fmt.Errorf("destination: select by %s: %w", d.mode, err)
	}

	seen := make(map[int64]struct{}, len(rows))
	out := make([]recipient.Recipient, 0, len(rows))
	for _, row := range rows {
		if _, dup := seen[row.ID]; dup {
			continue
		}
		r := recipient.FromColumns(row.ID, row.Mail, row.Columns)
		if !match(r) {
			continue
		}
		seen[row.ID] = struct{}{}
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b recipient.Recipient) int {
		switch {
		case a.ID() < b.ID():
			return -1
		case a.ID() > b.ID():
			return 1
		}
		return 0
	})

	s.logger.Debug("destination: recipients selected",
		"mode", d.mode.String(),
		"targets", len(d.targets),
		"matched", len(out),
	)
	return out, nil
}

// TargetIDs returns every user id the dispatch is accountable for, sorted and
// unique: the parsed targets plus the fetched ids for ByPrimaryID, and the
// fetched ids for ByCertificationNumber.
func TargetIDs(d Destination, recipients []recipient.Recipient) []int64 {
	ids := d.TargetIDs()
	for _, r := range recipients {
		ids = append(ids, r.ID())
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}
