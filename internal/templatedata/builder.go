// Package templatedata builds the per-recipient substitution map handed to
// the mail provider.
//
// Data gaps never fail a build. A variable with no source, or a recipient
// with no application on file, resolves to Placeholder.
package templatedata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nyashahama/bulk-mail-dispatcher/internal/column"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/db"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/enrollment"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/recipient"
)

// Placeholder replaces every empty value. The provider rejects a bulk call
// when a declared template variable resolves to an empty string.
const Placeholder = " - "

// Record maps template variable names to their values.
type Record map[string]string

// Source is the subset of db.Querier used to load applications.
type Source interface {
	GetBaseApplication(ctx context.Context, userID int64) (db.Application, error)
	GetLatestPassedApplication(ctx context.Context, userID int64) (db.Application, error)
	GetLatestCompletedApplication(ctx context.Context, userID int64) (db.Application, error)
}

// Builder assembles Records.
type Builder struct {
	src Source
}

// NewBuilder returns a Builder reading applications from src.
func NewBuilder(src Source) *Builder {
	return &Builder{src: src}
}

// Build assembles the Record for one recipient.
func (b *Builder) Build(ctx context.Context, r recipient.Recipient, cols column.Resolved) (Record, error) {
	values := make(map[string]sql.NullString)

	if !cols.Recipient.IsEmpty() {
		recipientValues(r, cols.Recipient, values)
	}

	var base *enrollment.Enrollment
	if !cols.Enrollment.IsEmpty() || !cols.Screening.IsEmpty() {
		e, err := b.load(ctx, b.src.GetBaseApplication, r.ID())
		if err != nil {
			return nil, fmt.Errorf("templatedata: base application for user %d: %w", r.ID(), err)
		}
		base = e
	}

	if !cols.Enrollment.IsEmpty() {
		if err := b.enrollmentValues(ctx, r.ID(), base, cols.Enrollment, values); err != nil {
			return nil, err
		}
	}

	if !cols.Screening.IsEmpty() {
		screeningValues(base, cols.Screening, values)
	}

	return normalise(values), nil
}

// BuildAll builds one Record per recipient, keyed by user id.
func (b *Builder) BuildAll(ctx context.Context, rs []recipient.Recipient, cols column.Resolved) (map[int64]Record, error) {
	out := make(map[int64]Record, len(rs))
	for _, r := range rs {
		rec, err := b.Build(ctx, r, cols)
		if err != nil {
			return nil, err
		}
		out[r.ID()] = rec
	}
	return out, nil
}

// ─── DOMAINS ──────────────────────────────────────────────────────────────────

func recipientValues(r recipient.Recipient, cols column.Set, values map[string]sql.NullString) {
	derived := []struct {
		has    bool
		name   string
		format func() string
	}{
		{cols.HasAddress(), column.Address, r.FormattedAddress},
		{cols.HasWorkAddress(), column.WorkAddress, r.FormattedWorkAddress},
		{cols.HasBirthday(), column.Birthday, r.FormattedBirthday},
		{cols.HasExpiredDate(), column.ExpiredDate, r.FormattedExpiredDate},
		{cols.HasWorkPrefecture(), column.WorkPrefecture, r.FormattedWorkPrefecture},
		{cols.HasWorkZipcode(), column.WorkZipcode, r.FormattedWorkZipcode},
		{cols.HasGender(), column.Gender, r.FormattedGender},
	}
	for _, d := range derived {
		if d.has {
			values[d.name] = valid(d.format())
		}
	}
	for _, name := range cols.StandardColumns() {
		v, ok := r.Property(name)
		values[name] = sql.NullString{String: v, Valid: ok}
	}
}

func (b *Builder) enrollmentValues(ctx context.Context, userID int64, base *enrollment.Enrollment, cols column.Set, values map[string]sql.NullString) error {
	if cols.HasPassedExamineNumber() {
		passed, err := b.load(ctx, b.src.GetLatestPassedApplication, userID)
		if err != nil {
			return fmt.Errorf("templatedata: latest passed application for user %d: %w", userID, err)
		}
		var v sql.NullString
		if passed != nil && passed.PassFlag() {
			v = valid(passed.ExamineNumber())
		}
		values[column.PassedExamineNumber] = v
	}

	if cols.HasAttendanceNumber() {
		completed, err := b.load(ctx, b.src.GetLatestCompletedApplication, userID)
		if err != nil {
			return fmt.Errorf("templatedata: latest completed application for user %d: %w", userID, err)
		}
		var v sql.NullString
		if completed != nil && completed.AttendanceFlag() {
			v = valid(completed.AttendanceNumber())
		}
		values[column.AttendanceNumber] = v
	}

	// Standard columns come from the base application, which may be a
	// different row from the two above.
	for _, name := range cols.StandardColumns() {
		var v sql.NullString
		if base != nil {
			s, ok := base.Property(name)
			v = sql.NullString{String: s, Valid: ok}
		}
		values[name] = v
	}
	return nil
}

func screeningValues(base *enrollment.Enrollment, cols column.Set, values map[string]sql.NullString) {
	if !cols.HasExpAssoc() {
		return
	}
	var v sql.NullString
	if base != nil {
		if s, ok := base.Screening(); ok {
			v = valid(s.Description)
		}
	}
	values[column.ExpAssoc] = v
}

// load runs one application query. A missing row is not an error.
func (b *Builder) load(ctx context.Context, get func(context.Context, int64) (db.Application, error), userID int64) (*enrollment.Enrollment, error) {
	row, err := get(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e := FromApplication(row)
	return &e, nil
}

// FromApplication converts a db row into an Enrollment snapshot.
func FromApplication(a db.Application) enrollment.Enrollment {
	f := enrollment.Fields{
		ID:               a.ID,
		UserID:           a.UserID,
		ReceiptNumber:    a.ReceiptNumber,
		ExamineNumber:    a.ExamineNumber,
		AttendanceNumber: a.AttendanceNumber,
		CompletionNumber: a.CompletionNumber,
		PassFlag:         a.PassFlag,
		AttendanceFlag:   a.AttendanceFlag,
		Status:           a.Status,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
	if a.ExpAssoc.Valid {
		f.Screening = &enrollment.Screening{
			ExpAssoc:    a.ExpAssoc.Int16,
			Description: a.ExpAssocDescription.String,
		}
	}
	return enrollment.New(f)
}

// ─── NORMALISATION ────────────────────────────────────────────────────────────

func valid(s string) sql.NullString { return sql.NullString{String: s, Valid: true} }

// normalise swaps every falsy value for Placeholder. Falsy means NULL, "" or
// "0".
func normalise(values map[string]sql.NullString) Record {
	out := make(Record, len(values))
	for k, v := range values {
		if !v.Valid || v.String == "" || v.String == "0" {
			out[k] = Placeholder
			continue
		}
		out[k] = v.String
	}
	return out
}
