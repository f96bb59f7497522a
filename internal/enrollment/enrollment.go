// Package enrollment holds immutable snapshots of exam applications and the
// screening outcome attached to them.
package enrollment

import (
	"database/sql"
	"strconv"
	"time"
)

// Screening is the screening outcome recorded on an application.
type Screening struct {
	ExpAssoc    int16
	Description string
}

// Fields is the plain data an Enrollment is built from.
type Fields struct {
	ID               int64
	UserID           int64
	ReceiptNumber    sql.NullString
	ExamineNumber    sql.NullString
	AttendanceNumber sql.NullString
	CompletionNumber sql.NullString
	PassFlag         bool
	AttendanceFlag   bool
	Status           sql.NullString
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Screening        *Screening
}

// Enrollment is an immutable snapshot of one application row.
type Enrollment struct {
	f Fields
}

// New snapshots f. The screening outcome is copied so later changes to the
// caller's value cannot leak in.
func New(f Fields) Enrollment {
	if f.Screening != nil {
		s := *f.Screening
		f.Screening = &s
	}
	return Enrollment{f: f}
}

func (e Enrollment) ID() int64                { return e.f.ID }
func (e Enrollment) UserID() int64            { return e.f.UserID }
func (e Enrollment) PassFlag() bool           { return e.f.PassFlag }
func (e Enrollment) AttendanceFlag() bool     { return e.f.AttendanceFlag }
func (e Enrollment) CreatedAt() time.Time     { return e.f.CreatedAt }
func (e Enrollment) ExamineNumber() string    { return e.f.ExamineNumber.String }
func (e Enrollment) AttendanceNumber() string { return e.f.AttendanceNumber.String }

// Screening returns the attached screening outcome, if any.
func (e Enrollment) Screening() (Screening, bool) {
	if e.f.Screening == nil {
		return Screening{}, false
	}
	return *e.f.Screening, true
}

// Update lists overrides for With. Nil fields keep the current value.
type Update struct {
	ExamineNumber    *string
	AttendanceNumber *string
	PassFlag         *bool
	AttendanceFlag   *bool
	Status           *string
}

// With returns a new Enrollment with u applied.
func (e Enrollment) With(u Update) Enrollment {
	f := e.f
	if u.ExamineNumber != nil {
		f.ExamineNumber = sql.NullString{String: *u.ExamineNumber, Valid: true}
	}
	if u.AttendanceNumber != nil {
		f.AttendanceNumber = sql.NullString{String: *u.AttendanceNumber, Valid: true}
	}
	if u.PassFlag != nil {
		f.PassFlag = *u.PassFlag
	}
	if u.AttendanceFlag != nil {
		f.AttendanceFlag = *u.AttendanceFlag
	}
	if u.Status != nil {
		f.Status = sql.NullString{String: *u.Status, Valid: true}
	}
	return New(f)
}

// Property returns the raw value of an application column. The second result
// is false for NULL or unknown columns.
func (e Enrollment) Property(name string) (string, bool) {
	var v sql.NullString
	switch name {
	case "id":
		return strconv.FormatInt(e.f.ID, 10), true
	case "user_id":
		return strconv.FormatInt(e.f.UserID, 10), true
	case "receipt_number":
		v = e.f.ReceiptNumber
	case "examine_number":
		v = e.f.ExamineNumber
	case "attendance_number":
		v = e.f.AttendanceNumber
	case "completion_number":
		v = e.f.CompletionNumber
	case "status":
		v = e.f.Status
	case "pass_flag":
		return strconv.FormatBool(e.f.PassFlag), true
	case "attendance_flag":
		return strconv.FormatBool(e.f.AttendanceFlag), true
	default:
		return "", false
	}
	return v.String, v.Valid
}
