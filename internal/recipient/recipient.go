// Package recipient holds the immutable profile snapshot of one mail
// recipient and the formatting rules for its derived template fields.
//
// A Recipient is built once from a storage row and never mutated. With
// returns a copy carrying the requested overrides.
package recipient

import (
	"database/sql"
	"regexp"
	"strconv"
	"time"
)

// Fields is the plain data a Recipient is built from. Nullable columns use
// sql.NullString so "not selected" and "NULL" both read as invalid.
type Fields struct {
	ID   int64
	Mail string

	CertificationNumber sql.NullString
	Name                sql.NullString
	NameKana            sql.NullString
	Gender              sql.NullString // ISO 5218 code as text
	Birthday            sql.NullString // YYYY-MM-DD
	ExpiredDate         sql.NullString // YYYY-MM-DD

	Zipcode    sql.NullString
	Prefecture sql.NullString
	Address1   sql.NullString
	Address2   sql.NullString
	Building   sql.NullString
	SendFlag   sql.NullBool

	WorkName       sql.NullString
	WorkSection    sql.NullString
	WorkZipcode    sql.NullString
	WorkPrefecture sql.NullString
	WorkAddress1   sql.NullString
	WorkAddress2   sql.NullString
	WorkBuilding   sql.NullString
	WorkPhone      sql.NullString
}

// Recipient is an immutable snapshot of one user's contact record.
type Recipient struct {
	f Fields
}

// New snapshots f.
func New(f Fields) Recipient { return Recipient{f: f} }

func (r Recipient) ID() int64    { return r.f.ID }
func (r Recipient) Mail() string { return r.f.Mail }

// CertificationNumber returns the external certification code, or "".
func (r Recipient) CertificationNumber() string { return r.f.CertificationNumber.String }

// ─── WITH ─────────────────────────────────────────────────────────────────────

// Update lists overrides for With. Nil fields keep the current value.
type Update struct {
	Mail           *string
	Name           *string
	Address1       *string
	Address2       *string
	Building       *string
	WorkAddress1   *string
	WorkAddress2   *string
	Birthday       *string
	ExpiredDate    *string
	WorkPrefecture *string
	WorkZipcode    *string
}

// With returns a new Recipient with u applied. The receiver is unchanged.
func (r Recipient) With(u Update) Recipient {
	f := r.f
	if u.Mail != nil {
		f.Mail = *u.Mail
	}
	set := func(dst *sql.NullString, v *string) {
		if v != nil {
			*dst = sql.NullString{String: *v, Valid: true}
		}
	}
	set(&f.Name, u.Name)
	set(&f.Address1, u.Address1)
	set(&f.Address2, u.Address2)
	set(&f.Building, u.Building)
	set(&f.WorkAddress1, u.WorkAddress1)
	set(&f.WorkAddress2, u.WorkAddress2)
	set(&f.Birthday, u.Birthday)
	set(&f.ExpiredDate, u.ExpiredDate)
	set(&f.WorkPrefecture, u.WorkPrefecture)
	set(&f.WorkZipcode, u.WorkZipcode)
	return Recipient{f: f}
}

// ─── DERIVED FIELDS ───────────────────────────────────────────────────────────

var (
	isoDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	zip7    = regexp.MustCompile(`^(\d{3})(\d{4})$`)
)

// FormattedAddress joins the home address lines. A missing first line means
// no address on file and yields "".
func (r Recipient) FormattedAddress() string {
	if !r.f.Address1.Valid {
		return ""
	}
	return r.f.Address1.String + r.f.Address2.String + r.f.Building.String
}

// FormattedWorkAddress joins the two work address lines, reading a missing
// line as "". Both missing yields "".
func (r Recipient) FormattedWorkAddress() string {
	if !r.f.WorkAddress1.Valid && !r.f.WorkAddress2.Valid {
		return ""
	}
	return r.f.WorkAddress1.String + r.f.WorkAddress2.String
}

// FormattedBirthday renders the birthday as YYYY年MM月DD日.
func (r Recipient) FormattedBirthday() string { return longDate(r.f.Birthday) }

// FormattedExpiredDate renders the expiry date as YYYY年MM月DD日.
func (r Recipient) FormattedExpiredDate() string { return longDate(r.f.ExpiredDate) }

// FormattedWorkPrefecture passes the work prefecture through.
func (r Recipient) FormattedWorkPrefecture() string { return r.f.WorkPrefecture.String }

// FormattedWorkZipcode renders a seven digit code as ###-####. Anything else
// passes through.
func (r Recipient) FormattedWorkZipcode() string {
	if !r.f.WorkZipcode.Valid {
		return ""
	}
	m := zip7.FindStringSubmatch(r.f.WorkZipcode.String)
	if m == nil {
		return r.f.WorkZipcode.String
	}
	return m[1] + "-" + m[2]
}

// FormattedGender maps the ISO 5218 code to its label.
func (r Recipient) FormattedGender() string {
	if !r.f.Gender.Valid {
		return ""
	}
	code, err := strconv.Atoi(r.f.Gender.String)
	if err != nil {
		return ""
	}
	switch code {
	case 1:
		return "男性"
	case 2:
		return "女性"
	case 9:
		return "適用不能"
	default:
		return ""
	}
}

func longDate(v sql.NullString) string {
	if !v.Valid {
		return ""
	}
	if !isoDate.MatchString(v.String) {
		return v.String
	}
	t, err := time.Parse(time.DateOnly, v.String)
	if err != nil {
		// Shaped like a date but not one, e.g. 2023-02-30.
		return v.String
	}
	return t.Format("2006年01月02日")
}

// ─── PROPERTY LOOKUP ──────────────────────────────────────────────────────────

// Property returns the raw value of a storage-backed column. The second
// result is false for NULL, unselected, or unknown columns.
func (r Recipient) Property(name string) (string, bool) {
	var v sql.NullString
	switch name {
	case "id":
		return strconv.FormatInt(r.f.ID, 10), true
	case "mail":
		return r.f.Mail, r.f.Mail != ""
	case "certification_number":
		v = r.f.CertificationNumber
	case "name":
		v = r.f.Name
	case "name_kana":
		v = r.f.NameKana
	case "gender":
		v = r.f.Gender
	case "birthday":
		v = r.f.Birthday
	case "expired_date":
		v = r.f.ExpiredDate
	case "zipcode":
		v = r.f.Zipcode
	case "prefecture":
		v = r.f.Prefecture
	case "address1":
		v = r.f.Address1
	case "address2":
		v = r.f.Address2
	case "building":
		v = r.f.Building
	case "send_flag":
		if !r.f.SendFlag.Valid {
			return "", false
		}
		return strconv.FormatBool(r.f.SendFlag.Bool), true
	case "work_name":
		v = r.f.WorkName
	case "work_section":
		v = r.f.WorkSection
	case "work_zipcode":
		v = r.f.WorkZipcode
	case "work_prefecture":
		v = r.f.WorkPrefecture
	case "work_address1":
		v = r.f.WorkAddress1
	case "work_address2":
		v = r.f.WorkAddress2
	case "work_building":
		v = r.f.WorkBuilding
	case "work_phone":
		v = r.f.WorkPhone
	default:
		return "", false
	}
	return v.String, v.Valid
}

// FromColumns builds a Recipient from a row whose column set varies per
// query. Columns absent from cols stay NULL.
func FromColumns(id int64, mail string, cols map[string]sql.NullString) Recipient {
	f := Fields{ID: id, Mail: mail}
	targets := map[string]*sql.NullString{
		"certification_number": &f.CertificationNumber,
		"name":                 &f.Name,
		"name_kana":            &f.NameKana,
		"gender":               &f.Gender,
		"birthday":             &f.Birthday,
		"expired_date":         &f.ExpiredDate,
		"zipcode":              &f.Zipcode,
		"prefecture":           &f.Prefecture,
		"address1":             &f.Address1,
		"address2":             &f.Address2,
		"building":             &f.Building,
		"work_name":            &f.WorkName,
		"work_section":         &f.WorkSection,
		"work_zipcode":         &f.WorkZipcode,
		"work_prefecture":      &f.WorkPrefecture,
		"work_address1":        &f.WorkAddress1,
		"work_address2":        &f.WorkAddress2,
		"work_building":        &f.WorkBuilding,
		"work_phone":           &f.WorkPhone,
	}
	for name, v := range cols {
		if dst, ok := targets[name]; ok {
			*dst = v
			continue
		}
		if name == "send_flag" && v.Valid {
			if b, err := strconv.ParseBool(v.String); err == nil {
				f.SendFlag = sql.NullBool{Bool: b, Valid: true}
			}
		}
	}
	return New(f)
}
