package column

// ─── RECIPIENT ────────────────────────────────────────────────────────────────

// Recipient column names.
const (
	CertificationNumber = "certification_number"
	Name                = "name"
	NameKana            = "name_kana"
	Gender              = "gender"
	Birthday            = "birthday"
	WorkName            = "work_name"
	WorkSection         = "work_section"
	WorkZipcode         = "work_zipcode"
	WorkPrefecture      = "work_prefecture"
	WorkAddress         = "work_address"
	WorkPhone           = "work_phone"
	Mail                = "mail"
	Address             = "address"
	ExpiredDate         = "expired_date"
)

// Recipient is the user profile domain.
var Recipient = NewDomain("recipient",
	[]string{
		CertificationNumber, Name, NameKana, Gender, Birthday, WorkName,
		WorkSection, WorkZipcode, WorkPrefecture, WorkAddress, WorkPhone,
		Mail, Address, ExpiredDate,
	},
	[]string{
		Address, WorkAddress, Birthday, ExpiredDate, WorkPrefecture,
		WorkZipcode, Gender,
	},
).withStorage(map[string][]string{
	Address: {
		"work_zipcode", "work_prefecture", "work_address1", "work_address2",
		"work_building", "work_name", "work_section",
		"zipcode", "prefecture", "address1", "address2", "building",
		"send_flag",
	},
	WorkAddress: {"work_address1", "work_address2"},
})

// ─── ENROLLMENT ───────────────────────────────────────────────────────────────

// Enrollment column names.
const (
	ReceiptNumber       = "receipt_number"
	ExamineNumber       = "examine_number"
	PassedExamineNumber = "passed_examine_number"
	AttendanceNumber    = "attendance_number"
)

// Enrollment is the application (exam enrollment) domain.
var Enrollment = NewDomain("enrollment",
	[]string{ReceiptNumber, ExamineNumber, PassedExamineNumber, AttendanceNumber},
	[]string{PassedExamineNumber, AttendanceNumber},
)

// ─── SCREENING ────────────────────────────────────────────────────────────────

// ExpAssoc is the screening experience-association column.
const ExpAssoc = "exp_assoc"

// Screening is the screening outcome domain.
var Screening = NewDomain("screening", []string{ExpAssoc}, []string{ExpAssoc})

// ─── NAMED QUERIES ────────────────────────────────────────────────────────────

func (s Set) HasAddress() bool             { return s.Has(Address) }
func (s Set) HasWorkAddress() bool         { return s.Has(WorkAddress) }
func (s Set) HasBirthday() bool            { return s.Has(Birthday) }
func (s Set) HasExpiredDate() bool         { return s.Has(ExpiredDate) }
func (s Set) HasWorkPrefecture() bool      { return s.Has(WorkPrefecture) }
func (s Set) HasWorkZipcode() bool         { return s.Has(WorkZipcode) }
func (s Set) HasGender() bool              { return s.Has(Gender) }
func (s Set) HasPassedExamineNumber() bool { return s.Has(PassedExamineNumber) }
func (s Set) HasAttendanceNumber() bool    { return s.Has(AttendanceNumber) }
func (s Set) HasExpAssoc() bool            { return s.Has(ExpAssoc) }
