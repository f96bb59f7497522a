package db

import "context"

const applicationColumns = `
SELECT a.id, a.user_id, a.receipt_number, a.examine_number, a.attendance_number,
       a.completion_number, a.pass_flag, a.attendance_flag, a.status,
       a.created_at, a.updated_at, s.exp_assoc, t.description
FROM applications a
LEFT JOIN screenings s ON s.application_id = a.id
LEFT JOIN exp_assoc_types t ON t.id = s.exp_assoc
`

const getBaseApplication = applicationColumns + `WHERE a.user_id = $1
ORDER BY a.id
LIMIT 1
`

// GetBaseApplication returns the user's first application by id.
func (q *Queries) GetBaseApplication(ctx context.Context, userID int64) (Application, error) {
	return q.getApplication(ctx, getBaseApplication, userID)
}

const getLatestPassedApplication = applicationColumns + `WHERE a.user_id = $1 AND a.pass_flag
ORDER BY a.created_at DESC, a.id DESC
LIMIT 1
`

// GetLatestPassedApplication returns the most recently created application
// with pass_flag set.
func (q *Queries) GetLatestPassedApplication(ctx context.Context, userID int64) (Application, error) {
	return q.getApplication(ctx, getLatestPassedApplication, userID)
}

const getLatestCompletedApplication = applicationColumns + `WHERE a.user_id = $1 AND a.completion_number IS NOT NULL
ORDER BY a.created_at DESC, a.id DESC
LIMIT 1
`

// GetLatestCompletedApplication returns the most recently created application
// carrying a completion number.
func (q *Queries) GetLatestCompletedApplication(ctx context.Context, userID int64) (Application, error) {
	return q.getApplication(ctx, getLatestCompletedApplication, userID)
}

func (q *Queries) getApplication(ctx context.Context, query string, userID int64) (Application, error) {
	row := q.db.QueryRowContext(ctx, query, userID)
	var i Application
	err := row.Scan(
		&i.ID,
		&i.UserID,
		&i.ReceiptNumber,
		&i.ExamineNumber,
		&i.AttendanceNumber,
		&i.CompletionNumber,
		&i.PassFlag,
		&i.AttendanceFlag,
		&i.Status,
		&i.CreatedAt,
		&i.UpdatedAt,
		&i.ExpAssoc,
		&i.ExpAssocDescription,
	)
	return i, err
}
