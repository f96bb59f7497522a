package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// recipientColumnExpr lists every users column a caller may select, with the
// expression that renders it as text. Columns not listed here are never
// interpolated into SQL.
var recipientColumnExpr = map[string]string{
	"certification_number": "certification_number",
	"name":                 "name",
	"name_kana":            "name_kana",
	"gender":               "gender::text",
	"birthday":             "to_char(birthday, 'YYYY-MM-DD')",
	"expired_date":         "to_char(expired_date, 'YYYY-MM-DD')",
	"zipcode":              "zipcode",
	"prefecture":           "prefecture::text",
	"address1":             "address1",
	"address2":             "address2",
	"building":             "building",
	"send_flag":            "send_flag::text",
	"work_name":            "work_name",
	"work_section":         "work_section",
	"work_zipcode":         "work_zipcode",
	"work_prefecture":      "work_prefecture::text",
	"work_address1":        "work_address1",
	"work_address2":        "work_address2",
	"work_building":        "work_building",
	"work_phone":           "work_phone",
}

// IsRecipientColumn reports whether name can be selected from users.
func IsRecipientColumn(name string) bool {
	_, ok := recipientColumnExpr[name]
	return ok
}

// selectableColumns filters columns down to known ones, dropping duplicates.
func selectableColumns(columns []string) []string {
	seen := make(map[string]struct{}, len(columns))
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		if _, ok := recipientColumnExpr[c]; !ok {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func recipientSelect(columns []string, where string) string {
	var b strings.Builder
	b.WriteString("SELECT id, mail")
	for _, c := range columns {
		fmt.Fprintf(&b, ", %s AS %s", recipientColumnExpr[c], c)
	}
	b.WriteString(" FROM users WHERE ")
	b.WriteString(where)
	b.WriteString(" AND deleted_at IS NULL ORDER BY id")
	return b.String()
}

// ListRecipientsByIDs selects id, mail and columns for the given user ids.
func (q *Queries) ListRecipientsByIDs(ctx context.Context, ids []int64, columns []string) ([]RecipientRow, error) {
	cols := selectableColumns(columns)
	return q.listRecipients(ctx, recipientSelect(cols, "id = ANY($1)"), pq.Array(ids), cols)
}

// ListRecipientsByCertificationNumbers selects id, mail and columns for the
// users holding the given certification numbers.
func (q *Queries) ListRecipientsByCertificationNumbers(ctx context.Context, numbers []string, columns []string) ([]RecipientRow, error) {
	cols := selectableColumns(columns)
	return q.listRecipients(ctx, recipientSelect(cols, "certification_number = ANY($1)"), pq.Array(numbers), cols)
}

func (q *Queries) listRecipients(ctx context.Context, query string, arg any, cols []string) ([]RecipientRow, error) {
	rows, err := q.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []RecipientRow
	for rows.Next() {
		var (
			i    RecipientRow
			vals = make([]sql.NullString, len(cols))
			dest = make([]any, 0, len(cols)+2)
		)
		dest = append(dest, &i.ID, &i.Mail)
		for k := range vals {
			dest = append(dest, &vals[k])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		i.Columns = make(map[string]sql.NullString, len(cols))
		for k, c := range cols {
			i.Columns[c] = vals[k]
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
