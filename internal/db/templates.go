package db

import (
	"context"

	"github.com/lib/pq"
)

const getMailTemplate = `
SELECT id, template_name, ses_template_name, template_type, created_at, updated_at
FROM mail_templates
WHERE id = $1 AND deleted_at IS NULL
`

func (q *Queries) GetMailTemplate(ctx context.Context, id int64) (MailTemplate, error) {
	row := q.db.QueryRowContext(ctx, getMailTemplate, id)
	var i MailTemplate
	err := row.Scan(
		&i.ID,
		&i.TemplateName,
		&i.SesTemplateName,
		&i.TemplateType,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const listMailTemplatesByType = `
SELECT id, template_name, ses_template_name, template_type, created_at, updated_at
FROM mail_templates
WHERE template_type = ANY($1) AND deleted_at IS NULL
ORDER BY id
`

func (q *Queries) ListMailTemplatesByType(ctx context.Context, types []TemplateType) ([]MailTemplate, error) {
	codes := make([]int64, len(types))
	for i, t := range types {
		codes[i] = int64(t)
	}
	rows, err := q.db.QueryContext(ctx, listMailTemplatesByType, pq.Array(codes))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []MailTemplate
	for rows.Next() {
		var i MailTemplate
		if err := rows.Scan(
			&i.ID,
			&i.TemplateName,
			&i.SesTemplateName,
			&i.TemplateType,
			&i.CreatedAt,
			&i.UpdatedAt,
		); err != nil {
			return nil, err
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

const listMailTemplateVariables = `
SELECT variable_name
FROM mail_template_variables
WHERE mail_template_id = $1
ORDER BY id
`

func (q *Queries) ListMailTemplateVariables(ctx context.Context, templateID int64) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listMailTemplateVariables, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		items = append(items, name)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
