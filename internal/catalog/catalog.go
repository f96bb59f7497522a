// Package catalog looks up mail templates and their declared variables.
// Lookups are cached in-process for a short TTL; templates change rarely and
// a bulk run reads the same template once per request.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/nyashahama/bulk-mail-dispatcher/internal/db"
)

// ErrTemplateNotFound is returned for an unknown, deleted or non-bulk
// template.
var ErrTemplateNotFound = errors.New("catalog: template not found")

// Template is a dispatchable mail template.
type Template struct {
	ID           int64
	Name         string
	ProviderName string // template name registered with the mail provider
	Type         db.TemplateType
	Variables    []string
}

// Store is the subset of db.Querier the catalog reads.
type Store interface {
	GetMailTemplate(ctx context.Context, id int64) (db.MailTemplate, error)
	ListMailTemplatesByType(ctx context.Context, types []db.TemplateType) ([]db.MailTemplate, error)
	ListMailTemplateVariables(ctx context.Context, templateID int64) ([]string, error)
}

// Catalog reads templates through a TTL cache.
type Catalog struct {
	store Store
	cache *gocache.Cache
	ttl   time.Duration
}

// New returns a Catalog. A ttl of zero disables caching.
func New(store Store, ttl time.Duration) *Catalog {
	return &Catalog{
		store: store,
		cache: gocache.New(ttl, 2*ttl+time.Minute),
		ttl:   ttl,
	}
}

// BulkTemplate returns the batch-sending template with the given id.
func (c *Catalog) BulkTemplate(ctx context.Context, id int64) (Template, error) {
	t, err := c.Template(ctx, id)
	if err != nil {
		return Template{}, err
	}
	if t.Type != db.TemplateTypeBatchSending {
		return Template{}, fmt.Errorf("%w: template %d is not a batch sending template", ErrTemplateNotFound, id)
	}
	return t, nil
}

// Template returns the template with the given id and its variables.
func (c *Catalog) Template(ctx context.Context, id int64) (Template, error) {
	key := strconv.FormatInt(id, 10)
	if c.ttl > 0 {
		if v, ok := c.cache.Get(key); ok {
			return v.(Template), nil
		}
	}

	row, err := c.store.GetMailTemplate(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Template{}, fmt.Errorf("%w: id %d", ErrTemplateNotFound, id)
	}
	if err != nil {
		return Template{}, fmt.Errorf("catalog: get template %d: %w", id, err)
	}

	t, err := c.withVariables(ctx, row)
	if err != nil {
		return Template{}, err
	}
	if c.ttl > 0 {
		c.cache.Set(key, t, c.ttl)
	}
	return t, nil
}

// ListByType returns every live template of the given types, with variables.
func (c *Catalog) ListByType(ctx context.Context, types ...db.TemplateType) ([]Template, error) {
	rows, err := c.store.ListMailTemplatesByType(ctx, types)
	if err != nil {
		return nil, fmt.Errorf("catalog: list templates: %w", err)
	}
	out := make([]Template, 0, len(rows))
	for _, row := range rows {
		t, err := c.withVariables(ctx, row)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Invalidate drops a cached template so the next lookup reads the store.
func (c *Catalog) Invalidate(id int64) {
	c.cache.Delete(strconv.FormatInt(id, 10))
}

func (c *Catalog) withVariables(ctx context.Context, row db.MailTemplate) (Template, error) {
	vars, err := c.store.ListMailTemplateVariables(ctx, row.ID)
	if err != nil {
		return Template{}, fmt.Errorf("catalog: list variables of template %d: %w", row.ID, err)
	}
	return Template{
		ID:           row.ID,
		Name:         row.TemplateName,
		ProviderName: row.SesTemplateName,
		Type:         row.TemplateType,
		Variables:    vars,
	}, nil
}
