package catalog_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyashahama/bulk-mail-dispatcher/internal/catalog"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/db"
)

// stubStore serves templates from memory and counts reads.
type stubStore struct {
	templates map[int64]db.MailTemplate
	vars      map[int64][]string
	err       error
	gets      int
}

func (s *stubStore) GetMailTemplate(_ context.Context, id int64) (db.MailTemplate, error) {
	s.gets++
	if s.err != nil {
		return db.MailTemplate{}, s.err
	}
	t, ok := s.templates[id]
	if !ok {
		return db.MailTemplate{}, sql.ErrNoRows
	}
	return t, nil
}

func (s *stubStore) ListMailTemplatesByType(_ context.Context, types []db.TemplateType) ([]db.MailTemplate, error) {
	var out []db.MailTemplate
	for _, t := range s.templates {
		for _, want := range types {
			if t.TemplateType == want {
				out = append(out, t)
			}
		}
	}
	return out, nil
}

func (s *stubStore) ListMailTemplateVariables(_ context.Context, id int64) ([]string, error) {
	return s.vars[id], nil
}

func newStore() *stubStore {
	return &stubStore{
		templates: map[int64]db.MailTemplate{
			1: {ID: 1, TemplateName: "パスワード再設定", SesTemplateName: "password_reset", TemplateType: db.TemplateTypeSystem},
			2: {ID: 2, TemplateName: "更新案内", SesTemplateName: "renewal_notice", TemplateType: db.TemplateTypeBatchSending},
		},
		vars: map[int64][]string{2: {"name", "expired_date"}},
	}
}

func TestBulkTemplate_ReturnsTemplateWithVariables(t *testing.T) {
	c := catalog.New(newStore(), time.Minute)

	tpl, err := c.BulkTemplate(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "renewal_notice", tpl.ProviderName)
	assert.Equal(t, []string{"name", "expired_date"}, tpl.Variables)
}

func TestBulkTemplate_SystemTemplateIsNotFound(t *testing.T) {
	c := catalog.New(newStore(), time.Minute)

	_, err := c.BulkTemplate(context.Background(), 1)
	assert.ErrorIs(t, err, catalog.ErrTemplateNotFound)
}

func TestBulkTemplate_UnknownIsNotFound(t *testing.T) {
	c := catalog.New(newStore(), time.Minute)

	_, err := c.BulkTemplate(context.Background(), 99)
	assert.ErrorIs(t, err, catalog.ErrTemplateNotFound)
}

func TestTemplate_CachesWithinTTL(t *testing.T) {
	st := newStore()
	c := catalog.New(st, time.Minute)

	for range 3 {
		_, err := c.Template(context.Background(), 2)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, st.gets)

	c.Invalidate(2)
	_, err := c.Template(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, st.gets)
}

func TestTemplate_ZeroTTLDisablesCache(t *testing.T) {
	st := newStore()
	c := catalog.New(st, 0)

	_, _ = c.Template(context.Background(), 2)
	_, _ = c.Template(context.Background(), 2)
	assert.Equal(t, 2, st.gets)
}

func TestTemplate_StoreErrorIsWrapped(t *testing.T) {
	st := newStore()
	st.err = errors.New("db down")
	c := catalog.New(st, time.Minute)

	_, err := c.Template(context.Background(), 2)
	assert.ErrorIs(t, err, st.err)
	assert.NotErrorIs(t, err, catalog.ErrTemplateNotFound)
}

func TestListByType(t *testing.T) {
	c := catalog.New(newStore(), time.Minute)

	list, err := c.ListByType(context.Background(), db.TemplateTypeBatchSending)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(2), list[0].ID)
}
