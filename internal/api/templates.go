package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/nyashahama/bulk-mail-dispatcher/internal/db"
)

// ─── GET /api/templates ──────────────────────────────────────────────────────

type templateResponse struct {
	ID           int64    `json:"id"`
	Name         string   `json:"name"`
	ProviderName string   `json:"provider_name"`
	TemplateType int16    `json:"template_type"`
	Variables    []string `json:"variables"`
}

// handleListTemplates lists templates of one type (?type=1 system,
// ?type=2 batch sending). The type defaults to batch sending.
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	tt := db.TemplateTypeBatchSending
	if raw := r.URL.Query().Get("type"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 16)
		if err != nil || !db.TemplateType(n).Valid() {
			respondErr(w, http.StatusBadRequest, "type must be 1 or 2")
			return
		}
		tt = db.TemplateType(n)
	}

	list, err := s.templates.ListByType(r.Context(), tt)
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("list templates: %w", err))
		return
	}

	out := make([]templateResponse, 0, len(list))
	for _, t := range list {
		vars := t.Variables
		if vars == nil {
			vars = []string{}
		}
		out = append(out, templateResponse{
			ID:           t.ID,
			Name:         t.Name,
			ProviderName: t.ProviderName,
			TemplateType: int16(t.Type),
			Variables:    vars,
		})
	}
	respond(w, http.StatusOK, out)
}
