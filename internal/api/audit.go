package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-ota/internal/audit"
)

// recordAudit stores an operator action. The action itself has already
// succeeded, so a failed write is only logged.
func (s *Server) recordAudit(r *http.Request, action, entityType, entityID string, details map[string]any) {
	if s.audit == nil {
		return
	}
	entry := &audit.Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Subject:    subjectFrom(r.Context()),
		Details:    details,
	}
	if err := s.audit.Create(r.Context(), entry); err != nil {
		s.logger.Warn("audit write failed", "action", action, "entity_id", entityID, "error", err)
	}
}

// handleListAudit returns audit entries, newest first.
//
// Query parameters:
//   - action, entity_type, entity_id: optional filters
//   - limit: page size (default 50, max 200)
//   - offset: entries to skip
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit log is not available")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		writeInternalError(w, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
