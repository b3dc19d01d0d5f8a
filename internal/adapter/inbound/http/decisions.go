package http

import (
	"net/http"
	"strconv"

	"github.com/Sentinel-Gate/Sentinelauthz/internal/domain/audit"
)

// DecisionsResponse is the body returned by GET /v1/decisions.
type DecisionsResponse struct {
	Records []audit.Record `json:"records"`
	Count   int            `json:"count"`
}

// WithAuditLog enables GET /v1/decisions backed by r.
func (h *Handler) WithAuditLog(r audit.RecentReader) *Handler {
	h.auditLog = r
	return h
}

// handleDecisions lists recent audit records, newest first.
// Query parameters: event, decision, subject, limit.
func (h *Handler) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if h.auditLog == nil {
		h.respondError(w, http.StatusNotFound, "audit log is disabled")
		return
	}

	q := r.URL.Query()
	f := audit.Filter{
		Event:    q.Get("event"),
		Decision: q.Get("decision"),
		Subject:  q.Get("subject"),
	}
	if f.Decision != "" && f.Decision != audit.DecisionAllow && f.Decision != audit.DecisionDeny {
		h.respondError(w, http.StatusBadRequest, "decision must be allow or deny")
		return
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = n
	}

	records := h.auditLog.Recent(f)
	h.respondJSON(w, http.StatusOK, DecisionsResponse{Records: records, Count: len(records)})
}
