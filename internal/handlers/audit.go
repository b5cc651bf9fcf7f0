package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/keyward/keyward/internal/audit"
)

// GetAuditLogs handles GET /api/v1/audit.
// Query parameters:
//   - minion_id (optional): filter by minion
//   - event_type (optional): filter by event type
//   - actor (optional): filter by acting identity
//   - since, until (optional): RFC 3339 bounds
//   - limit, offset (optional): pagination
func GetAuditLogs(w http.ResponseWriter, r *http.Request) {
	a := audit.Get()
	if a == nil {
		writeError(w, http.StatusServiceUnavailable, "Audit logging not initialized")
		return
	}

	opts := audit.QueryOptions{
		MinionID:  r.URL.Query().Get("minion_id"),
		EventType: r.URL.Query().Get("event_type"),
		Actor:     r.URL.Query().Get("actor"),
	}

	if s := r.URL.Query().Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid since")
			return
		}
		opts.Since = &t
	}
	if s := r.URL.Query().Get("until"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid until")
			return
		}
		opts.Until = &t
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		opts.Limit = limit
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			writeError(w, http.StatusBadRequest, "Invalid offset")
			return
		}
		opts.Offset = offset
	}

	res, err := a.Query(opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query audit logs")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
