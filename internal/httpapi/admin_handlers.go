package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"taskmcp-go/internal/reqcontext"
	"taskmcp-go/internal/storage"
)

// cleanupResponse reports what one sweep removed
type cleanupResponse struct {
	ExpiredSessionsRemoved int `json:"expired_sessions_removed"`
	ExpiredClientsRemoved  int `json:"expired_clients_removed"`
	PendingStates          int `json:"pending_states"`
}

// handleCleanup sweeps expired sessions and client registrations in one
// pass. Pending authorization states expire on their own; only their
// current count is reported.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	sessionsRemoved, err := s.sessions.CleanupExpired(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}

	clientsRemoved, err := s.registrar.CleanupExpired(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}

	resp := cleanupResponse{
		ExpiredSessionsRemoved: sessionsRemoved,
		ExpiredClientsRemoved:  clientsRemoved,
	}
	if s.states != nil {
		resp.PendingStates = s.states.Len()
	}

	s.store.SaveActivityAsync(&storage.ActivityRecord{
		Type:       storage.ActivityTypeCleanup,
		Status:     storage.ActivityStatusSuccess,
		Detail:     fmt.Sprintf("sessions=%d clients=%d", sessionsRemoved, clientsRemoved),
		DurationMs: time.Since(start).Milliseconds(),
		RequestID:  reqcontext.GetRequestID(r.Context()),
	})
	reqcontext.Logger(r.Context(), s.logger).Infow("Cleanup completed",
		"expired_sessions", sessionsRemoved,
		"expired_clients", clientsRemoved)

	s.writeJSON(w, http.StatusOK, resp)
}

// handleActivity lists audit records, newest first
func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	filter, err := parseActivityFilter(r)
	if err != nil {
		s.writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	records, total, err := s.store.ListActivities(filter)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if records == nil {
		records = []*storage.ActivityRecord{}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"activities": records,
		"total":      total,
		"limit":      filter.Limit,
		"offset":     filter.Offset,
	})
}

// parseActivityFilter reads filter parameters off the query string
func parseActivityFilter(r *http.Request) (storage.ActivityFilter, error) {
	filter := storage.DefaultActivityFilter()
	q := r.URL.Query()

	filter.Type = q.Get("type")
	filter.UserID = q.Get("user_id")
	filter.Status = q.Get("status")

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return filter, fmt.Errorf("Invalid limit parameter: %s", raw)
		}
		filter.Limit = limit
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			return filter, fmt.Errorf("Invalid offset parameter: %s", raw)
		}
		filter.Offset = offset
	}
	if raw := q.Get("start_time"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("Invalid start_time parameter, expected RFC3339: %s", raw)
		}
		filter.StartTime = t
	}
	if raw := q.Get("end_time"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("Invalid end_time parameter, expected RFC3339: %s", raw)
		}
		filter.EndTime = t
	}

	return filter, nil
}
