package storage

import (
	"encoding/json"
	"time"
)

// ActivityRecordsBucket holds the append-only audit trail.
const ActivityRecordsBucket = "activity"

// ActivityType names the kind of event an audit record describes.
type ActivityType string

const (
	// ActivityTypeLogin marks a completed authorization-code exchange.
	ActivityTypeLogin ActivityType = "login"
	// ActivityTypeRefresh marks a session token refresh.
	ActivityTypeRefresh ActivityType = "refresh"
	// ActivityTypeLogout marks a session deleted by its owner.
	ActivityTypeLogout ActivityType = "logout"
	// ActivityTypeClientRegistration marks a dynamic client registration.
	ActivityTypeClientRegistration ActivityType = "client_registration"
	// ActivityTypeClientRevocation marks a client registration revocation.
	ActivityTypeClientRevocation ActivityType = "client_revocation"
	// ActivityTypeToolCall marks a task tool execution.
	ActivityTypeToolCall ActivityType = "tool_call"
	// ActivityTypeCleanup marks an expired-record sweep.
	ActivityTypeCleanup ActivityType = "cleanup"
)

// Outcome labels shared by every activity type.
const (
	ActivityStatusSuccess = "success"
	ActivityStatusError   = "error"
)

// ActivityRecord is one audit trail entry. Records carry identifiers and
// outcomes only; tokens, secrets, and task content never appear here.
type ActivityRecord struct {
	ID         string         `json:"id"` // ULID
	Type       ActivityType   `json:"type"`
	Status     string         `json:"status"`
	UserID     string         `json:"user_id,omitempty"`
	ClientID   string         `json:"client_id,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	Detail     string         `json:"detail,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// MarshalBinary encodes the record for bbolt storage.
func (a *ActivityRecord) MarshalBinary() ([]byte, error) {
	return json.Marshal(a)
}

// UnmarshalBinary decodes a record read from bbolt.
func (a *ActivityRecord) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, a)
}

// ActivityFilter selects and pages audit records. Zero values mean no
// constraint on that dimension.
type ActivityFilter struct {
	Type      string
	UserID    string
	Status    string
	StartTime time.Time
	EndTime   time.Time
	Limit     int // page size, clamped to [1, 100]
	Offset    int // records to skip before the page starts
}

// DefaultActivityFilter selects everything, 50 records per page.
func DefaultActivityFilter() ActivityFilter {
	return ActivityFilter{Limit: 50}
}

// Validate clamps paging fields into their allowed ranges.
func (f *ActivityFilter) Validate() {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// Matches reports whether record satisfies every set constraint.
func (f *ActivityFilter) Matches(record *ActivityRecord) bool {
	if f.Type != "" && string(record.Type) != f.Type {
		return false
	}
	if f.UserID != "" && record.UserID != f.UserID {
		return false
	}
	if f.Status != "" && record.Status != f.Status {
		return false
	}
	if !f.StartTime.IsZero() && record.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && record.Timestamp.After(f.EndTime) {
		return false
	}
	return true
}
