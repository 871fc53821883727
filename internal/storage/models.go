package storage

import (
	"encoding/json"
	"errors"
	"time"
)

// Bucket names for bbolt database
const (
	UsersBucket    = "users"
	SessionsBucket = "sessions"
	ClientsBucket  = "clients"
	TasksBucket    = "tasks"
	MetaBucket     = "meta"
)

// Meta keys
const (
	SchemaVersionKey = "schema"
)

// Current schema version
const CurrentSchemaVersion = 1

// ErrNotFound is returned when a record does not exist or is not visible
// to the requesting user.
var ErrNotFound = errors.New("record not found")

// UserRecord represents an account provisioned from a verified Google identity
type UserRecord struct {
	ID        string    `json:"id"`
	GoogleSub string    `json:"google_sub"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	LastLogin time.Time `json:"last_login"`
	Created   time.Time `json:"created"`
	Updated   time.Time `json:"updated"`
}

// SessionRecord represents a bearer session and the sealed provider tokens
// bound to it. AccessToken and RefreshToken hold AES-256-GCM ciphertext
// (JSON encodes byte slices as base64); plaintext never reaches storage.
type SessionRecord struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	AccessToken  []byte    `json:"access_token"`
	RefreshToken []byte    `json:"refresh_token,omitempty"`
	TokenExpiry  time.Time `json:"token_expiry"`
	ExpiresAt    time.Time `json:"expires_at"`
	Created      time.Time `json:"created"`
	LastActivity time.Time `json:"last_activity"`
}

// ClientRecord represents a dynamically registered OAuth client.
// SecretDigest is an HMAC-SHA256 digest; the plaintext secret is returned
// once at registration and never stored. Revocation deletes the record.
type ClientRecord struct {
	ID           string    `json:"id"`
	SecretDigest []byte    `json:"secret_digest"`
	Platform     string    `json:"platform"`
	RedirectURIs []string  `json:"redirect_uris"`
	LastUsed     time.Time `json:"last_used"`
	Created      time.Time `json:"created"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// TaskRecord represents a task owned by a single user.
// DueDate and ScheduledStart are kept as the caller-supplied strings so the
// original timezone offset survives storage round-trips.
type TaskRecord struct {
	ID                int64      `json:"id"`
	UserID            string     `json:"user_id"`
	Title             string     `json:"title"`
	Project           string     `json:"project,omitempty"`
	Priority          int        `json:"priority"`
	Energy            string     `json:"energy"`
	TimeEstimate      string     `json:"time_estimate"`
	Notes             string     `json:"notes,omitempty"`
	DueDate           string     `json:"due_date,omitempty"`
	Completed         bool       `json:"completed"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	CalendarEventID   string     `json:"calendar_event_id,omitempty"`
	CalendarEventURL  string     `json:"calendar_event_url,omitempty"`
	ScheduledStart    string     `json:"scheduled_start,omitempty"`
	ScheduledDuration int        `json:"scheduled_duration,omitempty"`
	Created           time.Time  `json:"created"`
	Updated           time.Time  `json:"updated"`
}

// TaskFilter represents query parameters for listing tasks
type TaskFilter struct {
	Project       string // Filter by exact project name
	Priority      int    // Filter by priority (1-5, 0 = no filter)
	ShowCompleted bool   // Include completed tasks
	Limit         int    // Max records to return (default 100, max 1000)
	Offset        int    // Pagination offset
}

// DefaultTaskFilter returns a TaskFilter with sensible defaults
func DefaultTaskFilter() TaskFilter {
	return TaskFilter{
		Limit:  100,
		Offset: 0,
	}
}

// Validate validates and normalizes the filter
func (f *TaskFilter) Validate() {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	if f.Limit > 1000 {
		f.Limit = 1000
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// Matches checks if a task record matches the filter criteria
func (f *TaskFilter) Matches(record *TaskRecord) bool {
	if record.Completed && !f.ShowCompleted {
		return false
	}
	if f.Project != "" && record.Project != f.Project {
		return false
	}
	if f.Priority != 0 && record.Priority != f.Priority {
		return false
	}
	return true
}

// MarshalBinary implements encoding.BinaryMarshaler
func (u *UserRecord) MarshalBinary() ([]byte, error) {
	return json.Marshal(u)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (u *UserRecord) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, u)
}

// MarshalBinary implements encoding.BinaryMarshaler
func (s *SessionRecord) MarshalBinary() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (s *SessionRecord) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, s)
}

// MarshalBinary implements encoding.BinaryMarshaler
func (c *ClientRecord) MarshalBinary() ([]byte, error) {
	return json.Marshal(c)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (c *ClientRecord) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, c)
}

// MarshalBinary implements encoding.BinaryMarshaler
func (t *TaskRecord) MarshalBinary() ([]byte, error) {
	return json.Marshal(t)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (t *TaskRecord) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, t)
}
