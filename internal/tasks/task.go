// Package tasks implements the task management domain: CRUD, search,
// statistics and calendar scheduling, all scoped to the owning user.
package tasks

import (
	"fmt"
	"time"

	"taskmcp-go/internal/apperr"
	"taskmcp-go/internal/storage"
)

// Field limits and defaults for task input.
const (
	MaxTitleLength        = 500
	MaxProjectLength      = 100
	MaxTimeEstimateLength = 50

	DefaultPriority     = 3
	DefaultEnergy       = EnergyMedium
	DefaultTimeEstimate = "1hr"
)

// Energy levels a task can require.
const (
	EnergyLight  = "light"
	EnergyMedium = "medium"
	EnergyDeep   = "deep"
)

// Task is the wire representation of a task. Nullable fields use
// pointers so absent values render as JSON null; calendar linkage only
// appears once the task has been scheduled.
type Task struct {
	ID                int64   `json:"id"`
	UserID            string  `json:"user_id"`
	Title             string  `json:"title"`
	Project           *string `json:"project"`
	Priority          int     `json:"priority"`
	Energy            string  `json:"energy"`
	TimeEstimate      string  `json:"time_estimate"`
	Notes             *string `json:"notes"`
	DueDate           *string `json:"due_date"`
	Completed         bool    `json:"completed"`
	CompletedAt       *string `json:"completed_at"`
	CreatedAt         string  `json:"created_at"`
	UpdatedAt         string  `json:"updated_at"`
	CalendarEventID   string  `json:"calendar_event_id,omitempty"`
	CalendarEventURL  string  `json:"calendar_event_url,omitempty"`
	ScheduledStart    string  `json:"scheduled_start,omitempty"`
	ScheduledDuration int     `json:"scheduled_duration,omitempty"`
}

// Stats summarizes a user's tasks. The by_project and by_priority
// breakdowns count incomplete tasks only.
type Stats struct {
	TotalTasks      int            `json:"total_tasks"`
	CompletedTasks  int            `json:"completed_tasks"`
	IncompleteTasks int            `json:"incomplete_tasks"`
	CompletionRate  float64        `json:"completion_rate"`
	ByProject       map[string]int `json:"by_project"`
	ByPriority      map[string]int `json:"by_priority"`
}

// CreateInput carries the fields accepted on task creation. Zero values
// for priority, energy and time estimate fall back to the defaults.
type CreateInput struct {
	Title        string
	Project      string
	Priority     int
	Energy       string
	TimeEstimate string
	Notes        string
	DueDate      string
}

// UpdateInput is a partial update; nil fields are left unchanged.
type UpdateInput struct {
	Title        *string
	Project      *string
	Priority     *int
	Energy       *string
	TimeEstimate *string
	Notes        *string
	DueDate      *string
}

// ScheduleInput carries the scheduling request for a task.
type ScheduleInput struct {
	TaskID          int64
	StartTime       string
	DurationMinutes int
}

func validateTitle(title string) error {
	if title == "" {
		return apperr.Validation("Title is required")
	}
	if len(title) > MaxTitleLength {
		return apperr.Validation(fmt.Sprintf("Title must be at most %d characters", MaxTitleLength))
	}
	return nil
}

func validateProject(project string) error {
	if len(project) > MaxProjectLength {
		return apperr.Validation(fmt.Sprintf("Project must be at most %d characters", MaxProjectLength))
	}
	return nil
}

func validatePriority(priority int) error {
	if priority < 1 || priority > 5 {
		return apperr.Validation("Priority must be between 1 and 5")
	}
	return nil
}

func validateEnergy(energy string) error {
	switch energy {
	case EnergyLight, EnergyMedium, EnergyDeep:
		return nil
	}
	return apperr.Validation("Energy must be 'light', 'medium', or 'deep'")
}

func validateTimeEstimate(estimate string) error {
	if len(estimate) > MaxTimeEstimateLength {
		return apperr.Validation(fmt.Sprintf("Time estimate must be at most %d characters", MaxTimeEstimateLength))
	}
	return nil
}

// parseStartTime accepts RFC 3339 with offset as well as a naive local
// form, which is taken as UTC.
func parseStartTime(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05", value, time.UTC)
	if err != nil {
		return time.Time{}, apperr.Validation(fmt.Sprintf("Invalid start_time %q, expected ISO 8601", value))
	}
	return t, nil
}

func fromRecord(rec *storage.TaskRecord) *Task {
	t := &Task{
		ID:                rec.ID,
		UserID:            rec.UserID,
		Title:             rec.Title,
		Project:           optional(rec.Project),
		Priority:          rec.Priority,
		Energy:            rec.Energy,
		TimeEstimate:      rec.TimeEstimate,
		Notes:             optional(rec.Notes),
		DueDate:           optional(rec.DueDate),
		Completed:         rec.Completed,
		CreatedAt:         rec.Created.UTC().Format(time.RFC3339),
		UpdatedAt:         rec.Updated.UTC().Format(time.RFC3339),
		CalendarEventID:   rec.CalendarEventID,
		CalendarEventURL:  rec.CalendarEventURL,
		ScheduledStart:    rec.ScheduledStart,
		ScheduledDuration: rec.ScheduledDuration,
	}
	if rec.CompletedAt != nil {
		at := rec.CompletedAt.UTC().Format(time.RFC3339)
		t.CompletedAt = &at
	}
	return t
}

func fromRecords(recs []*storage.TaskRecord) []*Task {
	out := make([]*Task, 0, len(recs))
	for _, rec := range recs {
		out = append(out, fromRecord(rec))
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
