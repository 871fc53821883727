package tasks

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"taskmcp-go/internal/apperr"
	"taskmcp-go/internal/calendar"
	"taskmcp-go/internal/index"
	"taskmcp-go/internal/storage"
	"taskmcp-go/internal/stringutil"
)

// Schedule duration bounds in minutes.
const (
	MinScheduleDuration     = 5
	MaxScheduleDuration     = 480
	DefaultScheduleDuration = 60
)

// Page size bounds shared by list and search.
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// Service implements the task domain over the store, the search index
// and the calendar collaborator. Every operation is keyed by the owning
// user; tasks belonging to other users surface as not found.
type Service struct {
	store  *storage.Manager
	index  *index.Manager
	events calendar.EventCreator
	logger *zap.SugaredLogger
}

// NewService builds the task service. The index and event creator are
// optional: without an index, search scans the store; without an event
// creator, scheduling reports a validation error.
func NewService(store *storage.Manager, idx *index.Manager, events calendar.EventCreator, logger *zap.SugaredLogger) *Service {
	return &Service{
		store:  store,
		index:  idx,
		events: events,
		logger: logger,
	}
}

// Create stores a new task for the user, applying the documented
// defaults for priority, energy and time estimate.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*Task, error) {
	if in.Priority == 0 {
		in.Priority = DefaultPriority
	}
	if in.Energy == "" {
		in.Energy = DefaultEnergy
	}
	if in.TimeEstimate == "" {
		in.TimeEstimate = DefaultTimeEstimate
	}

	if err := validateTitle(in.Title); err != nil {
		return nil, err
	}
	if err := validateProject(in.Project); err != nil {
		return nil, err
	}
	if err := validatePriority(in.Priority); err != nil {
		return nil, err
	}
	if err := validateEnergy(in.Energy); err != nil {
		return nil, err
	}
	if err := validateTimeEstimate(in.TimeEstimate); err != nil {
		return nil, err
	}

	record := &storage.TaskRecord{
		UserID:       userID,
		Title:        in.Title,
		Project:      in.Project,
		Priority:     in.Priority,
		Energy:       in.Energy,
		TimeEstimate: in.TimeEstimate,
		Notes:        in.Notes,
		DueDate:      in.DueDate,
	}
	if err := s.store.CreateTask(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	s.reindex(record)

	s.logger.Infow("Created task",
		"task_id", record.ID,
		"user_id", userID,
		"priority", record.Priority)

	return fromRecord(record), nil
}

// List returns one page of the user's tasks plus the total match count.
// Completed tasks are excluded unless the filter asks for them; ordering
// is priority descending, then creation time ascending.
func (s *Service) List(ctx context.Context, userID string, filter storage.TaskFilter) ([]*Task, int, error) {
	if filter.Priority != 0 {
		if err := validatePriority(filter.Priority); err != nil {
			return nil, 0, err
		}
	}

	records, total, err := s.store.ListTasks(ctx, userID, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tasks: %w", err)
	}
	return fromRecords(records), total, nil
}

// Get returns a single task owned by the user.
func (s *Service) Get(ctx context.Context, userID string, id int64) (*Task, error) {
	record, err := s.store.GetTask(ctx, userID, id)
	if err != nil {
		return nil, taskError(id, err)
	}
	return fromRecord(record), nil
}

// Update applies a partial update; nil input fields are left unchanged.
func (s *Service) Update(ctx context.Context, userID string, id int64, in UpdateInput) (*Task, error) {
	if in.Title != nil {
		if err := validateTitle(*in.Title); err != nil {
			return nil, err
		}
	}
	if in.Project != nil {
		if err := validateProject(*in.Project); err != nil {
			return nil, err
		}
	}
	if in.Priority != nil {
		if err := validatePriority(*in.Priority); err != nil {
			return nil, err
		}
	}
	if in.Energy != nil {
		if err := validateEnergy(*in.Energy); err != nil {
			return nil, err
		}
	}
	if in.TimeEstimate != nil {
		if err := validateTimeEstimate(*in.TimeEstimate); err != nil {
			return nil, err
		}
	}

	record, err := s.store.UpdateTask(ctx, userID, id, func(rec *storage.TaskRecord) error {
		if in.Title != nil {
			rec.Title = *in.Title
		}
		if in.Project != nil {
			rec.Project = *in.Project
		}
		if in.Priority != nil {
			rec.Priority = *in.Priority
		}
		if in.Energy != nil {
			rec.Energy = *in.Energy
		}
		if in.TimeEstimate != nil {
			rec.TimeEstimate = *in.TimeEstimate
		}
		if in.Notes != nil {
			rec.Notes = *in.Notes
		}
		if in.DueDate != nil {
			rec.DueDate = *in.DueDate
		}
		return nil
	})
	if err != nil {
		return nil, taskError(id, err)
	}

	s.reindex(record)
	return fromRecord(record), nil
}

// Complete marks the task done, stamping completed_at with the current
// time even when the task was already complete.
func (s *Service) Complete(ctx context.Context, userID string, id int64) (*Task, error) {
	now := time.Now().UTC()
	record, err := s.store.UpdateTask(ctx, userID, id, func(rec *storage.TaskRecord) error {
		rec.Completed = true
		rec.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, taskError(id, err)
	}

	s.reindex(record)

	s.logger.Infow("Completed task", "task_id", id, "user_id", userID)
	return fromRecord(record), nil
}

// Delete removes the task permanently.
func (s *Service) Delete(ctx context.Context, userID string, id int64) error {
	if err := s.store.DeleteTask(ctx, userID, id); err != nil {
		return taskError(id, err)
	}

	if s.index != nil {
		if err := s.index.DeleteTask(id); err != nil {
			s.logger.Warnw("Failed to remove task from search index",
				"task_id", id,
				"error", err)
		}
	}

	s.logger.Infow("Deleted task", "task_id", id, "user_id", userID)
	return nil
}

// Search matches tasks whose title or notes contain the query,
// case-insensitively. Completed tasks are included; results follow the
// list ordering.
func (s *Service) Search(ctx context.Context, userID, query string, limit int) ([]*Task, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperr.Validation("Search query is required")
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	records, err := s.searchIndex(ctx, userID, query)
	if err != nil {
		s.logger.Warnw("Index search unavailable, scanning store",
			"user_id", userID,
			"error", err)
		records, err = s.searchScan(ctx, userID, query)
		if err != nil {
			return nil, fmt.Errorf("failed to search tasks: %w", err)
		}
	}

	sortByListOrder(records)
	if len(records) > limit {
		records = records[:limit]
	}
	return fromRecords(records), nil
}

func (s *Service) searchIndex(ctx context.Context, userID, query string) ([]*storage.TaskRecord, error) {
	if s.index == nil {
		return nil, errors.New("search index not configured")
	}

	ids, err := s.index.Search(userID, query)
	if err != nil {
		return nil, err
	}

	records := make([]*storage.TaskRecord, 0, len(ids))
	for _, id := range ids {
		record, err := s.store.GetTask(ctx, userID, id)
		if err != nil {
			// The index can lag behind deletes
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func (s *Service) searchScan(ctx context.Context, userID, query string) ([]*storage.TaskRecord, error) {
	var records []*storage.TaskRecord
	err := s.store.ForEachUserTask(ctx, userID, func(rec *storage.TaskRecord) error {
		if stringutil.ContainsIgnoreCase(rec.Title, query) ||
			stringutil.ContainsIgnoreCase(rec.Notes, query) {
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

// Stats summarizes the user's tasks. The project filter narrows the
// totals only; the by_project and by_priority breakdowns always cover
// the whole account and count open tasks.
func (s *Service) Stats(ctx context.Context, userID, project string) (*Stats, error) {
	stats := &Stats{
		ByProject:  make(map[string]int),
		ByPriority: make(map[string]int),
	}

	err := s.store.ForEachUserTask(ctx, userID, func(rec *storage.TaskRecord) error {
		if project == "" || rec.Project == project {
			stats.TotalTasks++
			if rec.Completed {
				stats.CompletedTasks++
			}
		}

		if !rec.Completed {
			name := rec.Project
			if name == "" {
				name = "None"
			}
			stats.ByProject[name]++
			stats.ByPriority[strconv.Itoa(rec.Priority)]++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compute task stats: %w", err)
	}

	stats.IncompleteTasks = stats.TotalTasks - stats.CompletedTasks
	if stats.TotalTasks > 0 {
		rate := float64(stats.CompletedTasks) / float64(stats.TotalTasks) * 100
		stats.CompletionRate = math.Round(rate*100) / 100
	}
	return stats, nil
}

// Schedule creates a calendar event for the task and records the event
// linkage on it. The task is only touched after the calendar call
// succeeds; a calendar failure leaves it unscheduled.
func (s *Service) Schedule(ctx context.Context, userID string, in ScheduleInput, creds calendar.Credentials) (*Task, error) {
	if s.events == nil {
		return nil, apperr.Validation("Calendar integration is not configured")
	}

	if in.DurationMinutes == 0 {
		in.DurationMinutes = DefaultScheduleDuration
	}
	if in.DurationMinutes < MinScheduleDuration || in.DurationMinutes > MaxScheduleDuration {
		return nil, apperr.Validation(fmt.Sprintf("Duration must be between %d and %d minutes", MinScheduleDuration, MaxScheduleDuration))
	}

	start, err := parseStartTime(in.StartTime)
	if err != nil {
		return nil, err
	}

	record, err := s.store.GetTask(ctx, userID, in.TaskID)
	if err != nil {
		return nil, taskError(in.TaskID, err)
	}

	description := record.Notes
	if description == "" {
		description = fmt.Sprintf("Task from Task Manager MCP\nPriority: %d", record.Priority)
	}

	event, err := s.events.CreateEvent(ctx, creds, calendar.Event{
		Title:           record.Title,
		Description:     description,
		Start:           start,
		DurationMinutes: in.DurationMinutes,
	})
	if err != nil {
		return nil, apperr.Domain("TASK_SCHEDULE_FAILED", "Failed to create calendar event: "+err.Error())
	}

	updated, err := s.store.UpdateTask(ctx, userID, in.TaskID, func(rec *storage.TaskRecord) error {
		rec.CalendarEventID = event.ID
		rec.CalendarEventURL = event.HTMLURL
		rec.ScheduledStart = in.StartTime
		rec.ScheduledDuration = in.DurationMinutes
		return nil
	})
	if err != nil {
		return nil, taskError(in.TaskID, err)
	}

	s.logger.Infow("Scheduled task",
		"task_id", in.TaskID,
		"event_id", event.ID,
		"start", in.StartTime,
		"duration_minutes", in.DurationMinutes)

	return fromRecord(updated), nil
}

// Rebuild reindexes every task in the store, used at startup when the
// index directory is fresh or after index corruption.
func (s *Service) Rebuild(ctx context.Context) (int, error) {
	if s.index == nil {
		return 0, nil
	}
	return s.index.Rebuild(ctx, s.store)
}

// reindex mirrors a task into the search index. Index trouble is logged
// but never fails the write; search falls back to a store scan.
func (s *Service) reindex(record *storage.TaskRecord) {
	if s.index == nil {
		return
	}
	if err := s.index.IndexTask(record); err != nil {
		s.logger.Warnw("Failed to index task",
			"task_id", record.ID,
			"error", err)
	}
}

func taskError(id int64, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound("Task not found")
	}
	return fmt.Errorf("task %d: %w", id, err)
}

func sortByListOrder(records []*storage.TaskRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Priority != records[j].Priority {
			return records[i].Priority > records[j].Priority
		}
		return records[i].Created.Before(records[j].Created)
	})
}
