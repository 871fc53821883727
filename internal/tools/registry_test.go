package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"taskmcp-go/internal/apperr"
	"taskmcp-go/internal/calendar"
	"taskmcp-go/internal/index"
	"taskmcp-go/internal/reqcontext"
	"taskmcp-go/internal/security"
	"taskmcp-go/internal/session"
	"taskmcp-go/internal/storage"
	"taskmcp-go/internal/tasks"
)

type fakeEventCreator struct {
	events []calendar.Event
	creds  []calendar.Credentials
	err    error
}

func (f *fakeEventCreator) CreateEvent(_ context.Context, creds calendar.Credentials, event calendar.Event) (*calendar.CreatedEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.events = append(f.events, event)
	f.creds = append(f.creds, creds)
	return &calendar.CreatedEvent{
		ID:      "evt_1",
		HTMLURL: "https://calendar.google.com/event?eid=evt_1",
	}, nil
}

type registryFixture struct {
	registry *Registry
	events   *fakeEventCreator
	actor    reqcontext.Actor
}

func setupRegistryTest(t *testing.T, responseLimit int) *registryFixture {
	t.Helper()
	logger := zap.NewNop().Sugar()

	store, err := storage.NewManager(t.TempDir(), logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})

	idx, err := index.NewManager(t.TempDir(), logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = idx.Close()
	})

	key, err := security.GenerateMasterKey()
	require.NoError(t, err)
	cipher, err := security.NewCipher(key)
	require.NoError(t, err)
	sessions := session.NewManager(store, cipher, time.Hour, logger)

	events := &fakeEventCreator{}
	svc := tasks.NewService(store, idx, events, logger)

	registry, err := NewRegistry(Deps{
		Tasks:         svc,
		Sessions:      sessions,
		ResponseLimit: responseLimit,
		Logger:        logger,
	})
	require.NoError(t, err)

	sess, err := sessions.Create(context.Background(), "user-1", "ya29.access", "1//refresh", time.Now().Add(time.Hour))
	require.NoError(t, err)

	return &registryFixture{
		registry: registry,
		events:   events,
		actor:    reqcontext.Actor{UserID: "user-1", SessionID: sess.ID},
	}
}

func resultText(t *testing.T, res *Result) string {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	require.Equal(t, "text", res.Content[0].Type)
	return res.Content[0].Text
}

func decodeObject(t *testing.T, res *Result) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	return out
}

func decodeArray(t *testing.T, res *Result) []map[string]any {
	t.Helper()
	var out []map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	return out
}

func (f *registryFixture) call(t *testing.T, name string, args map[string]any) *Result {
	t.Helper()
	res, err := f.registry.Call(context.Background(), f.actor, name, args)
	require.NoError(t, err)
	return res
}

func (f *registryFixture) createTask(t *testing.T, args map[string]any) map[string]any {
	t.Helper()
	return decodeObject(t, f.call(t, "task_create", args))
}

func TestNewRegistry_ToolSet(t *testing.T) {
	f := setupRegistryTest(t, 0)

	names := make([]string, 0)
	for _, tool := range f.registry.Tools() {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{
		"task_create", "task_list", "task_get", "task_update",
		"task_complete", "task_delete", "task_search", "task_stats",
		"task_schedule",
	}, names)

	assert.True(t, f.registry.Has("task_create"))
	assert.False(t, f.registry.Has("task_bogus"))
}

func TestCall_NameRequired(t *testing.T) {
	f := setupRegistryTest(t, 0)

	_, err := f.registry.Call(context.Background(), f.actor, "", nil)
	require.Error(t, err)
	assert.Equal(t, "Tool name is required", err.Error())
	assert.Equal(t, http.StatusBadRequest, apperr.StatusOf(err))
}

func TestCall_UnknownTool(t *testing.T) {
	f := setupRegistryTest(t, 0)

	_, err := f.registry.Call(context.Background(), f.actor, "task_bogus", nil)
	require.Error(t, err)
	assert.Equal(t, "Tool 'task_bogus' not found", err.Error())
	assert.Equal(t, http.StatusNotFound, apperr.StatusOf(err))
}

func TestCall_TaskCreate(t *testing.T) {
	f := setupRegistryTest(t, 0)

	// Arguments arrive the way JSON decoding delivers them: numbers as
	// float64.
	got := f.createTask(t, map[string]any{
		"title":    "Ship the report",
		"project":  "Work",
		"priority": float64(5),
		"energy":   "deep",
		"notes":    "Needs the Q3 numbers",
	})

	assert.Equal(t, float64(1), got["id"])
	assert.Equal(t, "user-1", got["user_id"])
	assert.Equal(t, "Ship the report", got["title"])
	assert.Equal(t, "Work", got["project"])
	assert.Equal(t, float64(5), got["priority"])
	assert.Equal(t, "deep", got["energy"])
	assert.Equal(t, "1hr", got["time_estimate"])
	assert.Equal(t, "Needs the Q3 numbers", got["notes"])
	assert.Equal(t, false, got["completed"])
	assert.Nil(t, got["due_date"])
	assert.Nil(t, got["completed_at"])
	assert.NotContains(t, got, "calendar_event_id")
}

func TestCall_TaskCreate_MissingTitle(t *testing.T) {
	f := setupRegistryTest(t, 0)

	got := decodeObject(t, f.call(t, "task_create", map[string]any{"project": "Work"}))
	assert.Equal(t, "Missing required parameter: title", got["error"])
	assert.Equal(t, "VALIDATION_ERROR", got["code"])
}

func TestCall_TaskCreate_WrongType(t *testing.T) {
	f := setupRegistryTest(t, 0)

	got := decodeObject(t, f.call(t, "task_create", map[string]any{"title": float64(42)}))
	assert.Equal(t, "Parameter 'title' must be a string", got["error"])
	assert.Equal(t, "VALIDATION_ERROR", got["code"])
}

func TestCall_TaskCreate_DomainValidation(t *testing.T) {
	f := setupRegistryTest(t, 0)

	got := decodeObject(t, f.call(t, "task_create", map[string]any{
		"title":    "Too urgent",
		"priority": float64(9),
	}))
	assert.Equal(t, "Priority must be between 1 and 5", got["error"])
	assert.Equal(t, "VALIDATION_ERROR", got["code"])
}

func TestCall_TaskGet_NotFound(t *testing.T) {
	f := setupRegistryTest(t, 0)

	got := decodeObject(t, f.call(t, "task_get", map[string]any{"task_id": float64(404)}))
	assert.Equal(t, "Task not found", got["error"])
	assert.Equal(t, "NOT_FOUND", got["code"])
}

func TestCall_TaskList(t *testing.T) {
	f := setupRegistryTest(t, 0)

	f.createTask(t, map[string]any{"title": "First", "priority": float64(2)})
	created := f.createTask(t, map[string]any{"title": "Second", "priority": float64(4)})
	f.call(t, "task_complete", map[string]any{"task_id": created["id"]})

	// Completed tasks are excluded unless asked for.
	list := decodeArray(t, f.call(t, "task_list", nil))
	require.Len(t, list, 1)
	assert.Equal(t, "First", list[0]["title"])

	list = decodeArray(t, f.call(t, "task_list", map[string]any{"show_completed": true}))
	require.Len(t, list, 2)
	assert.Equal(t, "Second", list[0]["title"])
	assert.Equal(t, "First", list[1]["title"])
}

func TestCall_TaskList_EmptyIsArray(t *testing.T) {
	f := setupRegistryTest(t, 0)

	text := resultText(t, f.call(t, "task_list", nil))
	assert.Equal(t, "[]", text)
}

func TestCall_TaskList_LimitBounds(t *testing.T) {
	f := setupRegistryTest(t, 0)

	got := decodeObject(t, f.call(t, "task_list", map[string]any{"limit": float64(5000)}))
	assert.Equal(t, "Parameter 'limit' must be between 1 and 1000", got["error"])
	assert.Equal(t, "VALIDATION_ERROR", got["code"])

	got = decodeObject(t, f.call(t, "task_list", map[string]any{"offset": float64(-1)}))
	assert.Equal(t, "Parameter 'offset' must be non-negative", got["error"])
}

func TestCall_TaskList_FractionalInteger(t *testing.T) {
	f := setupRegistryTest(t, 0)

	got := decodeObject(t, f.call(t, "task_list", map[string]any{"limit": 2.5}))
	assert.Equal(t, "Parameter 'limit' must be an integer", got["error"])
	assert.Equal(t, "VALIDATION_ERROR", got["code"])
}

func TestCall_TaskUpdate_PartialFields(t *testing.T) {
	f := setupRegistryTest(t, 0)

	created := f.createTask(t, map[string]any{
		"title":    "Draft slides",
		"project":  "Work",
		"priority": float64(4),
	})

	got := decodeObject(t, f.call(t, "task_update", map[string]any{
		"task_id": created["id"],
		"notes":   "Use the new template",
	}))
	assert.Equal(t, "Draft slides", got["title"])
	assert.Equal(t, "Work", got["project"])
	assert.Equal(t, float64(4), got["priority"])
	assert.Equal(t, "Use the new template", got["notes"])
}

func TestCall_TaskUpdate_MissingTaskID(t *testing.T) {
	f := setupRegistryTest(t, 0)

	got := decodeObject(t, f.call(t, "task_update", map[string]any{"title": "New title"}))
	assert.Equal(t, "Missing required parameter: task_id", got["error"])
	assert.Equal(t, "VALIDATION_ERROR", got["code"])
}

func TestCall_TaskComplete(t *testing.T) {
	f := setupRegistryTest(t, 0)

	created := f.createTask(t, map[string]any{"title": "Do the thing"})
	got := decodeObject(t, f.call(t, "task_complete", map[string]any{"task_id": created["id"]}))

	assert.Equal(t, true, got["completed"])
	assert.NotNil(t, got["completed_at"])
}

func TestCall_TaskDelete(t *testing.T) {
	f := setupRegistryTest(t, 0)

	created := f.createTask(t, map[string]any{"title": "Temporary"})
	got := decodeObject(t, f.call(t, "task_delete", map[string]any{"task_id": created["id"]}))
	assert.Equal(t, true, got["success"])
	assert.Equal(t, "Task deleted successfully", got["message"])

	got = decodeObject(t, f.call(t, "task_get", map[string]any{"task_id": created["id"]}))
	assert.Equal(t, "NOT_FOUND", got["code"])
}

func TestCall_TaskSearch(t *testing.T) {
	f := setupRegistryTest(t, 0)

	f.createTask(t, map[string]any{"title": "Research vendors", "priority": float64(2)})
	f.createTask(t, map[string]any{"title": "Book flights", "notes": "research hotel options too", "priority": float64(5)})
	f.createTask(t, map[string]any{"title": "Water plants"})

	list := decodeArray(t, f.call(t, "task_search", map[string]any{"query": "research"}))
	require.Len(t, list, 2)
	assert.Equal(t, "Book flights", list[0]["title"])
	assert.Equal(t, "Research vendors", list[1]["title"])
}

func TestCall_TaskSearch_MissingQuery(t *testing.T) {
	f := setupRegistryTest(t, 0)

	got := decodeObject(t, f.call(t, "task_search", nil))
	assert.Equal(t, "Missing required parameter: query", got["error"])
	assert.Equal(t, "VALIDATION_ERROR", got["code"])
}

func TestCall_TaskStats(t *testing.T) {
	f := setupRegistryTest(t, 0)

	f.createTask(t, map[string]any{"title": "One", "project": "Work"})
	f.createTask(t, map[string]any{"title": "Two", "project": "Work"})
	created := f.createTask(t, map[string]any{"title": "Three"})
	f.call(t, "task_complete", map[string]any{"task_id": created["id"]})

	got := decodeObject(t, f.call(t, "task_stats", nil))
	assert.Equal(t, float64(3), got["total_tasks"])
	assert.Equal(t, float64(1), got["completed_tasks"])
	assert.Equal(t, float64(2), got["incomplete_tasks"])
	assert.Equal(t, 33.33, got["completion_rate"])

	byProject, ok := got["by_project"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(2), byProject["Work"])
}

func TestCall_TaskSchedule(t *testing.T) {
	f := setupRegistryTest(t, 0)

	created := f.createTask(t, map[string]any{"title": "Deep work block", "notes": "Focus on the parser"})
	got := decodeObject(t, f.call(t, "task_schedule", map[string]any{
		"task_id":          created["id"],
		"start_time":       "2025-12-30T14:00:00-08:00",
		"duration_minutes": float64(90),
	}))

	assert.Equal(t, "evt_1", got["calendar_event_id"])
	assert.Equal(t, "https://calendar.google.com/event?eid=evt_1", got["calendar_event_url"])
	assert.Equal(t, "2025-12-30T14:00:00-08:00", got["scheduled_start"])
	assert.Equal(t, float64(90), got["scheduled_duration"])

	// The decrypted session tokens were handed to the calendar client.
	require.Len(t, f.events.creds, 1)
	assert.Equal(t, "ya29.access", f.events.creds[0].AccessToken)
	assert.Equal(t, "1//refresh", f.events.creds[0].RefreshToken)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, "Deep work block", f.events.events[0].Title)
	assert.Equal(t, "Focus on the parser", f.events.events[0].Description)
	assert.Equal(t, 90, f.events.events[0].DurationMinutes)
}

func TestCall_TaskSchedule_MissingStartTime(t *testing.T) {
	f := setupRegistryTest(t, 0)

	created := f.createTask(t, map[string]any{"title": "Unscheduled"})
	got := decodeObject(t, f.call(t, "task_schedule", map[string]any{"task_id": created["id"]}))
	assert.Equal(t, "Missing required parameter: start_time", got["error"])
	assert.Equal(t, "VALIDATION_ERROR", got["code"])
}

func TestCall_TaskSchedule_CalendarFailure(t *testing.T) {
	f := setupRegistryTest(t, 0)
	f.events.err = assert.AnError

	created := f.createTask(t, map[string]any{"title": "Doomed"})
	got := decodeObject(t, f.call(t, "task_schedule", map[string]any{
		"task_id":    created["id"],
		"start_time": "2025-12-30T14:00:00Z",
	}))

	assert.Equal(t, "TASK_SCHEDULE_FAILED", got["code"])
	assert.Contains(t, got["error"], "Failed to create calendar event")
}

func TestCall_TruncatesOversizedResponses(t *testing.T) {
	f := setupRegistryTest(t, 600)

	f.createTask(t, map[string]any{
		"title": "Long one",
		"notes": strings.Repeat("All work and no play makes Jack a dull boy. ", 40),
	})

	text := resultText(t, f.call(t, "task_list", nil))
	assert.LessOrEqual(t, len(text), 600)
	assert.Contains(t, text, "truncated by taskmcp")
}
