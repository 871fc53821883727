package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"taskmcp-go/internal/apperr"
	"taskmcp-go/internal/calendar"
	"taskmcp-go/internal/reqcontext"
	"taskmcp-go/internal/session"
	"taskmcp-go/internal/storage"
	"taskmcp-go/internal/tasks"
)

// handlers executes tool calls against the task service. The actor's
// user ID scopes every operation; the session ID is only touched by
// task_schedule to fetch provider tokens.
type handlers struct {
	tasks    *tasks.Service
	sessions *session.Manager
}

// binder reads typed parameters out of the raw argument map. The first
// failure sticks and later reads become no-ops, so handlers can bind
// everything and check once.
type binder struct {
	args map[string]any
	err  error
}

func newBinder(args map[string]any) *binder {
	if args == nil {
		args = map[string]any{}
	}
	return &binder{args: args}
}

func (b *binder) Err() error {
	return b.err
}

func (b *binder) fail(format string, a ...any) {
	if b.err == nil {
		b.err = apperr.Validation(fmt.Sprintf(format, a...))
	}
}

func (b *binder) requiredString(key string) string {
	if b.err != nil {
		return ""
	}
	raw, ok := b.args[key]
	if !ok || raw == nil {
		b.fail("Missing required parameter: %s", key)
		return ""
	}
	s, ok := raw.(string)
	if !ok {
		b.fail("Parameter '%s' must be a string", key)
		return ""
	}
	return s
}

func (b *binder) optionalString(key string) (string, bool) {
	if b.err != nil {
		return "", false
	}
	raw, ok := b.args[key]
	if !ok || raw == nil {
		return "", false
	}
	s, ok := raw.(string)
	if !ok {
		b.fail("Parameter '%s' must be a string", key)
		return "", false
	}
	return s, true
}

func (b *binder) requiredInt(key string) int {
	if b.err != nil {
		return 0
	}
	raw, ok := b.args[key]
	if !ok || raw == nil {
		b.fail("Missing required parameter: %s", key)
		return 0
	}
	n, ok := b.intValue(key, raw)
	if !ok {
		return 0
	}
	return n
}

func (b *binder) optionalInt(key string) (int, bool) {
	if b.err != nil {
		return 0, false
	}
	raw, ok := b.args[key]
	if !ok || raw == nil {
		return 0, false
	}
	return b.intValue(key, raw)
}

func (b *binder) intDefault(key string, def int) int {
	if n, ok := b.optionalInt(key); ok {
		return n
	}
	return def
}

func (b *binder) boolDefault(key string, def bool) bool {
	if b.err != nil {
		return def
	}
	raw, ok := b.args[key]
	if !ok || raw == nil {
		return def
	}
	v, ok := raw.(bool)
	if !ok {
		b.fail("Parameter '%s' must be a boolean", key)
		return def
	}
	return v
}

// intValue accepts the numeric shapes JSON decoding produces. A float
// with a fractional part is rejected rather than silently truncated.
func (b *binder) intValue(key string, raw any) (int, bool) {
	switch v := raw.(type) {
	case float64:
		if v != math.Trunc(v) {
			b.fail("Parameter '%s' must be an integer", key)
			return 0, false
		}
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			b.fail("Parameter '%s' must be an integer", key)
			return 0, false
		}
		return int(n), true
	default:
		b.fail("Parameter '%s' must be an integer", key)
		return 0, false
	}
}

func (b *binder) taskID() int64 {
	return int64(b.requiredInt("task_id"))
}

func (h *handlers) taskCreate(ctx context.Context, actor reqcontext.Actor, args map[string]any) (*Result, error) {
	b := newBinder(args)
	in := tasks.CreateInput{Title: b.requiredString("title")}
	in.Project, _ = b.optionalString("project")
	in.Priority, _ = b.optionalInt("priority")
	in.Energy, _ = b.optionalString("energy")
	in.TimeEstimate, _ = b.optionalString("time_estimate")
	in.Notes, _ = b.optionalString("notes")
	in.DueDate, _ = b.optionalString("due_date")
	if err := b.Err(); err != nil {
		return dataError("create", err), nil
	}

	task, err := h.tasks.Create(ctx, actor.UserID, in)
	if err != nil {
		return dataError("create", err), nil
	}
	return jsonResult(task)
}

func (h *handlers) taskList(ctx context.Context, actor reqcontext.Actor, args map[string]any) (*Result, error) {
	b := newBinder(args)
	filter := storage.TaskFilter{}
	filter.Project, _ = b.optionalString("project")
	filter.Priority, _ = b.optionalInt("priority")
	filter.ShowCompleted = b.boolDefault("show_completed", false)
	filter.Limit = b.intDefault("limit", tasks.DefaultListLimit)
	filter.Offset = b.intDefault("offset", 0)
	if err := b.Err(); err != nil {
		return dataError("list", err), nil
	}
	if filter.Limit < 1 || filter.Limit > tasks.MaxListLimit {
		return dataError("list", apperr.Validation(fmt.Sprintf("Parameter 'limit' must be between 1 and %d", tasks.MaxListLimit))), nil
	}
	if filter.Offset < 0 {
		return dataError("list", apperr.Validation("Parameter 'offset' must be non-negative")), nil
	}

	list, _, err := h.tasks.List(ctx, actor.UserID, filter)
	if err != nil {
		return dataError("list", err), nil
	}
	return jsonResult(list)
}

func (h *handlers) taskGet(ctx context.Context, actor reqcontext.Actor, args map[string]any) (*Result, error) {
	b := newBinder(args)
	id := b.taskID()
	if err := b.Err(); err != nil {
		return dataError("get", err), nil
	}

	task, err := h.tasks.Get(ctx, actor.UserID, id)
	if err != nil {
		return dataError("get", err), nil
	}
	return jsonResult(task)
}

func (h *handlers) taskUpdate(ctx context.Context, actor reqcontext.Actor, args map[string]any) (*Result, error) {
	b := newBinder(args)
	id := b.taskID()
	in := tasks.UpdateInput{}
	if v, ok := b.optionalString("title"); ok {
		in.Title = &v
	}
	if v, ok := b.optionalString("project"); ok {
		in.Project = &v
	}
	if v, ok := b.optionalInt("priority"); ok {
		in.Priority = &v
	}
	if v, ok := b.optionalString("energy"); ok {
		in.Energy = &v
	}
	if v, ok := b.optionalString("time_estimate"); ok {
		in.TimeEstimate = &v
	}
	if v, ok := b.optionalString("notes"); ok {
		in.Notes = &v
	}
	if v, ok := b.optionalString("due_date"); ok {
		in.DueDate = &v
	}
	if err := b.Err(); err != nil {
		return dataError("update", err), nil
	}

	task, err := h.tasks.Update(ctx, actor.UserID, id, in)
	if err != nil {
		return dataError("update", err), nil
	}
	return jsonResult(task)
}

func (h *handlers) taskComplete(ctx context.Context, actor reqcontext.Actor, args map[string]any) (*Result, error) {
	b := newBinder(args)
	id := b.taskID()
	if err := b.Err(); err != nil {
		return dataError("complete", err), nil
	}

	task, err := h.tasks.Complete(ctx, actor.UserID, id)
	if err != nil {
		return dataError("complete", err), nil
	}
	return jsonResult(task)
}

func (h *handlers) taskDelete(ctx context.Context, actor reqcontext.Actor, args map[string]any) (*Result, error) {
	b := newBinder(args)
	id := b.taskID()
	if err := b.Err(); err != nil {
		return dataError("delete", err), nil
	}

	if err := h.tasks.Delete(ctx, actor.UserID, id); err != nil {
		return dataError("delete", err), nil
	}
	return jsonResult(deletePayload{Success: true, Message: "Task deleted successfully"})
}

func (h *handlers) taskSearch(ctx context.Context, actor reqcontext.Actor, args map[string]any) (*Result, error) {
	b := newBinder(args)
	query := b.requiredString("query")
	limit := b.intDefault("limit", tasks.DefaultListLimit)
	if err := b.Err(); err != nil {
		return dataError("search", err), nil
	}
	if limit < 1 || limit > tasks.MaxListLimit {
		return dataError("search", apperr.Validation(fmt.Sprintf("Parameter 'limit' must be between 1 and %d", tasks.MaxListLimit))), nil
	}

	list, err := h.tasks.Search(ctx, actor.UserID, query, limit)
	if err != nil {
		return dataError("search", err), nil
	}
	return jsonResult(list)
}

func (h *handlers) taskStats(ctx context.Context, actor reqcontext.Actor, args map[string]any) (*Result, error) {
	b := newBinder(args)
	project, _ := b.optionalString("project")
	if err := b.Err(); err != nil {
		return dataError("stats", err), nil
	}

	stats, err := h.tasks.Stats(ctx, actor.UserID, project)
	if err != nil {
		return dataError("stats", err), nil
	}
	return jsonResult(stats)
}

func (h *handlers) taskSchedule(ctx context.Context, actor reqcontext.Actor, args map[string]any) (*Result, error) {
	b := newBinder(args)
	in := tasks.ScheduleInput{
		TaskID:    b.taskID(),
		StartTime: b.requiredString("start_time"),
	}
	in.DurationMinutes = b.intDefault("duration_minutes", 0)
	if err := b.Err(); err != nil {
		return dataError("schedule", err), nil
	}

	creds, err := h.credentials(ctx, actor.SessionID)
	if err != nil {
		return dataError("schedule", err), nil
	}

	task, err := h.tasks.Schedule(ctx, actor.UserID, in, creds)
	if err != nil {
		return dataError("schedule", err), nil
	}
	return jsonResult(task)
}

// credentials decrypts the actor's provider tokens for a single
// calendar call. Tokens are never cached outside the session store.
func (h *handlers) credentials(ctx context.Context, sessionID string) (calendar.Credentials, error) {
	if h.sessions == nil {
		return calendar.Credentials{}, apperr.Validation("Calendar integration is not configured")
	}

	access, err := h.sessions.AccessToken(ctx, sessionID)
	if err != nil {
		return calendar.Credentials{}, fmt.Errorf("failed to load session tokens: %w", err)
	}
	refresh, err := h.sessions.RefreshToken(ctx, sessionID)
	if err != nil {
		return calendar.Credentials{}, fmt.Errorf("failed to load session tokens: %w", err)
	}
	sess, err := h.sessions.Get(ctx, sessionID)
	if err != nil {
		return calendar.Credentials{}, fmt.Errorf("failed to load session tokens: %w", err)
	}

	return calendar.Credentials{
		AccessToken:  access,
		RefreshToken: refresh,
		Expiry:       sess.TokenExpiry,
	}, nil
}
