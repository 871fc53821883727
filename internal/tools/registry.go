// Package tools defines the dispatchable tool set: schema declarations,
// parameter binding and the handlers that run task operations on behalf
// of the authenticated user.
//
// The registry is closed: the tool set is assembled once at construction
// and never changes at runtime. Domain failures (not found, validation,
// operation errors) are rendered as data inside a successful envelope;
// the error return of Call is reserved for transport-level problems.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"taskmcp-go/internal/apperr"
	"taskmcp-go/internal/reqcontext"
	"taskmcp-go/internal/session"
	"taskmcp-go/internal/tasks"
	"taskmcp-go/internal/truncate"
)

// Content is one block of a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Result is the tool-call envelope.
type Result struct {
	Content []Content `json:"content"`
}

// Handler executes one tool call for the authenticated actor.
type Handler func(ctx context.Context, actor reqcontext.Actor, args map[string]any) (*Result, error)

// Definition pairs a tool schema with its handler.
type Definition struct {
	Tool    mcp.Tool
	Handler Handler
}

// Deps carries the collaborators tool handlers execute against.
// Sessions is only needed by task_schedule, which fetches the caller's
// provider tokens just-in-time for the calendar call.
type Deps struct {
	Tasks         *tasks.Service
	Sessions      *session.Manager
	ResponseLimit int
	Logger        *zap.SugaredLogger
}

// Registry is the closed, fixed set of dispatchable tools.
type Registry struct {
	defs   []Definition
	byName map[string]*Definition
	trunc  *truncate.Truncator
	logger *zap.SugaredLogger
}

// NewRegistry assembles the tool set. A duplicate tool name is a
// programming error and fails construction.
func NewRegistry(deps Deps) (*Registry, error) {
	if deps.Tasks == nil {
		return nil, fmt.Errorf("task service is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}

	h := &handlers{tasks: deps.Tasks, sessions: deps.Sessions}

	r := &Registry{
		defs: []Definition{
			{Tool: taskCreateTool(), Handler: h.taskCreate},
			{Tool: taskListTool(), Handler: h.taskList},
			{Tool: taskGetTool(), Handler: h.taskGet},
			{Tool: taskUpdateTool(), Handler: h.taskUpdate},
			{Tool: taskCompleteTool(), Handler: h.taskComplete},
			{Tool: taskDeleteTool(), Handler: h.taskDelete},
			{Tool: taskSearchTool(), Handler: h.taskSearch},
			{Tool: taskStatsTool(), Handler: h.taskStats},
			{Tool: taskScheduleTool(), Handler: h.taskSchedule},
		},
		byName: make(map[string]*Definition),
		trunc:  truncate.NewTruncator(deps.ResponseLimit),
		logger: deps.Logger,
	}

	for i := range r.defs {
		name := r.defs[i].Tool.Name
		if _, dup := r.byName[name]; dup {
			return nil, fmt.Errorf("duplicate tool name %q", name)
		}
		r.byName[name] = &r.defs[i]
	}

	return r, nil
}

// Tools returns the tool schemas in registration order.
func (r *Registry) Tools() []mcp.Tool {
	out := make([]mcp.Tool, 0, len(r.defs))
	for i := range r.defs {
		out = append(out, r.defs[i].Tool)
	}
	return out
}

// Definitions returns the tool definitions in registration order.
func (r *Registry) Definitions() []Definition {
	return r.defs
}

// Has reports whether a tool with the given name exists.
func (r *Registry) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Call dispatches one tool call for the actor. A missing or unknown
// tool name is a transport error; everything the handler reports comes
// back as data inside the Result.
func (r *Registry) Call(ctx context.Context, actor reqcontext.Actor, name string, args map[string]any) (*Result, error) {
	if name == "" {
		return nil, apperr.Validation("Tool name is required")
	}
	def, ok := r.byName[name]
	if !ok {
		return nil, apperr.NotFound(fmt.Sprintf("Tool '%s' not found", name))
	}

	logger := reqcontext.Logger(ctx, r.logger)
	logger.Infow("Executing tool",
		"tool", name,
		"user_id", actor.UserID,
		"args", len(args))

	result, err := def.Handler(ctx, actor, args)
	if err != nil {
		logger.Errorw("Tool execution failed",
			"tool", name,
			"error", err)
		return nil, err
	}

	r.truncateResult(result)
	return result, nil
}

// truncateResult bounds oversized text blocks to the response limit.
func (r *Registry) truncateResult(result *Result) {
	for i := range result.Content {
		if result.Content[i].Type == "text" {
			result.Content[i].Text = r.trunc.Truncate(result.Content[i].Text)
		}
	}
}

// errorPayload is the data shape of a failed tool operation.
type errorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// deletePayload confirms a successful task deletion.
type deletePayload struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func textResult(text string) *Result {
	return &Result{Content: []Content{{Type: "text", Text: text}}}
}

// jsonResult wraps the JSON encoding of v in a single text block.
func jsonResult(v any) (*Result, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool response: %w", err)
	}
	return textResult(string(data)), nil
}

// dataError renders a failure as data. Typed domain errors keep their
// machine code (NOT_FOUND, VALIDATION_ERROR, TASK_*_FAILED); anything
// else gets the operation's failure code.
func dataError(op string, err error) *Result {
	code := "TASK_" + strings.ToUpper(op) + "_FAILED"
	message := err.Error()
	if e, ok := apperr.As(err); ok && e.Kind == apperr.KindDomain {
		code = e.Code
		message = e.Message
	}

	payload, merr := json.Marshal(errorPayload{Error: message, Code: code})
	if merr != nil {
		payload = []byte(`{"error": "internal error", "code": "INTERNAL"}`)
	}
	return textResult(string(payload))
}
