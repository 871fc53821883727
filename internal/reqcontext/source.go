package reqcontext

import "context"

// RequestSourceKey is the context key for request source
const RequestSourceKey ContextKey = "request_source"

// RequestSource indicates where the request originated
type RequestSource string

const (
	// SourceRESTAPI indicates request came from HTTP REST API
	SourceRESTAPI RequestSource = "REST_API"

	// SourceMCP indicates request came from MCP protocol
	SourceMCP RequestSource = "MCP"

	// SourceCLI indicates request came from CLI command
	SourceCLI RequestSource = "CLI"

	// SourceInternal indicates internal/background operation
	SourceInternal RequestSource = "INTERNAL"

	// SourceUnknown indicates source could not be determined
	SourceUnknown RequestSource = "UNKNOWN"
)

// WithRequestSource adds request source to the context
func WithRequestSource(ctx context.Context, source RequestSource) context.Context {
	return context.WithValue(ctx, RequestSourceKey, source)
}

// GetRequestSource retrieves the request source from context
func GetRequestSource(ctx context.Context) RequestSource {
	if ctx == nil {
		return SourceUnknown
	}
	if source, ok := ctx.Value(RequestSourceKey).(RequestSource); ok {
		return source
	}
	return SourceUnknown
}
