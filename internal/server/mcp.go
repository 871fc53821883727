package server

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"taskmcp-go/internal/apperr"
	"taskmcp-go/internal/httpapi"
	"taskmcp-go/internal/observability"
	"taskmcp-go/internal/reqcontext"
	"taskmcp-go/internal/tools"
)

// newMCPServer bridges the tool registry onto a protocol-native MCP
// server. The streamable HTTP transport preserves the request context,
// so handlers see the actor injected by the bearer-auth middleware.
func newMCPServer(registry *tools.Registry, obs *observability.Manager, version string, logger *zap.SugaredLogger) *mcpserver.MCPServer {
	hooks := &mcpserver.Hooks{}
	hooks.AddOnRegisterSession(func(_ context.Context, sess mcpserver.ClientSession) {
		var clientName, clientVersion string
		if withInfo, ok := sess.(mcpserver.SessionWithClientInfo); ok {
			info := withInfo.GetClientInfo()
			clientName = info.Name
			clientVersion = info.Version
		}
		logger.Infow("MCP session registered",
			"session_id", sess.SessionID(),
			"client_name", clientName,
			"client_version", clientVersion)
	})

	srv := mcpserver.NewMCPServer(
		httpapi.ServerName,
		version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
		mcpserver.WithHooks(hooks),
	)

	for _, def := range registry.Definitions() {
		srv.AddTool(def.Tool, toolHandler(registry, obs, def.Tool.Name))
	}

	return srv
}

// toolHandler adapts one registry tool to the MCP handler contract.
// Domain failures already come back as data inside the envelope; only
// transport-level problems become MCP error results.
func toolHandler(registry *tools.Registry, obs *observability.Manager, name string) func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		actor, ok := reqcontext.GetActor(ctx)
		if !ok {
			return mcp.NewToolResultError("Authentication required"), nil
		}

		if tm := obs.Tracing(); tm != nil {
			var span oteltrace.Span
			ctx, span = tm.TraceToolCall(ctx, name)
			defer span.End()
		}

		start := time.Now()
		result, err := registry.Call(ctx, actor, name, request.GetArguments())
		obs.RecordToolCall(ctx, name, time.Since(start), err)
		if err != nil {
			if e, ok := apperr.As(err); ok {
				return mcp.NewToolResultError(e.Message), nil
			}
			return nil, err
		}

		return toMCPResult(result), nil
	}
}

// toMCPResult converts the registry envelope to the wire result type.
func toMCPResult(result *tools.Result) *mcp.CallToolResult {
	out := &mcp.CallToolResult{}
	for _, c := range result.Content {
		out.Content = append(out.Content, mcp.TextContent{Type: c.Type, Text: c.Text})
	}
	return out
}
