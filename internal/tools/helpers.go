// Package tools provides shared helper utilities for the MCP admin tool
// handlers.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Mastinoo/Invictusmessages/internal/resolve"
	"github.com/Mastinoo/Invictusmessages/internal/safety"
)

// Registration pairs a tool definition with its handler.
type Registration struct {
	Tool    mcp.Tool
	Handler server.ToolHandlerFunc
}

// ToolAdder is satisfied by *server.MCPServer.
type ToolAdder interface {
	AddTool(tool mcp.Tool, handler server.ToolHandlerFunc)
}

var _ ToolAdder = (*server.MCPServer)(nil)

// RegisterAll adds every registration to s.
func RegisterAll(s ToolAdder, regs []Registration) {
	for _, r := range regs {
		s.AddTool(r.Tool, r.Handler)
	}
}

// JSONResult marshals v to indented JSON and returns an mcp.CallToolResult.
func JSONResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultText(fmt.Sprintf("error marshaling result: %v", err))
	}
	return mcp.NewToolResultText(string(data))
}

// ErrorResult returns an mcp.CallToolResult that describes an error condition.
func ErrorResult(msg string) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("error: %s", msg))
}

// LogAudit records a tool invocation, silently ignoring a nil logger.
func LogAudit(audit *safety.AuditLogger, toolName, guildID string, params map[string]any, result string, start time.Time) {
	if audit == nil {
		return
	}
	_ = audit.Log(safety.AuditEntry{
		Timestamp: start,
		Action:    toolName,
		Actor:     "mcp",
		GuildID:   guildID,
		Params:    params,
		Result:    result,
		Duration:  time.Since(start),
	})
}

// AuditErrorResult logs the error to the audit logger and returns an ErrorResult.
func AuditErrorResult(audit *safety.AuditLogger, toolName, guildID string, params map[string]any, err error, start time.Time) *mcp.CallToolResult {
	LogAudit(audit, toolName, guildID, params, "error: "+err.Error(), start)
	return ErrorResult(err.Error())
}

// DefaultLogger returns l if non-nil, otherwise slog.Default().
func DefaultLogger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

// ChannelLookup resolves channel references for the admin tools.
// *resolve.Resolver satisfies it.
type ChannelLookup interface {
	resolve.ChannelResolver
	Channel(ctx context.Context, guildID, channelID string) (resolve.Channel, error)
}

// ResolveForwardChannel turns ref (mention, ID or "#name") into a channel of
// guildID that may be used as a forwarding source or target.
func ResolveForwardChannel(ctx context.Context, r ChannelLookup, guildID, ref string) (resolve.Channel, error) {
	id, err := resolve.ResolveChannelParam(r, guildID, ref)
	if err != nil {
		return resolve.Channel{}, err
	}
	ch, err := r.Channel(ctx, guildID, id)
	if err != nil {
		return resolve.Channel{}, err
	}
	if err := resolve.RequireSupported(ch); err != nil {
		return resolve.Channel{}, err
	}
	return ch, nil
}
