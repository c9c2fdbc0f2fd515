// Package admin provides the MCP tools operators use to inspect and edit
// forwarding rules without going through Discord.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Mastinoo/Invictusmessages/internal/mapping"
	"github.com/Mastinoo/Invictusmessages/internal/resolve"
	"github.com/Mastinoo/Invictusmessages/internal/safety"
	"github.com/Mastinoo/Invictusmessages/internal/telemetry"
	"github.com/Mastinoo/Invictusmessages/internal/tools"
)

// Registry is the part of mapping.Registry the tools use.
type Registry interface {
	AddMapping(ctx context.Context, guildID, source, target, targetGuild string) (mapping.Mapping, error)
	RemoveMappings(ctx context.Context, guildID, source, target string) (int, error)
	Snapshot() mapping.Table
}

// Resolver validates guilds and channels. *resolve.Resolver satisfies it.
type Resolver interface {
	tools.ChannelLookup
	Guild(ctx context.Context, guildID string) (string, error)
}

var (
	_ Registry = (*mapping.Registry)(nil)
	_ Resolver = (*resolve.Resolver)(nil)
)

// ForwardSummary is the response shape for a single mapping.
type ForwardSummary struct {
	GuildID     string `json:"guild_id"`
	Source      string `json:"source"`
	SourceName  string `json:"source_name"`
	Target      string `json:"target"`
	TargetName  string `json:"target_name"`
	TargetGuild string `json:"target_guild"`
	CrossGuild  bool   `json:"cross_guild"`
}

// GuildSummary is the response shape for forward_guilds.
type GuildSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Mappings int    `json:"mappings"`
}

// Deps bundles the collaborators shared by the admin tools.
type Deps struct {
	Registry Registry
	Resolver Resolver
	Filter   *safety.Filter
	Audit    *safety.AuditLogger
	Metrics  *telemetry.Metrics
	Logger   *slog.Logger
}

// AdminTools returns all tool registrations for forwarding administration.
func AdminTools(d Deps) []tools.Registration {
	d.Logger = tools.DefaultLogger(d.Logger)
	return []tools.Registration{
		toolList(d),
		toolGuilds(d),
		toolSet(d),
		toolRemove(d),
	}
}

func toolList(d Deps) tools.Registration {
	const toolName = "forward_list"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("List forwarding rules, optionally limited to one source guild."),
		mcp.WithString("guild_id",
			mcp.Description("Source guild (server) ID (optional, lists every guild if omitted)"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		guildID := req.GetString("guild_id", "")
		table := d.Registry.Snapshot()

		guilds := table.GuildIDs()
		if guildID != "" {
			guilds = []string{guildID}
		}

		out := make([]ForwardSummary, 0, table.Len())
		for _, g := range guilds {
			for _, m := range table[g] {
				out = append(out, ForwardSummary{
					GuildID:     g,
					Source:      m.Source,
					SourceName:  d.Resolver.ChannelName(m.Source),
					Target:      m.Target,
					TargetName:  d.Resolver.ChannelName(m.Target),
					TargetGuild: m.ResolveTargetGuild(g),
					CrossGuild:  m.CrossGuild(g),
				})
			}
		}
		d.Logger.Debug("listed forwards", "guild", guildID, "count", len(out))
		return tools.JSONResult(out), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func toolGuilds(d Deps) tools.Registration {
	const toolName = "forward_guilds"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("List the guilds that own forwarding rules, with their names and rule counts."),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		table := d.Registry.Snapshot()
		out := make([]GuildSummary, 0, len(table))
		for _, g := range table.GuildIDs() {
			name, err := d.Resolver.Guild(ctx, g)
			if err != nil {
				d.Logger.Warn("guild lookup failed", "guild", g, "error", err)
				name = ""
			}
			out = append(out, GuildSummary{ID: g, Name: name, Mappings: len(table[g])})
		}
		return tools.JSONResult(out), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func toolSet(d Deps) tools.Registration {
	const toolName = "forward_set"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("Add a forwarding rule from a source channel to a target channel."),
		mcp.WithString("guild_id",
			mcp.Required(),
			mcp.Description("Guild (server) ID that owns the source channel"),
		),
		mcp.WithString("source",
			mcp.Required(),
			mcp.Description("Source channel mention, name or ID"),
		),
		mcp.WithString("target",
			mcp.Required(),
			mcp.Description("Target channel mention, name or ID"),
		),
		mcp.WithString("target_guild",
			mcp.Description("Guild ID of the target channel (optional, defaults to guild_id)"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		guildID := req.GetString("guild_id", "")
		sourceRef := req.GetString("source", "")
		targetRef := req.GetString("target", "")
		targetGuild := req.GetString("target_guild", "")
		if targetGuild == "" {
			targetGuild = guildID
		}
		params := map[string]any{"source": sourceRef, "target": targetRef, "target_guild": targetGuild}

		if guildID == "" {
			return tools.ErrorResult("guild_id is required"), nil
		}
		for _, g := range []string{guildID, targetGuild} {
			if !d.Filter.IsAllowed(g) {
				tools.LogAudit(d.Audit, toolName, guildID, params, "denied", start)
				return tools.ErrorResult(fmt.Sprintf("forwarding for guild %s is not allowed", g)), nil
			}
		}

		source, err := tools.ResolveForwardChannel(ctx, d.Resolver, guildID, sourceRef)
		if err != nil {
			return tools.AuditErrorResult(d.Audit, toolName, guildID, params, fmt.Errorf("source: %w", err), start), nil
		}
		if _, err := d.Resolver.Guild(ctx, targetGuild); err != nil {
			return tools.AuditErrorResult(d.Audit, toolName, guildID, params, err, start), nil
		}
		target, err := tools.ResolveForwardChannel(ctx, d.Resolver, targetGuild, targetRef)
		if err != nil {
			return tools.AuditErrorResult(d.Audit, toolName, guildID, params, fmt.Errorf("target: %w", err), start), nil
		}

		m, err := d.Registry.AddMapping(ctx, guildID, source.ID, target.ID, targetGuild)
		if err != nil {
			d.Metrics.MappingMutation("add", "error")
			return tools.AuditErrorResult(d.Audit, toolName, guildID, params, err, start), nil
		}
		d.Metrics.MappingMutation("add", "ok")

		tools.LogAudit(d.Audit, toolName, guildID, params, "ok", start)
		return tools.JSONResult(ForwardSummary{
			GuildID:     guildID,
			Source:      m.Source,
			SourceName:  source.Name,
			Target:      m.Target,
			TargetName:  target.Name,
			TargetGuild: m.ResolveTargetGuild(guildID),
			CrossGuild:  m.CrossGuild(guildID),
		}), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func toolRemove(d Deps) tools.Registration {
	const toolName = "forward_remove"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("Remove forwarding rules from a source channel, optionally only those to one target."),
		mcp.WithString("guild_id",
			mcp.Required(),
			mcp.Description("Guild (server) ID that owns the source channel"),
		),
		mcp.WithString("source",
			mcp.Required(),
			mcp.Description("Source channel ID"),
		),
		mcp.WithString("target",
			mcp.Description("Target channel ID (optional, removes every target if omitted)"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		guildID := req.GetString("guild_id", "")
		source := req.GetString("source", "")
		target := req.GetString("target", "")
		params := map[string]any{"source": source, "target": target}

		if guildID == "" || source == "" {
			return tools.ErrorResult("guild_id and source are required"), nil
		}

		n, err := d.Registry.RemoveMappings(ctx, guildID, source, target)
		if err != nil {
			d.Metrics.MappingMutation("remove", "error")
			if errors.Is(err, mapping.ErrPersist) {
				d.Logger.Error("forward removal not saved", "guild", guildID, "error", err)
			}
			return tools.AuditErrorResult(d.Audit, toolName, guildID, params, err, start), nil
		}
		if n == 0 {
			tools.LogAudit(d.Audit, toolName, guildID, params, "ok: nothing removed", start)
			return mcp.NewToolResultText("No matching forwarding rules found"), nil
		}
		d.Metrics.MappingMutation("remove", "ok")

		tools.LogAudit(d.Audit, toolName, guildID, params, fmt.Sprintf("ok: %d removed", n), start)
		return mcp.NewToolResultText(fmt.Sprintf("Removed %d forwarding rule(s)", n)), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}
