// Package command implements the bot's slash commands for managing
// forwarding rules.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Mastinoo/Invictusmessages/internal/discord"
	"github.com/Mastinoo/Invictusmessages/internal/mapping"
	"github.com/Mastinoo/Invictusmessages/internal/resolve"
	"github.com/Mastinoo/Invictusmessages/internal/safety"
	"github.com/Mastinoo/Invictusmessages/internal/telemetry"
)

// Registry is the mutable side of mapping.Registry.
type Registry interface {
	AddMapping(ctx context.Context, guildID, source, target, targetGuild string) (mapping.Mapping, error)
	RemoveMappings(ctx context.Context, guildID, source, target string) (int, error)
	Snapshot() mapping.Table
}

// Resolver validates the channels and guilds named by command options.
// *resolve.Resolver satisfies it.
type Resolver interface {
	resolve.ChannelResolver
	Guild(ctx context.Context, guildID string) (string, error)
	Channel(ctx context.Context, guildID, channelID string) (resolve.Channel, error)
	Refresh(ctx context.Context, guildID string) error
}

var (
	_ Registry                   = (*mapping.Registry)(nil)
	_ Resolver                   = (*resolve.Resolver)(nil)
	_ discord.InteractionHandler = (*Handler)(nil)
)

// userError is a validation failure whose message is shown to the invoker.
type userError struct{ msg string }

func (e *userError) Error() string { return e.msg }

func rejectf(format string, args ...any) error {
	return &userError{msg: fmt.Sprintf(format, args...)}
}

// Option configures a Handler.
type Option func(*Handler)

// WithFilter restricts which guilds may take part in forwarding.
func WithFilter(f *safety.Filter) Option {
	return func(h *Handler) { h.filter = f }
}

// WithAudit writes every mutation to a.
func WithAudit(a *safety.AuditLogger) Option {
	return func(h *Handler) { h.audit = a }
}

// WithMetrics counts mutations on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithLogger sets the logger. A nil logger defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// Handler validates slash command input, updates the registry and replies
// to the invoking user with an ephemeral message.
type Handler struct {
	client   discord.DiscordClient
	registry Registry
	resolver Resolver
	filter   *safety.Filter
	audit    *safety.AuditLogger
	metrics  *telemetry.Metrics
	logger   *slog.Logger
}

// New constructs a Handler.
func New(client discord.DiscordClient, registry Registry, resolver Resolver, opts ...Option) *Handler {
	h := &Handler{
		client:   client,
		registry: registry,
		resolver: resolver,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Commands returns the definitions registered on ready.
func (h *Handler) Commands() []*discordgo.ApplicationCommand {
	return Definitions()
}

// Handle acknowledges the command named by i, runs it and edits the
// acknowledgement into the reply. Discord drops interactions that are not
// acknowledged within three seconds, which lookups plus a store save can
// exceed.
func (h *Handler) Handle(ctx context.Context, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	start := time.Now()

	switch data.Name {
	case SetForward, RemoveForward, ListForwards:
	default:
		h.logger.Warn("unknown command", "command", data.Name)
		return
	}
	if err := h.acknowledge(i); err != nil {
		h.logger.Warn("interaction acknowledge failed", "interaction", i.ID, "command", data.Name, "error", err)
		return
	}

	var (
		reply string
		err   error
	)
	switch {
	case i.GuildID == "":
		err = rejectf("This command can only be used in a server.")
	case data.Name == SetForward:
		reply, err = h.setForward(ctx, i.GuildID, data.Options)
	case data.Name == RemoveForward:
		reply, err = h.removeForward(ctx, i.GuildID, data.Options)
	default:
		reply = h.listForwards(ctx, i.GuildID)
	}

	result := "ok"
	if err != nil {
		result = "error: " + err.Error()
		reply = h.failureReply(data.Name, err)
	}
	if data.Name != ListForwards {
		h.logAudit(data.Name, i, data.Options, result, start)
	}
	h.respond(i, reply)
}

func (h *Handler) failureReply(name string, err error) string {
	var ue *userError
	switch {
	case errors.As(err, &ue):
		return ue.msg
	case errors.Is(err, mapping.ErrPersist):
		h.logger.Error("forwarding rules not saved", "command", name, "error", err)
		return "Could not save the forwarding rules, so nothing was changed. Please try again later."
	default:
		h.logger.Error("command failed", "command", name, "error", err)
		return "Something went wrong while handling that command."
	}
}

func (h *Handler) setForward(ctx context.Context, guildID string, opts []*discordgo.ApplicationCommandInteractionDataOption) (string, error) {
	sourceID := optionString(opts, "source")
	targetRef := optionString(opts, "target")
	targetGuild := strings.TrimSpace(optionString(opts, "server"))
	if targetGuild == "" {
		targetGuild = guildID
	}

	if !h.filter.IsAllowed(guildID) {
		return "", rejectf("Forwarding is not enabled for this server.")
	}
	if !h.filter.IsAllowed(targetGuild) {
		return "", rejectf("Forwarding to server %s is not allowed.", targetGuild)
	}

	source, err := h.channel(ctx, guildID, sourceID)
	if err != nil {
		return "", err
	}

	guildName, err := h.resolver.Guild(ctx, targetGuild)
	if err != nil {
		if errors.Is(err, resolve.ErrGuildNotFound) {
			return "", rejectf("I can't find server %s. Make sure I have been added to it.", targetGuild)
		}
		return "", err
	}

	target, err := h.targetChannel(ctx, targetGuild, targetRef)
	if err != nil {
		return "", err
	}

	m, err := h.registry.AddMapping(ctx, guildID, source.ID, target.ID, targetGuild)
	h.countMutation("add", err)
	if err != nil {
		return "", err
	}

	h.logger.Info("forwarding added",
		"guild", guildID,
		"source", m.Source,
		"target", m.Target,
		"target_guild", m.ResolveTargetGuild(guildID),
	)
	if m.CrossGuild(guildID) {
		return fmt.Sprintf("Successfully set up forwarding from <#%s> to <#%s> in server %s.", source.ID, target.ID, guildName), nil
	}
	return fmt.Sprintf("Successfully set up forwarding from <#%s> to <#%s>.", source.ID, target.ID), nil
}

func (h *Handler) removeForward(ctx context.Context, guildID string, opts []*discordgo.ApplicationCommandInteractionDataOption) (string, error) {
	sourceID := optionString(opts, "source")
	target := parseChannelRef(optionString(opts, "target"))

	n, err := h.registry.RemoveMappings(ctx, guildID, sourceID, target)
	if n > 0 || err != nil {
		h.countMutation("remove", err)
	}
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", rejectf("No forwarding found for this channel.")
	}

	h.logger.Info("forwarding removed", "guild", guildID, "source", sourceID, "target", target, "count", n)
	if target != "" {
		return fmt.Sprintf("Removed %d forwarding rule(s) from <#%s> to <#%s>.", n, sourceID, target), nil
	}
	return fmt.Sprintf("Removed %d forwarding rule(s) from <#%s>.", n, sourceID), nil
}

func (h *Handler) listForwards(ctx context.Context, guildID string) string {
	list := h.registry.Snapshot()[guildID]
	if len(list) == 0 {
		return "No forwarding rules are set up in this server."
	}

	names := make(map[string]string)
	var b strings.Builder
	b.WriteString("Forwarding rules:\n")
	for n, m := range list {
		fmt.Fprintf(&b, "%d. <#%s> → <#%s>", n+1, m.Source, m.Target)
		if m.CrossGuild(guildID) {
			name, ok := names[m.TargetGuild]
			if !ok {
				name = m.TargetGuild
				if g, err := h.resolver.Guild(ctx, m.TargetGuild); err == nil {
					name = g
				}
				names[m.TargetGuild] = name
			}
			fmt.Fprintf(&b, " in server %s", name)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// channel resolves channelID inside guildID and checks its kind.
func (h *Handler) channel(ctx context.Context, guildID, channelID string) (resolve.Channel, error) {
	ch, err := h.resolver.Channel(ctx, guildID, channelID)
	if err != nil {
		if errors.Is(err, resolve.ErrChannelNotFound) {
			return resolve.Channel{}, rejectf("Channel %s was not found in server %s.", channelID, guildID)
		}
		return resolve.Channel{}, err
	}
	if err := resolve.RequireSupported(ch); err != nil {
		return resolve.Channel{}, rejectf("<#%s> can't be used for forwarding. Use a text channel, thread or forum.", ch.ID)
	}
	return ch, nil
}

// targetChannel resolves ref, a mention, ID or name, inside guildID.
func (h *Handler) targetChannel(ctx context.Context, guildID, ref string) (resolve.Channel, error) {
	id := parseChannelRef(ref)
	if _, err := h.resolver.Channel(ctx, guildID, id); err != nil {
		if !errors.Is(err, resolve.ErrChannelNotFound) {
			return resolve.Channel{}, err
		}
		if id, err = h.channelByName(ctx, guildID, id); err != nil {
			return resolve.Channel{}, rejectf("Channel %q was not found in server %s.", ref, guildID)
		}
	}
	return h.channel(ctx, guildID, id)
}

// channelByName looks name up in the cached channel list, refreshing it
// from Discord on a miss.
func (h *Handler) channelByName(ctx context.Context, guildID, name string) (string, error) {
	if id, err := h.resolver.ChannelID(guildID, name); err == nil {
		return id, nil
	}
	if err := h.resolver.Refresh(ctx, guildID); err != nil {
		h.logger.Warn("channel list refresh failed", "guild", guildID, "error", err)
		return "", err
	}
	return h.resolver.ChannelID(guildID, name)
}

// acknowledge sends a deferred ephemeral response so the reply can follow
// once the command has finished.
func (h *Handler) acknowledge(i *discordgo.InteractionCreate) error {
	return h.client.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags: discordgo.MessageFlagsEphemeral,
		},
	})
}

func (h *Handler) respond(i *discordgo.InteractionCreate, content string) {
	_, err := h.client.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content:         &content,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	})
	if err != nil {
		h.logger.Warn("interaction response failed", "interaction", i.ID, "error", err)
	}
}

func (h *Handler) countMutation(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	h.metrics.MappingMutation(op, result)
}

func (h *Handler) logAudit(name string, i *discordgo.InteractionCreate, opts []*discordgo.ApplicationCommandInteractionDataOption, result string, start time.Time) {
	params := make(map[string]any, len(opts))
	for _, o := range opts {
		params[o.Name] = o.Value
	}
	if err := h.audit.Log(safety.AuditEntry{
		Timestamp: start,
		Action:    name,
		Actor:     actorID(i),
		GuildID:   i.GuildID,
		Params:    params,
		Result:    result,
		Duration:  time.Since(start),
	}); err != nil {
		h.logger.Warn("audit write failed", "error", err)
	}
}

func actorID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func optionString(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	for _, o := range opts {
		if o.Name == name {
			s, _ := o.Value.(string)
			return s
		}
	}
	return ""
}

// parseChannelRef strips mention syntax from an optional channel reference.
func parseChannelRef(ref string) string {
	ref = strings.TrimSpace(ref)
	ref = strings.TrimPrefix(ref, "<#")
	ref = strings.TrimSuffix(ref, ">")
	return strings.TrimPrefix(ref, "#")
}
