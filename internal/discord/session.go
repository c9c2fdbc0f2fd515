// Package discord wraps a discordgo.Session with queue, resolver and slash
// command integration to provide the bot's gateway ingestion layer.
package discord

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Mastinoo/Invictusmessages/internal/queue"
	"github.com/Mastinoo/Invictusmessages/internal/resolve"
	"github.com/Mastinoo/Invictusmessages/internal/telemetry"
)

const interactionTimeout = 10 * time.Second

// Option configures a Session.
type Option func(*Session)

// WithCommands installs h as the slash command handler. Commands are
// registered globally when guildIDs is empty, otherwise in each listed guild.
func WithCommands(h InteractionHandler, guildIDs []string) Option {
	return func(s *Session) {
		s.commands = h
		s.commandGuilds = guildIDs
	}
}

// WithMetrics records queue overflow and depth on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithLogger sets the logger. A nil logger defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// Session wraps a discordgo.Session and pushes every human-authored guild
// message onto the event queue for the forwarding workers.
type Session struct {
	dg            *discordgo.Session
	queue         *queue.Queue
	resolver      *resolve.Resolver
	commands      InteractionHandler
	commandGuilds []string
	metrics       *telemetry.Metrics
	logger        *slog.Logger
}

// NewFromSession wraps an existing *discordgo.Session, registering gateway
// event handlers and configuring the required intents.
//
// Intents enabled:
//   - IntentGuilds
//   - IntentGuildMessages
//   - IntentMessageContent
func NewFromSession(dg *discordgo.Session, q *queue.Queue, r *resolve.Resolver, opts ...Option) *Session {
	s := &Session{
		dg:       dg,
		queue:    q,
		resolver: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	dg.Identify.Intents = discordgo.IntentGuilds |
		discordgo.IntentGuildMessages |
		discordgo.IntentMessageContent

	dg.AddHandler(s.onReady)
	dg.AddHandler(s.onMessageCreate)
	dg.AddHandler(s.onInteractionCreate)
	dg.AddHandler(s.onChannelDelete)
	dg.AddHandler(s.onGuildDelete)

	return s
}

// Open establishes the WebSocket connection to the Discord gateway.
func (s *Session) Open() error {
	return s.dg.Open()
}

// Close closes the gateway connection. It is safe to call more than once.
func (s *Session) Close() error {
	return s.dg.Close()
}

// DiscordSession returns the underlying *discordgo.Session.
func (s *Session) DiscordSession() *discordgo.Session {
	return s.dg
}

// Ready reports an error until the gateway has delivered its READY event.
func (s *Session) Ready() error {
	if !s.DiscordSession().DataReady {
		return errors.New("discord gateway not ready")
	}
	return nil
}

func (s *Session) onReady(dg *discordgo.Session, event *discordgo.Ready) {
	s.logger.Info("discord connected",
		"username", event.User.Username,
		"guilds", len(event.Guilds),
	)
	if s.commands == nil {
		return
	}
	if err := s.registerCommands(dg, event.User.ID); err != nil {
		s.logger.Error("slash command registration failed", "error", err)
	}
}

// registerCommands overwrites the application's command set in every
// configured scope. It keeps going after a failed scope and returns the
// last error.
func (s *Session) registerCommands(client DiscordClient, appID string) error {
	defs := s.commands.Commands()
	scopes := s.commandGuilds
	if len(scopes) == 0 {
		scopes = []string{""}
	}

	var lastErr error
	for _, guildID := range scopes {
		created, err := client.ApplicationCommandBulkOverwrite(appID, guildID, defs)
		if err != nil {
			s.logger.Warn("command registration failed", "guild", guildID, "error", err)
			lastErr = err
			continue
		}
		s.logger.Info("slash commands registered", "guild", guildID, "count", len(created))
	}
	return lastErr
}

// onMessageCreate enqueues guild messages from human authors. Direct
// messages and bot traffic, including the bot's own forwards, never reach
// the queue.
func (s *Session) onMessageCreate(_ *discordgo.Session, event *discordgo.MessageCreate) {
	if event.Author == nil || event.GuildID == "" {
		return
	}
	if event.Author.Bot {
		return
	}

	msg := queue.QueuedMessage{
		ID:             event.ID,
		GuildID:        event.GuildID,
		ChannelID:      event.ChannelID,
		ChannelName:    s.resolver.ChannelName(event.ChannelID),
		AuthorID:       event.Author.ID,
		AuthorUsername: event.Author.Username,
		AuthorIsBot:    event.Author.Bot,
		Content:        event.Content,
		Timestamp:      event.Timestamp,
	}

	if s.queue.Enqueue(msg) {
		s.metrics.EventDropped()
		s.logger.Warn("event queue full, oldest message dropped")
	}
	s.metrics.SetQueueDepth(s.queue.Len())
	s.logger.Debug("message enqueued", "id", event.ID, "guild", event.GuildID, "channel", msg.ChannelName)
}

func (s *Session) onInteractionCreate(_ *discordgo.Session, event *discordgo.InteractionCreate) {
	if s.commands == nil || event.Type != discordgo.InteractionApplicationCommand {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("interaction handler panicked", "command", event.ApplicationCommandData().Name, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()
	s.commands.Handle(ctx, event)
}

func (s *Session) onChannelDelete(_ *discordgo.Session, event *discordgo.ChannelDelete) {
	if event.Channel == nil {
		return
	}
	s.resolver.Forget(event.ID)
	s.logger.Debug("channel deleted", "channel", event.ID, "guild", event.GuildID)
}

func (s *Session) onGuildDelete(_ *discordgo.Session, event *discordgo.GuildDelete) {
	if event.Guild == nil {
		return
	}
	s.resolver.ForgetGuild(event.ID)
	s.logger.Info("removed from guild", "guild", event.ID)
}
