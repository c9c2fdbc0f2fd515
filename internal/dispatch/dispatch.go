// Package dispatch routes inbound message events to the channels their
// forwarding mappings point at.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"github.com/Mastinoo/Invictusmessages/internal/mapping"
	"github.com/Mastinoo/Invictusmessages/internal/queue"
	"github.com/Mastinoo/Invictusmessages/internal/resolve"
	"github.com/Mastinoo/Invictusmessages/internal/telemetry"
)

const (
	// DefaultPrefix marks forwarded text.
	DefaultPrefix = "Forwarded message: "

	maxMessageLength    = 2000
	maxThreadNameLen    = 100
	forumArchiveMins    = 1440
	defaultEventTimeout = 30 * time.Second
)

// Registry is the read side of mapping.Registry.
type Registry interface {
	MappingsForSource(guildID, channelID string) []mapping.Mapping
	AllGuildIDs() []string
}

// Resolver checks that target guilds and channels still exist.
// *resolve.Resolver satisfies it.
type Resolver interface {
	Guild(ctx context.Context, guildID string) (string, error)
	Channel(ctx context.Context, guildID, channelID string) (resolve.Channel, error)
	Forget(channelID string)
}

// Sender delivers forwarded text. discord.DiscordClient satisfies it.
type Sender interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ForumThreadStartComplex(channelID string, thread *discordgo.ThreadStart, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

var (
	_ Registry = (*mapping.Registry)(nil)
	_ Resolver = (*resolve.Resolver)(nil)
)

// Candidate is a mapping selected for an event together with the guild it
// is stored under.
type Candidate struct {
	Owner   string
	Mapping mapping.Mapping
}

// Failure records one candidate that could not be delivered.
type Failure struct {
	Candidate
	Reason string
	Err    error
}

// Report summarizes the handling of one event.
type Report struct {
	EventID    string
	Ignored    bool
	Candidates int
	Sent       int
	Failures   []Failure
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithPrefix sets the marker prepended to forwarded text.
func WithPrefix(p string) Option {
	return func(d *Dispatcher) { d.prefix = p }
}

// WithCrossGuildScan also matches the event's channel against mappings
// stored under other guilds.
func WithCrossGuildScan(enabled bool) Option {
	return func(d *Dispatcher) { d.crossGuildScan = enabled }
}

// WithMetrics records outcomes on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithLogger sets the logger. A nil logger defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithEventTimeout bounds the time spent on a single event.
func WithEventTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.eventTimeout = t
		}
	}
}

// Dispatcher forwards message events according to the registry. It holds
// no per-event state and is safe for concurrent use.
type Dispatcher struct {
	registry       Registry
	resolver       Resolver
	sender         Sender
	prefix         string
	crossGuildScan bool
	eventTimeout   time.Duration
	metrics        *telemetry.Metrics
	logger         *slog.Logger
}

// New constructs a Dispatcher.
func New(registry Registry, resolver Resolver, sender Sender, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:     registry,
		resolver:     resolver,
		sender:       sender,
		prefix:       DefaultPrefix,
		eventTimeout: defaultEventTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Candidates returns the mappings that apply to msg in evaluation order:
// the event's own guild first, then, with cross-guild scan enabled, every
// other guild in sorted order.
func (d *Dispatcher) Candidates(msg queue.QueuedMessage) []Candidate {
	var out []Candidate
	for _, m := range d.registry.MappingsForSource(msg.GuildID, msg.ChannelID) {
		out = append(out, Candidate{Owner: msg.GuildID, Mapping: m})
	}
	if !d.crossGuildScan {
		return out
	}
	for _, g := range d.registry.AllGuildIDs() {
		if g == msg.GuildID {
			continue
		}
		for _, m := range d.registry.MappingsForSource(g, msg.ChannelID) {
			out = append(out, Candidate{Owner: g, Mapping: m})
		}
	}
	return out
}

// Dispatch forwards msg to every applicable target. Each candidate is
// attempted independently; failures are logged, counted and returned in
// the report. Dispatch never panics.
func (d *Dispatcher) Dispatch(ctx context.Context, msg queue.QueuedMessage) (report Report) {
	report.EventID = uuid.NewString()
	logger := d.logger.With("event", report.EventID, "guild", msg.GuildID, "channel", msg.ChannelID)

	defer func() {
		if r := recover(); r != nil {
			d.metrics.ForwardFailed(telemetry.ReasonPanic)
			logger.Error("dispatch panicked", "panic", r)
			report.Failures = append(report.Failures, Failure{
				Reason: telemetry.ReasonPanic,
				Err:    fmt.Errorf("dispatch: panic: %v", r),
			})
		}
	}()

	if msg.AuthorIsBot {
		report.Ignored = true
		return report
	}
	d.metrics.EventDispatched()

	candidates := d.Candidates(msg)
	report.Candidates = len(candidates)
	if len(candidates) == 0 {
		return report
	}
	logger.Debug("dispatching", "message", msg.Formatted(), "candidates", len(candidates))

	ctx, cancel := context.WithTimeout(ctx, d.eventTimeout)
	defer cancel()

	text := d.format(msg.Content)
	for _, c := range candidates {
		reason, err := d.forward(ctx, c, msg, text)
		if err != nil {
			d.metrics.ForwardFailed(reason)
			logger.Warn("forward dropped",
				"owner", c.Owner,
				"target", c.Mapping.Target,
				"target_guild", c.Mapping.ResolveTargetGuild(c.Owner),
				"reason", reason,
				"error", err,
			)
			report.Failures = append(report.Failures, Failure{Candidate: c, Reason: reason, Err: err})
			continue
		}
		cross := c.Mapping.CrossGuild(c.Owner)
		d.metrics.ForwardSent(cross)
		logger.Debug("forwarded", "target", c.Mapping.Target, "cross_guild", cross)
		report.Sent++
	}
	return report
}

// forward resolves and delivers one candidate. On failure it returns the
// metrics reason alongside the error.
func (d *Dispatcher) forward(ctx context.Context, c Candidate, msg queue.QueuedMessage, text string) (string, error) {
	guildID := c.Mapping.ResolveTargetGuild(c.Owner)

	if _, err := d.resolver.Guild(ctx, guildID); err != nil {
		return telemetry.ReasonGuildNotFound, err
	}
	target, err := d.resolver.Channel(ctx, guildID, c.Mapping.Target)
	if err != nil {
		return telemetry.ReasonChannelNotFound, err
	}
	if err := resolve.RequireSupported(target); err != nil {
		return telemetry.ReasonUnsupportedKind, err
	}

	// An empty allow list keeps forwarded @everyone and role mentions silent.
	send := &discordgo.MessageSend{
		Content:         text,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
	start := time.Now()
	if target.Kind == resolve.KindForum {
		_, err = d.sender.ForumThreadStartComplex(target.ID, &discordgo.ThreadStart{
			Name:                threadName(msg),
			AutoArchiveDuration: forumArchiveMins,
		}, send, discordgo.WithContext(ctx))
	} else {
		_, err = d.sender.ChannelMessageSendComplex(target.ID, send, discordgo.WithContext(ctx))
	}
	d.metrics.ObserveSend(start)
	if err != nil {
		d.resolver.Forget(target.ID)
		if errors.Is(err, context.DeadlineExceeded) {
			return telemetry.ReasonSendFailed, fmt.Errorf("dispatch: send to %s timed out: %w", target.ID, err)
		}
		return telemetry.ReasonSendFailed, fmt.Errorf("dispatch: send to %s: %w", target.ID, err)
	}
	return "", nil
}

// format prefixes content and trims it to Discord's message length limit.
func (d *Dispatcher) format(content string) string {
	return truncate(d.prefix+content, maxMessageLength)
}

func threadName(msg queue.QueuedMessage) string {
	name := msg.ChannelName
	if name == "" {
		name = msg.ChannelID
	}
	if msg.AuthorUsername != "" {
		name = msg.AuthorUsername + " in #" + name
	} else {
		name = "#" + name
	}
	return truncate(name, maxThreadNameLen)
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-1]) + "…"
}

// Run starts workers goroutines that drain q into Dispatch until ctx is
// cancelled, then waits for in-flight events to finish.
func (d *Dispatcher) Run(ctx context.Context, q *queue.Queue, workers int) {
	if workers < 1 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.work(ctx, q, id)
		}(i)
	}
	wg.Wait()
	d.logger.Info("dispatch workers stopped", "workers", workers)
}

func (d *Dispatcher) work(ctx context.Context, q *queue.Queue, id int) {
	for ctx.Err() == nil {
		msgs := q.Poll(ctx, time.Second, 1)
		d.metrics.SetQueueDepth(q.Len())
		for _, msg := range msgs {
			// In-flight events finish even when shutdown begins.
			r := d.Dispatch(context.WithoutCancel(ctx), msg)
			if r.Sent > 0 || len(r.Failures) > 0 {
				d.logger.Info("event dispatched",
					"event", r.EventID,
					"worker", id,
					"candidates", r.Candidates,
					"sent", r.Sent,
					"failed", len(r.Failures),
				)
			}
		}
	}
}
