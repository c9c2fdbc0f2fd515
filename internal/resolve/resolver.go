// Package resolve turns opaque guild and channel IDs into checked Discord
// objects, preferring the gateway state cache and falling back to REST.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// Resolution failures. Both are wrapped with the offending ID.
var (
	ErrGuildNotFound   = errors.New("resolve: guild not found")
	ErrChannelNotFound = errors.New("resolve: channel not found")
)

// Channel is a resolved channel reference.
type Channel struct {
	ID      string
	GuildID string
	Name    string
	Kind    Kind
}

func channelFrom(ch *discordgo.Channel) Channel {
	return Channel{
		ID:      ch.ID,
		GuildID: ch.GuildID,
		Name:    ch.Name,
		Kind:    KindOf(ch.Type),
	}
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithState makes the Resolver consult the gateway state cache before REST.
func WithState(state *discordgo.State) Option {
	return func(r *Resolver) { r.state = state }
}

// Resolver maintains an in-memory cache of channels seen through REST
// lookups, keyed by channel ID. It is safe for concurrent use.
type Resolver struct {
	client Client
	state  *discordgo.State

	mu       sync.RWMutex
	channels map[string]Channel // channel ID -> channel
	guilds   map[string]string  // guild ID -> name
}

// New constructs a Resolver backed by client.
func New(client Client, opts ...Option) *Resolver {
	r := &Resolver{
		client:   client,
		channels: make(map[string]Channel),
		guilds:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Guild checks that the bot can see guildID and returns its name.
func (r *Resolver) Guild(ctx context.Context, guildID string) (string, error) {
	if guildID == "" {
		return "", fmt.Errorf("%w: empty id", ErrGuildNotFound)
	}
	if r.state != nil {
		if g, err := r.state.Guild(guildID); err == nil {
			return g.Name, nil
		}
	}

	r.mu.RLock()
	name, ok := r.guilds[guildID]
	r.mu.RUnlock()
	if ok {
		return name, nil
	}

	g, err := r.client.Guild(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrGuildNotFound, guildID, err)
	}

	r.mu.Lock()
	r.guilds[guildID] = g.Name
	r.mu.Unlock()
	return g.Name, nil
}

// Channel resolves channelID and checks that it belongs to guildID.
func (r *Resolver) Channel(ctx context.Context, guildID, channelID string) (Channel, error) {
	ch, err := r.lookup(ctx, channelID)
	if err != nil {
		return Channel{}, err
	}
	if ch.GuildID != guildID {
		return Channel{}, fmt.Errorf("%w: %s is not in guild %s", ErrChannelNotFound, channelID, guildID)
	}
	return ch, nil
}

func (r *Resolver) lookup(ctx context.Context, channelID string) (Channel, error) {
	if channelID == "" {
		return Channel{}, fmt.Errorf("%w: empty id", ErrChannelNotFound)
	}
	if r.state != nil {
		if ch, err := r.state.Channel(channelID); err == nil {
			return channelFrom(ch), nil
		}
	}

	r.mu.RLock()
	cached, ok := r.channels[channelID]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	raw, err := r.client.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return Channel{}, fmt.Errorf("%w: %s: %w", ErrChannelNotFound, channelID, err)
	}
	ch := channelFrom(raw)

	r.mu.Lock()
	r.channels[channelID] = ch
	r.mu.Unlock()
	return ch, nil
}

// Forget drops channelID from the cache, e.g. after a send to it failed or
// the gateway reported it deleted.
func (r *Resolver) Forget(channelID string) {
	r.mu.Lock()
	delete(r.channels, channelID)
	r.mu.Unlock()
}

// ForgetGuild drops guildID and all of its cached channels.
func (r *Resolver) ForgetGuild(guildID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.guilds, guildID)
	for id, ch := range r.channels {
		if ch.GuildID == guildID {
			delete(r.channels, id)
		}
	}
}

// ChannelName returns the name for the channel with the given ID. If the ID
// is not known, the ID itself is returned so callers always receive a
// non-empty, printable value.
func (r *Resolver) ChannelName(id string) string {
	if r.state != nil {
		if ch, err := r.state.Channel(id); err == nil && ch.Name != "" {
			return ch.Name
		}
	}
	r.mu.RLock()
	ch, ok := r.channels[id]
	r.mu.RUnlock()
	if !ok || ch.Name == "" {
		return id
	}
	return ch.Name
}

// ChannelID returns the ID of the supported channel named name in guildID.
// A leading "#" is stripped before the lookup. Call Refresh first to
// populate the cache from REST.
func (r *Resolver) ChannelID(guildID, name string) (string, error) {
	name = strings.TrimPrefix(name, "#")

	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, ch := range r.channels {
		if ch.GuildID == guildID && ch.Name == name && ch.Kind.Supported() {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: %q in guild %s", ErrChannelNotFound, name, guildID)
}

// Refresh fetches the channel list for guildID and replaces that guild's
// cached channels. The write lock is held only during the swap, so reads
// are not blocked during the network call.
func (r *Resolver) Refresh(ctx context.Context, guildID string) error {
	channels, err := r.client.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("resolve: failed to fetch guild channels: %w", err)
	}

	fresh := make(map[string]Channel, len(channels))
	for _, raw := range channels {
		ch := channelFrom(raw)
		if ch.GuildID == "" {
			ch.GuildID = guildID
		}
		fresh[ch.ID] = ch
	}

	r.mu.Lock()
	for id, ch := range r.channels {
		if ch.GuildID == guildID {
			delete(r.channels, id)
		}
	}
	for id, ch := range fresh {
		r.channels[id] = ch
	}
	r.mu.Unlock()

	return nil
}

// ResolveChannelParam resolves a channel parameter that may be a mention
// ("<#123>"), a name or an ID. All-digit strings are treated as IDs,
// otherwise the name is looked up in guildID via r.
func ResolveChannelParam(r ChannelResolver, guildID, channel string) (string, error) {
	channel = strings.TrimSpace(channel)
	if strings.HasPrefix(channel, "<#") && strings.HasSuffix(channel, ">") {
		channel = strings.TrimSuffix(strings.TrimPrefix(channel, "<#"), ">")
	}
	channel = strings.TrimPrefix(channel, "#")

	allDigits := len(channel) > 0
	for _, c := range channel {
		if c < '0' || c > '9' {
			allDigits = false
			break
		}
	}
	if allDigits {
		return channel, nil
	}

	return r.ChannelID(guildID, channel)
}
