package resolve

import "github.com/bwmarrin/discordgo"

// Client is the subset of the Discord REST API the Resolver falls back to
// when the gateway state has no answer. *discordgo.Session satisfies it.
type Client interface {
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
}

// ChannelResolver provides channel name/ID resolution. Admin tool handlers
// accept this interface rather than the concrete *Resolver type.
type ChannelResolver interface {
	ChannelName(id string) string
	ChannelID(guildID, name string) (string, error)
}

// Compile-time assertions.
var (
	_ Client          = (*discordgo.Session)(nil)
	_ ChannelResolver = (*Resolver)(nil)
)
