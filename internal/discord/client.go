package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"
)

// DiscordClient defines the subset of the Discord REST API used by the
// dispatcher and the command handlers. The concrete *discordgo.Session type
// satisfies this interface.
type DiscordClient interface {
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ForumThreadStartComplex(channelID string, thread *discordgo.ThreadStart, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ApplicationCommandBulkOverwrite(appID string, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
}

// InteractionHandler serves the bot's slash commands. Commands lists the
// definitions registered on ready; Handle is called for every application
// command interaction.
type InteractionHandler interface {
	Commands() []*discordgo.ApplicationCommand
	Handle(ctx context.Context, i *discordgo.InteractionCreate)
}

// Compile-time assertion: *discordgo.Session satisfies DiscordClient.
var _ DiscordClient = (*discordgo.Session)(nil)
