package testutil

import (
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/Mastinoo/Invictusmessages/internal/discord"
)

// Compile-time assertion: *MockDiscordClient satisfies discord.DiscordClient.
var _ discord.DiscordClient = (*MockDiscordClient)(nil)

// MockDiscordClient implements discord.DiscordClient using configurable
// function fields. When a field is nil the method returns a sensible
// default. Interaction responses and edits are always recorded, in order,
// in Responses and Edits.
type MockDiscordClient struct {
	GuildFunc                     func(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
	ChannelFunc                   func(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	GuildChannelsFunc             func(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	ChannelMessageSendComplexFunc func(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ForumThreadStartFunc          func(channelID string, thread *discordgo.ThreadStart, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	InteractionRespondFunc        func(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEditFunc   func(interaction *discordgo.Interaction, edit *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	BulkOverwriteFunc             func(appID, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)

	mu        sync.Mutex
	Responses []*discordgo.InteractionResponse
	Edits     []*discordgo.WebhookEdit
}

func (m *MockDiscordClient) Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error) {
	if m.GuildFunc != nil {
		return m.GuildFunc(guildID, options...)
	}
	return &discordgo.Guild{ID: guildID, Name: "Test Guild"}, nil
}

func (m *MockDiscordClient) Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	if m.ChannelFunc != nil {
		return m.ChannelFunc(channelID, options...)
	}
	return &discordgo.Channel{ID: channelID, Name: channelID, Type: discordgo.ChannelTypeGuildText}, nil
}

func (m *MockDiscordClient) GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error) {
	if m.GuildChannelsFunc != nil {
		return m.GuildChannelsFunc(guildID, options...)
	}
	return []*discordgo.Channel{
		{ID: "ch-001", GuildID: guildID, Name: "general", Type: discordgo.ChannelTypeGuildText},
		{ID: "ch-002", GuildID: guildID, Name: "random", Type: discordgo.ChannelTypeGuildText},
	}, nil
}

func (m *MockDiscordClient) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	if m.ChannelMessageSendComplexFunc != nil {
		return m.ChannelMessageSendComplexFunc(channelID, data, options...)
	}
	return &discordgo.Message{ID: "mock-msg-001", ChannelID: channelID, Content: data.Content}, nil
}

func (m *MockDiscordClient) ForumThreadStartComplex(channelID string, thread *discordgo.ThreadStart, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	if m.ForumThreadStartFunc != nil {
		return m.ForumThreadStartFunc(channelID, thread, data, options...)
	}
	return &discordgo.Channel{ID: "mock-thread-001", ParentID: channelID, Name: thread.Name}, nil
}

func (m *MockDiscordClient) InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error {
	m.mu.Lock()
	m.Responses = append(m.Responses, resp)
	m.mu.Unlock()
	if m.InteractionRespondFunc != nil {
		return m.InteractionRespondFunc(interaction, resp, options...)
	}
	return nil
}

func (m *MockDiscordClient) InteractionResponseEdit(interaction *discordgo.Interaction, edit *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	m.Edits = append(m.Edits, edit)
	m.mu.Unlock()
	if m.InteractionResponseEditFunc != nil {
		return m.InteractionResponseEditFunc(interaction, edit, options...)
	}
	msg := &discordgo.Message{ID: "mock-reply-001"}
	if edit.Content != nil {
		msg.Content = *edit.Content
	}
	return msg, nil
}

func (m *MockDiscordClient) ApplicationCommandBulkOverwrite(appID string, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error) {
	if m.BulkOverwriteFunc != nil {
		return m.BulkOverwriteFunc(appID, guildID, commands, options...)
	}
	return commands, nil
}

// LastResponse returns the most recent interaction response, or nil.
func (m *MockDiscordClient) LastResponse() *discordgo.InteractionResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Responses) == 0 {
		return nil
	}
	return m.Responses[len(m.Responses)-1]
}

// LastEditContent returns the content of the most recent interaction
// response edit, or "" when there is none.
func (m *MockDiscordClient) LastEditContent() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Edits) == 0 || m.Edits[len(m.Edits)-1].Content == nil {
		return ""
	}
	return *m.Edits[len(m.Edits)-1].Content
}
