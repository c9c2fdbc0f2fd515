package command

import (
	"github.com/bwmarrin/discordgo"

	"github.com/Mastinoo/Invictusmessages/internal/resolve"
)

// Slash command names.
const (
	SetForward    = "setforward"
	RemoveForward = "removeforward"
	ListForwards  = "listforwards"
)

var manageChannels int64 = discordgo.PermissionManageChannels

// Definitions returns the application commands served by Handler.
func Definitions() []*discordgo.ApplicationCommand {
	noDM := false
	return []*discordgo.ApplicationCommand{
		{
			Name:                     SetForward,
			Description:              "Sets up message forwarding between channels.",
			DefaultMemberPermissions: &manageChannels,
			DMPermission:             &noDM,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:         discordgo.ApplicationCommandOptionChannel,
					Name:         "source",
					Description:  "Source channel for message forwarding",
					ChannelTypes: resolve.SupportedChannelTypes(),
					Required:     true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "target",
					Description: "Target channel (mention, name or ID) for message forwarding",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "server",
					Description: "Server ID to forward messages to (optional)",
				},
			},
		},
		{
			Name:                     RemoveForward,
			Description:              "Removes message forwarding from a channel.",
			DefaultMemberPermissions: &manageChannels,
			DMPermission:             &noDM,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:         discordgo.ApplicationCommandOptionChannel,
					Name:         "source",
					Description:  "Source channel to stop forwarding",
					ChannelTypes: resolve.SupportedChannelTypes(),
					Required:     true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "target",
					Description: "Only remove forwarding to this channel ID",
				},
			},
		},
		{
			Name:                     ListForwards,
			Description:              "Lists the forwarding rules of this server.",
			DefaultMemberPermissions: &manageChannels,
			DMPermission:             &noDM,
		},
	}
}
