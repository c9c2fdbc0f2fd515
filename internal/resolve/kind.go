package resolve

import (
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// ErrUnsupportedKind is returned when a channel cannot carry forwarded
// messages, e.g. a voice or category channel.
var ErrUnsupportedKind = errors.New("resolve: unsupported channel kind")

// Kind is the closed set of channel variants a mapping may point at.
type Kind int

const (
	KindUnsupported Kind = iota
	KindText
	KindPublicThread
	KindPrivateThread
	KindForum
)

var kindNames = map[Kind]string{
	KindUnsupported:   "unsupported",
	KindText:          "text",
	KindPublicThread:  "public thread",
	KindPrivateThread: "private thread",
	KindForum:         "forum",
}

func (k Kind) String() string {
	return kindNames[k]
}

// Supported reports whether k may be used as a forwarding source or target.
func (k Kind) Supported() bool {
	return k != KindUnsupported
}

// RequireSupported returns ErrUnsupportedKind, wrapped with the channel ID,
// when ch is not a kind mappings may use.
func RequireSupported(ch Channel) error {
	if ch.Kind.Supported() {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedKind, ch.ID)
}

// KindOf maps a Discord channel type onto a Kind.
func KindOf(t discordgo.ChannelType) Kind {
	switch t {
	case discordgo.ChannelTypeGuildText:
		return KindText
	case discordgo.ChannelTypeGuildPublicThread:
		return KindPublicThread
	case discordgo.ChannelTypeGuildPrivateThread:
		return KindPrivateThread
	case discordgo.ChannelTypeGuildForum:
		return KindForum
	default:
		return KindUnsupported
	}
}

// SupportedChannelTypes lists the Discord channel types accepted by the
// setforward command, for use in slash command option filters.
func SupportedChannelTypes() []discordgo.ChannelType {
	return []discordgo.ChannelType{
		discordgo.ChannelTypeGuildText,
		discordgo.ChannelTypeGuildPublicThread,
		discordgo.ChannelTypeGuildPrivateThread,
		discordgo.ChannelTypeGuildForum,
	}
}
