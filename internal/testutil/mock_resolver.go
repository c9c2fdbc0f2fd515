package testutil

import (
	"fmt"
	"strings"

	"github.com/Mastinoo/Invictusmessages/internal/resolve"
)

// Compile-time assertion.
var _ resolve.ChannelResolver = (*MockChannelResolver)(nil)

// MockChannelResolver implements resolve.ChannelResolver using in-memory
// maps keyed by guild.
type MockChannelResolver struct {
	IDToName map[string]string            // channel ID -> name
	NameToID map[string]map[string]string // guild ID -> name -> channel ID
}

// ChannelName returns the name for the given channel ID, or the ID itself
// when unknown.
func (m *MockChannelResolver) ChannelName(id string) string {
	if name, ok := m.IDToName[id]; ok {
		return name
	}
	return id
}

// ChannelID returns the ID of the channel named name in guildID. A leading
// "#" is stripped.
func (m *MockChannelResolver) ChannelID(guildID, name string) (string, error) {
	name = strings.TrimPrefix(name, "#")
	if id, ok := m.NameToID[guildID][name]; ok {
		return id, nil
	}
	return "", fmt.Errorf("%w: %q in guild %s", resolve.ErrChannelNotFound, name, guildID)
}
