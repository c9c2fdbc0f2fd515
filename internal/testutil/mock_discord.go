// Package testutil provides shared test infrastructure for the bot's
// packages.
//
// The primary helper is NewMockDiscordSession, which starts an
// httptest.Server that simulates the Discord REST endpoints the bot uses and
// returns a *discordgo.Session pointing to it. discordgo's endpoints are
// package globals, so tests using it must not call t.Parallel.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
)

// SentMessage is one outbound message observed by the mock server.
type SentMessage struct {
	ChannelID string
	Content   string
	// ThreadName is set when the message opened a forum post.
	ThreadName string
}

// MockDiscord bundles the test server and discordgo session together so
// callers can seed guilds and channels and inspect what was sent.
type MockDiscord struct {
	Server  *httptest.Server
	Session *discordgo.Session

	mu       sync.Mutex
	guilds   map[string]string
	channels map[string]*discordgo.Channel
	failSend map[string]bool
	sent     []SentMessage
}

// AddGuild registers a guild the bot can see.
func (m *MockDiscord) AddGuild(id, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.guilds[id] = name
}

// AddChannel registers a channel of the given type in guildID.
func (m *MockDiscord) AddChannel(guildID, id, name string, typ discordgo.ChannelType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[id] = &discordgo.Channel{ID: id, GuildID: guildID, Name: name, Type: typ}
}

// DeleteChannel removes a channel so later lookups return 404.
func (m *MockDiscord) DeleteChannel(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, id)
}

// FailSends makes every send to channelID return 403.
func (m *MockDiscord) FailSends(channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSend[channelID] = true
}

// Sent returns a copy of all messages sent so far, in arrival order.
func (m *MockDiscord) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// Close shuts down the test server. It is registered with t.Cleanup by
// NewMockDiscordSession.
func (m *MockDiscord) Close() {
	m.Server.Close()
}

// NewMockDiscordSession starts an httptest.Server with handlers that
// simulate Discord's REST API and returns a MockDiscord that wraps both the
// server and a discordgo.Session pointed at it. Endpoint overrides are
// restored when the test finishes.
func NewMockDiscordSession(t *testing.T) *MockDiscord {
	t.Helper()

	m := &MockDiscord{
		guilds:   make(map[string]string),
		channels: make(map[string]*discordgo.Channel),
		failSend: make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v9/channels/", m.handleChannels)
	mux.HandleFunc("/api/v9/guilds/", m.handleGuilds)
	m.Server = httptest.NewServer(mux)

	origDiscord := discordgo.EndpointDiscord
	origAPI := discordgo.EndpointAPI
	origGuilds := discordgo.EndpointGuilds
	origChannels := discordgo.EndpointChannels
	discordgo.EndpointDiscord = m.Server.URL + "/"
	discordgo.EndpointAPI = discordgo.EndpointDiscord + "api/v" + discordgo.APIVersion + "/"
	discordgo.EndpointGuilds = discordgo.EndpointAPI + "guilds/"
	discordgo.EndpointChannels = discordgo.EndpointAPI + "channels/"

	t.Cleanup(func() {
		m.Close()
		discordgo.EndpointDiscord = origDiscord
		discordgo.EndpointAPI = origAPI
		discordgo.EndpointGuilds = origGuilds
		discordgo.EndpointChannels = origChannels
	})

	dg, err := discordgo.New("Bot test-token")
	if err != nil {
		t.Fatalf("testutil: discordgo.New failed: %v", err)
	}
	m.Session = dg
	return m
}

func (m *MockDiscord) handleChannels(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/v9/channels/"), "/")
	channelID := parts[0]

	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[channelID]
	if !ok {
		writeError(w, http.StatusNotFound, 10003, "Unknown Channel")
		return
	}

	switch {
	// GET /channels/{id}
	case r.Method == http.MethodGet && len(parts) == 1:
		writeJSON(w, ch)

	// POST /channels/{id}/messages
	case r.Method == http.MethodPost && len(parts) == 2 && parts[1] == "messages":
		if m.failSend[channelID] {
			writeError(w, http.StatusForbidden, 50013, "Missing Permissions")
			return
		}
		var body struct {
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		m.sent = append(m.sent, SentMessage{ChannelID: channelID, Content: body.Content})
		writeJSON(w, &discordgo.Message{ID: "mock-msg-001", ChannelID: channelID, Content: body.Content})

	// POST /channels/{id}/threads
	case r.Method == http.MethodPost && len(parts) == 2 && parts[1] == "threads":
		if m.failSend[channelID] {
			writeError(w, http.StatusForbidden, 50013, "Missing Permissions")
			return
		}
		var body struct {
			Name    string `json:"name"`
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		m.sent = append(m.sent, SentMessage{ChannelID: channelID, Content: body.Message.Content, ThreadName: body.Name})
		writeJSON(w, &discordgo.Channel{
			ID:       "mock-thread-001",
			GuildID:  ch.GuildID,
			ParentID: channelID,
			Name:     body.Name,
			Type:     discordgo.ChannelTypeGuildPublicThread,
		})

	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (m *MockDiscord) handleGuilds(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/v9/guilds/"), "/")
	guildID := parts[0]

	m.mu.Lock()
	defer m.mu.Unlock()

	name, ok := m.guilds[guildID]
	if !ok {
		writeError(w, http.StatusNotFound, 10004, "Unknown Guild")
		return
	}

	switch {
	// GET /guilds/{id}
	case r.Method == http.MethodGet && len(parts) == 1:
		writeJSON(w, &discordgo.Guild{ID: guildID, Name: name})

	// GET /guilds/{id}/channels
	case r.Method == http.MethodGet && len(parts) == 2 && parts[1] == "channels":
		out := []*discordgo.Channel{}
		for _, ch := range m.channels {
			if ch.GuildID == guildID {
				out = append(out, ch)
			}
		}
		writeJSON(w, out)

	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// writeJSON marshals v as JSON and writes it to w with 200 OK.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"message": msg, "code": code})
}
