package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mastinoo/Invictusmessages/internal/mapping"
	"github.com/Mastinoo/Invictusmessages/internal/resolve"
	"github.com/Mastinoo/Invictusmessages/internal/safety"
	"github.com/Mastinoo/Invictusmessages/internal/telemetry"
	"github.com/Mastinoo/Invictusmessages/internal/testutil"
)

// switchStore is an in-memory mapping.Store whose saves can be made to fail.
// onSave, when set, runs at the start of every Save.
type switchStore struct {
	mu     sync.Mutex
	table  mapping.Table
	fail   bool
	onSave func()
}

func (s *switchStore) Load(context.Context) mapping.Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.Clone()
}

func (s *switchStore) Save(_ context.Context, t mapping.Table) error {
	if s.onSave != nil {
		s.onSave()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("disk full")
	}
	s.table = t.Clone()
	return nil
}

var world = struct {
	guilds   map[string]string
	channels map[string]*discordgo.Channel
}{
	guilds: map[string]string{"G1": "Home", "G2": "Partner"},
	channels: map[string]*discordgo.Channel{
		"C1":  {ID: "C1", GuildID: "G1", Name: "news", Type: discordgo.ChannelTypeGuildText},
		"C2":  {ID: "C2", GuildID: "G1", Name: "relay", Type: discordgo.ChannelTypeGuildText},
		"T1":  {ID: "T1", GuildID: "G1", Name: "private", Type: discordgo.ChannelTypeGuildPrivateThread},
		"V1":  {ID: "V1", GuildID: "G1", Name: "lounge", Type: discordgo.ChannelTypeGuildVoice},
		"C3":  {ID: "C3", GuildID: "G2", Name: "inbox", Type: discordgo.ChannelTypeGuildText},
		"F1":  {ID: "F1", GuildID: "G2", Name: "posts", Type: discordgo.ChannelTypeGuildForum},
		"CAT": {ID: "CAT", GuildID: "G2", Name: "archive", Type: discordgo.ChannelTypeGuildCategory},
	},
}

func worldClient() *testutil.MockDiscordClient {
	return &testutil.MockDiscordClient{
		GuildFunc: func(id string, _ ...discordgo.RequestOption) (*discordgo.Guild, error) {
			name, ok := world.guilds[id]
			if !ok {
				return nil, errors.New("HTTP 404 Not Found")
			}
			return &discordgo.Guild{ID: id, Name: name}, nil
		},
		ChannelFunc: func(id string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
			ch, ok := world.channels[id]
			if !ok {
				return nil, errors.New("HTTP 404 Not Found")
			}
			return ch, nil
		},
		GuildChannelsFunc: func(guildID string, _ ...discordgo.RequestOption) ([]*discordgo.Channel, error) {
			var out []*discordgo.Channel
			for _, ch := range world.channels {
				if ch.GuildID == guildID {
					out = append(out, ch)
				}
			}
			return out, nil
		},
	}
}

type fixture struct {
	handler  *Handler
	client   *testutil.MockDiscordClient
	registry *mapping.Registry
	store    *switchStore
	metrics  *telemetry.Metrics
	audit    *bytes.Buffer
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := &switchStore{table: mapping.Table{}}
	reg := mapping.NewRegistry(st, logger)
	reg.Hydrate(context.Background())

	client := worldClient()
	f := &fixture{
		client:   client,
		registry: reg,
		store:    st,
		metrics:  telemetry.NewMetrics(prometheus.NewRegistry()),
		audit:    &bytes.Buffer{},
	}
	opts = append([]Option{
		WithLogger(logger),
		WithMetrics(f.metrics),
		WithAudit(safety.NewAuditLogger(f.audit)),
	}, opts...)
	f.handler = New(client, reg, resolve.New(client), opts...)
	return f
}

func interaction(guildID, name string, kv ...string) *discordgo.InteractionCreate {
	var opts []*discordgo.ApplicationCommandInteractionDataOption
	for i := 0; i+1 < len(kv); i += 2 {
		typ := discordgo.ApplicationCommandOptionString
		if kv[i] == "source" {
			typ = discordgo.ApplicationCommandOptionChannel
		}
		opts = append(opts, &discordgo.ApplicationCommandInteractionDataOption{Name: kv[i], Type: typ, Value: kv[i+1]})
	}
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:      "I1",
			Type:    discordgo.InteractionApplicationCommand,
			GuildID: guildID,
			Member:  &discordgo.Member{User: &discordgo.User{ID: "U1"}},
			Data:    discordgo.ApplicationCommandInteractionData{Name: name, Options: opts},
		},
	}
}

func (f *fixture) run(i *discordgo.InteractionCreate) string {
	f.handler.Handle(context.Background(), i)
	return f.client.LastEditContent()
}

// ---------------------------------------------------------------------------
// setforward
// ---------------------------------------------------------------------------

func TestSetForward_SameGuild(t *testing.T) {
	f := newFixture(t)

	reply := f.run(interaction("G1", SetForward, "source", "C1", "target", "C2"))

	assert.Equal(t, "Successfully set up forwarding from <#C1> to <#C2>.", reply)
	assert.Equal(t, []mapping.Mapping{{Source: "C1", Target: "C2"}}, f.registry.MappingsForSource("G1", "C1"))
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.Mutations.WithLabelValues("add", "ok")))

	require.Len(t, f.client.Responses, 1)
	resp := f.client.Responses[0]
	assert.Equal(t, discordgo.InteractionResponseDeferredChannelMessageWithSource, resp.Type)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)
	require.Len(t, f.client.Edits, 1)
	require.NotNil(t, f.client.Edits[0].AllowedMentions)
	assert.Empty(t, f.client.Edits[0].AllowedMentions.Parse)
}

func TestSetForward_AcknowledgedBeforeSave(t *testing.T) {
	f := newFixture(t)
	var respondedBeforeSave, editedBeforeSave int
	f.store.onSave = func() {
		respondedBeforeSave = len(f.client.Responses)
		editedBeforeSave = len(f.client.Edits)
	}

	reply := f.run(interaction("G1", SetForward, "source", "C1", "target", "C2"))

	assert.Equal(t, "Successfully set up forwarding from <#C1> to <#C2>.", reply)
	assert.Equal(t, 1, respondedBeforeSave, "deferred acknowledgement precedes the save")
	assert.Zero(t, editedBeforeSave, "reply follows the save")
	assert.Len(t, f.client.Edits, 1)
}

func TestSetForward_AcknowledgeFailureSkipsCommand(t *testing.T) {
	f := newFixture(t)
	f.client.InteractionRespondFunc = func(*discordgo.Interaction, *discordgo.InteractionResponse, ...discordgo.RequestOption) error {
		return errors.New("unknown interaction")
	}

	f.handler.Handle(context.Background(), interaction("G1", SetForward, "source", "C1", "target", "C2"))

	assert.Empty(t, f.registry.MappingsForSource("G1", "C1"))
	assert.Empty(t, f.client.Edits)
}

func TestSetForward_TargetReferences(t *testing.T) {
	tests := []struct {
		name   string
		target string
	}{
		{name: "id", target: "C2"},
		{name: "mention", target: "<#C2>"},
		{name: "name", target: "relay"},
		{name: "hash name", target: "#relay"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			reply := f.run(interaction("G1", SetForward, "source", "C1", "target", tt.target))
			assert.Contains(t, reply, "Successfully")
			assert.Equal(t, []mapping.Mapping{{Source: "C1", Target: "C2"}}, f.registry.MappingsForSource("G1", "C1"))
		})
	}
}

func TestSetForward_CrossGuild(t *testing.T) {
	f := newFixture(t)

	reply := f.run(interaction("G1", SetForward, "source", "C1", "target", "F1", "server", "G2"))

	assert.Equal(t, "Successfully set up forwarding from <#C1> to <#F1> in server Partner.", reply)
	assert.Equal(t, []mapping.Mapping{{Source: "C1", Target: "F1", TargetGuild: "G2"}}, f.registry.MappingsForSource("G1", "C1"))
	assert.Equal(t, mapping.Table{"G1": {{Source: "C1", Target: "F1", TargetGuild: "G2"}}}, f.store.Load(context.Background()))
}

func TestSetForward_ServerEqualToOwnGuildStoredPlain(t *testing.T) {
	f := newFixture(t)

	f.run(interaction("G1", SetForward, "source", "T1", "target", "C2", "server", "G1"))

	assert.Equal(t, []mapping.Mapping{{Source: "T1", Target: "C2"}}, f.registry.MappingsForSource("G1", "T1"))
}

func TestSetForward_Rejections(t *testing.T) {
	tests := []struct {
		name      string
		guild     string
		kv        []string
		wantReply string
	}{
		{
			name:      "voice source",
			guild:     "G1",
			kv:        []string{"source", "V1", "target", "C2"},
			wantReply: "<#V1> can't be used for forwarding",
		},
		{
			name:      "category target",
			guild:     "G1",
			kv:        []string{"source", "C1", "target", "CAT", "server", "G2"},
			wantReply: "<#CAT> can't be used for forwarding",
		},
		{
			name:      "target outside server",
			guild:     "G1",
			kv:        []string{"source", "C1", "target", "C2", "server", "G2"},
			wantReply: `Channel "C2" was not found in server G2.`,
		},
		{
			name:      "source outside guild",
			guild:     "G1",
			kv:        []string{"source", "C3", "target", "C2"},
			wantReply: "Channel C3 was not found in server G1.",
		},
		{
			name:      "unknown server",
			guild:     "G1",
			kv:        []string{"source", "C1", "target", "C3", "server", "G404"},
			wantReply: "I can't find server G404",
		},
		{
			name:      "unknown target name",
			guild:     "G1",
			kv:        []string{"source", "C1", "target", "nope"},
			wantReply: `Channel "nope" was not found in server G1.`,
		},
		{
			name:      "direct message",
			guild:     "",
			kv:        []string{"source", "C1", "target", "C2"},
			wantReply: "This command can only be used in a server.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			reply := f.run(interaction(tt.guild, SetForward, tt.kv...))
			assert.Contains(t, reply, tt.wantReply)
			assert.Zero(t, f.registry.Snapshot().Len(), "registry must not change on rejection")
		})
	}
}

func TestSetForward_GuildFilter(t *testing.T) {
	f := newFixture(t, WithFilter(safety.NewFilter(nil, []string{"G2"})))

	reply := f.run(interaction("G1", SetForward, "source", "C1", "target", "C3", "server", "G2"))
	assert.Equal(t, "Forwarding to server G2 is not allowed.", reply)

	reply = f.run(interaction("G2", SetForward, "source", "C3", "target", "F1"))
	assert.Equal(t, "Forwarding is not enabled for this server.", reply)

	assert.Zero(t, f.registry.Snapshot().Len())
}

func TestSetForward_PersistFailureReported(t *testing.T) {
	f := newFixture(t)
	f.store.fail = true

	reply := f.run(interaction("G1", SetForward, "source", "C1", "target", "C2"))

	assert.Contains(t, reply, "Could not save the forwarding rules")
	assert.NotContains(t, reply, "Successfully")
	assert.Empty(t, f.registry.MappingsForSource("G1", "C1"), "failed save is rolled back")
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.Mutations.WithLabelValues("add", "error")))
}

// ---------------------------------------------------------------------------
// removeforward
// ---------------------------------------------------------------------------

func TestRemoveForward(t *testing.T) {
	f := newFixture(t)
	for _, target := range []string{"C2", "T1", "C2"} {
		f.run(interaction("G1", SetForward, "source", "C1", "target", target))
	}

	reply := f.run(interaction("G1", RemoveForward, "source", "C1", "target", "<#C2>"))
	assert.Equal(t, "Removed 2 forwarding rule(s) from <#C1> to <#C2>.", reply)
	assert.Equal(t, []mapping.Mapping{{Source: "C1", Target: "T1"}}, f.registry.MappingsForSource("G1", "C1"))

	reply = f.run(interaction("G1", RemoveForward, "source", "C1"))
	assert.Equal(t, "Removed 1 forwarding rule(s) from <#C1>.", reply)
	assert.Empty(t, f.registry.MappingsForSource("G1", "C1"))

	reply = f.run(interaction("G1", RemoveForward, "source", "C1"))
	assert.Equal(t, "No forwarding found for this channel.", reply)
	assert.Equal(t, 2.0, promtest.ToFloat64(f.metrics.Mutations.WithLabelValues("remove", "ok")))
}

func TestRemoveForward_PersistFailure(t *testing.T) {
	f := newFixture(t)
	f.run(interaction("G1", SetForward, "source", "C1", "target", "C2"))
	f.store.fail = true

	reply := f.run(interaction("G1", RemoveForward, "source", "C1"))

	assert.Contains(t, reply, "Could not save the forwarding rules")
	assert.Len(t, f.registry.MappingsForSource("G1", "C1"), 1)
}

// ---------------------------------------------------------------------------
// listforwards
// ---------------------------------------------------------------------------

func TestListForwards(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, "No forwarding rules are set up in this server.", f.run(interaction("G1", ListForwards)))

	f.run(interaction("G1", SetForward, "source", "C1", "target", "C2"))
	f.run(interaction("G1", SetForward, "source", "C1", "target", "C3", "server", "G2"))

	want := "Forwarding rules:\n1. <#C1> → <#C2>\n2. <#C1> → <#C3> in server Partner"
	assert.Equal(t, want, f.run(interaction("G1", ListForwards)))
}

// ---------------------------------------------------------------------------
// Audit and definitions
// ---------------------------------------------------------------------------

func TestHandle_AuditsMutations(t *testing.T) {
	f := newFixture(t)

	f.run(interaction("G1", SetForward, "source", "C1", "target", "C2"))
	f.run(interaction("G1", SetForward, "source", "V1", "target", "C2"))
	f.run(interaction("G1", ListForwards))

	lines := strings.Split(strings.TrimSpace(f.audit.String()), "\n")
	require.Len(t, lines, 2, "listforwards is not audited")

	var first, second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, SetForward, first["action"])
	assert.Equal(t, "U1", first["actor"])
	assert.Equal(t, "G1", first["guild_id"])
	assert.Equal(t, "ok", first["result"])
	assert.True(t, strings.HasPrefix(second["result"].(string), "error: "))
}

func TestHandle_UnknownCommandNoResponse(t *testing.T) {
	f := newFixture(t)
	f.handler.Handle(context.Background(), interaction("G1", "bogus"))
	assert.Nil(t, f.client.LastResponse())
	assert.Empty(t, f.client.Edits)
}

func TestCommands_Definitions(t *testing.T) {
	f := newFixture(t)
	defs := f.handler.Commands()

	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
		require.NotNil(t, d.DefaultMemberPermissions)
		assert.Equal(t, int64(discordgo.PermissionManageChannels), *d.DefaultMemberPermissions)
	}
	assert.Equal(t, []string{SetForward, RemoveForward, ListForwards}, names)

	source := defs[0].Options[0]
	assert.Equal(t, "source", source.Name)
	assert.True(t, source.Required)
	assert.ElementsMatch(t, resolve.SupportedChannelTypes(), source.ChannelTypes)
	assert.False(t, defs[0].Options[2].Required, "server is optional")
}
