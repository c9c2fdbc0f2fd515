package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Mastinoo/Invictusmessages/internal/mapping"
	"github.com/Mastinoo/Invictusmessages/internal/store"
)

func newMappingsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mappings",
		Short: "Inspect stored forwarding rules",
	}

	var guildID string
	list := &cobra.Command{
		Use:   "list",
		Short: "Print the forwarding rules held by the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			cfg, err := loadConfig(*configPath, logger)
			if err != nil {
				return err
			}

			backend, err := store.Open(cmd.Context(), cfg.Store, logger)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer func() { _ = backend.Close() }()

			printMappings(cmd.OutOrStdout(), backend.Load(cmd.Context()), guildID)
			return nil
		},
	}
	list.Flags().StringVar(&guildID, "guild", "", "only show rules owned by this guild ID")

	cmd.AddCommand(list)
	return cmd
}

var (
	guildColor = color.New(color.FgCyan, color.Bold)
	crossColor = color.New(color.FgYellow)
	dimColor   = color.New(color.Faint)
)

// printMappings writes t grouped by owning guild. Cross-guild targets are
// highlighted.
func printMappings(w io.Writer, t mapping.Table, guildID string) {
	guilds := t.GuildIDs()
	if guildID != "" {
		guilds = []string{guildID}
	}

	printed := 0
	for _, g := range guilds {
		list := t[g]
		if len(list) == 0 {
			continue
		}
		guildColor.Fprintf(w, "guild %s", g)
		dimColor.Fprintf(w, " (%d)\n", len(list))
		for i, m := range list {
			fmt.Fprintf(w, "  %d. %s -> %s", i+1, m.Source, m.Target)
			if m.CrossGuild(g) {
				crossColor.Fprintf(w, " [guild %s]", m.TargetGuild)
			}
			fmt.Fprintln(w)
			printed++
		}
	}
	if printed == 0 {
		dimColor.Fprintln(w, "no forwarding rules")
	}
}
