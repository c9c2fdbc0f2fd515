package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/bwmarrin/discordgo"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Mastinoo/Invictusmessages/internal/admin"
	"github.com/Mastinoo/Invictusmessages/internal/command"
	"github.com/Mastinoo/Invictusmessages/internal/config"
	"github.com/Mastinoo/Invictusmessages/internal/discord"
	"github.com/Mastinoo/Invictusmessages/internal/dispatch"
	"github.com/Mastinoo/Invictusmessages/internal/mapping"
	"github.com/Mastinoo/Invictusmessages/internal/queue"
	"github.com/Mastinoo/Invictusmessages/internal/resolve"
	"github.com/Mastinoo/Invictusmessages/internal/safety"
	"github.com/Mastinoo/Invictusmessages/internal/server"
	"github.com/Mastinoo/Invictusmessages/internal/store"
	"github.com/Mastinoo/Invictusmessages/internal/telemetry"
	"github.com/Mastinoo/Invictusmessages/internal/tools"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to Discord and forward messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(*configPath, slog.Default())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(ctx, cfg, newLogger(cfg.Logging, os.Stderr))
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	slog.SetDefault(logger)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var audit *safety.AuditLogger
	if cfg.Audit.Enabled {
		f, err := os.OpenFile(cfg.Audit.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			logger.Warn("audit log disabled", "path", cfg.Audit.LogPath, "error", err)
		} else {
			audit = safety.NewAuditLogger(f)
			defer func() { _ = f.Close() }()
		}
	}
	filter := safety.NewFilter(cfg.Safety.Guilds.Allowlist, cfg.Safety.Guilds.Denylist)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(promReg)

	backend, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = backend.Close() }()

	registry := mapping.NewRegistry(backend, logger.With("component", "registry"))
	registry.Hydrate(ctx)

	dg, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	resolver := resolve.New(dg, resolve.WithState(dg.State))
	q := queue.New(queue.WithMaxSize(cfg.Queue.MaxSize))

	dispatcher := dispatch.New(registry, resolver, dg,
		dispatch.WithPrefix(cfg.Dispatch.Prefix),
		dispatch.WithCrossGuildScan(cfg.Dispatch.CrossGuildScan),
		dispatch.WithMetrics(metrics),
		dispatch.WithLogger(logger.With("component", "dispatch")),
	)
	commands := command.New(dg, registry, resolver,
		command.WithFilter(filter),
		command.WithAudit(audit),
		command.WithMetrics(metrics),
		command.WithLogger(logger.With("component", "command")),
	)
	session := discord.NewFromSession(dg, q, resolver,
		discord.WithCommands(commands, cfg.Discord.CommandGuildIDs),
		discord.WithMetrics(metrics),
		discord.WithLogger(logger.With("component", "discord")),
	)

	mcp := mcpserver.NewMCPServer("invictusmessages", version, mcpserver.WithToolCapabilities(false))
	tools.RegisterAll(mcp, admin.AdminTools(admin.Deps{
		Registry: registry,
		Resolver: resolver,
		Filter:   filter,
		Audit:    audit,
		Metrics:  metrics,
		Logger:   logger.With("component", "admin"),
	}))

	handler := server.NewMux(server.Options{
		Gatherer:  promReg,
		MCP:       mcpserver.NewStreamableHTTPServer(mcp),
		AuthToken: cfg.Server.AuthToken,
		Ready:     session.Ready,
		Logger:    logger.With("component", "http"),
	})
	httpSrv := server.New(cfg.Server.Port, handler, logger.With("component", "http"))

	if err := session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx, q, cfg.Queue.Workers)
	}()

	srvErr := httpSrv.Run(ctx)
	if srvErr != nil {
		logger.Error("http server failed", "error", srvErr)
		cancel()
	}

	logger.Info("shutting down")
	if err := session.Close(); err != nil {
		logger.Warn("discord close failed", "error", err)
	}
	wg.Wait()
	logger.Info("bot stopped", "events_dropped", q.Dropped())
	return srvErr
}
