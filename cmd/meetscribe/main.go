// Command meetscribe is the Discord meeting recorder bot. It records voice
// channels per participant, forwards the audio in chunks to the processing
// service and announces the generated minutes once the service calls back.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/meetscribe/internal/config"
	discordbot "github.com/MrWong99/meetscribe/internal/discord"
	"github.com/MrWong99/meetscribe/internal/discord/commands"
	"github.com/MrWong99/meetscribe/internal/health"
	"github.com/MrWong99/meetscribe/internal/observe"
	"github.com/MrWong99/meetscribe/internal/processing"
	"github.com/MrWong99/meetscribe/internal/recorder"
	"github.com/MrWong99/meetscribe/internal/resilience"
	"github.com/MrWong99/meetscribe/internal/tempfiles"
	"github.com/MrWong99/meetscribe/internal/watchdog"
	"github.com/MrWong99/meetscribe/internal/webhook"
	discordaudio "github.com/MrWong99/meetscribe/pkg/audio/discord"
)

// version is set at build time via -ldflags.
var version = "dev"

// shutdownTimeout bounds final chunk uploads and finalize calls on exit.
const shutdownTimeout = 2 * time.Minute

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload hot-reloadable settings when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "meetscribe: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "meetscribe: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.Slog())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("meetscribe starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	prov, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:      cfg.Telemetry.ServiceName,
		ServiceVersion:   version,
		Environment:      cfg.Telemetry.Environment,
		ProcessingURL:    cfg.Processing.BaseURL,
		CommandGuild:     cfg.Discord.GuildID,
		TraceSampleRatio: cfg.Telemetry.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := prov.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Discord bot ───────────────────────────────────────────────────────────
	bot, err := discordbot.New(ctx, discordbot.Config{
		Token:        cfg.Discord.Token,
		GuildID:      cfg.Discord.GuildID,
		AdminUserIDs: cfg.Discord.AdminUserIDs,
	})
	if err != nil {
		slog.Error("failed to create Discord bot", "err", err)
		return 1
	}
	defer func() {
		if err := bot.Close(); err != nil {
			slog.Warn("discord bot close error", "err", err)
		}
	}()
	platform := discordaudio.New(bot.Session())
	directory := discordaudio.NewDirectory(bot.Session())

	// ── Processing client ─────────────────────────────────────────────────────
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "processing",
		MaxFailures:  cfg.Processing.Breaker.MaxFailures,
		ResetTimeout: cfg.Processing.Breaker.ResetTimeout,
		OnStateChange: func(from, to resilience.State) {
			slog.Warn("processing circuit breaker state changed", "from", from, "to", to)
		},
	})
	forwarder, err := processing.New(cfg.Processing.BaseURL,
		processing.WithTimeouts(cfg.Processing.StartTimeout, cfg.Processing.ChunkTimeout, cfg.Processing.FinalizeTimeout),
		processing.WithMaxConcurrentUploads(cfg.Processing.MaxConcurrentUploads),
		processing.WithCircuitBreaker(breaker),
		processing.WithMetrics(metrics),
	)
	if err != nil {
		slog.Error("failed to create processing client", "err", err)
		return 1
	}

	// ── Recorder and watchdog ─────────────────────────────────────────────────
	hub := webhook.NewHub(0)

	registry, err := recorder.NewRegistry(recorder.RegistryConfig{
		Platform:       platform,
		Forwarder:      forwarder,
		NewDecoder:     discordaudio.NewDecoder,
		Format:         discordaudio.Format,
		Directory:      directory,
		Metrics:        metrics,
		Listener:       func(ev recorder.Event) { hub.Publish(ev) },
		TempDir:        cfg.Recording.TempDir,
		ChunkInterval:  cfg.Recording.ChunkInterval,
		MaxDuration:    cfg.Recording.MaxDuration,
		ConnectTimeout: cfg.Recording.ConnectTimeout,
		Retention:      cfg.Recording.Retention,
		SweepInterval:  cfg.Recording.SweepInterval,
	})
	if err != nil {
		slog.Error("failed to create recorder", "err", err)
		return 1
	}
	registry.Run(ctx)

	passive, err := watchdog.New(watchdog.Config{
		Platform:       platform,
		Directory:      directory,
		AutoLeave:      cfg.Watchdog.AutoLeaveEnabled(),
		PollInterval:   cfg.Watchdog.PollInterval,
		ConnectTimeout: cfg.Recording.ConnectTimeout,
		Metrics:        metrics,
		Listener:       func(ev watchdog.Event) { hub.Publish(ev) },
	})
	if err != nil {
		slog.Error("failed to create watchdog", "err", err)
		return 1
	}

	cleaner := tempfiles.NewCleaner(tempfiles.CleanerConfig{
		Dir:      cfg.Recording.TempDir,
		MaxAge:   cfg.Recording.TempFileMaxAge,
		Interval: cfg.Recording.SweepInterval,
		InUse:    registry.InUse,
	})
	cleaner.Start(ctx)
	defer cleaner.Stop()

	// ── Slash commands ────────────────────────────────────────────────────────
	locator := discordbot.StateLocator{State: bot.Session().State}
	recordCmds := commands.NewRecordCommands(commands.RecordConfig{
		Recorder:         registry,
		Passive:          passive,
		Voice:            locator,
		Perms:            bot.Permissions(),
		Sender:           bot.Session(),
		MaxDurationLimit: cfg.Recording.MaxDurationLimit,
	})
	recordCmds.Register(bot.Router())
	commands.NewVoiceCommands(commands.VoiceConfig{
		Passive:  passive,
		Recorder: registry,
		Voice:    locator,
		Perms:    bot.Permissions(),
	}).Register(bot.Router())

	// ── HTTP server ───────────────────────────────────────────────────────────
	checks := health.New(
		bot.ReadyCheck(),
		health.Checker{Name: "processing", Check: func(context.Context) error {
			if breaker.State() == resilience.StateOpen {
				return resilience.ErrCircuitOpen
			}
			return nil
		}},
	)
	srvCfg := webhook.Config{
		Addr:        cfg.Server.ListenAddr,
		Secret:      cfg.Server.WebhookSecret,
		Sessions:    registry,
		Connections: passive,
		Notifier:    discordbot.NewCompletionNotifier(bot.Session()),
		Health:      checks,
		Hub:         hub,
		Metrics:     metrics,
	}
	if tls := cfg.Server.TLS; tls != nil {
		srvCfg.CertFile, srvCfg.KeyFile = tls.CertFile, tls.KeyFile
	}
	server, err := webhook.New(srvCfg)
	if err != nil {
		slog.Error("failed to create HTTP server", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	var watcher *config.Watcher
	if *watch {
		watcher, err = config.NewWatcher(*configPath, func(d config.ConfigDiff, _ *config.Config) {
			applyReload(d, &level, registry, passive)
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
			watcher = nil
		}
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	if watcher != nil {
		g.Go(func() error {
			watcher.Run(gctx)
			return nil
		})
		g.Go(func() error {
			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-hup:
					slog.Info("SIGHUP received, reloading config")
					watcher.Reload()
				}
			}
		})
	}
	g.Go(func() error {
		if err := bot.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	slog.Info("meetscribe ready, press Ctrl+C to shut down")
	runErr := g.Wait()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutting down, stopping active recordings")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	recordCmds.Close()
	code := 0
	if err := registry.Shutdown(shutdownCtx); err != nil {
		slog.Error("recorder shutdown error", "err", err)
		code = 1
	}
	if err := passive.Shutdown(shutdownCtx); err != nil {
		slog.Error("watchdog shutdown error", "err", err)
		code = 1
	}
	if runErr != nil {
		slog.Error("run error", "err", runErr)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// applyReload pushes hot-reloadable settings into the running components.
func applyReload(d config.ConfigDiff, level *slog.LevelVar, registry *recorder.Registry, passive *watchdog.Watchdog) {
	if d.LogLevelChanged {
		level.Set(d.NewLogLevel.Slog())
		slog.Info("config reload: log level changed", "level", d.NewLogLevel)
	}
	if d.AutoLeaveChanged {
		passive.SetAutoLeave(d.NewAutoLeave)
		slog.Info("config reload: auto-leave changed", "enabled", d.NewAutoLeave)
	}
	if d.SessionDefaultsChanged {
		registry.SetDefaults(d.NewChunkInterval, d.NewMaxDuration)
		slog.Info("config reload: session defaults changed",
			"chunk_interval", d.NewChunkInterval,
			"max_duration", d.NewMaxDuration,
		)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config reload: some changes need a restart", "fields", d.RestartRequired)
	}
}
