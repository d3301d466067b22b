// Package discord provides the Discord bot layer for meetscribe. It owns the
// discordgo.Session lifecycle, routes slash command interactions to
// registered handlers, checks command permissions and renders the embeds the
// bot posts.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/meetscribe/internal/health"
)

// Config holds Discord bot configuration.
type Config struct {
	// Token is the bot token without the "Bot " prefix.
	Token string

	// GuildID registers commands to one guild when set; empty registers them
	// globally.
	GuildID string

	// AdminUserIDs may run commands without the Administrator permission.
	AdminUserIDs []string
}

// Bot owns the Discord gateway connection and routes interactions to
// registered command handlers.
type Bot struct {
	mu        sync.RWMutex
	session   *discordgo.Session
	router    *CommandRouter
	perms     *PermissionChecker
	guildID   string
	commands  []*discordgo.ApplicationCommand
	ready     health.Flag
	closeOnce sync.Once
}

// New creates a Bot, connects to the gateway and registers the interaction
// handler.
func New(_ context.Context, cfg Config) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord: token is required")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}

	// Voice states feed the member directory. Members missing from the state
	// cache are fetched over REST, so the privileged members intent is unused.
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

	b := &Bot{
		session: session,
		router:  NewCommandRouter(),
		perms:   NewPermissionChecker(cfg.AdminUserIDs),
		guildID: cfg.GuildID,
	}

	session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		b.ready.Set(true)
		slog.Info("discord gateway ready", "user", r.User.Username, "guilds", len(r.Guilds))
	})
	session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		b.ready.Set(false)
		slog.Warn("discord gateway disconnected")
	})
	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.router.Handle(s, i)
	})

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}
	return b, nil
}

// Session returns the underlying discordgo session for the voice platform,
// the member directory and message posting.
func (b *Bot) Session() *discordgo.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.session
}

// Router returns the command router for registering handlers.
func (b *Bot) Router() *CommandRouter {
	return b.router
}

// Permissions returns the permission checker.
func (b *Bot) Permissions() *PermissionChecker {
	return b.perms
}

// ReadyCheck reports whether the gateway is connected.
func (b *Bot) ReadyCheck() health.Checker {
	return b.ready.Checker("discord")
}

// Run registers slash commands with the Discord API and blocks until ctx is
// cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.RLock()
	appID := b.session.State.User.ID
	b.mu.RUnlock()

	cmds := b.router.ApplicationCommands()
	if len(cmds) > 0 {
		registered, err := b.session.ApplicationCommandBulkOverwrite(appID, b.guildID, cmds)
		if err != nil {
			return fmt.Errorf("discord: register commands: %w", err)
		}
		b.mu.Lock()
		b.commands = registered
		b.mu.Unlock()
		slog.Info("discord commands registered", "count", len(registered), "guild_id", b.guildID)
	}

	<-ctx.Done()
	return ctx.Err()
}

// Close unregisters guild commands and disconnects from Discord.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		// Only guild-scoped commands are removed.
		if b.guildID != "" {
			appID := b.session.State.User.ID
			for _, cmd := range b.commands {
				if err := b.session.ApplicationCommandDelete(appID, b.guildID, cmd.ID); err != nil {
					slog.Warn("discord: failed to delete command", "name", cmd.Name, "err", err)
				}
			}
		}

		b.ready.Set(false)
		if err := b.session.Close(); err != nil {
			closeErr = fmt.Errorf("discord: close session: %w", err)
		}
		slog.Info("discord bot closed")
	})
	return closeErr
}
