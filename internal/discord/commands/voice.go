package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/meetscribe/internal/discord"
	"github.com/MrWong99/meetscribe/internal/watchdog"
	"github.com/MrWong99/meetscribe/pkg/audio"
)

const (
	joinTimeout  = 30 * time.Second
	leaveTimeout = 10 * time.Second
)

// VoiceConfig holds the dependencies of [VoiceCommands].
type VoiceConfig struct {
	Passive Passive
	Voice   discord.VoiceLocator
	Perms   *discord.PermissionChecker

	// Recorder, when set, is consulted so a guild never holds a passive and a
	// recording connection at once.
	Recorder Recorder
}

// VoiceCommands implements the /voice command group.
type VoiceCommands struct {
	cfg VoiceConfig
}

// NewVoiceCommands creates a VoiceCommands.
func NewVoiceCommands(cfg VoiceConfig) *VoiceCommands {
	return &VoiceCommands{cfg: cfg}
}

// Register registers the /voice command group with the router.
func (vc *VoiceCommands) Register(router *discord.CommandRouter) {
	router.RegisterCommand("voice", vc.Definition(), func(r discord.Responder, i *discordgo.InteractionCreate) {
		discord.RespondEphemeral(r, i, "Please use a subcommand: `/voice join`, `/voice leave`, `/voice status` or `/voice autoleave`.")
	})
	router.RegisterHandler("voice/join", vc.handleJoin)
	router.RegisterHandler("voice/leave", vc.handleLeave)
	router.RegisterHandler("voice/status", vc.handleStatus)
	router.RegisterHandler("voice/autoleave", vc.handleAutoLeave)
}

// Definition returns the ApplicationCommand definition for Discord.
func (vc *VoiceCommands) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "voice",
		Description: "Listen-only voice channel presence",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "join",
				Description: "Join your voice channel muted without recording",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "leave",
				Description: "Leave the voice channel",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "status",
				Description: "Show voice connections in this server",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "autoleave",
				Description: "Leave automatically once no humans are left",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionBoolean,
						Name:        "enabled",
						Description: "Enable or disable auto-leave",
						Required:    true,
					},
				},
			},
		},
	}
}

func (vc *VoiceCommands) handleJoin(r discord.Responder, i *discordgo.InteractionCreate) {
	if !authorize(r, i, vc.cfg.Perms) {
		return
	}

	channelID, ok := vc.cfg.Voice.UserVoiceChannel(i.GuildID, discord.InteractionUserID(i))
	if !ok {
		discord.RespondEphemeral(r, i, msgJoinVoice)
		return
	}
	if vc.cfg.Recorder != nil {
		if sessions := guildSessions(vc.cfg.Recorder, i.GuildID); len(sessions) > 0 {
			discord.RespondEphemeral(r, i, fmt.Sprintf("The bot is recording <#%s> in this server.", sessions[0].ChannelID))
			return
		}
	}
	for _, c := range guildConnections(vc.cfg.Passive, i.GuildID) {
		if c.ChannelID != channelID {
			discord.RespondEphemeral(r, i, fmt.Sprintf("Already connected to <#%s>. Run `/voice leave` first.", c.ChannelID))
			return
		}
	}

	discord.DeferReply(r, i)

	ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
	defer cancel()

	info, err := vc.cfg.Passive.Join(ctx, audio.Channel{GuildID: i.GuildID, ChannelID: channelID})
	if errors.Is(err, watchdog.ErrAlreadyConnected) {
		discord.FollowUp(r, i, "Already connected to this voice channel.")
		return
	}
	if err != nil {
		slog.Error("discord: voice join failed", "guild_id", i.GuildID, "channel_id", channelID, "err", err)
		discord.FollowUp(r, i, fmt.Sprintf("Failed to join the voice channel: %v", err))
		return
	}
	discord.FollowUpEmbed(r, i, discord.VoiceJoinedEmbed(info))
}

func (vc *VoiceCommands) handleLeave(r discord.Responder, i *discordgo.InteractionCreate) {
	if !authorize(r, i, vc.cfg.Perms) {
		return
	}

	channelID, ok := vc.targetConnection(i)
	if !ok {
		discord.RespondEphemeral(r, i, "Not connected to a voice channel in this server.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()

	sum, err := vc.cfg.Passive.Leave(ctx, channelID, watchdog.ReasonManual)
	if errors.Is(err, watchdog.ErrNotConnected) {
		discord.RespondEphemeral(r, i, "Not connected to a voice channel in this server.")
		return
	}
	if err != nil {
		discord.RespondError(r, i, fmt.Errorf("leave voice channel: %w", err))
		return
	}
	discord.RespondEmbed(r, i, discord.VoiceLeftEmbed(sum))
}

// targetConnection prefers the caller's voice channel and falls back to the
// guild's only passive connection.
func (vc *VoiceCommands) targetConnection(i *discordgo.InteractionCreate) (string, bool) {
	conns := guildConnections(vc.cfg.Passive, i.GuildID)
	if channelID, ok := vc.cfg.Voice.UserVoiceChannel(i.GuildID, discord.InteractionUserID(i)); ok {
		for _, c := range conns {
			if c.ChannelID == channelID {
				return channelID, true
			}
		}
	}
	if len(conns) == 1 {
		return conns[0].ChannelID, true
	}
	return "", false
}

func (vc *VoiceCommands) handleStatus(r discord.Responder, i *discordgo.InteractionCreate) {
	if !authorize(r, i, vc.cfg.Perms) {
		return
	}
	discord.RespondEmbed(r, i, discord.VoiceStatusEmbed(guildConnections(vc.cfg.Passive, i.GuildID), vc.cfg.Passive.AutoLeave()))
}

func (vc *VoiceCommands) handleAutoLeave(r discord.Responder, i *discordgo.InteractionCreate) {
	if !authorize(r, i, vc.cfg.Perms) {
		return
	}
	opt, ok := discord.SubcommandOptions(i)["enabled"]
	if !ok {
		discord.RespondEphemeral(r, i, "The `enabled` option is required.")
		return
	}
	enabled := opt.BoolValue()
	vc.cfg.Passive.SetAutoLeave(enabled)
	slog.Info("discord: auto-leave toggled", "guild_id", i.GuildID, "enabled", enabled)

	if enabled {
		discord.RespondEphemeral(r, i, "Auto-leave enabled. The bot leaves once no humans are left in its voice channel.")
		return
	}
	discord.RespondEphemeral(r, i, "Auto-leave disabled.")
}
