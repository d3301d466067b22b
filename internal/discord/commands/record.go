package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/meetscribe/internal/discord"
	"github.com/MrWong99/meetscribe/internal/recorder"
	"github.com/MrWong99/meetscribe/pkg/audio"
)

const (
	startTimeout = 30 * time.Second

	// stopTimeout covers the final chunk upload and the finalize call.
	stopTimeout = 2 * time.Minute
)

// RecordConfig holds the dependencies of [RecordCommands].
type RecordConfig struct {
	Recorder Recorder
	Voice    discord.VoiceLocator
	Perms    *discord.PermissionChecker

	// Passive, when set, is consulted so a guild never holds a passive and a
	// recording connection at once.
	Passive Passive

	// Sender, when set, posts a live dashboard for every recording into the
	// channel the command was issued in.
	Sender            discord.MessageSender
	DashboardInterval time.Duration

	// MaxDurationLimit bounds /record settings.
	MaxDurationLimit time.Duration
}

// RecordCommands holds the state of the /record command group.
type RecordCommands struct {
	cfg RecordConfig

	mu           sync.Mutex
	maxDurations map[string]time.Duration // guild ID → override
	dashboards   map[string]*discord.Dashboard
}

// NewRecordCommands creates a RecordCommands. Call [RecordCommands.Register]
// to wire it into a router.
func NewRecordCommands(cfg RecordConfig) *RecordCommands {
	if cfg.MaxDurationLimit <= 0 {
		cfg.MaxDurationLimit = 6 * time.Hour
	}
	return &RecordCommands{
		cfg:          cfg,
		maxDurations: make(map[string]time.Duration),
		dashboards:   make(map[string]*discord.Dashboard),
	}
}

// Register registers the /record command group with the router.
func (rc *RecordCommands) Register(router *discord.CommandRouter) {
	router.RegisterCommand("record", rc.Definition(), func(r discord.Responder, i *discordgo.InteractionCreate) {
		discord.RespondEphemeral(r, i, "Please use a subcommand: `/record start`, `/record stop`, `/record status` or `/record settings`.")
	})
	router.RegisterHandler("record/start", rc.handleStart)
	router.RegisterHandler("record/stop", rc.handleStop)
	router.RegisterHandler("record/status", rc.handleStatus)
	router.RegisterHandler("record/settings", rc.handleSettings)
}

// Definition returns the ApplicationCommand definition for Discord.
func (rc *RecordCommands) Definition() *discordgo.ApplicationCommand {
	minHours := 1.0
	return &discordgo.ApplicationCommand{
		Name:        "record",
		Description: "Voice meeting recording",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "start",
				Description: "Start recording your current voice channel",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "title",
						Description: "Meeting title",
						MaxLength:   100,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "stop",
				Description: "Stop recording and start generating minutes",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "status",
				Description: "Show the active recordings in this server",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "settings",
				Description: "Configure recordings in this server",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "max_hours",
						Description: "Maximum recording duration in hours",
						MinValue:    &minHours,
						MaxValue:    rc.cfg.MaxDurationLimit.Hours(),
					},
				},
			},
		},
	}
}

// MaxDuration returns the override configured for guildID, if any.
func (rc *RecordCommands) MaxDuration(guildID string) (time.Duration, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	d, ok := rc.maxDurations[guildID]
	return d, ok
}

// Close stops every live dashboard.
func (rc *RecordCommands) Close() {
	rc.mu.Lock()
	dashboards := rc.dashboards
	rc.dashboards = make(map[string]*discord.Dashboard)
	rc.mu.Unlock()

	for _, d := range dashboards {
		d.Stop()
	}
}

func (rc *RecordCommands) handleStart(r discord.Responder, i *discordgo.InteractionCreate) {
	if !authorize(r, i, rc.cfg.Perms) {
		return
	}

	channelID, ok := rc.cfg.Voice.UserVoiceChannel(i.GuildID, discord.InteractionUserID(i))
	if !ok {
		discord.RespondEphemeral(r, i, msgJoinVoice)
		return
	}
	for _, s := range guildSessions(rc.cfg.Recorder, i.GuildID) {
		if s.ChannelID == channelID {
			discord.RespondEphemeral(r, i, fmt.Sprintf("This voice channel is already being recorded (meeting `%s`).", s.MeetingID))
		} else {
			discord.RespondEphemeral(r, i, fmt.Sprintf("Already recording <#%s> in this server. Stop that recording first.", s.ChannelID))
		}
		return
	}
	if conns := guildConnections(rc.cfg.Passive, i.GuildID); len(conns) > 0 {
		discord.RespondEphemeral(r, i, fmt.Sprintf("The bot is listening in <#%s>. Run `/voice leave` before recording.", conns[0].ChannelID))
		return
	}

	opts := recorder.StartOptions{}
	if o, ok := discord.SubcommandOptions(i)["title"]; ok {
		opts.Title = o.StringValue()
	}
	if d, ok := rc.MaxDuration(i.GuildID); ok {
		opts.MaxDuration = d
	}

	discord.DeferReply(r, i)

	ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
	defer cancel()

	h, err := rc.cfg.Recorder.Start(ctx, audio.Channel{GuildID: i.GuildID, ChannelID: channelID}, opts)
	switch {
	case errors.Is(err, recorder.ErrAlreadyRecording):
		discord.FollowUp(r, i, "This voice channel is already being recorded.")
		return
	case errors.Is(err, recorder.ErrConnectionTimeout):
		discord.FollowUp(r, i, "Timed out connecting to the voice channel. Please try again.")
		return
	case err != nil:
		slog.Error("discord: start recording failed", "guild_id", i.GuildID, "channel_id", channelID, "err", err)
		discord.FollowUp(r, i, fmt.Sprintf("Failed to start recording: %v", err))
		return
	}

	discord.FollowUpEmbed(r, i, discord.RecordingStartedEmbed(h))
	rc.startDashboard(i.ChannelID, h)
}

func (rc *RecordCommands) startDashboard(textChannelID string, h recorder.SessionHandle) {
	if rc.cfg.Sender == nil || textChannelID == "" {
		return
	}
	d := discord.NewDashboard(discord.DashboardConfig{
		Sender:    rc.cfg.Sender,
		Sessions:  rc.cfg.Recorder,
		ChannelID: textChannelID,
		MeetingID: h.MeetingID,
		Interval:  rc.cfg.DashboardInterval,
	})

	rc.mu.Lock()
	prev := rc.dashboards[h.ChannelID]
	rc.dashboards[h.ChannelID] = d
	rc.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}
	d.Start(context.Background())
}

func (rc *RecordCommands) stopDashboard(channelID string) {
	rc.mu.Lock()
	d := rc.dashboards[channelID]
	delete(rc.dashboards, channelID)
	rc.mu.Unlock()

	if d != nil {
		d.Stop()
	}
}

func (rc *RecordCommands) handleStop(r discord.Responder, i *discordgo.InteractionCreate) {
	if !authorize(r, i, rc.cfg.Perms) {
		return
	}

	channelID, ok := rc.targetSession(i)
	if !ok {
		discord.RespondEphemeral(r, i, "There is no active recording in your voice channel.")
		return
	}

	discord.DeferReply(r, i)

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	sum, err := rc.cfg.Recorder.Stop(ctx, channelID, recorder.ReasonManual)
	if errors.Is(err, recorder.ErrNotRecording) {
		discord.FollowUp(r, i, "There is no active recording in your voice channel.")
		return
	}
	if err != nil {
		slog.Error("discord: stop recording failed", "guild_id", i.GuildID, "channel_id", channelID, "err", err)
		discord.FollowUp(r, i, fmt.Sprintf("Failed to stop recording: %v", err))
		return
	}

	rc.stopDashboard(channelID)
	discord.FollowUpEmbed(r, i, discord.RecordingStoppedEmbed(sum))
}

// targetSession picks the recording a stop refers to: the caller's voice
// channel when it is being recorded, otherwise the guild's only recording.
func (rc *RecordCommands) targetSession(i *discordgo.InteractionCreate) (string, bool) {
	sessions := guildSessions(rc.cfg.Recorder, i.GuildID)
	if channelID, ok := rc.cfg.Voice.UserVoiceChannel(i.GuildID, discord.InteractionUserID(i)); ok {
		for _, s := range sessions {
			if s.ChannelID == channelID {
				return channelID, true
			}
		}
	}
	if len(sessions) == 1 {
		return sessions[0].ChannelID, true
	}
	return "", false
}

func (rc *RecordCommands) handleStatus(r discord.Responder, i *discordgo.InteractionCreate) {
	if !authorize(r, i, rc.cfg.Perms) {
		return
	}
	discord.RespondEmbed(r, i, discord.RecordingStatusEmbed(guildSessions(rc.cfg.Recorder, i.GuildID)))
}

func (rc *RecordCommands) handleSettings(r discord.Responder, i *discordgo.InteractionCreate) {
	if !authorize(r, i, rc.cfg.Perms) {
		return
	}

	opt, ok := discord.SubcommandOptions(i)["max_hours"]
	if !ok {
		current, set := rc.MaxDuration(i.GuildID)
		if !set {
			discord.RespondEphemeral(r, i, "No override set. Recordings use the configured maximum duration.")
			return
		}
		discord.RespondEmbed(r, i, discord.SettingsEmbed(current, rc.cfg.MaxDurationLimit))
		return
	}

	d := time.Duration(opt.IntValue()) * time.Hour
	if d <= 0 || d > rc.cfg.MaxDurationLimit {
		discord.RespondEphemeral(r, i, fmt.Sprintf("max_hours must be between 1 and %d.", int(rc.cfg.MaxDurationLimit.Hours())))
		return
	}

	rc.mu.Lock()
	rc.maxDurations[i.GuildID] = d
	rc.mu.Unlock()

	slog.Info("discord: max duration override set", "guild_id", i.GuildID, "max_duration", d)
	discord.RespondEmbed(r, i, discord.SettingsEmbed(d, rc.cfg.MaxDurationLimit))
}
