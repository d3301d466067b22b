// Package commands implements the /record and /voice slash commands.
package commands

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/meetscribe/internal/discord"
	"github.com/MrWong99/meetscribe/internal/recorder"
	"github.com/MrWong99/meetscribe/internal/watchdog"
	"github.com/MrWong99/meetscribe/pkg/audio"
)

// Recorder is the subset of [recorder.Registry] used by the commands.
type Recorder interface {
	Start(ctx context.Context, ch audio.Channel, opts recorder.StartOptions) (recorder.SessionHandle, error)
	Stop(ctx context.Context, channelID, reason string) (recorder.StopSummary, error)
	GetActive() []recorder.SessionSummary
	FindByMeetingID(meetingID string) (recorder.SessionSummary, bool)
}

// Passive is the subset of [watchdog.Watchdog] used by the commands.
type Passive interface {
	Join(ctx context.Context, ch audio.Channel) (watchdog.ConnectionInfo, error)
	Leave(ctx context.Context, channelID, reason string) (watchdog.LeaveSummary, error)
	ListActive() []watchdog.ConnectionInfo
	AutoLeave() bool
	SetAutoLeave(enabled bool)
}

const (
	msgNoPermission = "You need the Administrator permission or to be listed in `discord.admin_user_ids` to use this command."
	msgGuildOnly    = "This command can only be used inside a server."
	msgJoinVoice    = "Join a voice channel first, then run the command again."
)

// guildSessions returns the active recordings of guildID.
func guildSessions(r Recorder, guildID string) []recorder.SessionSummary {
	var out []recorder.SessionSummary
	for _, s := range r.GetActive() {
		if s.GuildID == guildID {
			out = append(out, s)
		}
	}
	return out
}

// guildConnections returns the passive connections of guildID.
func guildConnections(p Passive, guildID string) []watchdog.ConnectionInfo {
	if p == nil {
		return nil
	}
	var out []watchdog.ConnectionInfo
	for _, c := range p.ListActive() {
		if c.GuildID == guildID {
			out = append(out, c)
		}
	}
	return out
}

// authorize answers the interaction and returns false when the caller may not
// run privileged commands or the interaction is outside a guild.
func authorize(r discord.Responder, i *discordgo.InteractionCreate, perms *discord.PermissionChecker) bool {
	if i.GuildID == "" {
		discord.RespondEphemeral(r, i, msgGuildOnly)
		return false
	}
	if !perms.IsAdmin(i) {
		discord.RespondEphemeral(r, i, msgNoPermission)
		return false
	}
	return true
}
