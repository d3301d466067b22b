package commands

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/meetscribe/internal/recorder"
	"github.com/MrWong99/meetscribe/internal/watchdog"
	"github.com/MrWong99/meetscribe/pkg/audio"
)

// fakeRecorder is an in-memory Recorder keyed by voice channel.
type fakeRecorder struct {
	mu       sync.Mutex
	sessions map[string]recorder.SessionSummary
	startErr error
	stopErr  error
	lastOpts recorder.StartOptions
	stops    []string
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{sessions: make(map[string]recorder.SessionSummary)}
}

func (f *fakeRecorder) add(s recorder.SessionSummary) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ChannelID] = s
}

func (f *fakeRecorder) Start(_ context.Context, ch audio.Channel, opts recorder.StartOptions) (recorder.SessionHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastOpts = opts
	if f.startErr != nil {
		return recorder.SessionHandle{}, f.startErr
	}
	meetingID := "meeting-" + ch.ChannelID
	now := time.Now()
	f.sessions[ch.ChannelID] = recorder.SessionSummary{
		MeetingID: meetingID,
		GuildID:   ch.GuildID,
		ChannelID: ch.ChannelID,
		Title:     opts.Title,
		Status:    recorder.StatusRecording,
		StartTime: now,
	}
	return recorder.SessionHandle{
		MeetingID:   meetingID,
		GuildID:     ch.GuildID,
		ChannelID:   ch.ChannelID,
		Title:       opts.Title,
		StartTime:   now,
		MaxDuration: opts.MaxDuration,
	}, nil
}

func (f *fakeRecorder) Stop(_ context.Context, channelID, reason string) (recorder.StopSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, channelID)
	if f.stopErr != nil {
		return recorder.StopSummary{}, f.stopErr
	}
	s, ok := f.sessions[channelID]
	if !ok {
		return recorder.StopSummary{}, recorder.ErrNotRecording
	}
	delete(f.sessions, channelID)
	return recorder.StopSummary{
		MeetingID:  s.MeetingID,
		Status:     recorder.StatusCompleted,
		Reason:     reason,
		StartTime:  s.StartTime,
		EndTime:    time.Now(),
		ChunkCount: 1,
	}, nil
}

func (f *fakeRecorder) GetActive() []recorder.SessionSummary {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recorder.SessionSummary, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, s)
	}
	return out
}

func (f *fakeRecorder) FindByMeetingID(meetingID string) (recorder.SessionSummary, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.MeetingID == meetingID {
			return s, true
		}
	}
	return recorder.SessionSummary{}, false
}

// fakePassive is an in-memory Passive keyed by voice channel.
type fakePassive struct {
	mu        sync.Mutex
	conns     map[string]watchdog.ConnectionInfo
	autoLeave bool
	joinErr   error
	reasons   []string
}

func newFakePassive() *fakePassive {
	return &fakePassive{conns: make(map[string]watchdog.ConnectionInfo), autoLeave: true}
}

func (f *fakePassive) Join(_ context.Context, ch audio.Channel) (watchdog.ConnectionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErr != nil {
		return watchdog.ConnectionInfo{}, f.joinErr
	}
	if _, ok := f.conns[ch.ChannelID]; ok {
		return watchdog.ConnectionInfo{}, watchdog.ErrAlreadyConnected
	}
	info := watchdog.ConnectionInfo{GuildID: ch.GuildID, ChannelID: ch.ChannelID, JoinTime: time.Now(), AutoLeave: f.autoLeave}
	f.conns[ch.ChannelID] = info
	return info, nil
}

func (f *fakePassive) Leave(_ context.Context, channelID, reason string) (watchdog.LeaveSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conns[channelID]
	if !ok {
		return watchdog.LeaveSummary{}, watchdog.ErrNotConnected
	}
	delete(f.conns, channelID)
	f.reasons = append(f.reasons, reason)
	return watchdog.LeaveSummary{GuildID: c.GuildID, ChannelID: channelID, Reason: reason, JoinTime: c.JoinTime}, nil
}

func (f *fakePassive) ListActive() []watchdog.ConnectionInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]watchdog.ConnectionInfo, 0, len(f.conns))
	for _, c := range f.conns {
		out = append(out, c)
	}
	return out
}

func (f *fakePassive) AutoLeave() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.autoLeave
}

func (f *fakePassive) SetAutoLeave(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.autoLeave = enabled
}

// voiceStates maps user IDs to the voice channel they sit in.
type voiceStates map[string]string

func (v voiceStates) UserVoiceChannel(_, userID string) (string, bool) {
	ch, ok := v[userID]
	return ch, ok
}

const (
	testGuild   = "guild-1"
	testText    = "text-1"
	adminUser   = "admin-1"
	regularUser = "user-1"
)

// interaction builds a slash command interaction for command/subcommand.
func interaction(userID, command, subcommand string, opts ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionCreate {
	var perms int64
	if userID == adminUser {
		perms = discordgo.PermissionAdministrator
	}
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:      discordgo.InteractionApplicationCommand,
			GuildID:   testGuild,
			ChannelID: testText,
			Member: &discordgo.Member{
				User:        &discordgo.User{ID: userID},
				Permissions: perms,
			},
			Data: discordgo.ApplicationCommandInteractionData{
				Name: command,
				Options: []*discordgo.ApplicationCommandInteractionDataOption{
					{
						Type:    discordgo.ApplicationCommandOptionSubCommand,
						Name:    subcommand,
						Options: opts,
					},
				},
			},
		},
	}
}

func stringOpt(name, value string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Type: discordgo.ApplicationCommandOptionString, Name: name, Value: value}
}

// intOpt mirrors the gateway, which decodes integer options as float64.
func intOpt(name string, value int) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Type: discordgo.ApplicationCommandOptionInteger, Name: name, Value: float64(value)}
}

func boolOpt(name string, value bool) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Type: discordgo.ApplicationCommandOptionBoolean, Name: name, Value: value}
}
