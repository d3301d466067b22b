package commands

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/meetscribe/internal/discord"
	"github.com/MrWong99/meetscribe/internal/discord/mock"
	"github.com/MrWong99/meetscribe/internal/recorder"
	"github.com/MrWong99/meetscribe/internal/watchdog"
)

type recordHarness struct {
	rc      *RecordCommands
	rec     *fakeRecorder
	passive *fakePassive
	sender  *mock.MessageSender
	router  *discord.CommandRouter
}

func newRecordHarness(t *testing.T, voice voiceStates) *recordHarness {
	t.Helper()
	h := &recordHarness{
		rec:     newFakeRecorder(),
		passive: newFakePassive(),
		sender:  &mock.MessageSender{},
		router:  discord.NewCommandRouter(),
	}
	h.rc = NewRecordCommands(RecordConfig{
		Recorder:          h.rec,
		Passive:           h.passive,
		Voice:             voice,
		Perms:             discord.NewPermissionChecker(nil),
		Sender:            h.sender,
		DashboardInterval: time.Hour,
		MaxDurationLimit:  6 * time.Hour,
	})
	h.rc.Register(h.router)
	t.Cleanup(h.rc.Close)
	return h
}

func (h *recordHarness) run(i *discordgo.InteractionCreate) *mock.InteractionResponder {
	resp := &mock.InteractionResponder{}
	h.router.Handle(resp, i)
	return resp
}

func TestRecordDefinition(t *testing.T) {
	t.Parallel()

	h := newRecordHarness(t, voiceStates{})
	def := h.rc.Definition()
	if def.Name != "record" {
		t.Fatalf("Name = %q, want %q", def.Name, "record")
	}

	subs := make(map[string]*discordgo.ApplicationCommandOption)
	for _, o := range def.Options {
		subs[o.Name] = o
	}
	for _, want := range []string{"start", "stop", "status", "settings"} {
		if _, ok := subs[want]; !ok {
			t.Errorf("missing subcommand %q", want)
		}
	}
	hours := subs["settings"].Options[0]
	if hours.MaxValue != 6 {
		t.Errorf("max_hours MaxValue = %v, want 6", hours.MaxValue)
	}
}

func TestRecordStart(t *testing.T) {
	t.Parallel()

	h := newRecordHarness(t, voiceStates{adminUser: "voice-1"})
	resp := h.run(interaction(adminUser, "record", "start", stringOpt("title", "Sprint review")))

	if len(resp.Responses) != 1 || resp.Responses[0].Type != discordgo.InteractionResponseDeferredChannelMessageWithSource {
		t.Fatalf("expected a single deferred response, got %+v", resp.Responses)
	}
	embed := resp.LastEmbed()
	if embed == nil || embed.Title != "Recording started" {
		t.Fatalf("LastEmbed = %+v, want Recording started", embed)
	}
	if h.rec.lastOpts.Title != "Sprint review" {
		t.Errorf("Title = %q, want %q", h.rec.lastOpts.Title, "Sprint review")
	}
	if h.rec.lastOpts.MaxDuration != 0 {
		t.Errorf("MaxDuration = %v, want registry default", h.rec.lastOpts.MaxDuration)
	}

	h.rc.Close()
	sent := h.sender.Sent()
	if len(sent) != 1 || sent[0].ChannelID != testText {
		t.Fatalf("dashboard messages = %+v, want one in %q", sent, testText)
	}
	if got := sent[0].Send.Embeds[0].Title; got != "Recording in progress" {
		t.Errorf("dashboard title = %q", got)
	}
}

func TestRecordStart_UsesGuildMaxDuration(t *testing.T) {
	t.Parallel()

	h := newRecordHarness(t, voiceStates{adminUser: "voice-1"})
	h.run(interaction(adminUser, "record", "settings", intOpt("max_hours", 2)))
	h.run(interaction(adminUser, "record", "start"))

	if h.rec.lastOpts.MaxDuration != 2*time.Hour {
		t.Errorf("MaxDuration = %v, want 2h", h.rec.lastOpts.MaxDuration)
	}
}

func TestRecordStart_Refusals(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		user    string
		voice   voiceStates
		setup   func(h *recordHarness)
		wantMsg string
	}{
		{
			name:    "not an admin",
			user:    regularUser,
			voice:   voiceStates{regularUser: "voice-1"},
			wantMsg: "Administrator",
		},
		{
			name:    "not in voice",
			user:    adminUser,
			voice:   voiceStates{},
			wantMsg: "Join a voice channel",
		},
		{
			name:  "channel already recorded",
			user:  adminUser,
			voice: voiceStates{adminUser: "voice-1"},
			setup: func(h *recordHarness) {
				h.rec.add(recorder.SessionSummary{MeetingID: "m-1", GuildID: testGuild, ChannelID: "voice-1"})
			},
			wantMsg: "already being recorded",
		},
		{
			name:  "other channel recorded",
			user:  adminUser,
			voice: voiceStates{adminUser: "voice-1"},
			setup: func(h *recordHarness) {
				h.rec.add(recorder.SessionSummary{MeetingID: "m-2", GuildID: testGuild, ChannelID: "voice-2"})
			},
			wantMsg: "Stop that recording first",
		},
		{
			name:  "passive connection",
			user:  adminUser,
			voice: voiceStates{adminUser: "voice-1"},
			setup: func(h *recordHarness) {
				h.passive.conns["voice-3"] = watchdog.ConnectionInfo{GuildID: testGuild, ChannelID: "voice-3"}
			},
			wantMsg: "/voice leave",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newRecordHarness(t, tt.voice)
			if tt.setup != nil {
				tt.setup(h)
			}
			resp := h.run(interaction(tt.user, "record", "start"))

			r := resp.LastResponse()
			if r == nil || r.Data == nil || r.Data.Flags&discordgo.MessageFlagsEphemeral == 0 {
				t.Fatalf("expected an ephemeral response, got %+v", r)
			}
			if !strings.Contains(r.Data.Content, tt.wantMsg) {
				t.Errorf("Content = %q, want to contain %q", r.Data.Content, tt.wantMsg)
			}
			if len(resp.FollowUps) != 0 {
				t.Errorf("unexpected follow-ups: %d", len(resp.FollowUps))
			}
		})
	}
}

func TestRecordStart_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{name: "timeout", err: recorder.ErrConnectionTimeout, wantMsg: "Timed out"},
		{name: "race", err: recorder.ErrAlreadyRecording, wantMsg: "already being recorded"},
		{name: "other", err: errors.New("boom"), wantMsg: "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newRecordHarness(t, voiceStates{adminUser: "voice-1"})
			h.rec.startErr = tt.err
			resp := h.run(interaction(adminUser, "record", "start"))

			if got := resp.LastContent(); !strings.Contains(got, tt.wantMsg) {
				t.Errorf("LastContent = %q, want to contain %q", got, tt.wantMsg)
			}
			if n := len(h.sender.Sent()); n != 0 {
				t.Errorf("dashboard posted %d messages for a failed start", n)
			}
		})
	}
}

func TestRecordStop(t *testing.T) {
	t.Parallel()

	h := newRecordHarness(t, voiceStates{adminUser: "voice-1"})
	h.run(interaction(adminUser, "record", "start"))

	resp := h.run(interaction(adminUser, "record", "stop"))
	embed := resp.LastEmbed()
	if embed == nil || embed.Title != "Recording stopped" {
		t.Fatalf("LastEmbed = %+v, want Recording stopped", embed)
	}
	if len(h.rec.stops) != 1 || h.rec.stops[0] != "voice-1" {
		t.Errorf("stops = %v, want [voice-1]", h.rec.stops)
	}
	if len(h.rec.GetActive()) != 0 {
		t.Error("session still active after stop")
	}
}

func TestRecordStop_FallsBackToOnlyGuildSession(t *testing.T) {
	t.Parallel()

	h := newRecordHarness(t, voiceStates{})
	h.rec.add(recorder.SessionSummary{MeetingID: "m-1", GuildID: testGuild, ChannelID: "voice-9", Status: recorder.StatusRecording})

	resp := h.run(interaction(adminUser, "record", "stop"))
	if embed := resp.LastEmbed(); embed == nil || embed.Title != "Recording stopped" {
		t.Fatalf("LastEmbed = %+v, want Recording stopped", embed)
	}
	if len(h.rec.stops) != 1 || h.rec.stops[0] != "voice-9" {
		t.Errorf("stops = %v, want [voice-9]", h.rec.stops)
	}
}

func TestRecordStop_NothingToStop(t *testing.T) {
	t.Parallel()

	h := newRecordHarness(t, voiceStates{adminUser: "voice-1"})
	resp := h.run(interaction(adminUser, "record", "stop"))

	if got := resp.LastContent(); !strings.Contains(got, "no active recording") {
		t.Errorf("LastContent = %q", got)
	}
	if len(h.rec.stops) != 0 {
		t.Errorf("Stop called %d times", len(h.rec.stops))
	}
}

func TestRecordStatus(t *testing.T) {
	t.Parallel()

	h := newRecordHarness(t, voiceStates{})
	h.rec.add(recorder.SessionSummary{MeetingID: "m-1", GuildID: testGuild, ChannelID: "voice-1"})
	h.rec.add(recorder.SessionSummary{MeetingID: "m-2", GuildID: "other-guild", ChannelID: "voice-2"})

	resp := h.run(interaction(adminUser, "record", "status"))
	embed := resp.LastEmbed()
	if embed == nil {
		t.Fatal("expected an embed")
	}
	if len(embed.Fields) != 1 {
		t.Fatalf("fields = %d, want only this guild's session", len(embed.Fields))
	}
	if !strings.Contains(embed.Fields[0].Value, "m-1") {
		t.Errorf("field = %q, want meeting m-1", embed.Fields[0].Value)
	}
}

func TestRecordSettings(t *testing.T) {
	t.Parallel()

	h := newRecordHarness(t, voiceStates{})

	resp := h.run(interaction(adminUser, "record", "settings"))
	if got := resp.LastContent(); !strings.Contains(got, "No override") {
		t.Errorf("LastContent = %q", got)
	}

	h.run(interaction(adminUser, "record", "settings", intOpt("max_hours", 3)))
	if d, ok := h.rc.MaxDuration(testGuild); !ok || d != 3*time.Hour {
		t.Errorf("MaxDuration = %v, %v; want 3h, true", d, ok)
	}

	resp = h.run(interaction(adminUser, "record", "settings", intOpt("max_hours", 7)))
	if got := resp.LastContent(); !strings.Contains(got, "between 1 and 6") {
		t.Errorf("LastContent = %q", got)
	}
	if d, _ := h.rc.MaxDuration(testGuild); d != 3*time.Hour {
		t.Errorf("rejected value overwrote override: %v", d)
	}

	resp = h.run(interaction(adminUser, "record", "settings"))
	if embed := resp.LastEmbed(); embed == nil || embed.Title != "Recording settings updated" {
		t.Errorf("LastEmbed = %+v", embed)
	}
}

func TestRecord_GuildOnly(t *testing.T) {
	t.Parallel()

	h := newRecordHarness(t, voiceStates{})
	i := interaction(adminUser, "record", "status")
	i.GuildID = ""

	resp := h.run(i)
	if got := resp.LastContent(); !strings.Contains(got, "inside a server") {
		t.Errorf("LastContent = %q", got)
	}
}
