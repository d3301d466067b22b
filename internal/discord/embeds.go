package discord

import (
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/meetscribe/internal/recorder"
	"github.com/MrWong99/meetscribe/internal/watchdog"
	"github.com/MrWong99/meetscribe/internal/webhook"
)

const (
	embedColorGreen = 0x2ECC71
	embedColorRed   = 0xE74C3C
	embedColorBlue  = 0x3498DB
	embedColorGrey  = 0x95A5A6
)

// maxLinkButtons is the number of buttons Discord allows in one action row.
const maxLinkButtons = 5

// RecordingStartedEmbed announces a new recording session.
func RecordingStartedEmbed(h recorder.SessionHandle) *discordgo.MessageEmbed {
	fields := []*discordgo.MessageEmbedField{
		{Name: "Meeting ID", Value: code(h.MeetingID), Inline: true},
		{Name: "Channel", Value: channelMention(h.ChannelID), Inline: true},
		{Name: "Max duration", Value: formatDuration(h.MaxDuration), Inline: true},
	}
	if h.Title != "" {
		fields = append([]*discordgo.MessageEmbedField{{Name: "Title", Value: h.Title}}, fields...)
	}
	return &discordgo.MessageEmbed{
		Title:       "Recording started",
		Description: "This voice channel is now being recorded.",
		Color:       embedColorRed,
		Fields:      fields,
		Timestamp:   h.StartTime.UTC().Format(time.RFC3339),
	}
}

// RecordingStoppedEmbed summarises a stopped session.
func RecordingStoppedEmbed(s recorder.StopSummary) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "Recording stopped",
		Description: "Minutes are being generated. A message with download links follows once processing is done.",
		Color:       embedColorGreen,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Meeting ID", Value: code(s.MeetingID), Inline: true},
			{Name: "Duration", Value: formatDuration(s.Duration), Inline: true},
			{Name: "Participants", Value: strconv.Itoa(s.ParticipantCount), Inline: true},
			{Name: "Chunks", Value: strconv.Itoa(s.ChunkCount), Inline: true},
			{Name: "Audio files", Value: strconv.Itoa(s.AudioFiles), Inline: true},
			{Name: "Reason", Value: s.Reason, Inline: true},
		},
		Timestamp: s.EndTime.UTC().Format(time.RFC3339),
	}
}

// RecordingStatusEmbed lists the active sessions of a guild.
func RecordingStatusEmbed(sessions []recorder.SessionSummary) *discordgo.MessageEmbed {
	if len(sessions) == 0 {
		return &discordgo.MessageEmbed{
			Title:       "Recording status",
			Description: "No recording is active.",
			Color:       embedColorGrey,
		}
	}
	fields := make([]*discordgo.MessageEmbedField, 0, len(sessions))
	for _, s := range sessions {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: channelName(s),
			Value: fmt.Sprintf("%s\nElapsed: %s\nParticipants: %d\nChunks: %d",
				code(s.MeetingID), formatDuration(s.Duration), s.ParticipantCount, s.ChunkCount),
		})
	}
	return &discordgo.MessageEmbed{
		Title:       "Recording status",
		Description: fmt.Sprintf("%d active recording(s).", len(sessions)),
		Color:       embedColorBlue,
		Fields:      fields,
	}
}

// SettingsEmbed confirms an updated maximum duration.
func SettingsEmbed(maxDuration, limit time.Duration) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "Recording settings updated",
		Description: "Applies to recordings started from now on in this server.",
		Color:       embedColorBlue,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Max duration", Value: formatDuration(maxDuration), Inline: true},
			{Name: "Limit", Value: formatDuration(limit), Inline: true},
		},
	}
}

// VoiceJoinedEmbed announces a passive connection.
func VoiceJoinedEmbed(info watchdog.ConnectionInfo) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "Joined voice channel",
		Description: fmt.Sprintf("Listening muted in %s. Nothing is recorded.", channelMention(info.ChannelID)),
		Color:       embedColorBlue,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Auto-leave", Value: onOff(info.AutoLeave), Inline: true},
		},
	}
}

// VoiceLeftEmbed confirms a passive connection was closed.
func VoiceLeftEmbed(s watchdog.LeaveSummary) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "Left voice channel",
		Description: channelMention(s.ChannelID),
		Color:       embedColorGrey,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Connected for", Value: formatDuration(s.Duration), Inline: true},
		},
	}
}

// VoiceStatusEmbed lists passive connections of a guild.
func VoiceStatusEmbed(conns []watchdog.ConnectionInfo, autoLeave bool) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: "Voice status",
		Color: embedColorBlue,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Auto-leave", Value: onOff(autoLeave), Inline: true},
		},
	}
	if len(conns) == 0 {
		embed.Description = "Not connected to any voice channel."
		embed.Color = embedColorGrey
		return embed
	}
	lines := make([]string, 0, len(conns))
	for _, c := range conns {
		lines = append(lines, fmt.Sprintf("%s for %s", channelMention(c.ChannelID), formatDuration(c.Duration)))
	}
	embed.Description = strings.Join(lines, "\n")
	return embed
}

// CompletionMessage renders the "minutes are ready" message with one link
// button per download link. Links that are not absolute http(s) URLs are
// skipped.
func CompletionMessage(s recorder.SessionSummary, c webhook.Completion) *discordgo.MessageSend {
	embed := &discordgo.MessageEmbed{
		Title:       "Meeting minutes are ready",
		Description: fmt.Sprintf("Meeting %s\nUse the buttons below to download the results.", code(s.MeetingID)),
		Color:       embedColorGreen,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	if s.Title != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Title", Value: s.Title})
	}
	if s.Duration > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Duration", Value: formatDuration(s.Duration), Inline: true})
	}
	if s.ParticipantCount > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Participants", Value: strconv.Itoa(s.ParticipantCount), Inline: true})
	}

	msg := &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}}

	keys := make([]string, 0, len(c.DownloadLinks))
	for k := range c.DownloadLinks {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var buttons []discordgo.MessageComponent
	for _, k := range keys {
		link := c.DownloadLinks[k]
		if u, err := url.Parse(link); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			continue
		}
		buttons = append(buttons, discordgo.Button{
			Label: linkLabel(k),
			Style: discordgo.LinkButton,
			URL:   link,
		})
		if len(buttons) == maxLinkButtons {
			break
		}
	}
	if len(buttons) > 0 {
		msg.Components = []discordgo.MessageComponent{discordgo.ActionsRow{Components: buttons}}
	}
	return msg
}

// liveEmbed renders the dashboard of a running session.
func liveEmbed(s recorder.SessionSummary) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:  "Recording in progress",
		Color:  embedColorRed,
		Fields: sessionFields(s),
		Footer: &discordgo.MessageEmbedFooter{Text: "Live session"},
	}
}

// endedEmbed renders the dashboard of a finished session.
func endedEmbed(s recorder.SessionSummary) *discordgo.MessageEmbed {
	fields := append(sessionFields(s), &discordgo.MessageEmbedField{Name: "Stopped", Value: s.StopReason, Inline: true})
	return &discordgo.MessageEmbed{
		Title:       "Recording finished",
		Description: "Minutes are being generated.",
		Color:       embedColorGreen,
		Fields:      fields,
		Footer:      &discordgo.MessageEmbedFooter{Text: "Session ended"},
	}
}

func sessionFields(s recorder.SessionSummary) []*discordgo.MessageEmbedField {
	fields := []*discordgo.MessageEmbedField{
		{Name: "Meeting ID", Value: code(s.MeetingID), Inline: true},
		{Name: "Duration", Value: formatDuration(s.Duration), Inline: true},
		{Name: "Chunks sent", Value: strconv.Itoa(s.ChunkCount), Inline: true},
	}
	if len(s.Participants) == 0 {
		return append(fields, &discordgo.MessageEmbedField{Name: "Participants", Value: "Nobody has spoken yet."})
	}
	lines := make([]string, 0, len(s.Participants))
	for _, p := range s.Participants {
		marker := "⚪"
		if p.Speaking {
			marker = "🔴"
		}
		lines = append(lines, fmt.Sprintf("%s %s (%s)", marker, p.DisplayName, formatDuration(p.Duration)))
	}
	return append(fields, &discordgo.MessageEmbedField{
		Name:  fmt.Sprintf("Participants (%d)", len(s.Participants)),
		Value: strings.Join(lines, "\n"),
	})
}

func linkLabel(key string) string {
	switch key {
	case "summary":
		return "Summary"
	case "transcript":
		return "Transcript"
	case "chunks", "audio":
		return "Audio chunks"
	}
	if key == "" {
		return "Download"
	}
	return strings.ToUpper(key[:1]) + strings.ReplaceAll(key[1:], "_", " ")
}

func channelName(s recorder.SessionSummary) string {
	if s.Title != "" {
		return s.Title
	}
	return "Channel " + s.ChannelID
}

func channelMention(id string) string { return "<#" + id + ">" }

func code(s string) string { return "`" + s + "`" }

func onOff(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

// formatDuration formats a duration as "Xh Ym Zs".
func formatDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
