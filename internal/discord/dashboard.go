package discord

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/meetscribe/internal/recorder"
)

// defaultDashboardInterval is the default dashboard update interval.
const defaultDashboardInterval = 15 * time.Second

// SessionLookup resolves a session snapshot by meeting ID.
type SessionLookup interface {
	FindByMeetingID(meetingID string) (recorder.SessionSummary, bool)
}

// DashboardConfig holds dependencies for creating a [Dashboard].
type DashboardConfig struct {
	Sender    MessageSender
	Sessions  SessionLookup
	ChannelID string
	MeetingID string
	Interval  time.Duration // Default: 15 seconds
}

// Dashboard posts an embed describing a running recording and edits it in
// place every interval. Once the session completes the embed switches to its
// final form and the loop exits on its own.
//
// Thread-safe for concurrent use.
type Dashboard struct {
	sender    MessageSender
	sessions  SessionLookup
	channelID string
	meetingID string
	interval  time.Duration

	mu        sync.Mutex
	messageID string

	stop      chan struct{}
	stopOnce  sync.Once
	finalOnce sync.Once
	done      chan struct{}
}

// NewDashboard creates a Dashboard. Call [Dashboard.Start] to post it.
func NewDashboard(cfg DashboardConfig) *Dashboard {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultDashboardInterval
	}
	return &Dashboard{
		sender:    cfg.Sender,
		sessions:  cfg.Sessions,
		channelID: cfg.ChannelID,
		meetingID: cfg.MeetingID,
		interval:  interval,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start begins the update loop in a background goroutine.
func (d *Dashboard) Start(ctx context.Context) {
	go d.loop(ctx)
}

// Stop renders the final embed and waits for the loop to exit.
func (d *Dashboard) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
	<-d.done
}

// Done is closed once the loop has exited.
func (d *Dashboard) Done() <-chan struct{} { return d.done }

func (d *Dashboard) loop(ctx context.Context) {
	defer close(d.done)

	if d.refresh() {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			d.finish()
			return
		case <-ticker.C:
			if d.refresh() {
				return
			}
		}
	}
}

// refresh renders the current state and reports whether the session is
// over.
func (d *Dashboard) refresh() bool {
	s, ok := d.sessions.FindByMeetingID(d.meetingID)
	if !ok {
		return true
	}
	if s.Status == recorder.StatusCompleted {
		d.finish()
		return true
	}
	d.publish(liveEmbed(s))
	return false
}

func (d *Dashboard) finish() {
	d.finalOnce.Do(func() {
		if s, ok := d.sessions.FindByMeetingID(d.meetingID); ok {
			d.publish(endedEmbed(s))
		}
	})
}

// publish creates the message on first use and edits it afterwards.
func (d *Dashboard) publish(embed *discordgo.MessageEmbed) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.messageID == "" {
		msg, err := d.sender.ChannelMessageSendComplex(d.channelID, &discordgo.MessageSend{
			Embeds: []*discordgo.MessageEmbed{embed},
		})
		if err != nil {
			slog.Warn("dashboard: failed to create embed message", "channel_id", d.channelID, "err", err)
			return
		}
		d.messageID = msg.ID
		slog.Debug("dashboard: created embed message", "message_id", msg.ID, "meeting_id", d.meetingID)
		return
	}

	edit := discordgo.NewMessageEdit(d.channelID, d.messageID).SetEmbeds([]*discordgo.MessageEmbed{embed})
	if _, err := d.sender.ChannelMessageEditComplex(edit); err != nil {
		slog.Warn("dashboard: failed to edit embed message", "message_id", d.messageID, "err", err)
	}
}
