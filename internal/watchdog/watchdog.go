// Package watchdog manages passive, listen-only voice connections.
//
// A [Watchdog] joins voice channels without recording. While auto-leave is
// enabled, each connection is polled at a fixed interval and dropped once no
// human member is left in the channel. Passive connections are independent
// of recording sessions.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/meetscribe/internal/observe"
	"github.com/MrWong99/meetscribe/pkg/audio"
)

// Leave reasons.
const (
	ReasonManual       = "manual leave"
	ReasonAutoLeave    = "auto-leave: no participants"
	ReasonDisconnected = "voice connection lost"
	ReasonShutdown     = "shutdown"
)

const (
	DefaultPollInterval   = 5 * time.Second
	DefaultConnectTimeout = 10 * time.Second
)

var (
	// ErrAlreadyConnected is returned by Join when the channel already has a
	// passive connection.
	ErrAlreadyConnected = errors.New("watchdog: already connected to channel")

	// ErrNotConnected is returned by Leave when the channel has no passive
	// connection.
	ErrNotConnected = errors.New("watchdog: not connected to channel")
)

// EventKind classifies watchdog events.
type EventKind string

const (
	EventJoined EventKind = "watchdog_joined"
	EventLeft   EventKind = "watchdog_left"
)

// Event is published to the watchdog listener on join and leave.
type Event struct {
	Kind      EventKind `json:"kind"`
	GuildID   string    `json:"guild_id"`
	ChannelID string    `json:"channel_id"`
	Reason    string    `json:"reason,omitempty"`
	Time      time.Time `json:"time"`
}

// ConnectionInfo describes one passive connection.
type ConnectionInfo struct {
	GuildID   string        `json:"guild_id"`
	ChannelID string        `json:"channel_id"`
	JoinTime  time.Time     `json:"join_time"`
	Duration  time.Duration `json:"duration"`
	AutoLeave bool          `json:"auto_leave"`
}

// LeaveSummary is returned by [Watchdog.Leave].
type LeaveSummary struct {
	GuildID   string        `json:"guild_id"`
	ChannelID string        `json:"channel_id"`
	Reason    string        `json:"reason"`
	JoinTime  time.Time     `json:"join_time"`
	Duration  time.Duration `json:"duration"`
}

// Config holds the settings and collaborators of a [Watchdog].
type Config struct {
	// Platform joins voice channels. Required.
	Platform audio.Platform

	// Directory counts human members. Required.
	Directory audio.Directory

	// AutoLeave enables the membership poll for new and existing connections.
	AutoLeave bool

	PollInterval   time.Duration
	ConnectTimeout time.Duration

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Listener receives join and leave events. Must not block.
	Listener func(Event)
}

// connection is the record kept per passively joined channel.
type connection struct {
	channel  audio.Channel
	conn     audio.Connection
	joinTime time.Time

	// pollCancel and pollDone are nil while no poll loop runs.
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// Watchdog owns all passive connections. All methods are safe for
// concurrent use.
type Watchdog struct {
	platform     audio.Platform
	dir          audio.Directory
	pollInterval time.Duration
	connTimeout  time.Duration
	metrics      *observe.Metrics
	listener     func(Event)

	mu        sync.Mutex
	autoLeave bool
	conns     map[string]*connection // by channel ID; nil value while connecting
}

// New creates a Watchdog.
func New(cfg Config) (*Watchdog, error) {
	if cfg.Platform == nil || cfg.Directory == nil {
		return nil, errors.New("watchdog: platform and directory are required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Watchdog{
		platform:     cfg.Platform,
		dir:          cfg.Directory,
		pollInterval: cfg.PollInterval,
		connTimeout:  cfg.ConnectTimeout,
		metrics:      m,
		listener:     cfg.Listener,
		autoLeave:    cfg.AutoLeave,
		conns:        make(map[string]*connection),
	}, nil
}

// Join connects to ch muted and listen-only. If auto-leave is enabled a poll
// loop is started for the connection.
func (w *Watchdog) Join(ctx context.Context, ch audio.Channel) (ConnectionInfo, error) {
	w.mu.Lock()
	if _, ok := w.conns[ch.ChannelID]; ok {
		w.mu.Unlock()
		return ConnectionInfo{}, ErrAlreadyConnected
	}
	w.conns[ch.ChannelID] = nil
	w.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, w.connTimeout)
	conn, err := w.platform.Connect(cctx, ch)
	cancel()
	if err != nil {
		w.mu.Lock()
		delete(w.conns, ch.ChannelID)
		w.mu.Unlock()
		return ConnectionInfo{}, fmt.Errorf("watchdog: connect to %s: %w", ch.ChannelID, err)
	}

	c := &connection{channel: ch, conn: conn, joinTime: time.Now()}
	w.mu.Lock()
	w.conns[ch.ChannelID] = c
	auto := w.autoLeave
	if auto {
		w.startPollLocked(c)
	}
	w.mu.Unlock()

	conn.OnEvent(func(ev audio.Event) {
		if ev.Type == audio.EventDisconnected {
			w.dropIfCurrent(c, ReasonDisconnected)
		}
	})

	w.metrics.WatchdogConnections.Add(ctx, 1)
	w.publish(Event{Kind: EventJoined, GuildID: ch.GuildID, ChannelID: ch.ChannelID})
	slog.Info("watchdog: joined voice channel", "guild_id", ch.GuildID, "channel_id", ch.ChannelID, "auto_leave", auto)

	return ConnectionInfo{
		GuildID:   ch.GuildID,
		ChannelID: ch.ChannelID,
		JoinTime:  c.joinTime,
		AutoLeave: auto,
	}, nil
}

// Leave cancels the channel's poll loop, disconnects and reports how long
// the connection lasted.
func (w *Watchdog) Leave(ctx context.Context, channelID, reason string) (LeaveSummary, error) {
	w.mu.Lock()
	c := w.conns[channelID]
	if c == nil {
		w.mu.Unlock()
		return LeaveSummary{}, ErrNotConnected
	}
	delete(w.conns, channelID)
	cancel, done := c.pollCancel, c.pollDone
	c.pollCancel, c.pollDone = nil, nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return w.teardown(ctx, c, reason), nil
}

// dropIfCurrent removes c when it is still the channel's connection. It is
// used from the poll loop and the event callback, which must not wait for
// their own goroutine.
func (w *Watchdog) dropIfCurrent(c *connection, reason string) {
	w.mu.Lock()
	if w.conns[c.channel.ChannelID] != c {
		w.mu.Unlock()
		return
	}
	delete(w.conns, c.channel.ChannelID)
	cancel := c.pollCancel
	c.pollCancel, c.pollDone = nil, nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.teardown(context.Background(), c, reason)
}

// teardown disconnects c and records the leave.
func (w *Watchdog) teardown(ctx context.Context, c *connection, reason string) LeaveSummary {
	if err := c.conn.Disconnect(); err != nil {
		slog.Warn("watchdog: voice disconnect error", "channel_id", c.channel.ChannelID, "err", err)
	}
	d := time.Since(c.joinTime)
	w.metrics.WatchdogConnections.Add(ctx, -1)
	if reason == ReasonAutoLeave {
		w.metrics.AutoLeaves.Add(ctx, 1)
	}
	w.publish(Event{Kind: EventLeft, GuildID: c.channel.GuildID, ChannelID: c.channel.ChannelID, Reason: reason})
	slog.Info("watchdog: left voice channel",
		"guild_id", c.channel.GuildID,
		"channel_id", c.channel.ChannelID,
		"reason", reason,
		"duration", d,
	)
	return LeaveSummary{
		GuildID:   c.channel.GuildID,
		ChannelID: c.channel.ChannelID,
		Reason:    reason,
		JoinTime:  c.joinTime,
		Duration:  d,
	}
}

// ListActive returns all passive connections, oldest first.
func (w *Watchdog) ListActive() []ConnectionInfo {
	now := time.Now()
	w.mu.Lock()
	out := make([]ConnectionInfo, 0, len(w.conns))
	for _, c := range w.conns {
		if c == nil {
			continue
		}
		out = append(out, ConnectionInfo{
			GuildID:   c.channel.GuildID,
			ChannelID: c.channel.ChannelID,
			JoinTime:  c.joinTime,
			Duration:  now.Sub(c.joinTime),
			AutoLeave: c.pollCancel != nil,
		})
	}
	w.mu.Unlock()
	slices.SortFunc(out, func(a, b ConnectionInfo) int { return a.JoinTime.Compare(b.JoinTime) })
	return out
}

// Connected reports whether channelID has a passive connection.
func (w *Watchdog) Connected(channelID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conns[channelID] != nil
}

// AutoLeave reports whether auto-leave is enabled.
func (w *Watchdog) AutoLeave() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.autoLeave
}

// SetAutoLeave enables or disables auto-leave. The change applies to
// existing connections immediately.
func (w *Watchdog) SetAutoLeave(enabled bool) {
	var stopping []chan struct{}
	w.mu.Lock()
	if w.autoLeave == enabled {
		w.mu.Unlock()
		return
	}
	w.autoLeave = enabled
	for _, c := range w.conns {
		if c == nil {
			continue
		}
		switch {
		case enabled && c.pollCancel == nil:
			w.startPollLocked(c)
		case !enabled && c.pollCancel != nil:
			c.pollCancel()
			stopping = append(stopping, c.pollDone)
			c.pollCancel, c.pollDone = nil, nil
		}
	}
	w.mu.Unlock()

	for _, done := range stopping {
		<-done
	}
	slog.Info("watchdog: auto-leave changed", "enabled", enabled)
}

// Shutdown leaves every passive connection. Each leave is independent and
// best-effort.
func (w *Watchdog) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	ids := make([]string, 0, len(w.conns))
	for id, c := range w.conns {
		if c != nil {
			ids = append(ids, id)
		}
	}
	w.mu.Unlock()

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			if _, err := w.Leave(ctx, id, ReasonShutdown); err != nil && !errors.Is(err, ErrNotConnected) {
				slog.Warn("watchdog: shutdown leave failed", "channel_id", id, "err", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// startPollLocked starts the membership poll for c. Must be called with w.mu
// held.
func (w *Watchdog) startPollLocked(c *connection) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.pollCancel, c.pollDone = cancel, done
	go w.poll(ctx, c, done)
}

// poll checks the channel every pollInterval and leaves once it holds no
// human members. Lookup failures are logged and never trigger a leave.
func (w *Watchdog) poll(ctx context.Context, c *connection, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(w.pollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		members, err := w.dir.NonBotMembers(ctx, c.channel)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("watchdog: member lookup failed", "channel_id", c.channel.ChannelID, "err", err)
			continue
		}
		if len(members) > 0 {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		slog.Info("watchdog: channel is empty", "channel_id", c.channel.ChannelID)
		w.dropIfCurrent(c, ReasonAutoLeave)
		return
	}
}

// publish stamps and delivers an event to the listener.
func (w *Watchdog) publish(ev Event) {
	if w.listener == nil {
		return
	}
	ev.Time = time.Now()
	w.listener(ev)
}
