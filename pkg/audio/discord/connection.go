package discord

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/meetscribe/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

// Compile-time interface assertion.
var _ audio.Connection = (*Connection)(nil)

const (
	packetChannelBuffer = 256
	eventChannelBuffer  = 128

	// defaultSilenceTimeout is how long a user may go without sending a
	// packet before a speaking-end event is emitted.
	defaultSilenceTimeout = time.Second
)

// Connection wraps a discordgo.VoiceConnection and adapts it to the
// [audio.Connection] interface. Incoming Opus packets are demultiplexed by
// SSRC into per-user streams. The SSRC to user mapping is learnt from
// VoiceSpeakingUpdate events.
//
// Speaking start is emitted on the first packet after silence and speaking
// end after silenceTimeout without packets.
//
// Connection is safe for concurrent use.
type Connection struct {
	vc      *discordgo.VoiceConnection
	session *discordgo.Session
	channel audio.Channel

	mu        sync.Mutex
	ssrcUser  map[uint32]string
	subs      map[string]chan audio.Packet
	lastHeard map[string]time.Time

	events chan audio.Event
	cbMu   sync.Mutex
	cb     func(audio.Event)

	silenceTimeout time.Duration

	done      chan struct{}
	closeOnce sync.Once

	removeHandlers []func()

	// disconnectVC is called during Disconnect to tear down the voice
	// connection. Defaults to vc.Disconnect; overridden in tests.
	disconnectVC func() error
}

// newConnection initialises a Connection for an already-joined voice channel
// and starts its background goroutines.
func newConnection(vc *discordgo.VoiceConnection, session *discordgo.Session, ch audio.Channel, silenceTimeout time.Duration) *Connection {
	if silenceTimeout <= 0 {
		silenceTimeout = defaultSilenceTimeout
	}
	c := &Connection{
		vc:             vc,
		session:        session,
		channel:        ch,
		ssrcUser:       make(map[uint32]string),
		subs:           make(map[string]chan audio.Packet),
		lastHeard:      make(map[string]time.Time),
		events:         make(chan audio.Event, eventChannelBuffer),
		silenceTimeout: silenceTimeout,
		done:           make(chan struct{}),
		disconnectVC:   vc.Disconnect,
	}

	if session != nil {
		c.removeHandlers = append(c.removeHandlers, session.AddHandler(c.handleVoiceStateUpdate))
	}
	vc.AddHandler(c.handleSpeakingUpdate)

	go c.dispatchLoop()
	go c.recvLoop()

	return c
}

// Channel returns the channel this connection is joined to.
func (c *Connection) Channel() audio.Channel {
	return c.channel
}

// Subscribe returns the packet stream for userID, creating it if needed.
// After Disconnect the returned stream is already closed.
func (c *Connection) Subscribe(userID string) <-chan audio.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.subs[userID]; ok {
		return ch
	}
	ch := make(chan audio.Packet, packetChannelBuffer)
	select {
	case <-c.done:
		close(ch)
		return ch
	default:
	}
	c.subs[userID] = ch
	return ch
}

// Unsubscribe closes the packet stream for userID.
func (c *Connection) Unsubscribe(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.subs[userID]; ok {
		close(ch)
		delete(c.subs, userID)
	}
}

// OnEvent registers cb as the event callback.
func (c *Connection) OnEvent(cb func(audio.Event)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.cb = cb
}

// Disconnect tears down the voice connection and stops all background
// goroutines. It is safe to call more than once; subsequent calls return nil.
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		for _, remove := range c.removeHandlers {
			remove()
		}

		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}

		c.mu.Lock()
		for id, ch := range c.subs {
			close(ch)
			delete(c.subs, id)
		}
		c.mu.Unlock()
	})
	return err
}

// recvLoop reads Opus packets from the voice connection, routes them to the
// owning user's stream and tracks speaking state.
func (c *Connection) recvLoop() {
	tick := time.NewTicker(c.silenceTimeout / 4)
	defer tick.Stop()

	for {
		select {
		case <-c.done:
			return
		case now := <-tick.C:
			c.expireSpeakers(now)
		case pkt, ok := <-c.vc.OpusRecv:
			if !ok {
				c.emit(audio.Event{Type: audio.EventDisconnected})
				return
			}
			if pkt == nil {
				continue
			}
			c.handlePacket(pkt, time.Now())
		}
	}
}

// handlePacket delivers one packet. Packets from SSRCs that have not been
// mapped to a user yet are dropped.
func (c *Connection) handlePacket(pkt *discordgo.Packet, now time.Time) {
	c.mu.Lock()
	userID, ok := c.ssrcUser[pkt.SSRC]
	if !ok {
		c.mu.Unlock()
		slog.Debug("discord: packet from unmapped ssrc", "ssrc", pkt.SSRC, "channel_id", c.channel.ChannelID)
		return
	}
	_, speaking := c.lastHeard[userID]
	c.lastHeard[userID] = now
	c.mu.Unlock()

	if !speaking {
		c.emit(audio.Event{Type: audio.EventSpeakingStart, UserID: userID})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.subs[userID]
	if !ok {
		return
	}
	select {
	case ch <- audio.Packet{Opus: pkt.Opus, Sequence: pkt.Sequence, Timestamp: pkt.Timestamp, ReceivedAt: now}:
	default:
		// Subscriber is behind; drop rather than stall every other stream.
	}
}

// expireSpeakers emits speaking-end for users silent longer than the timeout.
func (c *Connection) expireSpeakers(now time.Time) {
	var ended []string
	c.mu.Lock()
	for userID, last := range c.lastHeard {
		if now.Sub(last) >= c.silenceTimeout {
			ended = append(ended, userID)
			delete(c.lastHeard, userID)
		}
	}
	c.mu.Unlock()

	for _, userID := range ended {
		c.emit(audio.Event{Type: audio.EventSpeakingEnd, UserID: userID})
	}
}

// handleSpeakingUpdate learns the SSRC of a user. Discord sends these for
// users already talking when we join as well as for new speakers.
func (c *Connection) handleSpeakingUpdate(_ *discordgo.VoiceConnection, p *discordgo.VoiceSpeakingUpdate) {
	if p == nil || p.UserID == "" {
		return
	}
	c.mu.Lock()
	c.ssrcUser[uint32(p.SSRC)] = p.UserID
	c.mu.Unlock()
}

// handleVoiceStateUpdate turns Discord VoiceStateUpdate events into join and
// leave events for the channel this connection is on.
func (c *Connection) handleVoiceStateUpdate(s *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
	if vsu == nil || vsu.VoiceState == nil || vsu.GuildID != c.channel.GuildID {
		return
	}
	channelID := c.channel.ChannelID

	// The bot itself was removed from the channel.
	if s != nil && s.State != nil && s.State.User != nil && vsu.UserID == s.State.User.ID {
		if vsu.ChannelID != channelID {
			c.emit(audio.Event{Type: audio.EventDisconnected})
		}
		return
	}

	wasHere := vsu.BeforeUpdate != nil && vsu.BeforeUpdate.ChannelID == channelID
	isHere := vsu.ChannelID == channelID

	switch {
	case wasHere && !isHere:
		c.mu.Lock()
		delete(c.lastHeard, vsu.UserID)
		c.mu.Unlock()
		c.emit(audio.Event{Type: audio.EventLeave, UserID: vsu.UserID})
	case isHere && !wasHere:
		c.emit(audio.Event{Type: audio.EventJoin, UserID: vsu.UserID})
	}
}

// emit queues ev for in-order delivery to the registered callback.
func (c *Connection) emit(ev audio.Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// dispatchLoop delivers queued events to the callback one at a time.
func (c *Connection) dispatchLoop() {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.events:
			c.cbMu.Lock()
			cb := c.cb
			c.cbMu.Unlock()
			if cb != nil {
				cb(ev)
			}
		}
	}
}
