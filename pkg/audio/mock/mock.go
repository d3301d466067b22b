// Package mock provides in-memory mock implementations of the
// [audio.Platform], [audio.Connection], [audio.Directory] and [audio.Decoder]
// interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	platform := &mock.Platform{}
//	conn, _ := platform.Connect(ctx, audio.Channel{GuildID: "g", ChannelID: "c"})
//	mc := conn.(*mock.Connection)
//	mc.EmitEvent(audio.Event{Type: audio.EventSpeakingStart, UserID: "alice"})
//	mc.Send("alice", audio.Packet{Opus: []byte{1, 2, 3}})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/meetscribe/pkg/audio"
)

// ─── Connection ───────────────────────────────────────────────────────────────

// Connection is a mock implementation of [audio.Connection].
// Set the exported Result fields before use; inspect the Call* fields after.
type Connection struct {
	mu sync.Mutex

	// ChannelResult is returned by [Connection.Channel].
	ChannelResult audio.Channel

	// DisconnectError is returned by the first [Connection.Disconnect] call.
	DisconnectError error

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	// SubscribeCalls records the user IDs passed to Subscribe, in order.
	SubscribeCalls []string

	// UnsubscribeCalls records the user IDs passed to Unsubscribe, in order.
	UnsubscribeCalls []string

	subs         map[string]chan audio.Packet
	cb           func(audio.Event)
	disconnected bool
}

// Channel implements [audio.Connection].
func (c *Connection) Channel() audio.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ChannelResult
}

// Subscribe implements [audio.Connection]. Streams are buffered so tests can
// [Connection.Send] without a reader.
func (c *Connection) Subscribe(userID string) <-chan audio.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SubscribeCalls = append(c.SubscribeCalls, userID)
	if c.subs == nil {
		c.subs = make(map[string]chan audio.Packet)
	}
	if ch, ok := c.subs[userID]; ok {
		return ch
	}
	ch := make(chan audio.Packet, 1024)
	if c.disconnected {
		close(ch)
		return ch
	}
	c.subs[userID] = ch
	return ch
}

// Unsubscribe implements [audio.Connection].
func (c *Connection) Unsubscribe(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.UnsubscribeCalls = append(c.UnsubscribeCalls, userID)
	if ch, ok := c.subs[userID]; ok {
		close(ch)
		delete(c.subs, userID)
	}
}

// OnEvent implements [audio.Connection].
func (c *Connection) OnEvent(cb func(audio.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cb = cb
}

// Disconnect implements [audio.Connection]. It closes every open stream and
// returns DisconnectError on the first call.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountDisconnect++
	if c.disconnected {
		return nil
	}
	c.disconnected = true
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	return c.DisconnectError
}

// EmitEvent synchronously calls the registered event callback.
// Use this in tests to simulate speaking and membership changes.
func (c *Connection) EmitEvent(ev audio.Event) {
	c.mu.Lock()
	cb := c.cb
	c.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

// Send delivers pkt on userID's stream. It reports false when the user has no
// open stream.
func (c *Connection) Send(userID string, pkt audio.Packet) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.subs[userID]
	if !ok {
		return false
	}
	ch <- pkt
	return true
}

// Disconnected reports whether Disconnect has been called.
func (c *Connection) Disconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// Platform is a mock implementation of [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// ConnectResult, when set, is returned by every Connect call. When nil a
	// fresh [Connection] is created per call and appended to Connections.
	ConnectResult audio.Connection

	// ConnectError is the error returned by Connect.
	ConnectError error

	// ConnectFunc, when set, replaces the default behaviour entirely.
	ConnectFunc func(ctx context.Context, ch audio.Channel) (audio.Connection, error)

	// ConnectCalls records all Connect invocations.
	ConnectCalls []audio.Channel

	// Connections holds the connections created by Connect, in order.
	Connections []*Connection
}

// Connect implements [audio.Platform].
func (p *Platform) Connect(ctx context.Context, ch audio.Channel) (audio.Connection, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ch)
	fn := p.ConnectFunc
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, ch)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectError != nil {
		return nil, p.ConnectError
	}
	if p.ConnectResult != nil {
		return p.ConnectResult, nil
	}
	c := &Connection{ChannelResult: ch}
	p.Connections = append(p.Connections, c)
	return c, nil
}

// Connection returns the i-th connection created by Connect, or nil.
func (p *Platform) Connection(i int) *Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.Connections) {
		return nil
	}
	return p.Connections[i]
}

// ─── Directory ────────────────────────────────────────────────────────────────

// Directory is a mock implementation of [audio.Directory].
type Directory struct {
	mu sync.Mutex

	// Members maps a channel ID to the members present in it. Bots are
	// filtered out by NonBotMembers.
	Members map[string][]audio.Member

	// NonBotMembersError is returned by NonBotMembers when set.
	NonBotMembersError error

	// CallCountNonBotMembers records how many times NonBotMembers was called.
	CallCountNonBotMembers int
}

// SetMembers replaces the member list for channelID.
func (d *Directory) SetMembers(channelID string, members ...audio.Member) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Members == nil {
		d.Members = make(map[string][]audio.Member)
	}
	d.Members[channelID] = members
}

// NonBotMembers implements [audio.Directory].
func (d *Directory) NonBotMembers(_ context.Context, ch audio.Channel) ([]audio.Member, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountNonBotMembers++
	if d.NonBotMembersError != nil {
		return nil, d.NonBotMembersError
	}
	var out []audio.Member
	for _, m := range d.Members[ch.ChannelID] {
		if !m.Bot {
			out = append(out, m)
		}
	}
	return out, nil
}

// Member implements [audio.Directory]. Unknown users resolve to a member
// carrying only the user ID.
func (d *Directory) Member(_ context.Context, _, userID string) (audio.Member, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, members := range d.Members {
		for _, m := range members {
			if m.UserID == userID {
				return m, nil
			}
		}
	}
	return audio.Member{UserID: userID}, nil
}

// ─── Decoder ──────────────────────────────────────────────────────────────────

// Decoder is a mock [audio.Decoder] that passes frames through unchanged, or
// fails for frames whose first byte equals FailByte when FailOn is set.
type Decoder struct {
	FailOn   bool
	FailByte byte
	Err      error
}

// Decode implements [audio.Decoder].
func (d *Decoder) Decode(frame []byte) ([]byte, error) {
	if d.FailOn && len(frame) > 0 && frame[0] == d.FailByte {
		return nil, d.Err
	}
	out := make([]byte, len(frame))
	copy(out, frame)
	return out, nil
}

// NewDecoder is an [audio.DecoderFactory] producing pass-through decoders.
func NewDecoder() (audio.Decoder, error) {
	return &Decoder{}, nil
}
