// Package audio defines the voice transport contracts used by meetscribe.
//
// The primary abstractions are:
//
//   - [Platform] joins a voice channel and returns a [Connection].
//   - [Connection] delivers per-participant compressed audio and speaking
//     lifecycle events for that channel.
//   - [Directory] answers membership questions about a channel.
//   - [Decoder] turns one compressed frame into raw PCM.
//
// Implementations live in adapter packages (e.g. audio/discord). The recorder
// and the watchdog depend only on these interfaces.
package audio

import (
	"context"
	"errors"
)

// ErrConnectTimeout is returned by [Platform.Connect] when the voice handshake
// does not complete before the context deadline.
var ErrConnectTimeout = errors.New("audio: timed out waiting for voice connection")

// EventType classifies events emitted by a [Connection].
type EventType int

const (
	// EventSpeakingStart is emitted when a participant starts transmitting audio.
	EventSpeakingStart EventType = iota

	// EventSpeakingEnd is emitted when a participant stops transmitting audio.
	EventSpeakingEnd

	// EventJoin is emitted when a participant enters the voice channel.
	EventJoin

	// EventLeave is emitted when a participant leaves the voice channel.
	EventLeave

	// EventDisconnected is emitted once when the underlying voice connection
	// drops without Disconnect having been called.
	EventDisconnected
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case EventSpeakingStart:
		return "SPEAKING_START"
	case EventSpeakingEnd:
		return "SPEAKING_END"
	case EventJoin:
		return "JOIN"
	case EventLeave:
		return "LEAVE"
	case EventDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Event describes a participant change on a voice channel.
type Event struct {
	Type EventType

	// UserID is the platform-specific unique identifier for the participant.
	// Empty for [EventDisconnected].
	UserID string
}

// Connection represents an active, listen-only session on a voice channel.
//
// Events are delivered in order on a single internal goroutine; callbacks
// must not block for long. Implementations must be safe for concurrent use.
type Connection interface {
	// Channel returns the channel this connection is joined to.
	Channel() Channel

	// Subscribe returns the stream of compressed packets sent by userID.
	// Calling Subscribe again for the same user returns the same stream until
	// Unsubscribe is called. The stream is closed by Unsubscribe or Disconnect.
	Subscribe(userID string) <-chan Packet

	// Unsubscribe closes the stream for userID. Unknown users are ignored.
	Unsubscribe(userID string)

	// OnEvent registers cb as the event callback. Only one callback may be
	// registered; subsequent calls replace the previous registration.
	OnEvent(cb func(Event))

	// Disconnect tears down the connection and closes every subscribed
	// stream. It is safe to call more than once; later calls return nil.
	Disconnect() error
}

// Platform is the entry point for a voice-channel provider.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Connect joins ch self-muted and returns once the voice handshake has
	// completed. ctx bounds the handshake only; when its deadline passes the
	// error wraps [ErrConnectTimeout].
	Connect(ctx context.Context, ch Channel) (Connection, error)
}

// Directory resolves channel membership and member identities.
type Directory interface {
	// NonBotMembers lists the human members currently present in ch.
	NonBotMembers(ctx context.Context, ch Channel) ([]Member, error)

	// Member looks up a single guild member.
	Member(ctx context.Context, guildID, userID string) (Member, error)
}

// Decoder converts compressed frames into little-endian 16-bit PCM.
// A Decoder carries stream state and must only be used by one goroutine.
type Decoder interface {
	Decode(frame []byte) ([]byte, error)
}

// DecoderFactory creates a fresh [Decoder] for one participant stream.
type DecoderFactory func() (Decoder, error)
