package recorder

import "time"

// EventKind classifies registry lifecycle events.
type EventKind string

const (
	EventSessionStarted  EventKind = "session_started"
	EventChunkEmitted    EventKind = "chunk_emitted"
	EventSessionStopping EventKind = "session_stopping"
	EventSessionComplete EventKind = "session_completed"
	EventForwardFailed   EventKind = "forward_failed"
	EventSessionPurged   EventKind = "session_purged"
)

// Event is published to the registry listener on lifecycle changes.
type Event struct {
	Kind      EventKind `json:"kind"`
	MeetingID string    `json:"meeting_id"`
	GuildID   string    `json:"guild_id,omitempty"`
	ChannelID string    `json:"channel_id,omitempty"`
	Chunk     string    `json:"chunk,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Time      time.Time `json:"time"`
}
