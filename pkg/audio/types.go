package audio

import "time"

// Channel identifies a voice channel inside a guild.
type Channel struct {
	GuildID   string
	ChannelID string
}

// Packet is a single compressed audio frame received from a participant.
type Packet struct {
	// Opus holds the compressed payload.
	Opus []byte

	// Sequence is the transport sequence number.
	Sequence uint16

	// Timestamp is the transport timestamp in sample units.
	Timestamp uint32

	// ReceivedAt is the local wall-clock time the packet arrived.
	ReceivedAt time.Time
}

// Member is a guild member as seen by a [Directory].
type Member struct {
	UserID      string
	Username    string
	DisplayName string
	Bot         bool
}

// Name returns the best human-readable name for the member, falling back to
// the user ID.
func (m Member) Name() string {
	switch {
	case m.DisplayName != "":
		return m.DisplayName
	case m.Username != "":
		return m.Username
	default:
		return m.UserID
	}
}

// PCMFormat describes the raw audio written by a [Decoder].
type PCMFormat struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond returns the byte rate of 16-bit PCM in this format.
func (f PCMFormat) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Duration converts a PCM byte count to playback time.
func (f PCMFormat) Duration(n int64) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}
