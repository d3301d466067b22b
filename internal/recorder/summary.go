package recorder

import "time"

// SessionHandle is returned by [Registry.Start].
type SessionHandle struct {
	MeetingID string    `json:"meeting_id"`
	GuildID   string    `json:"guild_id"`
	ChannelID string    `json:"channel_id"`
	Title     string    `json:"title,omitempty"`
	StartTime time.Time `json:"start_time"`
	// MaxDuration is the limit after which the session stops on its own.
	MaxDuration time.Duration `json:"max_duration"`
}

// StopSummary is returned by [Registry.Stop].
type StopSummary struct {
	MeetingID        string        `json:"meeting_id"`
	Status           string        `json:"status"`
	Reason           string        `json:"reason"`
	StartTime        time.Time     `json:"start_time"`
	EndTime          time.Time     `json:"end_time"`
	Duration         time.Duration `json:"duration"`
	DurationMinutes  int           `json:"duration_minutes"`
	ParticipantCount int           `json:"participant_count"`
	ChunkCount       int           `json:"chunk_count"`
	AudioFiles       int           `json:"audio_files"`
}

// ParticipantInfo describes one participant in a [SessionSummary].
type ParticipantInfo struct {
	UserID      string        `json:"user_id"`
	DisplayName string        `json:"display_name"`
	Speaking    bool          `json:"speaking"`
	Duration    time.Duration `json:"duration"`
}

// SessionSummary is a point-in-time snapshot of a session. For sessions that
// are still running, Duration is measured up to the time of the snapshot.
type SessionSummary struct {
	MeetingID        string            `json:"meeting_id"`
	GuildID          string            `json:"guild_id"`
	ChannelID        string            `json:"channel_id"`
	Title            string            `json:"title,omitempty"`
	Status           Status            `json:"status"`
	StartTime        time.Time         `json:"start_time"`
	EndTime          time.Time         `json:"end_time,omitzero"`
	CompletedAt      time.Time         `json:"completed_at,omitzero"`
	StopReason       string            `json:"stop_reason,omitempty"`
	Duration         time.Duration     `json:"duration"`
	DurationMinutes  int               `json:"duration_minutes"`
	ParticipantCount int               `json:"participant_count"`
	ChunkCount       int               `json:"chunk_count"`
	Participants     []ParticipantInfo `json:"participants,omitempty"`
	Chunks           []ChunkInfo       `json:"chunks,omitempty"`
}
