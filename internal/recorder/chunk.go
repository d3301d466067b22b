package recorder

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// FinalChunkLabel is the label of the chunk emitted when a session stops.
const FinalChunkLabel = "final"

// Segment references the bytes one participant produced since the previous
// chunk boundary. The bytes stay in the participant's sink file.
type Segment struct {
	UserID      string
	DisplayName string
	Path        string
	Offset      int64
	Length      int64
	// Duration is the playback length of the referenced PCM.
	Duration time.Duration
}

// Open returns a reader over exactly the referenced byte range.
func (s Segment) Open() (io.ReadCloser, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	return &sectionFile{SectionReader: io.NewSectionReader(f, s.Offset, s.Length), f: f}, nil
}

// sectionFile closes the underlying file of a section reader.
type sectionFile struct {
	*io.SectionReader
	f *os.File
}

func (s *sectionFile) Close() error { return s.f.Close() }

// Chunk is a descriptor of newly captured audio handed to the
// [ChunkForwarder]. It is transient and never persisted.
type Chunk struct {
	MeetingID string
	// Index is the interval chunk index. It is meaningless when Final is set.
	Index int
	Final bool
	// ParticipantIDs lists every user captured in the session so far.
	ParticipantIDs []string
	Timestamp      time.Time
	Segments       []Segment
}

// Label returns the chunk index as sent on the wire: "0", "1", … or "final".
func (c Chunk) Label() string {
	if c.Final {
		return FinalChunkLabel
	}
	return strconv.Itoa(c.Index)
}

// Bytes returns the total payload size of the chunk.
func (c Chunk) Bytes() int64 {
	var n int64
	for _, s := range c.Segments {
		n += s.Length
	}
	return n
}

// ChunkInfo is the status-reporting record kept in a session's chunk log.
type ChunkInfo struct {
	Label     string    `json:"chunk_index"`
	Timestamp time.Time `json:"timestamp"`
	Segments  int       `json:"segments"`
	Bytes     int64     `json:"bytes"`
}

// StartNotice is sent when a session begins recording.
type StartNotice struct {
	MeetingID string
	GuildID   string
	ChannelID string
	Title     string
	StartTime time.Time
}

// ParticipantSummary describes one participant in a finalize notice.
type ParticipantSummary struct {
	UserID      string
	Username    string
	DisplayName string
	Duration    time.Duration
}

// FinalizeNotice is sent once after the final chunk of a session.
type FinalizeNotice struct {
	MeetingID       string
	Participants    []ParticipantSummary
	DurationMinutes int
	AudioFileCount  int
}

// ChunkForwarder is the boundary to the external processing service.
// Implementations hold no session state and bound each call with a timeout.
type ChunkForwarder interface {
	NotifyStart(ctx context.Context, n StartNotice) error
	SendChunk(ctx context.Context, c Chunk) error
	NotifyFinalize(ctx context.Context, n FinalizeNotice) error
}

// String implements fmt.Stringer for log output.
func (c Chunk) String() string {
	return fmt.Sprintf("chunk %s of %s (%d segments, %d bytes)", c.Label(), c.MeetingID, len(c.Segments), c.Bytes())
}
