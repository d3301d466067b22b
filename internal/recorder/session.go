package recorder

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/meetscribe/internal/observe"
	"github.com/MrWong99/meetscribe/pkg/audio"
)

// Status is the lifecycle state of a [RecordingSession].
type Status int

const (
	// StatusRecording is the initial state: captures and the chunk scheduler
	// are running.
	StatusRecording Status = iota

	// StatusStopping is entered on stop or max duration. No new captures are
	// created and the final chunk is being sent.
	StatusStopping

	// StatusCompleted is terminal. The session is kept for lookups until the
	// retention window elapses.
	StatusCompleted
)

// String returns the human-readable name of the status.
func (s Status) String() string {
	switch s {
	case StatusRecording:
		return "recording"
	case StatusStopping:
		return "stopping"
	case StatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Stop reasons used by the registry.
const (
	ReasonManual      = "manual stop"
	ReasonMaxDuration = "maximum duration reached"
	ReasonShutdown    = "shutdown"

	ReasonConnectionLost = "voice connection lost"
)

// forwardQueueSize bounds pending forwarding jobs per session.
const forwardQueueSize = 32

// RecordingSession owns the participant captures of one voice channel, its
// chunk scheduler and its lifecycle state. Sessions are created and driven
// by the [Registry].
type RecordingSession struct {
	meetingID string
	title     string
	channel   audio.Channel

	conn       audio.Connection
	dir        audio.Directory
	newDecoder audio.DecoderFactory
	format     audio.PCMFormat
	tempDir    string
	interval   time.Duration
	notifier   *notifier
	metrics    *observe.Metrics
	publish    func(Event)
	onLost     func()

	mu           sync.Mutex
	status       Status
	startTime    time.Time
	endTime      time.Time
	completedAt  time.Time
	stopReason   string
	participants map[string]*ParticipantCapture
	retired      []*ParticipantCapture
	chunkIndex   int
	chunkLog     []ChunkInfo

	// lifetime carries values for forwarding and lookups; it is never
	// cancelled by the caller that started the session.
	lifetime context.Context

	// started is closed once begin has run; stop waits on it.
	started chan struct{}

	schedStop chan struct{}
	schedDone chan struct{}
	schedOnce sync.Once

	queue     chan func(context.Context)
	queueDone chan struct{}
}

// sessionConfig holds the collaborators of a new session.
type sessionConfig struct {
	MeetingID     string
	Title         string
	Channel       audio.Channel
	Conn          audio.Connection
	Directory     audio.Directory
	NewDecoder    audio.DecoderFactory
	Format        audio.PCMFormat
	TempDir       string
	ChunkInterval time.Duration
	Forwarder     ChunkForwarder
	Metrics       *observe.Metrics
	Publish       func(Event)

	// OnLost is called when the voice link drops while Recording.
	OnLost func()
}

func newSession(cfg sessionConfig) *RecordingSession {
	return &RecordingSession{
		meetingID:    cfg.MeetingID,
		title:        cfg.Title,
		channel:      cfg.Channel,
		conn:         cfg.Conn,
		dir:          cfg.Directory,
		newDecoder:   cfg.NewDecoder,
		format:       cfg.Format,
		tempDir:      cfg.TempDir,
		interval:     cfg.ChunkInterval,
		notifier:     &notifier{fwd: cfg.Forwarder, publish: cfg.Publish},
		metrics:      cfg.Metrics,
		publish:      cfg.Publish,
		onLost:       cfg.OnLost,
		participants: make(map[string]*ParticipantCapture),
		startTime:    time.Now(),
		started:      make(chan struct{}),
		schedStop:    make(chan struct{}),
		schedDone:    make(chan struct{}),
		queue:        make(chan func(context.Context), forwardQueueSize),
		queueDone:    make(chan struct{}),
	}
}

// begin puts the session into Recording: it subscribes to connection events,
// starts the forwarding worker and the chunk scheduler, and queues the start
// notice.
func (s *RecordingSession) begin(ctx context.Context) {
	s.lifetime = context.WithoutCancel(ctx)

	s.mu.Lock()
	s.status = StatusRecording
	s.startTime = time.Now()
	start := StartNotice{
		MeetingID: s.meetingID,
		GuildID:   s.channel.GuildID,
		ChannelID: s.channel.ChannelID,
		Title:     s.title,
		StartTime: s.startTime,
	}
	s.mu.Unlock()

	go s.runForwarder()
	s.queue <- func(ctx context.Context) { s.notifier.start(ctx, start) }

	s.conn.OnEvent(s.handleEvent)
	go s.runScheduler()
	close(s.started)
}

// MeetingID returns the session's meeting ID.
func (s *RecordingSession) MeetingID() string { return s.meetingID }

// Status returns the current lifecycle state.
func (s *RecordingSession) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// handleEvent maps connection events onto capture transitions.
func (s *RecordingSession) handleEvent(ev audio.Event) {
	switch ev.Type {
	case audio.EventSpeakingStart:
		s.speakingStart(ev.UserID)
	case audio.EventSpeakingEnd:
		s.speakingEnd(ev.UserID)
	case audio.EventLeave:
		s.participantLeft(ev.UserID)
	case audio.EventDisconnected:
		if s.Status() != StatusRecording {
			return
		}
		slog.Warn("recorder: voice connection lost", "meeting_id", s.meetingID, "channel_id", s.channel.ChannelID)
		if s.onLost != nil {
			s.onLost()
		}
	}
}

// speakingStart resumes the user's capture or creates one. This is the only
// place a sink is allocated, so a user never has two open sinks in a session.
func (s *RecordingSession) speakingStart(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusRecording {
		return
	}

	if c, ok := s.participants[userID]; ok {
		if !c.Stopped() {
			c.Resume()
			return
		}
		// The user left earlier and came back: the old capture is already
		// closed and only waits for its remainder to be forwarded.
		s.retired = append(s.retired, c)
	}

	now := time.Now()
	c, err := newCapture(captureConfig{
		MeetingID:  s.meetingID,
		UserID:     userID,
		TempDir:    s.tempDir,
		Format:     s.format,
		Conn:       s.conn,
		NewDecoder: s.newDecoder,
		Metrics:    s.metrics,
		Now:        now,
	})
	if err != nil {
		delete(s.participants, userID)
		slog.Warn("recorder: cannot start capture", "meeting_id", s.meetingID, "user_id", userID, "err", err)
		s.metrics.RecordCaptureError(s.lifetime, "open")
		return
	}
	s.participants[userID] = c
	slog.Debug("recorder: capture started", "meeting_id", s.meetingID, "user_id", userID, "path", c.Path())

	if s.dir != nil {
		go s.resolveIdentity(c)
	}
}

// resolveIdentity looks up the member's names outside the session lock.
func (s *RecordingSession) resolveIdentity(c *ParticipantCapture) {
	ctx, cancel := context.WithTimeout(s.lifetime, 5*time.Second)
	defer cancel()
	m, err := s.dir.Member(ctx, s.channel.GuildID, c.UserID())
	if err != nil {
		slog.Debug("recorder: member lookup failed", "meeting_id", s.meetingID, "user_id", c.UserID(), "err", err)
		return
	}
	c.SetIdentity(m)
}

func (s *RecordingSession) speakingEnd(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusRecording {
		return
	}
	if c, ok := s.participants[userID]; ok {
		c.Pause(time.Now())
	}
}

// participantLeft closes the capture of a user who left the channel. Its
// unforwarded remainder is still included in the next chunk.
func (s *RecordingSession) participantLeft(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusRecording {
		return
	}
	if c, ok := s.participants[userID]; ok {
		c.Stop(time.Now())
	}
}

// runScheduler emits an interval chunk every s.interval while Recording.
func (s *RecordingSession) runScheduler() {
	defer close(s.schedDone)
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-s.schedStop:
			return
		case <-t.C:
			s.emitChunk()
		}
	}
}

// emitChunk builds the next interval chunk and queues it for forwarding
// without waiting for the upload.
func (s *RecordingSession) emitChunk() {
	s.mu.Lock()
	if s.status != StatusRecording {
		s.mu.Unlock()
		return
	}
	c := s.buildChunkLocked(false, time.Now())
	s.mu.Unlock()

	s.queue <- func(ctx context.Context) { s.notifier.chunk(ctx, c) }
}

// buildChunkLocked marks every sink and assembles a chunk from the new byte
// ranges. Must be called with s.mu held.
func (s *RecordingSession) buildChunkLocked(final bool, now time.Time) Chunk {
	c := Chunk{
		MeetingID: s.meetingID,
		Final:     final,
		Timestamp: now,
	}
	if !final {
		c.Index = s.chunkIndex
		s.chunkIndex++
	}

	for _, pc := range s.allCapturesLocked() {
		if seg, ok := pc.Mark(); ok {
			c.Segments = append(c.Segments, seg)
		}
	}
	for id := range s.participants {
		c.ParticipantIDs = append(c.ParticipantIDs, id)
	}
	slices.Sort(c.ParticipantIDs)

	s.chunkLog = append(s.chunkLog, ChunkInfo{
		Label:     c.Label(),
		Timestamp: now,
		Segments:  len(c.Segments),
		Bytes:     c.Bytes(),
	})
	s.metrics.RecordChunk(s.lifetime, final)
	s.publish(Event{Kind: EventChunkEmitted, MeetingID: s.meetingID, GuildID: s.channel.GuildID, ChannelID: s.channel.ChannelID, Chunk: c.Label()})
	slog.Info("recorder: chunk emitted", "meeting_id", s.meetingID, "chunk", c.Label(), "segments", len(c.Segments), "bytes", c.Bytes())
	return c
}

// allCapturesLocked returns retired and current captures, oldest first.
// Must be called with s.mu held.
func (s *RecordingSession) allCapturesLocked() []*ParticipantCapture {
	out := make([]*ParticipantCapture, 0, len(s.retired)+len(s.participants))
	out = append(out, s.retired...)
	for _, c := range s.participants {
		out = append(out, c)
	}
	slices.SortStableFunc(out[len(s.retired):], func(a, b *ParticipantCapture) int {
		switch {
		case a.userID < b.userID:
			return -1
		case a.userID > b.userID:
			return 1
		default:
			return 0
		}
	})
	return out
}

// runForwarder executes forwarding jobs one at a time, which keeps chunks in
// index order behind the start notice.
func (s *RecordingSession) runForwarder() {
	defer close(s.queueDone)
	for job := range s.queue {
		job(s.lifetime)
	}
}

// stop drives the session through Stopping to Completed. It returns
// [ErrNotRecording] if the session has already left Recording. Forwarding
// and disconnect failures are logged and never block the transition.
func (s *RecordingSession) stop(ctx context.Context, reason string) (StopSummary, error) {
	<-s.started

	s.mu.Lock()
	if s.status != StatusRecording {
		s.mu.Unlock()
		return StopSummary{}, ErrNotRecording
	}
	s.status = StatusStopping
	s.stopReason = reason
	s.mu.Unlock()
	s.publish(Event{Kind: EventSessionStopping, MeetingID: s.meetingID, GuildID: s.channel.GuildID, ChannelID: s.channel.ChannelID, Reason: reason})

	// Cancel the scheduler. A tick already in flight has queued its chunk
	// by the time schedDone closes.
	s.schedOnce.Do(func() { close(s.schedStop) })
	<-s.schedDone

	now := time.Now()
	s.mu.Lock()
	captures := s.allCapturesLocked()
	s.mu.Unlock()
	for _, c := range captures {
		c.Stop(now)
	}

	if err := s.conn.Disconnect(); err != nil {
		slog.Warn("recorder: voice disconnect error", "meeting_id", s.meetingID, "channel_id", s.channel.ChannelID, "err", err)
	}

	s.mu.Lock()
	s.endTime = time.Now()
	final := s.buildChunkLocked(true, s.endTime)
	summary := s.stopSummaryLocked()
	finalize := FinalizeNotice{
		MeetingID:       s.meetingID,
		DurationMinutes: summary.DurationMinutes,
		AudioFileCount:  summary.AudioFiles,
	}
	for _, c := range s.participantCapturesLocked() {
		finalize.Participants = append(finalize.Participants, c.Summary(s.endTime))
	}
	s.mu.Unlock()

	// Interval chunks still queued go out first, then final, then finalize.
	close(s.queue)
	<-s.queueDone
	fctx := context.WithoutCancel(ctx)
	s.notifier.chunk(fctx, final)
	s.notifier.finalize(fctx, finalize)

	s.mu.Lock()
	s.status = StatusCompleted
	s.completedAt = time.Now()
	s.mu.Unlock()

	slog.Info("recorder: session completed",
		"meeting_id", s.meetingID,
		"channel_id", s.channel.ChannelID,
		"reason", reason,
		"duration", summary.Duration,
		"participants", summary.ParticipantCount,
		"chunks", summary.ChunkCount,
	)
	return summary, nil
}

// participantCapturesLocked returns one capture per distinct user, the
// latest one for users who rejoined. Must be called with s.mu held.
func (s *RecordingSession) participantCapturesLocked() []*ParticipantCapture {
	all := s.allCapturesLocked()
	return all[len(s.retired):]
}

// stopSummaryLocked builds the stop result. Must be called with s.mu held
// after endTime is set.
func (s *RecordingSession) stopSummaryLocked() StopSummary {
	d := s.endTime.Sub(s.startTime)
	return StopSummary{
		MeetingID:        s.meetingID,
		Status:           StatusCompleted.String(),
		Reason:           s.stopReason,
		StartTime:        s.startTime,
		EndTime:          s.endTime,
		Duration:         d,
		DurationMinutes:  durationMinutes(d),
		ParticipantCount: len(s.participants),
		ChunkCount:       len(s.chunkLog),
		AudioFiles:       len(s.retired) + len(s.participants),
	}
}

// summary returns a point-in-time snapshot of the session.
func (s *RecordingSession) summary(now time.Time) SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	end := now
	if !s.endTime.IsZero() {
		end = s.endTime
	}
	d := end.Sub(s.startTime)
	sum := SessionSummary{
		MeetingID:        s.meetingID,
		GuildID:          s.channel.GuildID,
		ChannelID:        s.channel.ChannelID,
		Title:            s.title,
		Status:           s.status,
		StartTime:        s.startTime,
		EndTime:          s.endTime,
		CompletedAt:      s.completedAt,
		StopReason:       s.stopReason,
		Duration:         d,
		DurationMinutes:  durationMinutes(d),
		ParticipantCount: len(s.participants),
		ChunkCount:       len(s.chunkLog),
		Chunks:           slices.Clone(s.chunkLog),
	}
	for _, c := range s.participantCapturesLocked() {
		ps := c.Summary(end)
		sum.Participants = append(sum.Participants, ParticipantInfo{
			UserID:      ps.UserID,
			DisplayName: ps.DisplayName,
			Speaking:    !c.Paused() && !c.Stopped(),
			Duration:    ps.Duration,
		})
	}
	return sum
}

// durationMinutes truncates d to whole minutes.
func durationMinutes(d time.Duration) int {
	return int(d / time.Minute)
}

// ownsPath reports whether path is the sink of one of the session's captures.
func (s *RecordingSession) ownsPath(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.allCapturesLocked() {
		if c.Path() == path {
			return true
		}
	}
	return false
}
