// Package recorder implements the multi-participant recording core of
// meetscribe.
//
// A [Registry] keeps at most one [RecordingSession] per voice channel. Each
// session captures every speaking participant into a dedicated PCM file via a
// [ParticipantCapture], cuts the captured audio into time-bounded chunks and
// hands them to a [ChunkForwarder]. Stopped sessions stay queryable for a
// retention window and are then swept.
//
// Capture and forwarding faults are logged and isolated; only precondition
// violations and a failed voice handshake are returned to callers.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/meetscribe/internal/observe"
	"github.com/MrWong99/meetscribe/pkg/audio"
)

// Defaults applied by [NewRegistry] to zero-valued config fields.
const (
	DefaultChunkInterval  = 30 * time.Minute
	DefaultMaxDuration    = 3 * time.Hour
	DefaultConnectTimeout = 10 * time.Second
	DefaultRetention      = 24 * time.Hour
	DefaultSweepInterval  = time.Hour
	DefaultTempDir        = "./temp"
)

// RegistryConfig holds the settings and collaborators of a [Registry].
type RegistryConfig struct {
	// Platform joins voice channels. Required.
	Platform audio.Platform

	// Forwarder ships chunks and notices to the processing service. Required.
	Forwarder ChunkForwarder

	// NewDecoder creates one decoder per participant stream. Required.
	NewDecoder audio.DecoderFactory

	// Format describes the PCM produced by NewDecoder.
	Format audio.PCMFormat

	// Directory resolves participant display names. Optional.
	Directory audio.Directory

	// Metrics records recorder instruments. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Listener receives lifecycle events. Called synchronously; must not block.
	Listener func(Event)

	TempDir        string
	ChunkInterval  time.Duration
	MaxDuration    time.Duration
	ConnectTimeout time.Duration
	Retention      time.Duration
	SweepInterval  time.Duration

	// NewMeetingID overrides meeting ID generation. Defaults to random UUIDs.
	NewMeetingID func() string
}

// StartOptions are the optional inputs of [Registry.Start].
type StartOptions struct {
	// MeetingID, when empty, is generated.
	MeetingID string
	Title     string
	// MaxDuration overrides the registry default for this session when > 0.
	MaxDuration time.Duration
}

// Registry owns every recording session, active or recently completed. All
// sessions live in one store keyed by meeting ID; a channel index enforces
// one session per channel while it is Recording or Stopping.
//
// The registry lock only guards map access. Voice handshakes and session
// teardown run outside it, so operations on different channels never wait
// for each other.
//
// All exported methods are safe for concurrent use.
type Registry struct {
	cfg     RegistryConfig
	metrics *observe.Metrics

	mu       sync.Mutex
	sessions map[string]*RecordingSession // by meeting ID
	channels map[string]string            // channel ID -> meeting ID; "" while connecting
	timers   map[string]*time.Timer       // max-duration timers by meeting ID
	closed   bool

	done     chan struct{}
	stopOnce sync.Once
	loopDone chan struct{}
}

// NewRegistry creates a Registry. Zero-valued durations fall back to the
// package defaults.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Platform == nil || cfg.Forwarder == nil || cfg.NewDecoder == nil {
		return nil, errors.New("recorder: platform, forwarder and decoder factory are required")
	}
	if cfg.TempDir == "" {
		cfg.TempDir = DefaultTempDir
	}
	if cfg.ChunkInterval <= 0 {
		cfg.ChunkInterval = DefaultChunkInterval
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = DefaultMaxDuration
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Format.SampleRate == 0 {
		cfg.Format = audio.PCMFormat{SampleRate: 48000, Channels: 1}
	}
	if cfg.NewMeetingID == nil {
		cfg.NewMeetingID = uuid.NewString
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Registry{
		cfg:      cfg,
		metrics:  m,
		sessions: make(map[string]*RecordingSession),
		channels: make(map[string]string),
		timers:   make(map[string]*time.Timer),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}, nil
}

// Run starts the retention sweep in a background goroutine. The sweep runs
// every SweepInterval until [Registry.Shutdown] is called or ctx ends.
func (r *Registry) Run(ctx context.Context) {
	go r.sweepLoop(ctx)
}

// sweepLoop runs the periodic retention sweep.
func (r *Registry) sweepLoop(ctx context.Context) {
	defer close(r.loopDone)
	t := time.NewTicker(r.cfg.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case now := <-t.C:
			if n := r.Sweep(now); n > 0 {
				slog.Info("recorder: retention sweep purged sessions", "count", n)
			}
		}
	}
}

// Start creates a session for ch and joins the voice channel. It fails with
// [ErrAlreadyRecording] if the channel already has a session in Recording or
// Stopping, and with [ErrConnectionTimeout] if the handshake does not finish
// within ConnectTimeout. On failure no session is created.
func (r *Registry) Start(ctx context.Context, ch audio.Channel, opts StartOptions) (SessionHandle, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return SessionHandle{}, errors.New("recorder: registry is shut down")
	}
	if _, busy := r.channels[ch.ChannelID]; busy {
		r.mu.Unlock()
		return SessionHandle{}, ErrAlreadyRecording
	}
	if opts.MeetingID != "" {
		if _, dup := r.sessions[opts.MeetingID]; dup {
			r.mu.Unlock()
			return SessionHandle{}, ErrDuplicateMeeting
		}
	}
	// Reserve the channel while connecting.
	r.channels[ch.ChannelID] = ""
	interval, maxDur := r.cfg.ChunkInterval, r.cfg.MaxDuration
	r.mu.Unlock()

	release := func() {
		r.mu.Lock()
		if r.channels[ch.ChannelID] == "" {
			delete(r.channels, ch.ChannelID)
		}
		r.mu.Unlock()
	}

	cctx, cancel := context.WithTimeout(ctx, r.cfg.ConnectTimeout)
	conn, err := r.cfg.Platform.Connect(cctx, ch)
	cancel()
	if err != nil {
		release()
		if errors.Is(err, audio.ErrConnectTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return SessionHandle{}, fmt.Errorf("%w: %w", ErrConnectionTimeout, err)
		}
		return SessionHandle{}, fmt.Errorf("recorder: connect to voice channel: %w", err)
	}

	meetingID := opts.MeetingID
	if meetingID == "" {
		meetingID = r.cfg.NewMeetingID()
	}
	if opts.MaxDuration > 0 {
		maxDur = opts.MaxDuration
	}

	onLost := func() {
		go r.expire(ch.ChannelID, meetingID, ReasonConnectionLost)
	}
	sess := newSession(sessionConfig{
		MeetingID:     meetingID,
		Title:         opts.Title,
		Channel:       ch,
		Conn:          conn,
		Directory:     r.cfg.Directory,
		NewDecoder:    r.cfg.NewDecoder,
		Format:        r.cfg.Format,
		TempDir:       r.cfg.TempDir,
		ChunkInterval: interval,
		Forwarder:     r.cfg.Forwarder,
		Metrics:       r.metrics,
		Publish:       r.publish,
		OnLost:        onLost,
	})
	// A concurrent Shutdown either refuses this session here or stops it.
	r.mu.Lock()
	if _, dup := r.sessions[meetingID]; dup {
		r.mu.Unlock()
		release()
		if derr := conn.Disconnect(); derr != nil {
			slog.Warn("recorder: disconnect after duplicate meeting", "channel_id", ch.ChannelID, "err", derr)
		}
		return SessionHandle{}, ErrDuplicateMeeting
	}
	if r.closed {
		r.mu.Unlock()
		release()
		if derr := conn.Disconnect(); derr != nil {
			slog.Warn("recorder: disconnect after shutdown", "channel_id", ch.ChannelID, "err", derr)
		}
		return SessionHandle{}, errors.New("recorder: registry is shut down")
	}
	r.sessions[meetingID] = sess
	r.channels[ch.ChannelID] = meetingID
	r.timers[meetingID] = time.AfterFunc(maxDur, func() {
		r.expire(ch.ChannelID, meetingID, ReasonMaxDuration)
	})
	r.mu.Unlock()

	r.metrics.SessionsStarted.Add(ctx, 1)
	r.metrics.ActiveSessions.Add(ctx, 1)
	sess.begin(ctx)

	r.publish(Event{Kind: EventSessionStarted, MeetingID: meetingID, GuildID: ch.GuildID, ChannelID: ch.ChannelID})
	slog.Info("recorder: session started",
		"meeting_id", meetingID,
		"guild_id", ch.GuildID,
		"channel_id", ch.ChannelID,
		"title", opts.Title,
		"max_duration", maxDur,
	)

	s := sess.summary(time.Now())
	return SessionHandle{
		MeetingID:   meetingID,
		GuildID:     ch.GuildID,
		ChannelID:   ch.ChannelID,
		Title:       opts.Title,
		StartTime:   s.StartTime,
		MaxDuration: maxDur,
	}, nil
}

// SetDefaults changes the chunk interval and maximum duration applied to
// sessions started afterwards. Zero values leave a setting unchanged.
func (r *Registry) SetDefaults(chunkInterval, maxDuration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if chunkInterval > 0 {
		r.cfg.ChunkInterval = chunkInterval
	}
	if maxDuration > 0 {
		r.cfg.MaxDuration = maxDuration
	}
}

// expire stops a session when its max-duration timer fires or its voice
// link drops, provided the channel still belongs to that meeting.
func (r *Registry) expire(channelID, meetingID, reason string) {
	r.mu.Lock()
	current := r.channels[channelID]
	r.mu.Unlock()
	if current != meetingID {
		return
	}
	slog.Info("recorder: stopping session", "meeting_id", meetingID, "channel_id", channelID, "reason", reason)
	if _, err := r.Stop(context.Background(), channelID, reason); err != nil && !errors.Is(err, ErrNotRecording) {
		slog.Warn("recorder: automatic stop failed", "meeting_id", meetingID, "reason", reason, "err", err)
	}
}

// Stop drives the channel's session through Stopping to Completed and
// returns its summary. It fails with [ErrNotRecording] if the channel has no
// session in Recording.
func (r *Registry) Stop(ctx context.Context, channelID, reason string) (StopSummary, error) {
	r.mu.Lock()
	meetingID := r.channels[channelID]
	sess := r.sessions[meetingID]
	r.mu.Unlock()
	if meetingID == "" || sess == nil {
		return StopSummary{}, ErrNotRecording
	}

	summary, err := sess.stop(ctx, reason)
	if err != nil {
		return StopSummary{}, err
	}

	r.mu.Lock()
	if t, ok := r.timers[meetingID]; ok {
		t.Stop()
		delete(r.timers, meetingID)
	}
	if r.channels[channelID] == meetingID {
		delete(r.channels, channelID)
	}
	r.mu.Unlock()

	r.metrics.ActiveSessions.Add(ctx, -1)
	r.metrics.RecordSessionStopped(ctx, reason)
	r.publish(Event{Kind: EventSessionComplete, MeetingID: meetingID, ChannelID: channelID, Reason: reason})
	return summary, nil
}

// GetActive returns summaries of all sessions in Recording or Stopping,
// oldest first. Durations are measured up to now.
func (r *Registry) GetActive() []SessionSummary {
	now := time.Now()
	var out []SessionSummary
	for _, s := range r.snapshot() {
		if s.Status() == StatusCompleted {
			continue
		}
		out = append(out, s.summary(now))
	}
	slices.SortFunc(out, func(a, b SessionSummary) int { return a.StartTime.Compare(b.StartTime) })
	return out
}

// ActiveForChannel returns the summary of the channel's running session.
func (r *Registry) ActiveForChannel(channelID string) (SessionSummary, bool) {
	r.mu.Lock()
	sess := r.sessions[r.channels[channelID]]
	r.mu.Unlock()
	if sess == nil {
		return SessionSummary{}, false
	}
	return sess.summary(time.Now()), true
}

// FindByMeetingID returns the session with the given meeting ID, whether it
// is running or completed. Completed sessions older than the retention
// window are reported as not found even before the sweep removes them.
func (r *Registry) FindByMeetingID(meetingID string) (SessionSummary, bool) {
	r.mu.Lock()
	sess := r.sessions[meetingID]
	r.mu.Unlock()
	if sess == nil {
		return SessionSummary{}, false
	}
	now := time.Now()
	s := sess.summary(now)
	if r.expired(s, now) {
		return SessionSummary{}, false
	}
	return s, true
}

// Sweep purges completed sessions whose age exceeds the retention window
// and returns how many were removed. Audio files are left to the temp-file
// cleaner.
func (r *Registry) Sweep(now time.Time) int {
	var purged []string
	r.mu.Lock()
	for id, sess := range r.sessions {
		if r.expired(sess.summary(now), now) {
			delete(r.sessions, id)
			purged = append(purged, id)
		}
	}
	r.mu.Unlock()

	for _, id := range purged {
		r.publish(Event{Kind: EventSessionPurged, MeetingID: id})
	}
	return len(purged)
}

// expired reports whether a completed session has outlived the retention
// window.
func (r *Registry) expired(s SessionSummary, now time.Time) bool {
	return s.Status == StatusCompleted && now.Sub(s.CompletedAt) > r.cfg.Retention
}

// Shutdown stops every active session with reason "shutdown", in parallel
// and each independently best-effort, then clears completed records and the
// sweep loop. Further Start calls fail.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	channels := make([]string, 0, len(r.channels))
	for ch, id := range r.channels {
		if id != "" {
			channels = append(channels, ch)
		}
	}
	r.mu.Unlock()

	var g errgroup.Group
	for _, ch := range channels {
		g.Go(func() error {
			if _, err := r.Stop(ctx, ch, ReasonShutdown); err != nil && !errors.Is(err, ErrNotRecording) {
				slog.Warn("recorder: shutdown stop failed", "channel_id", ch, "err", err)
			}
			return nil
		})
	}
	stopped := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(stopped)
	}()

	var err error
	select {
	case <-stopped:
	case <-ctx.Done():
		err = ctx.Err()
	}

	r.stopOnce.Do(func() { close(r.done) })

	r.mu.Lock()
	for id, sess := range r.sessions {
		if sess.Status() == StatusCompleted {
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()
	return err
}

// snapshot returns the sessions currently in the store.
func (r *Registry) snapshot() []*RecordingSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*RecordingSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// publish stamps and delivers an event to the listener.
func (r *Registry) publish(ev Event) {
	if r.cfg.Listener == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	r.cfg.Listener(ev)
}

// InUse reports whether path is a sink file of a session that has not yet
// completed. The temp-file cleaner skips such files.
func (r *Registry) InUse(path string) bool {
	for _, s := range r.snapshot() {
		if s.Status() != StatusCompleted && s.ownsPath(path) {
			return true
		}
	}
	return false
}
