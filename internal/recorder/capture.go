package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/meetscribe/internal/observe"
	"github.com/MrWong99/meetscribe/pkg/audio"
)

// ParticipantCapture owns one user's audio pipeline within a session:
// compressed packets are decoded to PCM and appended to an exclusively owned
// sink file. Speaking events only toggle the paused flag; the same sink keeps
// accumulating across pause/resume cycles.
//
// All methods are safe for concurrent use.
type ParticipantCapture struct {
	meetingID string
	userID    string
	format    audio.PCMFormat
	metrics   *observe.Metrics

	sink        *fileSink
	decoder     audio.Decoder
	packets     <-chan audio.Packet
	unsubscribe func()

	mu          sync.Mutex
	username    string
	displayName string
	paused      bool
	pausedAt    time.Time
	startTime   time.Time
	endTime     time.Time
	stopped     bool
	writeFailed bool

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// captureConfig holds everything needed to open a capture.
type captureConfig struct {
	MeetingID  string
	UserID     string
	TempDir    string
	Format     audio.PCMFormat
	Conn       audio.Connection
	NewDecoder audio.DecoderFactory
	Metrics    *observe.Metrics
	Now        time.Time
}

// newCapture allocates the sink, subscribes to the user's audio and starts
// the decode-and-write goroutine.
func newCapture(cfg captureConfig) (*ParticipantCapture, error) {
	dec, err := cfg.NewDecoder()
	if err != nil {
		return nil, &CaptureError{MeetingID: cfg.MeetingID, UserID: cfg.UserID, Op: "open", Err: err}
	}
	sink, err := openSink(cfg.TempDir, cfg.MeetingID, cfg.UserID, cfg.Now)
	if err != nil {
		return nil, &CaptureError{MeetingID: cfg.MeetingID, UserID: cfg.UserID, Op: "open", Err: err}
	}

	c := &ParticipantCapture{
		meetingID:   cfg.MeetingID,
		userID:      cfg.UserID,
		format:      cfg.Format,
		metrics:     cfg.Metrics,
		sink:        sink,
		decoder:     dec,
		packets:     cfg.Conn.Subscribe(cfg.UserID),
		unsubscribe: func() { cfg.Conn.Unsubscribe(cfg.UserID) },
		displayName: cfg.UserID,
		startTime:   cfg.Now,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	c.metrics.ActiveCaptures.Add(context.Background(), 1)
	go c.run()
	return c, nil
}

// UserID returns the captured user's ID.
func (c *ParticipantCapture) UserID() string { return c.userID }

// Resume clears the paused flag. It reports whether the capture was paused.
// A stopped capture cannot be resumed.
func (c *ParticipantCapture) Resume() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || !c.paused {
		return false
	}
	c.paused = false
	return true
}

// Pause marks the user as not speaking. The timestamp is kept for
// diagnostics; the sink is not truncated.
func (c *ParticipantCapture) Pause(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.paused {
		return
	}
	c.paused = true
	c.pausedAt = now
}

// Paused reports whether the user is currently silent.
func (c *ParticipantCapture) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Stopped reports whether Stop has been called.
func (c *ParticipantCapture) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// SetIdentity records the resolved names of the user.
func (c *ParticipantCapture) SetIdentity(m audio.Member) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.username = m.Username
	c.displayName = m.Name()
}

// Stop ends the input stream, drains buffered packets into the sink, then
// flushes and closes it. Stop is idempotent.
func (c *ParticipantCapture) Stop(now time.Time) {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		c.endTime = now
		if c.endTime.Before(c.startTime) {
			c.endTime = c.startTime
		}
		c.mu.Unlock()

		c.unsubscribe()
		close(c.stop)
		<-c.done

		if err := c.sink.Close(); err != nil {
			c.fault("close", err)
		}
		c.metrics.ActiveCaptures.Add(context.Background(), -1)
	})
}

// Mark returns a segment covering the bytes written since the previous mark.
// ok is false when nothing new was written.
func (c *ParticipantCapture) Mark() (seg Segment, ok bool) {
	offset, length, err := c.sink.Mark()
	if err != nil {
		c.fault("write", err)
		return Segment{}, false
	}
	if length == 0 {
		return Segment{}, false
	}
	c.mu.Lock()
	name := c.displayName
	c.mu.Unlock()
	return Segment{
		UserID:      c.userID,
		DisplayName: name,
		Path:        c.sink.path,
		Offset:      offset,
		Length:      length,
		Duration:    c.format.Duration(length),
	}, true
}

// Summary returns the participant summary used in the finalize notice.
// Until Stop is called the duration runs up to now.
func (c *ParticipantCapture) Summary(now time.Time) ParticipantSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	end := now
	if c.stopped {
		end = c.endTime
	}
	return ParticipantSummary{
		UserID:      c.userID,
		Username:    c.username,
		DisplayName: c.displayName,
		Duration:    end.Sub(c.startTime),
	}
}

// Path returns the sink file path.
func (c *ParticipantCapture) Path() string { return c.sink.path }

// BytesWritten returns the number of PCM bytes accepted by the sink.
func (c *ParticipantCapture) BytesWritten() int64 { return c.sink.Size() }

// run decodes packets into the sink until the stream closes or Stop is
// called. Faults are logged and isolated to this participant.
func (c *ParticipantCapture) run() {
	defer close(c.done)
	for {
		select {
		case pkt, ok := <-c.packets:
			if !ok {
				return
			}
			c.handle(pkt)
		case <-c.stop:
			// Keep what already arrived.
			for {
				select {
				case pkt, ok := <-c.packets:
					if !ok {
						return
					}
					c.handle(pkt)
				default:
					return
				}
			}
		}
	}
}

// handle decodes and writes one packet.
func (c *ParticipantCapture) handle(pkt audio.Packet) {
	pcm, err := c.decoder.Decode(pkt.Opus)
	if err != nil {
		c.fault("decode", err)
		return
	}

	c.mu.Lock()
	failed := c.writeFailed
	c.mu.Unlock()
	if failed {
		return
	}

	n, err := c.sink.Write(pcm)
	if n > 0 {
		c.metrics.CapturedBytes.Add(context.Background(), int64(n))
	}
	if err != nil {
		c.mu.Lock()
		c.writeFailed = true
		c.mu.Unlock()
		c.fault("write", err)
	}
}

// fault logs a capture error and records it.
func (c *ParticipantCapture) fault(op string, err error) {
	cerr := &CaptureError{MeetingID: c.meetingID, UserID: c.userID, Op: op, Err: err}
	slog.Warn("recorder: capture fault", "meeting_id", c.meetingID, "user_id", c.userID, "op", op, "err", cerr)
	c.metrics.RecordCaptureError(context.Background(), op)
}
