package recorder

import (
	"errors"
	"os"
	"testing"
	"testing/synctest"
	"time"

	"github.com/MrWong99/meetscribe/internal/observe"
	"github.com/MrWong99/meetscribe/pkg/audio"
	"github.com/MrWong99/meetscribe/pkg/audio/mock"
)

var testFormat = audio.PCMFormat{SampleRate: 48000, Channels: 1}

func newTestCapture(t *testing.T, conn *mock.Connection, factory audio.DecoderFactory) *ParticipantCapture {
	t.Helper()
	c, err := newCapture(captureConfig{
		MeetingID:  "m1",
		UserID:     "alice",
		TempDir:    t.TempDir(),
		Format:     testFormat,
		Conn:       conn,
		NewDecoder: factory,
		Metrics:    observe.DefaultMetrics(),
		Now:        time.Now(),
	})
	if err != nil {
		t.Fatalf("newCapture: %v", err)
	}
	return c
}

func TestCapture_WritesDecodedPackets(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		conn := &mock.Connection{}
		c := newTestCapture(t, conn, mock.NewDecoder)
		defer c.Stop(time.Now())

		conn.Send("alice", audio.Packet{Opus: []byte{1, 2, 3}})
		conn.Send("alice", audio.Packet{Opus: []byte{4, 5}})
		synctest.Wait()

		if got := c.BytesWritten(); got != 5 {
			t.Fatalf("BytesWritten = %d, want 5", got)
		}
		seg, ok := c.Mark()
		if !ok {
			t.Fatal("Mark reported no new data")
		}
		if seg.UserID != "alice" || seg.Offset != 0 || seg.Length != 5 {
			t.Errorf("segment = %+v, want alice [0,5)", seg)
		}
		if _, ok := c.Mark(); ok {
			t.Error("second Mark reported data, want none")
		}
	})
}

func TestCapture_PauseResumeKeepsSink(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		conn := &mock.Connection{}
		c := newTestCapture(t, conn, mock.NewDecoder)
		defer c.Stop(time.Now())
		path := c.Path()

		c.Pause(time.Now())
		if !c.Paused() {
			t.Fatal("Paused = false after Pause")
		}
		if !c.Resume() {
			t.Error("Resume = false, want true for a paused capture")
		}
		if c.Resume() {
			t.Error("Resume on a running capture = true, want false")
		}
		if c.Path() != path {
			t.Errorf("sink path changed from %q to %q", path, c.Path())
		}
		if n := len(conn.SubscribeCalls); n != 1 {
			t.Errorf("Subscribe called %d times, want 1", n)
		}
	})
}

func TestCapture_DecodeFaultSkipsPacket(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		conn := &mock.Connection{}
		dec := &mock.Decoder{FailOn: true, FailByte: 0xFF, Err: errors.New("corrupt frame")}
		c := newTestCapture(t, conn, func() (audio.Decoder, error) { return dec, nil })
		defer c.Stop(time.Now())

		conn.Send("alice", audio.Packet{Opus: []byte{1, 1}})
		conn.Send("alice", audio.Packet{Opus: []byte{0xFF, 0}})
		conn.Send("alice", audio.Packet{Opus: []byte{2, 2, 2}})
		synctest.Wait()

		if got := c.BytesWritten(); got != 5 {
			t.Errorf("BytesWritten = %d, want 5 (corrupt frame skipped)", got)
		}
	})
}

func TestCapture_StopDrainsBufferedPackets(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		conn := &mock.Connection{}
		c := newTestCapture(t, conn, mock.NewDecoder)

		for range 50 {
			conn.Send("alice", audio.Packet{Opus: []byte{9, 9}})
		}
		c.Stop(time.Now())

		if got := c.BytesWritten(); got != 100 {
			t.Errorf("BytesWritten = %d, want 100", got)
		}
		data, err := os.ReadFile(c.Path())
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		if len(data) != 100 {
			t.Errorf("file size = %d, want 100", len(data))
		}
		if !c.Stopped() {
			t.Error("Stopped = false after Stop")
		}
		if c.Resume() {
			t.Error("Resume on stopped capture = true")
		}
		if n := len(conn.UnsubscribeCalls); n != 1 {
			t.Errorf("Unsubscribe called %d times, want 1", n)
		}
	})
}

func TestCapture_StopIsIdempotent(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		conn := &mock.Connection{}
		c := newTestCapture(t, conn, mock.NewDecoder)
		c.Stop(time.Now())
		c.Stop(time.Now())
		if n := len(conn.UnsubscribeCalls); n != 1 {
			t.Errorf("Unsubscribe called %d times, want 1", n)
		}
	})
}

func TestCapture_SummaryDuration(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		conn := &mock.Connection{}
		c := newTestCapture(t, conn, mock.NewDecoder)
		c.SetIdentity(audio.Member{UserID: "alice", Username: "alice01", DisplayName: "Alice"})

		time.Sleep(2 * time.Minute)
		if d := c.Summary(time.Now()).Duration; d != 2*time.Minute {
			t.Errorf("running Summary duration = %v, want 2m", d)
		}

		c.Stop(time.Now())
		time.Sleep(time.Minute)
		s := c.Summary(time.Now())
		if s.Duration != 2*time.Minute {
			t.Errorf("stopped Summary duration = %v, want 2m", s.Duration)
		}
		if s.DisplayName != "Alice" || s.Username != "alice01" {
			t.Errorf("identity = %q/%q, want Alice/alice01", s.DisplayName, s.Username)
		}
	})
}

func TestNewCapture_DecoderFailure(t *testing.T) {
	t.Parallel()

	conn := &mock.Connection{}
	_, err := newCapture(captureConfig{
		MeetingID:  "m1",
		UserID:     "alice",
		TempDir:    t.TempDir(),
		Format:     testFormat,
		Conn:       conn,
		NewDecoder: func() (audio.Decoder, error) { return nil, errors.New("no codec") },
		Metrics:    observe.DefaultMetrics(),
		Now:        time.Now(),
	})
	var cerr *CaptureError
	if !errors.As(err, &cerr) || cerr.Op != "open" {
		t.Fatalf("err = %v, want CaptureError for op open", err)
	}
	if len(conn.SubscribeCalls) != 0 {
		t.Error("Subscribe called despite decoder failure")
	}
}
