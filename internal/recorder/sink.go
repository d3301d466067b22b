package recorder

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const sinkBufferSize = 64 * 1024

// errSinkClosed is returned when writing to a closed sink.
var errSinkClosed = errors.New("recorder: sink closed")

// fileSink is the exclusively-owned PCM file a participant capture writes
// into. Bytes are referenced by chunks through byte ranges; a sink is never
// truncated or moved.
type fileSink struct {
	path string

	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	size   int64 // bytes accepted, including buffered ones
	mark   int64 // bytes already handed to a chunk
	closed bool
}

// sinkFileName returns the file name for a participant's PCM data.
func sinkFileName(meetingID, userID string, t time.Time) string {
	return fmt.Sprintf("%s_%s_%d.pcm", meetingID, userID, t.UnixMilli())
}

// openSink creates a new sink file in dir.
func openSink(dir, meetingID, userID string, t time.Time) (*fileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	path := filepath.Join(dir, sinkFileName(meetingID, userID, t))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &fileSink{
		path: path,
		f:    f,
		w:    bufio.NewWriterSize(f, sinkBufferSize),
	}, nil
}

// Write appends PCM data.
func (s *fileSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errSinkClosed
	}
	n, err := s.w.Write(p)
	s.size += int64(n)
	return n, err
}

// Mark flushes buffered data and returns the byte range written since the
// previous mark. A closed sink still reports its unmarked remainder.
func (s *fileSink) Mark() (offset, length int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		if err := s.w.Flush(); err != nil {
			return 0, 0, err
		}
	}
	offset, length = s.mark, s.size-s.mark
	s.mark = s.size
	return offset, length, nil
}

// Size returns the number of bytes accepted so far.
func (s *fileSink) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Close flushes and closes the file. Calling Close again is a no-op.
func (s *fileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	flushErr := s.w.Flush()
	closeErr := s.f.Close()
	return errors.Join(flushErr, closeErr)
}
