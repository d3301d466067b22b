package recorder

import (
	"errors"
	"fmt"
)

// Precondition and connection errors. They are returned synchronously from
// [Registry.Start] and [Registry.Stop] and leave registry state unchanged.
var (
	// ErrAlreadyRecording is returned by Start when the channel already has a
	// session in Recording or Stopping.
	ErrAlreadyRecording = errors.New("recorder: channel is already being recorded")

	// ErrNotRecording is returned by Stop when the channel has no session in
	// Recording.
	ErrNotRecording = errors.New("recorder: channel is not being recorded")

	// ErrConnectionTimeout is returned by Start when the voice handshake does
	// not complete in time. No session is created.
	ErrConnectionTimeout = errors.New("recorder: voice connection timed out")

	// ErrDuplicateMeeting is returned by Start when a caller-supplied meeting
	// ID is already known to the registry.
	ErrDuplicateMeeting = errors.New("recorder: meeting id already in use")
)

// CaptureError reports a fault in one participant's pipeline. It is logged
// and never stops the session or other participants.
type CaptureError struct {
	MeetingID string
	UserID    string
	// Op is one of "open", "decode", "write" or "close".
	Op  string
	Err error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("recorder: capture %s failed for user %s in meeting %s: %v", e.Op, e.UserID, e.MeetingID, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// ForwardingError reports a failed call to the processing service. It is
// logged and never retried or surfaced to the caller of Stop.
type ForwardingError struct {
	MeetingID string
	// Op is one of "start", "chunk" or "finalize".
	Op string
	// Chunk is the chunk label for Op "chunk".
	Chunk string
	Err   error
}

func (e *ForwardingError) Error() string {
	if e.Chunk != "" {
		return fmt.Sprintf("recorder: forward %s %s for meeting %s: %v", e.Op, e.Chunk, e.MeetingID, e.Err)
	}
	return fmt.Sprintf("recorder: forward %s for meeting %s: %v", e.Op, e.MeetingID, e.Err)
}

func (e *ForwardingError) Unwrap() error { return e.Err }
