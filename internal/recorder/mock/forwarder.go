// Package mock provides a recording test double for [recorder.ChunkForwarder].
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/MrWong99/meetscribe/internal/recorder"
)

// Call is one recorded forwarder invocation.
type Call struct {
	// Op is "start", "chunk" or "finalize".
	Op       string
	Start    recorder.StartNotice
	Chunk    recorder.Chunk
	Finalize recorder.FinalizeNotice
	// Payload maps user ID to the bytes read from the chunk's segments.
	Payload map[string][]byte
}

// Forwarder is a mock [recorder.ChunkForwarder]. It records every call in
// order and reads segment bytes at call time, like a real uploader would.
type Forwarder struct {
	mu sync.Mutex

	// StartError, ChunkError and FinalizeError are returned by the matching
	// method when non-nil.
	StartError    error
	ChunkError    error
	FinalizeError error

	// Calls records every invocation in order.
	Calls []Call

	// OnCall, when set, runs after a call is recorded.
	OnCall func(Call)
}

// NotifyStart implements [recorder.ChunkForwarder].
func (f *Forwarder) NotifyStart(_ context.Context, n recorder.StartNotice) error {
	return f.record(Call{Op: "start", Start: n}, func() error { return f.StartError })
}

// SendChunk implements [recorder.ChunkForwarder].
func (f *Forwarder) SendChunk(_ context.Context, c recorder.Chunk) error {
	payload := make(map[string][]byte, len(c.Segments))
	for _, seg := range c.Segments {
		rc, err := seg.Open()
		if err != nil {
			continue
		}
		b, _ := io.ReadAll(rc)
		rc.Close()
		payload[seg.UserID] = append(payload[seg.UserID], b...)
	}
	return f.record(Call{Op: "chunk", Chunk: c, Payload: payload}, func() error { return f.ChunkError })
}

// NotifyFinalize implements [recorder.ChunkForwarder].
func (f *Forwarder) NotifyFinalize(_ context.Context, n recorder.FinalizeNotice) error {
	return f.record(Call{Op: "finalize", Finalize: n}, func() error { return f.FinalizeError })
}

func (f *Forwarder) record(c Call, errFn func() error) error {
	f.mu.Lock()
	f.Calls = append(f.Calls, c)
	hook := f.OnCall
	err := errFn()
	f.mu.Unlock()
	if hook != nil {
		hook(c)
	}
	return err
}

// Snapshot returns a copy of the recorded calls.
func (f *Forwarder) Snapshot() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.Calls))
	copy(out, f.Calls)
	return out
}

// Ops returns the Op of every recorded call in order.
func (f *Forwarder) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.Calls))
	for i, c := range f.Calls {
		out[i] = c.Op
	}
	return out
}

// Chunks returns the recorded chunk calls in order.
func (f *Forwarder) Chunks() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.Calls {
		if c.Op == "chunk" {
			out = append(out, c)
		}
	}
	return out
}
