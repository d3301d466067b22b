package recorder

import (
	"context"
	"log/slog"
)

// notifier is the best-effort face of a [ChunkForwarder]: every call is
// attempted once, failures are logged as [ForwardingError] and swallowed.
// Session progress never depends on its outcome.
type notifier struct {
	fwd     ChunkForwarder
	publish func(Event)
}

func (n *notifier) start(ctx context.Context, sn StartNotice) {
	if err := n.fwd.NotifyStart(ctx, sn); err != nil {
		n.failed(&ForwardingError{MeetingID: sn.MeetingID, Op: "start", Err: err})
	}
}

func (n *notifier) chunk(ctx context.Context, c Chunk) {
	if err := n.fwd.SendChunk(ctx, c); err != nil {
		n.failed(&ForwardingError{MeetingID: c.MeetingID, Op: "chunk", Chunk: c.Label(), Err: err})
		return
	}
	slog.Debug("recorder: chunk forwarded", "meeting_id", c.MeetingID, "chunk", c.Label(), "segments", len(c.Segments), "bytes", c.Bytes())
}

func (n *notifier) finalize(ctx context.Context, fn FinalizeNotice) {
	if err := n.fwd.NotifyFinalize(ctx, fn); err != nil {
		n.failed(&ForwardingError{MeetingID: fn.MeetingID, Op: "finalize", Err: err})
	}
}

func (n *notifier) failed(err *ForwardingError) {
	slog.Warn("recorder: forwarding failed", "meeting_id", err.MeetingID, "op", err.Op, "chunk", err.Chunk, "err", err.Err)
	if n.publish != nil {
		n.publish(Event{Kind: EventForwardFailed, MeetingID: err.MeetingID, Chunk: err.Chunk, Reason: err.Error()})
	}
}
