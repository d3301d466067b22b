package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/meetscribe/internal/recorder"
	"github.com/MrWong99/meetscribe/internal/webhook"
)

var _ webhook.Notifier = (*CompletionNotifier)(nil)

// CompletionNotifier posts the download links of a processed meeting to the
// text chat of the voice channel it was recorded in.
type CompletionNotifier struct {
	sender MessageSender
}

// NewCompletionNotifier creates a notifier posting through sender.
func NewCompletionNotifier(sender MessageSender) *CompletionNotifier {
	return &CompletionNotifier{sender: sender}
}

// NotifyCompleted implements [webhook.Notifier].
func (n *CompletionNotifier) NotifyCompleted(ctx context.Context, s recorder.SessionSummary, c webhook.Completion) error {
	if s.ChannelID == "" {
		return errors.New("discord: session has no channel")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := n.sender.ChannelMessageSendComplex(s.ChannelID, CompletionMessage(s, c))
	if err != nil {
		return fmt.Errorf("discord: post completion for meeting %s: %w", s.MeetingID, err)
	}
	slog.Info("discord: completion message sent",
		"meeting_id", s.MeetingID,
		"channel_id", s.ChannelID,
		"message_id", msg.ID,
	)
	return nil
}
