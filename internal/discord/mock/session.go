// Package mock provides test doubles for Discord interaction testing.
package mock

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// InteractionResponder records interaction responses for test assertions.
type InteractionResponder struct {
	// Responses records all InteractionRespond calls.
	Responses []*discordgo.InteractionResponse

	// FollowUps records all FollowupMessageCreate calls.
	FollowUps []*discordgo.WebhookParams

	// Err is returned by InteractionRespond and FollowupMessageCreate
	// when non-nil, allowing error injection.
	Err error
}

// InteractionRespond records the response and returns the configured error.
func (m *InteractionResponder) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	m.Responses = append(m.Responses, resp)
	return m.Err
}

// FollowupMessageCreate records the follow-up and returns a stub message.
func (m *InteractionResponder) FollowupMessageCreate(_ *discordgo.Interaction, _ bool, params *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.FollowUps = append(m.FollowUps, params)
	if m.Err != nil {
		return nil, m.Err
	}
	return &discordgo.Message{ID: "mock-followup"}, nil
}

// LastResponse returns the most recently recorded response, or nil.
func (m *InteractionResponder) LastResponse() *discordgo.InteractionResponse {
	if len(m.Responses) == 0 {
		return nil
	}
	return m.Responses[len(m.Responses)-1]
}

// LastFollowUp returns the most recently recorded follow-up, or nil.
func (m *InteractionResponder) LastFollowUp() *discordgo.WebhookParams {
	if len(m.FollowUps) == 0 {
		return nil
	}
	return m.FollowUps[len(m.FollowUps)-1]
}

// LastEmbed returns the first embed of the latest follow-up or response.
// Follow-ups take precedence because deferred commands answer through them.
func (m *InteractionResponder) LastEmbed() *discordgo.MessageEmbed {
	if f := m.LastFollowUp(); f != nil && len(f.Embeds) > 0 {
		return f.Embeds[0]
	}
	if r := m.LastResponse(); r != nil && r.Data != nil && len(r.Data.Embeds) > 0 {
		return r.Data.Embeds[0]
	}
	return nil
}

// LastContent returns the text of the latest follow-up or response.
func (m *InteractionResponder) LastContent() string {
	if f := m.LastFollowUp(); f != nil {
		return f.Content
	}
	if r := m.LastResponse(); r != nil && r.Data != nil {
		return r.Data.Content
	}
	return ""
}

// Reset clears all recorded interactions and errors.
func (m *InteractionResponder) Reset() {
	m.Responses = nil
	m.FollowUps = nil
	m.Err = nil
}

// SentMessage is one message posted through [MessageSender].
type SentMessage struct {
	ChannelID string
	MessageID string
	Send      *discordgo.MessageSend
}

// MessageSender records posted and edited channel messages. It is safe for
// concurrent use.
type MessageSender struct {
	// Err is returned by both methods when non-nil.
	Err error

	mu    sync.Mutex
	sent  []SentMessage
	edits []*discordgo.MessageEdit
}

// ChannelMessageSendComplex records the message and returns it with a
// sequential ID.
func (m *MessageSender) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	id := fmt.Sprintf("msg-%d", len(m.sent)+1)
	m.sent = append(m.sent, SentMessage{ChannelID: channelID, MessageID: id, Send: data})
	return &discordgo.Message{ID: id, ChannelID: channelID}, nil
}

// ChannelMessageEditComplex records the edit.
func (m *MessageSender) ChannelMessageEditComplex(edit *discordgo.MessageEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	m.edits = append(m.edits, edit)
	return &discordgo.Message{ID: edit.ID, ChannelID: edit.Channel}, nil
}

// Sent returns a copy of the posted messages.
func (m *MessageSender) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}

// Edits returns a copy of the recorded edits.
func (m *MessageSender) Edits() []*discordgo.MessageEdit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*discordgo.MessageEdit(nil), m.edits...)
}
