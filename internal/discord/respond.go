package discord

import (
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// Responder answers interactions. *discordgo.Session implements it.
type Responder interface {
	InteractionRespond(i *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	FollowupMessageCreate(i *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// RespondEphemeral sends an ephemeral text response to an interaction.
func RespondEphemeral(r Responder, i *discordgo.InteractionCreate, content string) {
	err := r.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		slog.Warn("discord: failed to send ephemeral response", "err", err)
	}
}

// RespondEmbed sends a public embed response to an interaction.
func RespondEmbed(r Responder, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	err := r.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
		},
	})
	if err != nil {
		slog.Warn("discord: failed to send embed response", "err", err)
	}
}

// RespondError sends a formatted error response (ephemeral).
func RespondError(r Responder, i *discordgo.InteractionCreate, err error) {
	RespondEphemeral(r, i, fmt.Sprintf("Error: %v", err))
}

// DeferReply acknowledges a long-running command. The answer follows with
// [FollowUp] or [FollowUpEmbed].
func DeferReply(r Responder, i *discordgo.InteractionCreate) {
	err := r.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
	if err != nil {
		slog.Warn("discord: failed to defer reply", "err", err)
	}
}

// FollowUp sends a text follow-up after a deferred response.
func FollowUp(r Responder, i *discordgo.InteractionCreate, content string) {
	_, err := r.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Content: content,
	})
	if err != nil {
		slog.Warn("discord: failed to send follow-up", "err", err)
	}
}

// FollowUpEmbed sends an embed follow-up after a deferred response.
func FollowUpEmbed(r Responder, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	_, err := r.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{embed},
	})
	if err != nil {
		slog.Warn("discord: failed to send embed follow-up", "err", err)
	}
}
