package discord

import (
	"context"
	"fmt"

	"github.com/MrWong99/meetscribe/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

// Compile-time interface assertion.
var _ audio.Directory = (*Directory)(nil)

// Directory implements [audio.Directory] on top of the discordgo state cache,
// falling back to the REST API for members that are not cached.
type Directory struct {
	session *discordgo.Session
}

// NewDirectory creates a Directory for the given session.
func NewDirectory(session *discordgo.Session) *Directory {
	return &Directory{session: session}
}

// NonBotMembers lists the human members whose voice state places them in ch.
func (d *Directory) NonBotMembers(ctx context.Context, ch audio.Channel) ([]audio.Member, error) {
	g, err := d.session.State.Guild(ch.GuildID)
	if err != nil {
		return nil, fmt.Errorf("discord: lookup guild %q: %w", ch.GuildID, err)
	}

	d.session.State.RLock()
	var userIDs []string
	for _, vs := range g.VoiceStates {
		if vs.ChannelID == ch.ChannelID {
			userIDs = append(userIDs, vs.UserID)
		}
	}
	d.session.State.RUnlock()

	members := make([]audio.Member, 0, len(userIDs))
	for _, id := range userIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, err := d.Member(ctx, ch.GuildID, id)
		if err != nil {
			return nil, err
		}
		if m.Bot {
			continue
		}
		members = append(members, m)
	}
	return members, nil
}

// Member resolves a guild member. The display name prefers the guild nick,
// then the global name, then the username.
func (d *Directory) Member(_ context.Context, guildID, userID string) (audio.Member, error) {
	m, err := d.session.State.Member(guildID, userID)
	if err != nil {
		m, err = d.session.GuildMember(guildID, userID)
		if err != nil {
			return audio.Member{}, fmt.Errorf("discord: lookup member %q: %w", userID, err)
		}
	}
	return toMember(m, userID), nil
}

// toMember converts a discordgo member to an [audio.Member].
func toMember(m *discordgo.Member, userID string) audio.Member {
	out := audio.Member{UserID: userID}
	if m == nil {
		return out
	}
	out.DisplayName = m.Nick
	if m.User != nil {
		out.Username = m.User.Username
		out.Bot = m.User.Bot
		if out.DisplayName == "" {
			out.DisplayName = m.User.GlobalName
		}
	}
	return out
}
