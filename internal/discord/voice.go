package discord

import "github.com/bwmarrin/discordgo"

// VoiceLocator finds the voice channel a guild member is connected to.
type VoiceLocator interface {
	UserVoiceChannel(guildID, userID string) (channelID string, ok bool)
}

// StateLocator answers [VoiceLocator] from the gateway state cache.
type StateLocator struct {
	State *discordgo.State
}

// UserVoiceChannel implements [VoiceLocator].
func (l StateLocator) UserVoiceChannel(guildID, userID string) (string, bool) {
	vs, err := l.State.VoiceState(guildID, userID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		return "", false
	}
	return vs.ChannelID, true
}

// MessageSender posts and edits channel messages. *discordgo.Session
// implements it.
type MessageSender interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}
