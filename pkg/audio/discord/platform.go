// Package discord provides [audio.Platform] and [audio.Directory]
// implementations backed by Discord via the bwmarrin/discordgo library.
//
// The platform requires an active *discordgo.Session (owned by the bot layer).
// Each call to [Platform.Connect] joins the given voice channel self-muted and
// returns a [Connection] that demultiplexes per-participant Opus audio.
package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/meetscribe/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

// Compile-time interface assertion.
var _ audio.Platform = (*Platform)(nil)

// readyPollInterval is how often Connect checks vc.Ready.
const readyPollInterval = 100 * time.Millisecond

// Platform implements [audio.Platform] using discordgo voice connections.
//
// Platform is safe for concurrent use.
type Platform struct {
	session        *discordgo.Session
	silenceTimeout time.Duration
}

// Option configures a [Platform].
type Option func(*Platform)

// WithSilenceTimeout sets how long a user may be silent before a speaking-end
// event is emitted. Defaults to one second.
func WithSilenceTimeout(d time.Duration) Option {
	return func(p *Platform) { p.silenceTimeout = d }
}

// New creates a Discord Platform for the given session.
func New(session *discordgo.Session, opts ...Option) *Platform {
	p := &Platform{session: session}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect joins ch (mute=true, deaf=false) and waits until the voice
// connection reports ready. If ctx ends first the partially established
// connection is torn down and an error wrapping [audio.ErrConnectTimeout] is
// returned.
func (p *Platform) Connect(ctx context.Context, ch audio.Channel) (audio.Connection, error) {
	type joinResult struct {
		vc  *discordgo.VoiceConnection
		err error
	}
	res := make(chan joinResult, 1)
	go func() {
		vc, err := p.session.ChannelVoiceJoin(ch.GuildID, ch.ChannelID, true, false)
		res <- joinResult{vc: vc, err: err}
	}()

	var vc *discordgo.VoiceConnection
	select {
	case r := <-res:
		if r.err != nil {
			return nil, fmt.Errorf("discord: join voice channel %q: %w", ch.ChannelID, r.err)
		}
		vc = r.vc
	case <-ctx.Done():
		go func() {
			if r := <-res; r.err == nil && r.vc != nil {
				_ = r.vc.Disconnect()
			}
		}()
		return nil, fmt.Errorf("discord: join voice channel %q: %w", ch.ChannelID, audio.ErrConnectTimeout)
	}

	if err := waitReady(ctx, vc); err != nil {
		_ = vc.Disconnect()
		return nil, fmt.Errorf("discord: join voice channel %q: %w", ch.ChannelID, err)
	}

	return newConnection(vc, p.session, ch, p.silenceTimeout), nil
}

// waitReady polls vc.Ready until it is set or ctx ends.
func waitReady(ctx context.Context, vc *discordgo.VoiceConnection) error {
	t := time.NewTicker(readyPollInterval)
	defer t.Stop()
	for {
		vc.RLock()
		ready := vc.Ready
		vc.RUnlock()
		if ready {
			return nil
		}
		select {
		case <-ctx.Done():
			return audio.ErrConnectTimeout
		case <-t.C:
		}
	}
}
