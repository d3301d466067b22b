package discord

import (
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/MrWong99/meetscribe/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

// ─── test helpers ─────────────────────────────────────────────────────────────

// newTestConnection creates a Connection without a real Discord voice
// connection. Events are collected on the returned channel.
func newTestConnection(t *testing.T, silence time.Duration) (*Connection, chan audio.Event) {
	t.Helper()
	vc := &discordgo.VoiceConnection{
		OpusRecv: make(chan *discordgo.Packet, 16),
	}
	c := newConnection(vc, nil, audio.Channel{GuildID: "guild-test", ChannelID: "chan-test"}, silence)
	c.disconnectVC = func() error { return nil }

	events := make(chan audio.Event, 32)
	c.OnEvent(func(ev audio.Event) { events <- ev })
	return c, events
}

func waitEvent(t *testing.T, events <-chan audio.Event) audio.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return audio.Event{}
	}
}

// ─── Platform tests ──────────────────────────────────────────────────────────

func TestNewPlatform(t *testing.T) {
	t.Parallel()

	s := &discordgo.Session{}
	p := New(s, WithSilenceTimeout(3*time.Second))
	if p.session != s {
		t.Error("session not stored correctly")
	}
	if p.silenceTimeout != 3*time.Second {
		t.Errorf("silenceTimeout = %v, want 3s", p.silenceTimeout)
	}
}

// ─── Connection tests ─────────────────────────────────────────────────────────

func TestConnection_DisconnectIdempotent(t *testing.T) {
	t.Parallel()

	c, _ := newTestConnection(t, 0)
	calls := 0
	c.disconnectVC = func() error { calls++; return nil }
	for i := range 3 {
		if err := c.Disconnect(); err != nil {
			t.Fatalf("Disconnect[%d]: unexpected error: %v", i, err)
		}
	}
	if calls != 1 {
		t.Errorf("vc disconnect calls = %d, want 1", calls)
	}
}

func TestConnection_RoutesPacketsBySSRC(t *testing.T) {
	t.Parallel()

	c, events := newTestConnection(t, time.Minute)
	t.Cleanup(func() { _ = c.Disconnect() })

	c.handleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "alice", SSRC: 100, Speaking: true})
	c.handleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "bob", SSRC: 200, Speaking: true})

	alice := c.Subscribe("alice")
	bob := c.Subscribe("bob")
	if again := c.Subscribe("alice"); again != alice {
		t.Error("second Subscribe returned a different stream")
	}

	c.vc.OpusRecv <- &discordgo.Packet{SSRC: 100, Sequence: 1, Opus: []byte{1}}
	c.vc.OpusRecv <- &discordgo.Packet{SSRC: 200, Sequence: 7, Opus: []byte{2}}

	for _, tc := range []struct {
		name string
		ch   <-chan audio.Packet
		seq  uint16
	}{
		{"alice", alice, 1},
		{"bob", bob, 7},
	} {
		select {
		case pkt := <-tc.ch:
			if pkt.Sequence != tc.seq {
				t.Errorf("%s: Sequence = %d, want %d", tc.name, pkt.Sequence, tc.seq)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s: timed out waiting for packet", tc.name)
		}
	}

	got := map[string]bool{}
	for range 2 {
		ev := waitEvent(t, events)
		if ev.Type != audio.EventSpeakingStart {
			t.Fatalf("event type = %v, want SPEAKING_START", ev.Type)
		}
		got[ev.UserID] = true
	}
	if !got["alice"] || !got["bob"] {
		t.Errorf("speaking-start users = %v, want alice and bob", got)
	}
}

func TestConnection_DropsUnmappedSSRC(t *testing.T) {
	t.Parallel()

	c, events := newTestConnection(t, time.Minute)
	t.Cleanup(func() { _ = c.Disconnect() })

	c.vc.OpusRecv <- &discordgo.Packet{SSRC: 999, Opus: []byte{1}}

	select {
	case ev := <-events:
		t.Fatalf("unexpected event %v for unmapped ssrc", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConnection_SpeakingEndAfterSilence(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		c, events := newTestConnection(t, time.Second)
		defer c.Disconnect()

		c.handleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "alice", SSRC: 1})
		c.vc.OpusRecv <- &discordgo.Packet{SSRC: 1, Opus: []byte{1}}
		synctest.Wait()

		if ev := <-events; ev.Type != audio.EventSpeakingStart {
			t.Fatalf("first event = %v, want SPEAKING_START", ev.Type)
		}

		time.Sleep(500 * time.Millisecond)
		synctest.Wait()
		select {
		case ev := <-events:
			t.Fatalf("unexpected early event %v", ev.Type)
		default:
		}

		time.Sleep(time.Second)
		synctest.Wait()
		select {
		case ev := <-events:
			if ev.Type != audio.EventSpeakingEnd || ev.UserID != "alice" {
				t.Fatalf("event = %+v, want SPEAKING_END for alice", ev)
			}
		default:
			t.Fatal("no speaking-end event after silence")
		}
	})
}

func TestConnection_SubscribeAfterDisconnectIsClosed(t *testing.T) {
	t.Parallel()

	c, _ := newTestConnection(t, 0)
	live := c.Subscribe("alice")
	_ = c.Disconnect()

	if _, ok := <-live; ok {
		t.Error("stream still open after Disconnect")
	}
	if _, ok := <-c.Subscribe("bob"); ok {
		t.Error("Subscribe after Disconnect returned an open stream")
	}
}

func TestConnection_UnsubscribeClosesStream(t *testing.T) {
	t.Parallel()

	c, _ := newTestConnection(t, 0)
	t.Cleanup(func() { _ = c.Disconnect() })

	ch := c.Subscribe("alice")
	c.Unsubscribe("alice")
	c.Unsubscribe("alice")
	if _, ok := <-ch; ok {
		t.Error("stream still open after Unsubscribe")
	}
}

func TestConnection_VoiceStateEvents(t *testing.T) {
	t.Parallel()

	c, events := newTestConnection(t, 0)
	t.Cleanup(func() { _ = c.Disconnect() })

	c.handleVoiceStateUpdate(nil, &discordgo.VoiceStateUpdate{
		VoiceState: &discordgo.VoiceState{GuildID: "guild-test", ChannelID: "chan-test", UserID: "alice"},
	})
	c.handleVoiceStateUpdate(nil, &discordgo.VoiceStateUpdate{
		VoiceState:   &discordgo.VoiceState{GuildID: "guild-test", ChannelID: "", UserID: "alice"},
		BeforeUpdate: &discordgo.VoiceState{GuildID: "guild-test", ChannelID: "chan-test", UserID: "alice"},
	})
	// Other guilds are ignored.
	c.handleVoiceStateUpdate(nil, &discordgo.VoiceStateUpdate{
		VoiceState: &discordgo.VoiceState{GuildID: "other", ChannelID: "chan-test", UserID: "bob"},
	})

	if ev := waitEvent(t, events); ev.Type != audio.EventJoin || ev.UserID != "alice" {
		t.Errorf("first event = %+v, want JOIN alice", ev)
	}
	if ev := waitEvent(t, events); ev.Type != audio.EventLeave || ev.UserID != "alice" {
		t.Errorf("second event = %+v, want LEAVE alice", ev)
	}
	select {
	case ev := <-events:
		t.Errorf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConnection_ClosedRecvEmitsDisconnected(t *testing.T) {
	t.Parallel()

	c, events := newTestConnection(t, 0)
	t.Cleanup(func() { _ = c.Disconnect() })

	close(c.vc.OpusRecv)
	if ev := waitEvent(t, events); ev.Type != audio.EventDisconnected {
		t.Errorf("event = %v, want DISCONNECTED", ev.Type)
	}
}

func TestConnection_ConcurrentDisconnect(t *testing.T) {
	t.Parallel()

	c, _ := newTestConnection(t, 0)
	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			_ = c.Disconnect()
		})
	}
	wg.Wait()
}

// ─── Decoder tests ───────────────────────────────────────────────────────────

func TestDecoder_DecodesSilenceFrame(t *testing.T) {
	t.Parallel()

	dec, err := NewDecoder()
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	// Opus silence frame.
	pcm, err := dec.Decode([]byte{0xF8, 0xFF, 0xFE})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if want := opusFrameSize * opusChannels * 2; len(pcm) != want {
		t.Errorf("len(pcm) = %d, want %d", len(pcm), want)
	}
}

func TestFormat_Duration(t *testing.T) {
	t.Parallel()

	if got := Format.Duration(int64(Format.BytesPerSecond()) * 3); got != 3*time.Second {
		t.Errorf("Duration = %v, want 3s", got)
	}
}
