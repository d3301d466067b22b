package watchdog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/MrWong99/meetscribe/pkg/audio"
	"github.com/MrWong99/meetscribe/pkg/audio/mock"
)

var testChannel = audio.Channel{GuildID: "g1", ChannelID: "c1"}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) add(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) left() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Kind == EventLeft {
			out = append(out, ev)
		}
	}
	return out
}

func newTestWatchdog(t *testing.T, autoLeave bool) (*Watchdog, *mock.Platform, *mock.Directory, *recorder) {
	t.Helper()
	p := &mock.Platform{}
	d := &mock.Directory{}
	rec := &recorder{}
	w, err := New(Config{
		Platform:  p,
		Directory: d,
		AutoLeave: autoLeave,
		Listener:  rec.add,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { w.Shutdown(context.Background()) })
	return w, p, d, rec
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{}); err == nil {
		t.Fatal("New with empty config succeeded")
	}
}

func TestJoin_Twice(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		w, p, _, _ := newTestWatchdog(t, false)
		ctx := context.Background()

		info, err := w.Join(ctx, testChannel)
		if err != nil {
			t.Fatalf("Join: %v", err)
		}
		if info.ChannelID != "c1" || info.AutoLeave {
			t.Errorf("info = %+v", info)
		}
		if _, err := w.Join(ctx, testChannel); !errors.Is(err, ErrAlreadyConnected) {
			t.Errorf("second Join err = %v, want ErrAlreadyConnected", err)
		}
		if n := len(p.ConnectCalls); n != 1 {
			t.Errorf("Connect called %d times, want 1", n)
		}
	})
}

func TestJoin_ConnectFailureFreesChannel(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		w, p, _, _ := newTestWatchdog(t, false)
		p.ConnectError = errors.New("forbidden")
		if _, err := w.Join(context.Background(), testChannel); err == nil {
			t.Fatal("Join succeeded, want error")
		}
		if w.Connected("c1") {
			t.Error("channel marked connected after failed join")
		}
		p.ConnectError = nil
		if _, err := w.Join(context.Background(), testChannel); err != nil {
			t.Errorf("Join after failure: %v", err)
		}
	})
}

func TestLeave_NotConnected(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		w, _, _, _ := newTestWatchdog(t, false)
		if _, err := w.Leave(context.Background(), "c1", ReasonManual); !errors.Is(err, ErrNotConnected) {
			t.Errorf("Leave err = %v, want ErrNotConnected", err)
		}
	})
}

func TestLeave_ReportsDuration(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		w, p, _, rec := newTestWatchdog(t, false)
		ctx := context.Background()
		if _, err := w.Join(ctx, testChannel); err != nil {
			t.Fatalf("Join: %v", err)
		}
		time.Sleep(90 * time.Second)

		sum, err := w.Leave(ctx, "c1", ReasonManual)
		if err != nil {
			t.Fatalf("Leave: %v", err)
		}
		if sum.Duration != 90*time.Second || sum.Reason != ReasonManual {
			t.Errorf("summary = %+v", sum)
		}
		if !p.Connection(0).Disconnected() {
			t.Error("connection not disconnected")
		}
		if len(w.ListActive()) != 0 {
			t.Error("ListActive not empty after Leave")
		}
		if n := len(rec.left()); n != 1 {
			t.Errorf("left events = %d, want 1", n)
		}
	})
}

func TestAutoLeave_EmptyChannel(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		w, p, d, rec := newTestWatchdog(t, true)
		d.SetMembers("c1", audio.Member{UserID: "alice"}, audio.Member{UserID: "bot", Bot: true})
		if _, err := w.Join(context.Background(), testChannel); err != nil {
			t.Fatalf("Join: %v", err)
		}

		time.Sleep(7 * time.Second)
		if !w.Connected("c1") {
			t.Fatal("left while a human was present")
		}

		// Only the bot remains.
		d.SetMembers("c1", audio.Member{UserID: "bot", Bot: true})
		time.Sleep(2 * DefaultPollInterval)
		synctest.Wait()

		left := rec.left()
		if len(left) != 1 {
			t.Fatalf("left events = %d, want exactly 1", len(left))
		}
		if left[0].Reason != ReasonAutoLeave {
			t.Errorf("reason = %q, want %q", left[0].Reason, ReasonAutoLeave)
		}
		if w.Connected("c1") {
			t.Error("still connected after auto-leave")
		}
		if n := p.Connection(0).CallCountDisconnect; n != 1 {
			t.Errorf("Disconnect called %d times, want 1", n)
		}
	})
}

func TestAutoLeave_RejoinBeforePollCancels(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		w, _, d, rec := newTestWatchdog(t, true)
		d.SetMembers("c1", audio.Member{UserID: "alice"})
		if _, err := w.Join(context.Background(), testChannel); err != nil {
			t.Fatalf("Join: %v", err)
		}

		time.Sleep(time.Second)
		d.SetMembers("c1")
		time.Sleep(2 * time.Second)
		d.SetMembers("c1", audio.Member{UserID: "alice"})

		time.Sleep(30 * time.Second)
		synctest.Wait()
		if !w.Connected("c1") {
			t.Error("left although a human rejoined before the poll")
		}
		if n := len(rec.left()); n != 0 {
			t.Errorf("left events = %d, want 0", n)
		}
	})
}

func TestAutoLeave_LookupErrorKeepsConnection(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		w, _, d, _ := newTestWatchdog(t, true)
		d.NonBotMembersError = errors.New("state not cached")
		if _, err := w.Join(context.Background(), testChannel); err != nil {
			t.Fatalf("Join: %v", err)
		}
		time.Sleep(30 * time.Second)
		synctest.Wait()
		if !w.Connected("c1") {
			t.Error("left on a lookup error")
		}
	})
}

func TestManualLeave_StopsPolling(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		w, _, d, rec := newTestWatchdog(t, true)
		d.SetMembers("c1", audio.Member{UserID: "alice"})
		ctx := context.Background()
		if _, err := w.Join(ctx, testChannel); err != nil {
			t.Fatalf("Join: %v", err)
		}
		time.Sleep(11 * time.Second)
		if _, err := w.Leave(ctx, "c1", ReasonManual); err != nil {
			t.Fatalf("Leave: %v", err)
		}
		polls := d.CallCountNonBotMembers

		d.SetMembers("c1")
		time.Sleep(time.Minute)
		synctest.Wait()
		if d.CallCountNonBotMembers != polls {
			t.Errorf("polled %d more times after Leave", d.CallCountNonBotMembers-polls)
		}
		if n := len(rec.left()); n != 1 {
			t.Errorf("left events = %d, want 1", n)
		}
	})
}

func TestSetAutoLeave_AppliesToExistingConnections(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		w, _, d, _ := newTestWatchdog(t, false)
		ctx := context.Background()
		if _, err := w.Join(ctx, testChannel); err != nil {
			t.Fatalf("Join: %v", err)
		}

		time.Sleep(time.Minute)
		synctest.Wait()
		if d.CallCountNonBotMembers != 0 {
			t.Fatalf("polled %d times with auto-leave disabled", d.CallCountNonBotMembers)
		}

		w.SetAutoLeave(true)
		if !w.AutoLeave() {
			t.Error("AutoLeave = false after enabling")
		}
		if !w.ListActive()[0].AutoLeave {
			t.Error("existing connection not polled after enabling")
		}
		time.Sleep(DefaultPollInterval + time.Second)
		synctest.Wait()
		if w.Connected("c1") {
			t.Error("empty channel not left after enabling auto-leave")
		}
	})
}

func TestSetAutoLeave_DisableStopsPolls(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		w, _, d, _ := newTestWatchdog(t, true)
		d.SetMembers("c1", audio.Member{UserID: "alice"})
		if _, err := w.Join(context.Background(), testChannel); err != nil {
			t.Fatalf("Join: %v", err)
		}
		w.SetAutoLeave(false)

		d.SetMembers("c1")
		time.Sleep(time.Minute)
		synctest.Wait()
		if !w.Connected("c1") {
			t.Error("left with auto-leave disabled")
		}
	})
}

func TestDisconnectedEventDropsConnection(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		w, p, _, rec := newTestWatchdog(t, false)
		if _, err := w.Join(context.Background(), testChannel); err != nil {
			t.Fatalf("Join: %v", err)
		}
		p.Connection(0).EmitEvent(audio.Event{Type: audio.EventDisconnected})

		if w.Connected("c1") {
			t.Error("still connected after Disconnected event")
		}
		left := rec.left()
		if len(left) != 1 || left[0].Reason != ReasonDisconnected {
			t.Errorf("left events = %+v", left)
		}
	})
}

func TestShutdown_LeavesAll(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		w, p, _, _ := newTestWatchdog(t, true)
		ctx := context.Background()
		for _, id := range []string{"a", "b"} {
			if _, err := w.Join(ctx, audio.Channel{GuildID: "g", ChannelID: id}); err != nil {
				t.Fatalf("Join %s: %v", id, err)
			}
		}
		if err := w.Shutdown(ctx); err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
		if len(w.ListActive()) != 0 {
			t.Error("connections left after Shutdown")
		}
		for i := range 2 {
			if !p.Connection(i).Disconnected() {
				t.Errorf("connection %d still open", i)
			}
		}
	})
}
