package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/meetscribe/internal/recorder"
	"github.com/MrWong99/meetscribe/internal/watchdog"
)

type fakeSessions struct {
	active []recorder.SessionSummary
	known  map[string]recorder.SessionSummary
}

func (f *fakeSessions) GetActive() []recorder.SessionSummary { return f.active }

func (f *fakeSessions) FindByMeetingID(id string) (recorder.SessionSummary, bool) {
	s, ok := f.known[id]
	return s, ok
}

type fakeConnections []watchdog.ConnectionInfo

func (f fakeConnections) ListActive() []watchdog.ConnectionInfo { return f }

type notification struct {
	session    recorder.SessionSummary
	completion Completion
}

type fakeNotifier struct {
	mu    sync.Mutex
	err   error
	calls []notification
}

func (f *fakeNotifier) NotifyCompleted(_ context.Context, s recorder.SessionSummary, c Completion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, notification{s, c})
	return f.err
}

func newTestServer(t *testing.T, secret string) (*Server, *fakeNotifier) {
	t.Helper()
	done := recorder.SessionSummary{
		MeetingID: "m-1",
		GuildID:   "g",
		ChannelID: "voice-1",
		Status:    recorder.StatusCompleted,
	}
	sessions := &fakeSessions{
		active: []recorder.SessionSummary{{MeetingID: "m-2", ChannelID: "voice-2", Status: recorder.StatusRecording}},
		known:  map[string]recorder.SessionSummary{"m-1": done},
	}
	n := &fakeNotifier{}
	srv, err := New(Config{
		Secret:      secret,
		Sessions:    sessions,
		Connections: fakeConnections{{GuildID: "g", ChannelID: "voice-3", AutoLeave: true}},
		Notifier:    n,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv, n
}

func postCompletion(t *testing.T, h http.Handler, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook/meeting-completed", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Notifier: &fakeNotifier{}}); err == nil {
		t.Error("New without sessions succeeded")
	}
	if _, err := New(Config{Sessions: &fakeSessions{}}); err == nil {
		t.Error("New without notifier succeeded")
	}
}

func TestCompleted_AnnouncesKnownMeeting(t *testing.T) {
	t.Parallel()
	srv, n := newTestServer(t, "")

	body := `{"meeting_id":"m-1","event":"meeting_completed","download_links":{"summary":"https://x/summary","transcript":"https://x/transcript"}}`
	rec := postCompletion(t, srv.Handler(), body, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "success" || resp["processed_at"] == "" {
		t.Errorf("response = %v", resp)
	}

	if len(n.calls) != 1 {
		t.Fatalf("notifier calls = %d, want 1", len(n.calls))
	}
	got := n.calls[0]
	if got.session.ChannelID != "voice-1" {
		t.Errorf("session channel = %q, want voice-1", got.session.ChannelID)
	}
	if got.completion.DownloadLinks["summary"] != "https://x/summary" {
		t.Errorf("download links = %v", got.completion.DownloadLinks)
	}
}

func TestCompleted_Rejections(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"malformed", `{"meeting_id":`, http.StatusBadRequest},
		{"wrong event", `{"meeting_id":"m-1","event":"meeting_started"}`, http.StatusBadRequest},
		{"missing meeting", `{"event":"meeting_completed"}`, http.StatusBadRequest},
		{"unknown meeting", `{"meeting_id":"nope","event":"meeting_completed"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv, n := newTestServer(t, "")
			rec := postCompletion(t, srv.Handler(), tt.body, nil)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if len(n.calls) != 0 {
				t.Errorf("notifier called %d times", len(n.calls))
			}
		})
	}
}

func TestCompleted_Secret(t *testing.T) {
	t.Parallel()
	srv, n := newTestServer(t, "s3cret")
	body := `{"meeting_id":"m-1","event":"meeting_completed"}`

	if rec := postCompletion(t, srv.Handler(), body, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("without secret: status = %d, want 401", rec.Code)
	}
	wrong := http.Header{SecretHeader: {"guess"}}
	if rec := postCompletion(t, srv.Handler(), body, wrong); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong secret: status = %d, want 401", rec.Code)
	}
	right := http.Header{SecretHeader: {"s3cret"}}
	if rec := postCompletion(t, srv.Handler(), body, right); rec.Code != http.StatusOK {
		t.Errorf("right secret: status = %d, want 200", rec.Code)
	}
	if len(n.calls) != 1 {
		t.Errorf("notifier calls = %d, want 1", len(n.calls))
	}
}

func TestCompleted_NotifierFailure(t *testing.T) {
	t.Parallel()
	srv, n := newTestServer(t, "")
	n.err = errors.New("missing access")

	rec := postCompletion(t, srv.Handler(), `{"meeting_id":"m-1","event":"meeting_completed"}`, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestSessionsAPI(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, "")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Sessions []struct {
			MeetingID string `json:"meeting_id"`
			Status    string `json:"status"`
		} `json:"sessions"`
		Connections []watchdog.ConnectionInfo `json:"connections"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Sessions) != 1 || resp.Sessions[0].MeetingID != "m-2" || resp.Sessions[0].Status != "recording" {
		t.Errorf("sessions = %+v", resp.Sessions)
	}
	if len(resp.Connections) != 1 || resp.Connections[0].ChannelID != "voice-3" {
		t.Errorf("connections = %+v", resp.Connections)
	}
}

func TestSessionByMeetingID(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, "")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/m-1", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("known meeting: status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown meeting: status = %d, want 404", rec.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, "")

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d", path, rec.Code)
		}
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()
	srv, err := New(Config{Addr: "127.0.0.1:0", Sessions: &fakeSessions{}, Notifier: &fakeNotifier{}})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.Run(ctx) }()

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
