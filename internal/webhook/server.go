// Package webhook serves meetscribe's HTTP surface: the completion callback
// used by the processing service, a read-only status API, a live event feed
// over websocket, the Prometheus scrape endpoint and the health checks.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/meetscribe/internal/health"
	"github.com/MrWong99/meetscribe/internal/observe"
	"github.com/MrWong99/meetscribe/internal/recorder"
	"github.com/MrWong99/meetscribe/internal/watchdog"
)

// EventMeetingCompleted is the only event accepted on the completion callback.
const EventMeetingCompleted = "meeting_completed"

// SecretHeader carries the shared webhook secret.
const SecretHeader = "X-Webhook-Secret"

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 10 * time.Second
)

// Completion is the body the processing service posts once a meeting has
// been transcribed and summarised.
type Completion struct {
	MeetingID     string            `json:"meeting_id"`
	Event         string            `json:"event"`
	Timestamp     string            `json:"timestamp,omitempty"`
	DownloadLinks map[string]string `json:"download_links,omitempty"`
}

// SessionSource is the subset of [recorder.Registry] the server reads.
type SessionSource interface {
	GetActive() []recorder.SessionSummary
	FindByMeetingID(meetingID string) (recorder.SessionSummary, bool)
}

// ConnectionSource is the subset of [watchdog.Watchdog] the server reads.
type ConnectionSource interface {
	ListActive() []watchdog.ConnectionInfo
}

// Notifier announces a completed meeting to the channel it was recorded in.
type Notifier interface {
	NotifyCompleted(ctx context.Context, session recorder.SessionSummary, c Completion) error
}

// Config holds the collaborators of a [Server].
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// Secret, when non-empty, must match the [SecretHeader] of completion
	// callbacks.
	Secret string

	// CertFile and KeyFile enable TLS when both are set.
	CertFile string
	KeyFile  string

	Sessions    SessionSource
	Connections ConnectionSource
	Notifier    Notifier

	// Health serves /healthz and /readyz. Defaults to a handler without
	// readiness checks.
	Health *health.Handler

	// Hub serves /ws/events. Defaults to a fresh hub.
	Hub *Hub

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Server is the HTTP server. Create one with [New].
type Server struct {
	cfg     Config
	hub     *Hub
	handler http.Handler
	srv     *http.Server
}

// New validates cfg and builds the route table.
func New(cfg Config) (*Server, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("webhook: session source is required")
	}
	if cfg.Notifier == nil {
		return nil, errors.New("webhook: notifier is required")
	}
	if cfg.Health == nil {
		cfg.Health = health.New()
	}
	if cfg.Hub == nil {
		cfg.Hub = NewHub(0)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	s := &Server{cfg: cfg, hub: cfg.Hub}

	mux := http.NewServeMux()
	cfg.Health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /webhook/meeting-completed", s.handleCompleted)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("GET /api/sessions/{meetingID}", s.handleSession)

	// The websocket upgrade needs the unwrapped ResponseWriter.
	root := http.NewServeMux()
	root.Handle("GET /ws/events", s.hub)
	root.Handle("/", observe.Middleware(cfg.Metrics)(mux))
	s.handler = root
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler { return s.handler }

// Hub returns the event hub fed by registry and watchdog listeners.
func (s *Server) Hub() *Hub { return s.hub }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		var err error
		if s.cfg.CertFile != "" && s.cfg.KeyFile != "" {
			err = s.srv.ListenAndServeTLS(s.cfg.CertFile, s.cfg.KeyFile)
		} else {
			err = s.srv.ListenAndServe()
		}
		errc <- err
	}()
	slog.Info("webhook server listening", "addr", s.cfg.Addr, "tls", s.cfg.CertFile != "")

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("webhook: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("webhook: shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleCompleted(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())

	if s.cfg.Secret != "" {
		got := r.Header.Get(SecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Secret)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid webhook secret")
			return
		}
	}

	var c Completion
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if c.Event != EventMeetingCompleted {
		writeError(w, http.StatusBadRequest, "invalid event type")
		return
	}
	if c.MeetingID == "" {
		writeError(w, http.StatusBadRequest, "meeting_id is required")
		return
	}

	ctx := observe.WithMeeting(r.Context(), c.MeetingID)
	log = observe.Logger(ctx)

	sess, ok := s.cfg.Sessions.FindByMeetingID(c.MeetingID)
	if !ok {
		log.Warn("webhook: completion for unknown meeting")
		writeError(w, http.StatusNotFound, "unknown meeting")
		return
	}

	if err := s.cfg.Notifier.NotifyCompleted(ctx, sess, c); err != nil {
		log.Error("webhook: failed to announce completed meeting", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	log.Info("webhook: meeting completion announced", "channel_id", sess.ChannelID)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":       "success",
		"processed_at": time.Now().UTC().Format(time.RFC3339),
	})
}

type sessionsResponse struct {
	Sessions    []recorder.SessionSummary `json:"sessions"`
	Connections []watchdog.ConnectionInfo `json:"connections"`
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	resp := sessionsResponse{
		Sessions:    s.cfg.Sessions.GetActive(),
		Connections: []watchdog.ConnectionInfo{},
	}
	if resp.Sessions == nil {
		resp.Sessions = []recorder.SessionSummary{}
	}
	if s.cfg.Connections != nil {
		if conns := s.cfg.Connections.ListActive(); conns != nil {
			resp.Connections = conns
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.cfg.Sessions.FindByMeetingID(r.PathValue("meetingID"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown meeting")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
