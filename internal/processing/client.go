// Package processing implements the HTTP client that forwards recorded audio
// to the external processing service.
//
// The service exposes three endpoints:
//
//   - POST /meeting/start     JSON notice when a session begins
//   - POST /transcribe        one multipart upload per participant segment
//   - POST /meeting/finalize  JSON notice after the final chunk
//
// Every call is bounded by its own timeout and guarded by a shared
// [resilience.CircuitBreaker]. Segment uploads stream straight from the
// participant's sink file and run concurrently up to a configurable limit.
package processing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/meetscribe/internal/observe"
	"github.com/MrWong99/meetscribe/internal/recorder"
	"github.com/MrWong99/meetscribe/internal/resilience"
)

// Compile-time interface assertion.
var _ recorder.ChunkForwarder = (*Client)(nil)

const (
	startEndpoint      = "/meeting/start"
	transcribeEndpoint = "/transcribe"
	finalizeEndpoint   = "/meeting/finalize"

	defaultStartTimeout    = 5 * time.Second
	defaultChunkTimeout    = 30 * time.Second
	defaultFinalizeTimeout = 10 * time.Second
	defaultMaxUploads      = 4

	// maxErrorBody caps how much of an error response is kept for logs.
	maxErrorBody = 512
)

// StatusError is returned when the service answers with a non-2xx status.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("processing: POST %s returned status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("processing: POST %s returned status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeouts sets the per-request timeouts. Zero values keep the defaults.
func WithTimeouts(start, chunk, finalize time.Duration) Option {
	return func(c *Client) {
		if start > 0 {
			c.startTimeout = start
		}
		if chunk > 0 {
			c.chunkTimeout = chunk
		}
		if finalize > 0 {
			c.finalizeTimeout = finalize
		}
	}
}

// WithMaxConcurrentUploads bounds the number of segment uploads in flight
// across all sessions.
func WithMaxConcurrentUploads(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxUploads = n
		}
	}
}

// WithCircuitBreaker replaces the default breaker.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client is a [recorder.ChunkForwarder] talking to the processing service
// over HTTP. It holds no session state and is safe for concurrent use.
type Client struct {
	baseURL         string
	httpClient      *http.Client
	startTimeout    time.Duration
	chunkTimeout    time.Duration
	finalizeTimeout time.Duration
	maxUploads      int
	breaker         *resilience.CircuitBreaker
	metrics         *observe.Metrics
	uploads         *semaphore.Weighted
}

// New creates a Client for the service at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return nil, errors.New("processing: base URL must not be empty")
	}
	c := &Client{
		baseURL:         baseURL,
		httpClient:      &http.Client{},
		startTimeout:    defaultStartTimeout,
		chunkTimeout:    defaultChunkTimeout,
		finalizeTimeout: defaultFinalizeTimeout,
		maxUploads:      defaultMaxUploads,
	}
	for _, o := range opts {
		o(c)
	}
	if c.breaker == nil {
		c.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "processing"})
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	c.uploads = semaphore.NewWeighted(int64(c.maxUploads))
	return c, nil
}

// ---- wire types ----

type startRequest struct {
	MeetingID        string    `json:"meeting_id"`
	DiscordGuildID   string    `json:"discord_guild_id"`
	DiscordChannelID string    `json:"discord_channel_id"`
	MeetingTitle     string    `json:"meeting_title"`
	StartTime        time.Time `json:"start_time"`
	Status           string    `json:"status"`
}

type finalizeParticipant struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	// Duration is in whole seconds, truncated.
	Duration int64 `json:"duration"`
}

type finalizeRequest struct {
	MeetingID       string                `json:"meeting_id"`
	Participants    []finalizeParticipant `json:"participants"`
	DurationMinutes int                   `json:"duration_minutes"`
	AudioFilesCount int                   `json:"audio_files_count"`
}

// ---- ChunkForwarder ----

// NotifyStart implements [recorder.ChunkForwarder].
func (c *Client) NotifyStart(ctx context.Context, n recorder.StartNotice) error {
	title := n.Title
	if title == "" {
		title = "Meeting " + n.StartTime.Format(time.DateTime)
	}
	return c.postJSON(ctx, "start", startEndpoint, c.startTimeout, n.MeetingID, startRequest{
		MeetingID:        n.MeetingID,
		DiscordGuildID:   n.GuildID,
		DiscordChannelID: n.ChannelID,
		MeetingTitle:     title,
		StartTime:        n.StartTime.UTC(),
		Status:           "recording",
	})
}

// NotifyFinalize implements [recorder.ChunkForwarder].
func (c *Client) NotifyFinalize(ctx context.Context, n recorder.FinalizeNotice) error {
	req := finalizeRequest{
		MeetingID:       n.MeetingID,
		Participants:    make([]finalizeParticipant, 0, len(n.Participants)),
		DurationMinutes: n.DurationMinutes,
		AudioFilesCount: n.AudioFileCount,
	}
	for _, p := range n.Participants {
		req.Participants = append(req.Participants, finalizeParticipant{
			UserID:      p.UserID,
			Username:    p.Username,
			DisplayName: p.DisplayName,
			Duration:    int64(p.Duration / time.Second),
		})
	}
	return c.postJSON(ctx, "finalize", finalizeEndpoint, c.finalizeTimeout, n.MeetingID, req)
}

// SendChunk implements [recorder.ChunkForwarder]. Each segment is uploaded
// as its own request; all are attempted even if some fail, and the joined
// error reports every failure.
func (c *Client) SendChunk(ctx context.Context, ch recorder.Chunk) error {
	ctx = observe.WithMeeting(ctx, ch.MeetingID)
	ctx, span := observe.StartSpan(ctx, "processing.SendChunk",
		trace.WithAttributes(
			attribute.String("chunk", ch.Label()),
			attribute.Int("segments", len(ch.Segments)),
		),
	)
	defer span.End()

	if len(ch.Segments) == 0 {
		observe.Logger(ctx).Debug("processing: chunk has no new audio, index left unused", "chunk", ch.Label())
		return nil
	}

	errs := make([]error, len(ch.Segments))
	var g errgroup.Group
	for i, seg := range ch.Segments {
		if err := c.uploads.Acquire(ctx, 1); err != nil {
			errs[i] = err
			continue
		}
		g.Go(func() error {
			defer c.uploads.Release(1)
			errs[i] = c.uploadSegment(ctx, ch, seg)
			return nil
		})
	}
	_ = g.Wait()

	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "segment upload failed")
	}
	return err
}

// uploadSegment streams one participant's byte range as a multipart form.
func (c *Client) uploadSegment(ctx context.Context, ch recorder.Chunk, seg recorder.Segment) error {
	ctx, span := observe.StartSpan(ctx, "processing.transcribe",
		trace.WithAttributes(
			attribute.String("chunk", ch.Label()),
			attribute.String("user_id", seg.UserID),
			attribute.Int64("bytes", seg.Length),
		),
	)
	defer span.End()

	start := time.Now()
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, c.chunkTimeout)
		defer cancel()

		src, err := seg.Open()
		if err != nil {
			return fmt.Errorf("processing: open segment of %s: %w", seg.UserID, err)
		}
		defer src.Close()

		pr, pw := io.Pipe()
		mw := multipart.NewWriter(pw)
		go func() {
			pw.CloseWithError(writeSegmentForm(mw, ch, seg, src))
		}()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+transcribeEndpoint, pr)
		if err != nil {
			pr.CloseWithError(err)
			return fmt.Errorf("processing: create transcribe request: %w", err)
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Accept", "application/json")
		return c.do(req, transcribeEndpoint)
	})
	c.metrics.RecordForward(ctx, "chunk", time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upload failed")
		return fmt.Errorf("segment %s: %w", seg.UserID, err)
	}
	observe.Logger(ctx).Debug("processing: segment uploaded",
		"chunk", ch.Label(),
		"user_id", seg.UserID,
		"bytes", seg.Length,
		"elapsed", time.Since(start),
	)
	return nil
}

// writeSegmentForm writes the transcribe form fields and file part, then
// closes the multipart writer.
func writeSegmentForm(mw *multipart.Writer, ch recorder.Chunk, seg recorder.Segment, src io.Reader) error {
	fields := []struct{ name, value string }{
		{"meeting_id", ch.MeetingID},
		{"speaker_id", seg.UserID},
		{"speaker_name", seg.DisplayName},
		{"chunk_index", ch.Label()},
		{"timestamp", ch.Timestamp.UTC().Format(time.RFC3339Nano)},
		{"duration_seconds", strconv.FormatFloat(seg.Duration.Seconds(), 'f', 3, 64)},
	}
	for _, f := range fields {
		if err := mw.WriteField(f.name, f.value); err != nil {
			return fmt.Errorf("write field %s: %w", f.name, err)
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio_file"; filename="%s"`, segmentFileName(ch, seg)))
	h.Set("Content-Type", "audio/pcm")
	fw, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create audio part: %w", err)
	}
	if _, err := io.Copy(fw, src); err != nil {
		return fmt.Errorf("copy audio: %w", err)
	}
	return mw.Close()
}

// segmentFileName returns the upload file name, e.g. "chunk_0_1234.pcm" or
// "chunk_final_1234.pcm".
func segmentFileName(ch recorder.Chunk, seg recorder.Segment) string {
	return fmt.Sprintf("chunk_%s_%s.pcm", ch.Label(), seg.UserID)
}

// postJSON sends a JSON body through the breaker with its own timeout.
func (c *Client) postJSON(ctx context.Context, op, endpoint string, timeout time.Duration, meetingID string, body any) error {
	ctx, span := observe.StartSpan(observe.WithMeeting(ctx, meetingID), "processing."+op)
	defer span.End()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("processing: marshal %s request: %w", op, err)
	}

	start := time.Now()
	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("processing: create %s request: %w", op, err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return c.do(req, endpoint)
	})
	c.metrics.RecordForward(ctx, op, time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
		return err
	}
	observe.Logger(ctx).Debug("processing: notice delivered", "op", op, "elapsed", time.Since(start))
	return nil
}

// do executes req and turns non-2xx answers into a [StatusError].
func (c *Client) do(req *http.Request, endpoint string) error {
	observe.InjectHeaders(req.Context(), req.Header)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("processing: POST %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
