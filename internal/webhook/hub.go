package webhook

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	defaultSubscriberBuffer = 64
	writeTimeout            = 5 * time.Second
)

// Hub fans lifecycle events out to websocket subscribers. Publish never
// blocks: a subscriber whose buffer is full is disconnected.
type Hub struct {
	buffer int

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	msgs      chan any
	closeSlow func()
}

// NewHub creates a hub whose subscribers buffer up to buffer events. A
// non-positive buffer uses the default.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{buffer: buffer, subs: make(map[*subscriber]struct{})}
}

// Publish sends v to every subscriber.
func (h *Hub) Publish(v any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.msgs <- v:
		default:
			go s.closeSlow()
		}
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request to a websocket and streams published
// events as JSON text messages until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("webhook: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	// Subscribers never send; CloseRead handles control frames and cancels
	// ctx once the peer closes.
	ctx := conn.CloseRead(r.Context())

	s := &subscriber{
		msgs: make(chan any, h.buffer),
		closeSlow: func() {
			conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
		},
	}
	h.add(s)
	defer h.remove(s)

	err = h.stream(ctx, conn, s)
	switch {
	case err == nil,
		errors.Is(err, context.Canceled),
		websocket.CloseStatus(err) == websocket.StatusNormalClosure,
		websocket.CloseStatus(err) == websocket.StatusGoingAway:
	default:
		slog.Debug("webhook: event stream closed", "err", err)
	}
}

func (h *Hub) stream(ctx context.Context, conn *websocket.Conn, s *subscriber) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case v := <-s.msgs:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, v)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func (h *Hub) add(s *subscriber) {
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}
