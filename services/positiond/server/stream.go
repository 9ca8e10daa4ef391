package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/chainrule-labs/pesto-contracts-sub000/core/events"
	"github.com/chainrule-labs/pesto-contracts-sub000/core/types"
)

const (
	subscriberBuffer = 64
	writeTimeout     = 5 * time.Second
)

// Hub fans committed audit records out to websocket subscribers. Slow
// subscribers are disconnected rather than allowed to stall the executor.
type Hub struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	ch       chan *types.Event
	position string
	dropped  chan struct{}
	once     sync.Once
}

func (s *subscriber) drop() { s.once.Do(func() { close(s.dropped) }) }

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, subs: make(map[*subscriber]struct{})}
}

// Emit implements events.Emitter.
func (h *Hub) Emit(e events.Event) {
	flat := events.Flatten(e)
	if flat == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if sub.position != "" && flat.Attributes["position"] != sub.position {
			continue
		}
		select {
		case sub.ch <- flat:
		default:
			delete(h.subs, sub)
			sub.drop()
		}
	}
}

// Subscribers reports the number of connected streams.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) subscribe(position string) *subscriber {
	sub := &subscriber{ch: make(chan *types.Event, subscriberBuffer), position: position, dropped: make(chan struct{})}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

// ServeHTTP upgrades the request and streams records until the client goes
// away. ?position= narrows the stream to one position.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	position := ""
	if raw := r.URL.Query().Get("position"); raw != "" {
		addr, err := parseAddress("position", raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		position = addr.Hex()
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("event stream upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	sub := h.subscribe(position)
	defer h.unsubscribe(sub)
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-sub.dropped:
			conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
			return
		case ev := <-sub.ch:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, conn, ev)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
