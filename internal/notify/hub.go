package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/miradorstack/mirador-correlator/internal/models"
)

const (
	sendBuffer   = 32
	writeTimeout = 10 * time.Second
	maxReplay    = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.send) })
}

// Hub streams delivered groups to websocket subscribers. A new subscriber
// first receives the latest view of every recently delivered group.
type Hub struct {
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	latest map[string][]byte
	order  []string
	closed bool
}

// NewHub constructs an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		subs:   make(map[*subscriber]struct{}),
		latest: make(map[string][]byte),
	}
}

// Notify implements Notifier. Slow subscribers are disconnected rather than
// blocking delivery.
func (h *Hub) Notify(_ context.Context, group models.GroupView) error {
	data, err := json.Marshal(group)
	if err != nil {
		return fmt.Errorf("encode group %s: %w", group.GroupID, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.latest[group.GroupID]; !ok {
		h.order = append(h.order, group.GroupID)
		if len(h.order) > maxReplay {
			delete(h.latest, h.order[0])
			h.order = h.order[1:]
		}
	}
	h.latest[group.GroupID] = data

	for s := range h.subs {
		select {
		case s.send <- data:
		default:
			h.logger.Warn("dropping slow group subscriber", slog.String("remote", s.conn.RemoteAddr().String()))
			delete(h.subs, s)
			s.close()
		}
	}
	return nil
}

// Subscribers reports the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request and streams groups until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	s := &subscriber{conn: conn, send: make(chan []byte, sendBuffer+maxReplay)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	for _, id := range h.order {
		s.send <- h.latest[id]
	}
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	go h.readLoop(s)
	h.writeLoop(s)
}

func (h *Hub) writeLoop(s *subscriber) {
	defer s.conn.Close()
	for data := range s.send {
		s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug("websocket write failed", slog.Any("error", err))
			h.drop(s)
			return
		}
	}
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

// readLoop discards inbound frames and notices disconnects.
func (h *Hub) readLoop(s *subscriber) {
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			h.drop(s)
			return
		}
	}
}

func (h *Hub) drop(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
	s.close()
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for s := range h.subs {
		delete(h.subs, s)
		s.close()
	}
}
