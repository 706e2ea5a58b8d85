package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"neuroforge/internal/domain/model"
)

const (
	MessageJobUpdate = "job_update"
	writeWait        = 5 * time.Second
	// sendBuffer is how many updates a client may fall behind before the oldest
	// queued update is dropped.
	sendBuffer = 16
)

// Message is the envelope written to every client.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// client owns one connection. Only its write pump writes to conn.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans reconciled job updates out to WebSocket clients. A client that connects
// mid-job receives the latest update first.
type Hub struct {
	log      *zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	latest  []byte
	dropped int
}

// NewHub accepts browser connections from allowedOrigin only; clients that send no
// Origin header (CLIs, tests) are always accepted.
func NewHub(allowedOrigin string, logger *zerolog.Logger) *Hub {
	hubLog := logger.With().Str("component", "FeedHub").Logger()
	return &Hub{
		log:     &hubLog,
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				o := r.Header.Get("Origin")
				return o == "" || o == allowedOrigin
			},
		},
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	// Registration and the initial update share the lock with Broadcast, so the
	// latest update is always queued ahead of newer ones.
	h.mu.Lock()
	h.clients[c] = struct{}{}
	if h.latest != nil {
		c.send <- h.latest
	}
	count := len(h.clients)
	h.mu.Unlock()
	h.log.Debug().Int("clients", count).Msg("feed client connected")

	go h.writePump(c)
	defer h.remove(c)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn().Err(err).Msg("feed client error")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.log.Warn().Err(err).Msg("failed to send job update")
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.log.Debug().Int("clients", len(h.clients)).Msg("feed client disconnected")
}

// Broadcast records u as the latest update and queues it for every client without
// blocking. A client whose queue is full loses its oldest queued update. It has the
// lifecycle subscription signature.
func (h *Hub) Broadcast(u model.Update) {
	data, err := json.Marshal(Message{Type: MessageJobUpdate, Payload: u})
	if err != nil {
		h.log.Error().Err(err).Msg("marshal job update")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = data
	for c := range h.clients {
		select {
		case c.send <- data:
			continue
		default:
		}
		// Only Broadcast sends, under h.mu, so after one receive there is room.
		select {
		case <-c.send:
		default:
		}
		select {
		case c.send <- data:
		default:
		}
		h.dropped++
		h.log.Debug().Int("dropped", h.dropped).Msg("feed client behind; oldest update dropped")
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped reports how many queued updates were discarded for slow clients.
func (h *Hub) Dropped() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
