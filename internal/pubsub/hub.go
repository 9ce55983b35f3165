package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

var ErrHubClosed = errors.New("hub closed")

// Envelope is the wire format of every message pushed to WebSocket clients.
type Envelope struct {
	Channel string      `json:"channel"`
	Event   string      `json:"event"`
	Data    interface{} `json:"data"`
	TS      int64       `json:"ts"`
}

// Snapshot returns the event and payload a new subscriber of a channel
// receives right after connecting. It runs under the hub lock and must not
// publish to the hub.
type Snapshot func() (event string, payload interface{})

type client struct {
	id       string
	conn     *websocket.Conn
	send     chan []byte
	channels map[string]bool
}

// Hub fans published events out to WebSocket subscribers by channel.
type Hub struct {
	mu        sync.RWMutex
	clients   map[*client]struct{}
	snapshots map[string]Snapshot
	closed    bool

	defaultChannels []string
	upgrader        websocket.Upgrader
	log             zerolog.Logger
}

func NewHub(defaultChannels []string, log zerolog.Logger) *Hub {
	return &Hub{
		clients:         make(map[*client]struct{}),
		snapshots:       make(map[string]Snapshot),
		defaultChannels: defaultChannels,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log: log.With().Str("component", "hub").Logger(),
	}
}

func (h *Hub) SetSnapshot(channel string, fn Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshots[channel] = fn
}

func (h *Hub) Publish(_ context.Context, channel, event string, payload interface{}) error {
	msg, err := encode(channel, event, payload)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrHubClosed
	}

	for c := range h.clients {
		if !c.channels[channel] {
			continue
		}
		select {
		case c.send <- msg:
		default:
			h.log.Warn().Str("client_id", c.id).Str("channel", channel).Msg("client send buffer full, dropping message")
		}
	}
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and subscribes the connection to the channels
// listed in ?channels= (comma separated), or to the default channels.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	channels := parseChannels(r.URL.Query().Get("channels"), h.defaultChannels)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{
		id:       uuid.NewString(),
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		channels: make(map[string]bool, len(channels)),
	}
	for _, ch := range channels {
		c.channels[ch] = true
	}

	// Snapshots are queued under the write lock before the client becomes
	// visible to Publish, so nothing published later can overtake them.
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	for _, ch := range channels {
		fn, ok := h.snapshots[ch]
		if !ok {
			continue
		}
		event, payload := fn()
		msg, err := encode(ch, event, payload)
		if err != nil {
			h.log.Warn().Err(err).Str("channel", ch).Msg("failed to encode snapshot")
			continue
		}
		select {
		case c.send <- msg:
		default:
		}
	}
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	h.log.Info().
		Str("client_id", c.id).
		Strs("channels", channels).
		Int("clients", total).
		Msg("websocket client connected")

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.log.Info().Str("client_id", c.id).Int("clients", len(h.clients)).Msg("websocket client disconnected")
}

// Close disconnects every client and rejects further publishes.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug().Err(err).Str("client_id", c.id).Msg("websocket read error")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func encode(channel, event string, payload interface{}) ([]byte, error) {
	return json.Marshal(Envelope{
		Channel: channel,
		Event:   event,
		Data:    payload,
		TS:      time.Now().UnixMilli(),
	})
}

func parseChannels(raw string, defaults []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" || seen[part] {
			continue
		}
		seen[part] = true
		out = append(out, part)
	}
	if len(out) == 0 {
		return defaults
	}
	return out
}
