// Package stream pushes tracker notices to WebSocket subscribers.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skyguard/geofence/internal/logging"
	"github.com/skyguard/geofence/internal/tracker"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	clientBuffer   = 64
	backlog        = 256
)

var (
	// ErrClosed is returned by Publish once the hub has stopped.
	ErrClosed = errors.New("stream hub closed")
	// ErrBacklogFull is returned when the broadcast queue cannot take
	// another notice.
	ErrBacklogFull = errors.New("stream broadcast backlog full")
)

// ClientGauge receives the number of connected clients.
type ClientGauge interface {
	SetStreamClients(n int)
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub's logger.
func WithLogger(log logging.Logger) Option {
	return func(h *Hub) {
		if log != nil {
			h.log = log
		}
	}
}

// WithClientGauge reports the client count after every change.
func WithClientGauge(g ClientGauge) Option {
	return func(h *Hub) { h.gauge = g }
}

// WithCheckOrigin overrides the upgrader's origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Hub) { h.upgrader.CheckOrigin = fn }
}

type message struct {
	subjectID string
	payload   []byte
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	// subjectID restricts the client to one subject when set.
	subjectID string
}

// Hub fans notices out to WebSocket clients. Clients that cannot keep up
// are disconnected rather than allowed to block the broadcast loop.
type Hub struct {
	log      logging.Logger
	gauge    ClientGauge
	upgrader websocket.Upgrader

	register   chan *client
	unregister chan *client
	broadcast  chan message
	done       chan struct{}
	stopOnce   sync.Once

	clients map[*client]struct{}
	count   atomic.Int64
}

// NewHub constructs a hub. Call Run to start it.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		log: logging.Noop(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan message, backlog),
		done:       make(chan struct{}),
		clients:    make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run owns the client set until ctx is done, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	defer h.stopOnce.Do(func() { close(h.done) })
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			h.changed(ctx, "stream hub stopped")
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.changed(ctx, "stream client connected")
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.changed(ctx, "stream client disconnected")
			}
		case m := <-h.broadcast:
			for c := range h.clients {
				if c.subjectID != "" && c.subjectID != m.subjectID {
					continue
				}
				select {
				case c.send <- m.payload:
				default:
					h.drop(c)
					h.changed(ctx, "slow stream client dropped")
				}
			}
		}
	}
}

// Publish implements tracker.Sink.
func (h *Hub) Publish(ctx context.Context, n tracker.Notice) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	select {
	case <-h.done:
		return ErrClosed
	default:
	}
	select {
	case h.broadcast <- message{subjectID: n.SubjectID, payload: payload}:
		return nil
	case <-h.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrBacklogFull
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int { return int(h.count.Load()) }

// ServeHTTP upgrades the request and subscribes the connection. A
// "subject" query parameter limits the stream to one subject.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "websocket upgrade failed", logging.Err(err))
		return
	}
	c := &client{
		conn:      conn,
		send:      make(chan []byte, clientBuffer),
		subjectID: r.URL.Query().Get("subject"),
	}

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	go h.writePump(c)
	h.readPump(c)
}

// readPump discards inbound messages; it exists to process control frames
// and notice the peer going away.
func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug(context.Background(), "stream client read failed", logging.Err(err))
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
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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

// drop must only be called from Run.
func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) changed(ctx context.Context, msg string) {
	n := len(h.clients)
	h.count.Store(int64(n))
	if h.gauge != nil {
		h.gauge.SetStreamClients(n)
	}
	h.log.Debug(ctx, msg, logging.Int("clients", n))
}
