package present

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/medscribe/internal/pipeline"
)

const (
	defaultSendBuffer   = 64
	defaultWriteTimeout = 5 * time.Second
	maxRequestBytes     = 4 << 10
)

// Message types sent to WebSocket clients.
const (
	MessageSnapshot = "snapshot"
	MessageEvent    = "event"
	MessageReply    = "reply"
)

// Message is one frame sent to a WebSocket client. A client first receives
// a snapshot, then every event in order, plus a reply per command it sends.
type Message struct {
	Type     string          `json:"type"`
	Snapshot *Snapshot       `json:"snapshot,omitempty"`
	Event    *pipeline.Event `json:"event,omitempty"`
	Command  Command         `json:"command,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Request is a frame received from a WebSocket client.
type Request struct {
	Command string `json:"command"`
}

// HubOption configures a [Hub].
type HubOption func(*Hub)

// WithOriginPatterns allows cross-origin WebSocket clients whose host
// matches one of patterns.
func WithOriginPatterns(patterns ...string) HubOption {
	return func(h *Hub) { h.originPatterns = patterns }
}

// WithSendBuffer sets how many frames may queue per client before it is
// dropped as too slow. Default: 64.
func WithSendBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// Hub fans events out to browser clients over WebSocket and accepts start
// and stop commands from them. It is a [pipeline.Sink] and keeps the board
// it was given up to date.
type Hub struct {
	ctl            Controller
	board          *Board
	originPatterns []string
	sendBuffer     int
	writeTimeout   time.Duration

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

var _ pipeline.Sink = (*Hub)(nil)

type client struct {
	conn *websocket.Conn
	send chan Message
}

// NewHub creates a hub driving ctl. A nil board gets a fresh [NewBoard].
func NewHub(ctl Controller, board *Board, opts ...HubOption) *Hub {
	if board == nil {
		board = NewBoard()
	}
	h := &Hub{
		ctl:          ctl,
		board:        board,
		sendBuffer:   defaultSendBuffer,
		writeTimeout: defaultWriteTimeout,
		clients:      make(map[*client]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Board returns the board the hub updates.
func (h *Hub) Board() *Board { return h.board }

// Publish updates the board and queues e for every client. A client whose
// queue is full is disconnected rather than blocking the caller.
func (h *Hub) Publish(e pipeline.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.board.Publish(e)
	for c := range h.clients {
		if !h.enqueueLocked(c, Message{Type: MessageEvent, Event: &e}) {
			slog.Warn("present: dropping slow websocket client")
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and serves one client until it leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Debug("present: websocket accept failed", "err", err)
		return
	}
	conn.SetReadLimit(maxRequestBytes)

	c := &client{conn: conn, send: make(chan Message, h.sendBuffer)}
	if !h.register(c) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(ctx, c)
	}()

	h.readLoop(ctx, c)
	cancel()
	h.unregister(c)
	<-writerDone
	conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	snap := h.board.Snapshot()
	c.send <- Message{Type: MessageSnapshot, Snapshot: &snap}
	h.clients[c] = struct{}{}
	return true
}

// unregister removes c and closes its queue, ending its write loop.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// enqueueLocked queues m for c, dropping c when its queue is full.
func (h *Hub) enqueueLocked(c *client, m Message) bool {
	select {
	case c.send <- m:
		return true
	default:
		delete(h.clients, c)
		close(c.send)
		return false
	}
}

func (h *Hub) reply(c *client, m Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		h.enqueueLocked(c, m)
	}
}

func (h *Hub) writeLoop(ctx context.Context, c *client) {
	for m := range c.send {
		data, err := json.Marshal(m)
		if err != nil {
			slog.Error("present: marshal websocket message", "err", err)
			continue
		}
		wctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
		err = c.conn.Write(wctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			if ctx.Err() == nil {
				// Unblock the reader; the handler then unregisters c.
				c.conn.Close(websocket.StatusInternalError, "write failed")
			}
			return
		}
	}
	if ctx.Err() == nil {
		// Dropped by Publish while the reader is still running.
		c.conn.Close(websocket.StatusPolicyViolation, "client too slow")
	}
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				slog.Debug("present: websocket read", "err", err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			h.reply(c, Message{Type: MessageReply, Error: "invalid request body"})
			continue
		}
		cmd, err := ParseCommand(req.Command)
		if err == nil {
			err = Execute(ctx, h.ctl, cmd)
		}
		m := Message{Type: MessageReply, Command: cmd}
		if err != nil {
			m.Error = err.Error()
		}
		h.reply(c, m)
	}
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}
