package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrBufferFull is returned when a connection's send buffer is full.
var ErrBufferFull = errors.New("send buffer full")

const sendBuffer = 256

// Connection is one WebSocket client of the event feed. A connection with an
// empty SessionID receives every event; otherwise it receives global events
// and those of its session.
type Connection struct {
	ID        string
	SessionID string
	Conn      *websocket.Conn
	Send      chan []byte
	mu        sync.Mutex
}

type frame struct {
	sessionID string
	data      []byte
}

// Hub fans events out to the connected clients.
type Hub struct {
	logger *slog.Logger

	mu          sync.RWMutex
	connections map[string]*Connection

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan frame
	done       chan struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:      logger,
		connections: make(map[string]*Connection),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan frame, sendBuffer),
		done:        make(chan struct{}),
	}
}

// Run is the hub's main loop. When ctx is cancelled every connection's send
// channel is closed and Run returns.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, conn := range h.connections {
				close(conn.Send)
				delete(h.connections, id)
			}
			h.mu.Unlock()
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			h.mu.Unlock()
			h.logger.Debug("connection registered", "conn_id", conn.ID, "session_id", conn.SessionID)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				close(conn.Send)
			}
			h.mu.Unlock()
			h.logger.Debug("connection unregistered", "conn_id", conn.ID)

		case f := <-h.broadcast:
			var slow []*Connection
			h.mu.RLock()
			for _, conn := range h.connections {
				if f.sessionID != "" && conn.SessionID != "" && conn.SessionID != f.sessionID {
					continue
				}
				select {
				case conn.Send <- f.data:
				default:
					slow = append(slow, conn)
				}
			}
			h.mu.RUnlock()
			for _, conn := range slow {
				h.logger.Warn("connection buffer full, closing", "conn_id", conn.ID)
				h.drop(conn)
			}
		}
	}
}

// drop removes conn from inside the Run loop.
func (h *Hub) drop(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.connections[conn.ID]; ok {
		delete(h.connections, conn.ID)
		close(conn.Send)
	}
}

// NewConnection wraps ws in a Connection watching sessionID ("" for all).
func (h *Hub) NewConnection(ws *websocket.Conn, sessionID string) *Connection {
	return &Connection{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Conn:      ws,
		Send:      make(chan []byte, sendBuffer),
	}
}

func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.done:
		close(conn.Send)
	}
}

func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Broadcast queues data for every connection interested in sessionID. An
// empty sessionID reaches everyone.
func (h *Hub) Broadcast(sessionID string, data []byte) {
	select {
	case h.broadcast <- frame{sessionID: sessionID, data: data}:
	case <-h.done:
	}
}

// BroadcastJSON marshals v and broadcasts it.
func (h *Hub) BroadcastJSON(sessionID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(sessionID, data)
	return nil
}

// SendJSONToConnection queues v for a single connection.
func (h *Hub) SendJSONToConnection(conn *Connection, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case conn.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// ConnectionCount returns the number of registered connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// WriteMessage writes to the socket under the connection lock.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

func (c *Connection) Close() error {
	return c.Conn.Close()
}
