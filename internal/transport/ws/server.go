// Package ws streams client state changes to local UIs over WebSocket.
package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// Options tunes the connection keepalive.
type Options struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
	// MaxMessageSize bounds inbound frames; the feed is one-way so clients
	// only send control frames.
	MaxMessageSize int64
}

// StateMessage is the first frame sent on every connection.
type StateMessage struct {
	Type  string      `json:"type"`
	State interface{} `json:"state"`
}

// Server upgrades HTTP requests and attaches them to the hub.
type Server struct {
	hub      *Hub
	opts     Options
	snapshot func() interface{}
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a WebSocket server. snapshot, when non-nil, supplies the
// state sent to each client on connect.
func NewServer(h *Hub, opts Options, snapshot func() interface{}, logger *slog.Logger) *Server {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 4096
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		hub:      h,
		opts:     opts,
		snapshot: snapshot,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The bridge only listens on localhost.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleWebSocket handles GET /ws. The optional session_id query parameter
// narrows session-scoped events to one session.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("failed to upgrade websocket", "error", err)
		return err
	}

	conn := s.hub.NewConnection(ws, c.QueryParam("session_id"))
	ws.SetReadLimit(s.opts.MaxMessageSize)

	if s.snapshot != nil {
		if err := s.hub.SendJSONToConnection(conn, StateMessage{Type: "state", State: s.snapshot()}); err != nil {
			s.logger.Warn("failed to queue initial state", "conn_id", conn.ID, "error", err)
		}
	}
	s.hub.Register(conn)

	go s.writePump(conn)
	go s.readPump(conn)
	return nil
}

// readPump drains inbound frames so control frames are processed and a
// closed socket is noticed.
func (s *Server) readPump(conn *Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	readTimeout := 2 * s.opts.PingInterval
	conn.Conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		return conn.Conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		if _, _, err := conn.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket closed", "conn_id", conn.ID, "error", err)
			}
			return
		}
	}
}

func (s *Server) writePump(conn *Connection) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Debug("failed to write message", "conn_id", conn.ID, "error", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
