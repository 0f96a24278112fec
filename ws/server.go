// Package ws exposes the delivery channel to observers over WebSocket. Each
// connection is one observer: on attach it receives the active session's
// backlog in delivery order, then live events as they come due.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/traceplay/replayd/config"
	"github.com/traceplay/replayd/hub"
)

// Server handles WebSocket observer connections.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *hub.Hub) *Server {
	return &Server{
		cfg: cfg,
		hub: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Observers connect from the local recording browser.
				return true
			},
		},
	}
}

// HandleWebSocket upgrades the connection and streams delivered events until
// the observer disconnects.
func (s *Server) HandleWebSocket(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		return err
	}

	// The request context dies when this handler returns; the hijacked
	// connection outlives it, so the pumps get their own lifetime.
	obs := s.hub.Attach()
	ctx, cancel := context.WithCancel(context.Background())

	go s.writePump(ctx, cancel, conn, obs)
	go s.readPump(cancel, conn, obs)

	return nil
}

// readPump discards inbound frames; observers are push-only. It exists to
// detect disconnects and answer pings.
func (s *Server) readPump(cancel context.CancelFunc, conn *websocket.Conn, obs *hub.Observer) {
	defer func() {
		cancel()
		s.hub.Detach(obs)
		conn.Close()
	}()

	conn.SetReadLimit(s.cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
	}
}

// writePump forwards the observer's event stream to the socket, with
// keepalive pings between events.
func (s *Server) writePump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, obs *hub.Observer) {
	events := make(chan []byte)
	go func() {
		defer close(events)
		for {
			ev, err := obs.Next(ctx)
			if err != nil {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.Printf("ERROR: failed to marshal delivered event: %v", err)
				continue
			}
			select {
			case events <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		cancel()
		conn.Close()
	}()

	for {
		select {
		case data, ok := <-events:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("Failed to write message: %v", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
