package server

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// maxInboundMessage bounds client frames; watchers only send control frames.
const maxInboundMessage = 512

// handleWatch upgrades to a WebSocket, sends the current snapshot and then
// one snapshot per state change.
func (s *Server) handleWatch(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", map[string]any{"error": err.Error()})
		return nil
	}

	cl := newClient(conn)
	if !s.hub.Register(cl, s.currentSnapshot) {
		_ = conn.Close()
		return nil
	}

	go s.writePump(cl)
	go s.readPump(cl)
	return nil
}

// currentSnapshot encodes the consumer's state. It returns nil before the
// first run.
func (s *Server) currentSnapshot() []byte {
	st := s.consumer.State()
	if st == nil {
		return nil
	}
	data, err := encodeSnapshot(st)
	if err != nil {
		s.logger.Error("failed to encode snapshot", map[string]any{"error": err.Error()})
		return nil
	}
	return data
}

// readPump drains inbound frames so pongs and close frames are processed.
func (s *Server) readPump(cl *client) {
	defer func() {
		s.hub.Unregister(cl)
		_ = cl.conn.Close()
	}()

	pongWait := s.cfg.PingInterval * 2
	cl.conn.SetReadLimit(maxInboundMessage)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Debug("watcher read error", map[string]any{"conn_id": cl.id, "error": err.Error()})
			}
			return
		}
	}
}

// writePump sends queued snapshots and keepalive pings. It sends a close
// frame once the hub closes the client's queue.
func (s *Server) writePump(cl *client) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
