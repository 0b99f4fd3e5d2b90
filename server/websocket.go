package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/GoCodeAlone/teamboard/board"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var errConnClosed = errors.New("connection closed")

// wsConn is the board.Conn of one websocket. All socket writes happen in
// writePump; Deliver and Reply only queue.
type wsConn struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newWSConn(ws *websocket.Conn, buffer int) *wsConn {
	if buffer <= 0 {
		buffer = 256
	}
	return &wsConn{
		ws:   ws,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

func (c *wsConn) Deliver(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *wsConn) Reply(ctx context.Context, data []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return errConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *wsConn) close() {
	c.once.Do(func() { close(c.done) })
}

// writePump drains the send queue onto the socket and keeps the peer alive
// with pings. It returns when the connection is closed or a write fails.
func (c *wsConn) writePump(logger *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug("websocket write", slog.Any("err", err))
				c.close()
				_ = c.ws.Close() // unblocks the read loop
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				_ = c.ws.Close()
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// handleWS upgrades GET /ws?project_id=... and runs one board session.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	if projectID == "" {
		writeJSONError(w, http.StatusBadRequest, "project_id is required")
		return
	}
	id, err := s.authenticate(r)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized: "+err.Error())
		return
	}
	if s.engine == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "sync engine not configured")
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Debug("websocket upgrade", slog.Any("err", err))
		return
	}
	defer ws.Close()

	if s.cfg.Server.ReadLimit > 0 {
		ws.SetReadLimit(s.cfg.Server.ReadLimit)
	}
	conn := newWSConn(ws, s.cfg.Server.SendBuffer)
	sess := board.NewSession(id, projectID, conn)
	ctx := context.WithoutCancel(r.Context())

	if err := s.engine.Subscribe(ctx, sess); err != nil {
		code, reason := websocket.CloseInternalServerErr, "subscribe failed"
		if errors.Is(err, board.ErrAccessDenied) {
			code, reason = websocket.ClosePolicyViolation, "access denied"
		} else {
			s.logger.Error("subscribe", slog.String("project_id", projectID), slog.Any("err", err))
		}
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(writeWait))
		return
	}

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		conn.writePump(s.logger)
	}()

	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read", slog.String("session", sess.ID()), slog.Any("err", err))
			}
			break
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		if err := s.engine.Handle(ctx, sess, data); err != nil {
			break
		}
	}

	s.engine.Close(sess)
	conn.close()
	<-pumpDone
}
