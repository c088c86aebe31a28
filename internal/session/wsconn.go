package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
)

// wsConn adapts a websocket to Sender. Outbound messages go through a bounded
// queue drained by a single writer goroutine.
type wsConn struct {
	ws     *websocket.Conn
	out    chan ServerMessage
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func (c *wsConn) Send(msg ServerMessage) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- msg:
		return true
	default:
		return false
	}
}

func (c *wsConn) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case msg := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				c.logger.Debug("session.ws.write_failed", "error", err)
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

// Serve attaches ws to m and blocks until the connection ends. queueSize
// bounds the per-connection outbound queue.
func Serve(m *Manager, ws *websocket.Conn, queueSize int) {
	if queueSize <= 0 {
		queueSize = 64
	}
	c := &wsConn{
		ws:     ws,
		out:    make(chan ServerMessage, queueSize),
		done:   make(chan struct{}),
		logger: m.logger,
	}
	go c.writeLoop()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	defer func() {
		m.Disconnect(c)
		c.Close()
	}()
	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				m.logger.Debug("session.ws.read_failed", "error", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		m.HandleMessage(c, data)
		select {
		case <-c.done:
			return
		default:
		}
	}
}
