package stream

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/channel"
)

var (
	// tuning parameters
	writeWait      = 10 * time.Second    // time allowed to write a message to the peer
	pongWait       = 60 * time.Second    // time allowed to read the next pong from the peer
	pingInterval   = (pongWait * 9) / 10 // send pings with this period
	maxMessageSize = 4 * 1024            // inbound frames carry no payload the server acts on
)

// WSHandler upgrades requests to WebSocket and bridges one channel
// subscription onto each connection. The socket is push-only: inbound frames
// are read solely to service pings and detect disconnects.
type WSHandler struct {
	channel  channel.Channel
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewWSHandler(ch channel.Channel, allowedOrigins []string, logger *zap.Logger) *WSHandler {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	return &WSHandler{
		channel: ch,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				return origins[origin]
			},
		},
		logger: logger,
	}
}

func (h *WSHandler) Serve(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	sub, err := h.channel.Subscribe(userID)
	if err != nil {
		_ = conn.Close()
		return
	}

	wc := &wsConn{
		userID: userID,
		conn:   conn,
		sub:    sub,
		logger: h.logger,
	}
	go wc.readPump()
	go wc.writePump()

	h.logger.Info("websocket stream opened", zap.String("user_id", userID))
}

type wsConn struct {
	userID string
	conn   *websocket.Conn
	sub    *channel.Subscription
	once   sync.Once
	logger *zap.Logger
}

func (w *wsConn) close() {
	w.once.Do(func() {
		w.sub.Close()
		_ = w.conn.Close()
		w.logger.Info("websocket stream closed", zap.String("user_id", w.userID))
	})
}

func (w *wsConn) readPump() {
	defer w.close()

	w.conn.SetReadLimit(int64(maxMessageSize))
	_ = w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		return w.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := w.conn.ReadMessage(); err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
			) {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				w.logger.Warn("websocket peer timed out", zap.String("user_id", w.userID))
				return
			}
			w.logger.Warn("websocket read error", zap.String("user_id", w.userID), zap.Error(err))
			return
		}
	}
}

func (w *wsConn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		w.close()
	}()

	for {
		select {
		case ev, open := <-w.sub.C():
			if !open {
				_ = w.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(writeWait))
				return
			}
			_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteJSON(ev); err != nil {
				w.logger.Warn("websocket write failed", zap.String("user_id", w.userID), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
