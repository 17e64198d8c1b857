package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/channel"
	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/event"
)

// reconnectHintMillis is sent as the SSE retry field so browsers wait a
// moment before redialing instead of hammering the server.
const reconnectHintMillis = 3000

// SSEHandler attaches one long-lived event stream per request. Events are
// written as data frames; comment frames keep intermediaries from timing the
// connection out.
type SSEHandler struct {
	channel   channel.Channel
	heartbeat time.Duration
	logger    *zap.Logger
}

func NewSSEHandler(ch channel.Channel, heartbeat time.Duration, logger *zap.Logger) *SSEHandler {
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	return &SSEHandler{channel: ch, heartbeat: heartbeat, logger: logger}
}

func (h *SSEHandler) Serve(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	sub, err := h.channel.Subscribe(userID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event channel unavailable"})
		return
	}
	defer sub.Close()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	fmt.Fprintf(c.Writer, "retry: %d\n\n", reconnectHintMillis)
	flusher.Flush()

	h.logger.Info("sse stream opened", zap.String("user_id", userID))
	defer h.logger.Info("sse stream closed", zap.String("user_id", userID))

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-sub.C():
			if !open {
				return
			}
			if err := writeSSEEvent(c.Writer, ev); err != nil {
				h.logger.Warn("sse write failed", zap.String("user_id", userID), zap.Error(err))
				return
			}
			flusher.Flush()
		case <-ticker.C:
			// Comment frame: ignored by clients, resets idle timers.
			if _, err := fmt.Fprint(c.Writer, ": hb\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, ev event.Envelope) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
