package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/channel"
)

type MonitorHandler interface {
	GetStats(c *gin.Context)
	Health(c *gin.Context)
}

// activeCallCounter is the slice of the call service the monitor needs.
type activeCallCounter interface {
	ActiveCalls(ctx context.Context) (int64, error)
}

type monitorHandler struct {
	channel   channel.Channel
	calls     activeCallCounter
	logger    *zap.Logger
	startedAt time.Time
}

func NewMonitorHandler(ch channel.Channel, calls activeCallCounter, logger *zap.Logger) MonitorHandler {
	return &monitorHandler{
		channel:   ch,
		calls:     calls,
		logger:    logger,
		startedAt: time.Now().UTC(),
	}
}

func (h *monitorHandler) GetStats(c *gin.Context) {
	activeCalls, err := h.calls.ActiveCalls(c.Request.Context())
	if err != nil {
		h.logger.Warn("active call count failed", zap.Error(err))
		activeCalls = -1
	}

	c.JSON(http.StatusOK, gin.H{
		"channel":        h.channel.Stats(),
		"active_calls":   activeCalls,
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
		"timestamp":      time.Now().UTC(),
	})
}

func (h *monitorHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
