package stream

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	diagDefaultFrames = 10
	diagMaxFrames     = 100
	diagFrameInterval = 500 * time.Millisecond
)

// DiagStream emits a finite run of numbered frames and closes. It exercises
// the full proxy path without touching the event channel, which makes it the
// first thing to hit when a deployment's streams stall.
func DiagStream(c *gin.Context) {
	frames := diagDefaultFrames
	if raw := c.Query("frames"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > diagMaxFrames {
			c.JSON(http.StatusBadRequest, gin.H{"error": "frames must be between 1 and 100"})
			return
		}
		frames = n
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	ctx := c.Request.Context()
	for i := 1; i <= frames; i++ {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if _, err := fmt.Fprintf(c.Writer, "data: {\"frame\":%d,\"of\":%d}\n\n", i, frames); err != nil {
			return
		}
		flusher.Flush()
		if i < frames {
			time.Sleep(diagFrameInterval)
		}
	}
	fmt.Fprint(c.Writer, "data: {\"done\":true}\n\n")
	flusher.Flush()
}
