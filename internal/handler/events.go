package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"virtual-market/internal/notify"
)

const sseHeartbeat = 30 * time.Second

// Events streams dashboard events as server-sent events.
// GET /api/events
func (h *HTTPHandler) Events(c *gin.Context) {
	if origin := c.GetHeader("Origin"); origin != "" && !h.allowedOrigins[origin] {
		c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{Message: "origin not allowed"})
		return
	}

	session := h.hub.Register(notify.TransportSSE)
	defer h.hub.Unregister(session)

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	// Flush headers so the client sees the stream open before the first event.
	c.Status(http.StatusOK)
	c.SSEvent("ready", session.ID)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-session.Messages():
			if !ok {
				return false
			}
			c.SSEvent(msg.Name, json.RawMessage(msg.Data))
			return true
		case <-heartbeat.C:
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
