package handlers

import (
	"io"

	"github.com/gin-gonic/gin"
	"github.com/silvershield/silvershield-backend/internal/realtime"
)

// RealtimeHandler exposes the fan-out hub as server-sent event streams
type RealtimeHandler struct {
	hub *realtime.Hub
}

// NewRealtimeHandler creates a new RealtimeHandler
func NewRealtimeHandler(hub *realtime.Hub) *RealtimeHandler {
	return &RealtimeHandler{hub: hub}
}

// StreamDonation handles GET /realtime/donations/:id. The donating browser
// session subscribes here with its donation id; the subscription lasts for
// the connection only, a reconnecting client re-subscribes.
func (h *RealtimeHandler) StreamDonation(c *gin.Context) {
	events, cancel := h.hub.SubscribeDonation(c.Param("id"))
	defer cancel()

	h.stream(c, events)
}

// StreamAdmin handles GET /realtime/admin. Admin sessions receive every
// donation update; the route is operator-authenticated.
func (h *RealtimeHandler) StreamAdmin(c *gin.Context) {
	events, cancel := h.hub.SubscribeAdmin()
	defer cancel()

	h.stream(c, events)
}

func (h *RealtimeHandler) stream(c *gin.Context, events <-chan realtime.Event) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(event.Name, event.Payload)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
