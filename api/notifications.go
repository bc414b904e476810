package api

import (
	"io"
	"net/http"
	"time"

	"github.com/Domenick1991/aimtravel/internal/notify"
	"github.com/gin-gonic/gin"
)

// Subscriber is the push hub as seen by the stream endpoint.
type Subscriber interface {
	Subscribe(identity, correlationID string) *notify.Subscription
	Unsubscribe(sub *notify.Subscription)
}

// EventConnected is the first event of every stream; clients may treat the
// subscription as active once it arrives.
const EventConnected = "connected"

type NotificationHandler struct {
	hub       Subscriber
	heartbeat time.Duration
}

func NewNotificationHandler(hub Subscriber, heartbeat time.Duration) *NotificationHandler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &NotificationHandler{hub: hub, heartbeat: heartbeat}
}

func (h *NotificationHandler) Register(router *gin.RouterGroup) {
	router.GET("/notifications/stream", h.stream)
}

// stream serves Server-Sent Events for one (userEmail, orderId) pair.
// sessionId may be given instead of orderId.
func (h *NotificationHandler) stream(c *gin.Context) {
	identity := c.Query("userEmail")
	correlation := c.Query("orderId")
	if correlation == "" {
		correlation = c.Query("sessionId")
	}
	if identity == "" && correlation == "" {
		badRequest(c, "orderId", "userEmail or orderId is required")
		return
	}

	sub := h.hub.Subscribe(identity, correlation)
	defer h.hub.Unsubscribe(sub)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.SSEvent(EventConnected, gin.H{"subscriptionId": sub.ID, "userEmail": identity, "orderId": correlation})
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-sub.Events():
			if !ok {
				return false
			}
			c.SSEvent(string(event.Type), event)
			return true
		case <-ticker.C:
			_, err := io.WriteString(w, ": ping\n\n")
			return err == nil
		}
	})
}
