package handlers

import (
	"levelquest/internal/events"
	"levelquest/internal/middleware"
	"levelquest/internal/observability"

	"github.com/gin-gonic/gin"
)

// WebsocketHandler attaches learners to the realtime hub
type WebsocketHandler struct {
	hub    *events.Hub
	logger *observability.Logger
}

// NewWebsocketHandler creates a new WebsocketHandler instance
func NewWebsocketHandler(hub *events.Hub, logger *observability.Logger) *WebsocketHandler {
	return &WebsocketHandler{hub: hub, logger: logger}
}

// Connect handles GET /v1/ws. After a failed upgrade the upgrader has
// already written the response, so errors are only logged.
func (h *WebsocketHandler) Connect(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	if err := h.hub.ServeWS(c.Writer, c.Request, userID); err != nil {
		h.logger.Warn(c.Request.Context(), "Websocket connection rejected", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
		if !c.Writer.Written() {
			HandleAppError(c, err)
		}
	}
}
