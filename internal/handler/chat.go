package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hanachan/kioku/internal/logger"
	"github.com/hanachan/kioku/internal/types"
)

type chatRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	SessionID string `json:"session_id"`
	Message   string `json:"message" binding:"required"`
}

func (h *Handler) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.engine.Run(c.Request.Context(), req.UserID, req.SessionID, req.Message)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, types.ErrRetrievalTimeout) || errors.Is(err, types.ErrGenerationTimeout) {
			status = http.StatusGatewayTimeout
		}
		logger.Errorf(c.Request.Context(), "chat turn failed: %v", err)
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// chatStream emits the turn as server-sent events: status lines while the
// agent works, token deltas during generation, then done or error.
func (h *Handler) chatStream(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	events, err := h.engine.RunStream(c.Request.Context(), req.UserID, req.SessionID, req.Message)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		ev, ok := <-events
		if !ok {
			return false
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			logger.Errorf(c.Request.Context(), "failed to encode stream event: %v", err)
			return false
		}
		c.SSEvent(string(ev.Type), string(payload))
		return ev.Type != types.StreamDone && ev.Type != types.StreamError
	})
}
