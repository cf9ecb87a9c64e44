package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/hanachan/kioku/internal/logger"
	"github.com/hanachan/kioku/internal/types"
)

type createSessionRequest struct {
	UserID   string                 `json:"user_id" binding:"required"`
	Metadata map[string]interface{} `json:"metadata"`
}

func (h *Handler) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sessionID, err := h.sessions.Create(c.Request.Context(), req.UserID, req.Metadata)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session_id": sessionID})
}

func (h *Handler) getSession(c *gin.Context) {
	session, err := h.sessions.Get(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		c.JSON(sessionStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *Handler) listSessions(c *gin.Context) {
	sessions, err := h.sessions.List(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

type updateSessionRequest struct {
	Title    string                 `json:"title"`
	Metadata map[string]interface{} `json:"metadata"`
}

func (h *Handler) updateSession(c *gin.Context) {
	var req updateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, err := h.sessions.UpdateMeta(c.Request.Context(), c.Param("session_id"), req.Title, req.Metadata)
	if err != nil {
		c.JSON(sessionStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

// endSession returns the final snapshot of the session before deleting it.
// Unless archive=false, the thread is preserved as one episodic memory so
// the conversation survives the session's deletion; the archive write is
// best effort and never fails the request.
func (h *Handler) endSession(c *gin.Context) {
	session, err := h.sessions.End(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		c.JSON(sessionStatus(err), gin.H{"error": err.Error()})
		return
	}

	archived := false
	if c.DefaultQuery("archive", "true") != "false" {
		if text := transcriptText(session); text != "" {
			if _, err := h.episodic.Add(c.Request.Context(), session.UserID, "[Session transcript] "+text); err != nil {
				logger.Errorf(c.Request.Context(), "failed to archive session %s: %v", session.SessionID, err)
			} else {
				archived = true
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"session": session, "archived": archived})
}

// transcriptText prefers the rolling summary; a session that never got one
// falls back to the raw role-prefixed transcript.
func transcriptText(session *types.Session) string {
	if session.Summary != "" {
		return session.Summary
	}
	lines := make([]string, 0, len(session.Messages))
	for _, m := range session.Messages {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Role, m.Content))
	}
	return strings.Join(lines, "\n")
}

func sessionStatus(err error) int {
	if errors.Is(err, types.ErrSessionNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
