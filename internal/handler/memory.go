package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/hanachan/kioku/internal/types"
)

type addEpisodicRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Text   string `json:"text" binding:"required"`
}

func (h *Handler) addEpisodic(c *gin.Context) {
	var req addEpisodicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.episodic.Add(c.Request.Context(), req.UserID, req.Text)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *Handler) listEpisodic(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	memories, err := h.episodic.List(c.Request.Context(), c.Param("user_id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"memories": memories})
}

type searchEpisodicRequest struct {
	Query string `json:"query" binding:"required"`
	K     int    `json:"k"`
}

func (h *Handler) searchEpisodic(c *gin.Context) {
	var req searchEpisodicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.K <= 0 {
		req.K = 3
	}

	memories, err := h.episodic.Search(c.Request.Context(), c.Param("user_id"), req.Query, req.K)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"memories": memories})
}

func (h *Handler) clearEpisodic(c *gin.Context) {
	if err := h.episodic.DeleteByUser(c.Request.Context(), c.Param("user_id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

type addSemanticRequest struct {
	UserID        string               `json:"user_id" binding:"required"`
	Nodes         []types.Node         `json:"nodes"`
	Relationships []types.Relationship `json:"relationships"`
}

func (h *Handler) addSemantic(c *gin.Context) {
	var req addSemanticRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	nodes, rels, err := h.semantic.UpsertManual(c.Request.Context(), req.UserID, req.Nodes, req.Relationships)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"nodes": nodes, "relationships": rels})
}

type searchSemanticRequest struct {
	Keywords []string `json:"keywords" binding:"required"`
}

func (h *Handler) searchSemantic(c *gin.Context) {
	var req searchSemanticRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	facts, err := h.semantic.Search(c.Request.Context(), c.Param("user_id"), req.Keywords)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"facts": facts})
}

func (h *Handler) inspectSemantic(c *gin.Context) {
	facts, err := h.semantic.Inspect(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"facts": facts})
}

func (h *Handler) graphSchema(c *gin.Context) {
	schema, err := h.semantic.Schema(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, schema)
}

func (h *Handler) clearSemantic(c *gin.Context) {
	if err := h.semantic.Clear(c.Request.Context(), c.Param("user_id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

func (h *Handler) userProfile(c *gin.Context) {
	p, err := h.profiles.Profile(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, p)
}

type consolidateRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (h *Handler) consolidate(c *gin.Context) {
	var req consolidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.consolidation.Consolidate(c.Request.Context(), req.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// forgetUser removes everything stored for a user across all three layers.
func (h *Handler) forgetUser(c *gin.Context) {
	userID := c.Param("user_id")
	ctx := c.Request.Context()

	if err := h.episodic.DeleteByUser(ctx, userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := h.semantic.Clear(ctx, userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	deleted, err := h.sessions.DeleteByUser(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions_deleted": deleted})
}

func intQuery(c *gin.Context, key string, fallback int) int {
	if v, err := strconv.Atoi(c.Query(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}
