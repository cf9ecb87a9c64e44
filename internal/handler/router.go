// Package handler is the thin HTTP boundary: request decoding, status
// mapping, SSE plumbing. All behavior lives in the services.
package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/hanachan/kioku/internal/application/service/agent"
	"github.com/hanachan/kioku/internal/application/service/consolidation"
	"github.com/hanachan/kioku/internal/application/service/profile"
	"github.com/hanachan/kioku/internal/types/interfaces"
)

// Handler bundles the services behind the HTTP surface.
type Handler struct {
	engine        *agent.Engine
	sessions      interfaces.SessionService
	sessionRepo   interfaces.SessionRepository
	episodic      interfaces.EpisodicStore
	semantic      interfaces.SemanticStore
	consolidation *consolidation.Service
	profiles      *profile.Service
}

func New(
	engine *agent.Engine,
	sessions interfaces.SessionService,
	sessionRepo interfaces.SessionRepository,
	episodic interfaces.EpisodicStore,
	semantic interfaces.SemanticStore,
	consolidationSvc *consolidation.Service,
	profiles *profile.Service,
) *Handler {
	return &Handler{
		engine:        engine,
		sessions:      sessions,
		sessionRepo:   sessionRepo,
		episodic:      episodic,
		semantic:      semantic,
		consolidation: consolidationSvc,
		profiles:      profiles,
	}
}

// Register mounts all routes on the engine.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/health", h.health)
	r.GET("/health/detailed", h.healthDetailed)

	api := r.Group("/api/v1")
	{
		api.POST("/chat", h.chat)
		api.POST("/chat/stream", h.chatStream)

		api.POST("/sessions", h.createSession)
		api.GET("/sessions/:session_id", h.getSession)
		api.GET("/users/:user_id/sessions", h.listSessions)
		api.PUT("/sessions/:session_id", h.updateSession)
		api.DELETE("/sessions/:session_id", h.endSession)

		api.POST("/memory/episodic", h.addEpisodic)
		api.GET("/memory/episodic/:user_id", h.listEpisodic)
		api.POST("/memory/episodic/:user_id/search", h.searchEpisodic)
		api.DELETE("/memory/episodic/:user_id", h.clearEpisodic)

		api.POST("/memory/semantic", h.addSemantic)
		api.POST("/memory/semantic/:user_id/search", h.searchSemantic)
		api.GET("/memory/semantic/:user_id", h.inspectSemantic)
		api.GET("/memory/schema", h.graphSchema)
		api.DELETE("/memory/semantic/:user_id", h.clearSemantic)

		api.GET("/profile/:user_id", h.userProfile)
		api.POST("/maintenance/consolidate", h.consolidate)
		api.DELETE("/users/:user_id/memory", h.forgetUser)
	}
}
