package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// healthDetailed pings each store. Any failing dependency turns the overall
// status degraded with a 503 so orchestrators can act on it.
func (h *Handler) healthDetailed(c *gin.Context) {
	ctx := c.Request.Context()

	checks := gin.H{}
	healthy := true
	for name, check := range map[string]func() error{
		"qdrant":   func() error { return h.episodic.Health(ctx) },
		"neo4j":    func() error { return h.semantic.Health(ctx) },
		"postgres": func() error { return h.sessionRepo.Health(ctx) },
	} {
		if err := check(); err != nil {
			checks[name] = err.Error()
			healthy = false
		} else {
			checks[name] = "ok"
		}
	}

	status := http.StatusOK
	overall := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	c.JSON(status, gin.H{"status": overall, "checks": checks})
}
