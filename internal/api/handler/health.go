package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/forensicedr/forensicedr/internal/health"
)

// HealthHandler serves the /health endpoint from the checker's cached status.
type HealthHandler struct {
	checker *health.Checker
	version string
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(checker *health.Checker, version string) *HealthHandler {
	return &HealthHandler{checker: checker, version: version}
}

// Register mounts the health route on the given engine.
func (h *HealthHandler) Register(r *gin.Engine) {
	r.GET("/health", h.Health)
}

// Health handles GET /health.
func (h *HealthHandler) Health(c *gin.Context) {
	st := h.checker.Current()

	status := "healthy"
	code := http.StatusOK
	if !st.Healthy {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	} else if st.Database != "connected" {
		status = "degraded"
	}

	c.JSON(code, gin.H{
		"status":    status,
		"database":  st.Database,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
	})
}
