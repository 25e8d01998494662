package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-runtime/internal/database"
	"github.com/stemsi/exstem-runtime/internal/response"
)

// HealthHandler reports dependency health.
type HealthHandler struct {
	check func(ctx context.Context) database.Status
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(check func(ctx context.Context) database.Status) *HealthHandler {
	return &HealthHandler{check: check}
}

// Health godoc
// GET /health
// Pings PostgreSQL and Redis. Answers 503 when either is down.
func (h *HealthHandler) Health(c *gin.Context) {
	st := h.check(c.Request.Context())
	if !st.Healthy() {
		response.FailWithData(c, http.StatusServiceUnavailable, response.ErrUnavailable,
			gin.H{"status": "degraded", "dependencies": st})
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "ok", "dependencies": st})
}
