package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// PingFunc reports dependency reachability
type PingFunc func(ctx context.Context) error

// HealthHandler reports liveness and dependency status
type HealthHandler struct {
	db    *gorm.DB
	redisPing PingFunc
}

// NewHealthHandler creates a new HealthHandler; redisPing may be nil
func NewHealthHandler(db *gorm.DB, redisPing PingFunc) *HealthHandler {
	return &HealthHandler{db: db, redisPing: redisPing}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{}

	if h.db != nil {
		sqlDB, err := h.db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			status = http.StatusServiceUnavailable
			checks["database"] = "down"
		} else {
			checks["database"] = "ok"
		}
	}

	if h.redisPing != nil {
		if err := h.redisPing(ctx); err != nil {
			// single-instance mode still works
			checks["redis"] = "degraded"
		} else {
			checks["redis"] = "ok"
		}
	}

	state := "ok"
	if status != http.StatusOK {
		state = "unavailable"
	}
	c.JSON(status, gin.H{"status": state, "checks": checks})
}
