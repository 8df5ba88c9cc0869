package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"github.com/qs3c/review_go_server/internal/pkg/response"
)

type HealthHandler struct {
	db  *gorm.DB
	rdb *redis.Client // 可为 nil
}

func NewHealthHandler(db *gorm.DB, rdb *redis.Client) *HealthHandler {
	return &HealthHandler{db: db, rdb: rdb}
}

// Check 健康检查
// GET /api/v1/health
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := gin.H{"status": "ok"}

	sqlDB, err := h.db.DB()
	if err != nil || sqlDB.PingContext(ctx) != nil {
		status["status"] = "degraded"
		status["database"] = "down"
	} else {
		status["database"] = "up"
	}

	if h.rdb != nil {
		if err := h.rdb.Ping(ctx).Err(); err != nil {
			status["status"] = "degraded"
			status["redis"] = "down"
		} else {
			status["redis"] = "up"
		}
	}

	response.Success(c, status)
}
