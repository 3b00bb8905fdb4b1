package handlers

import (
	"net/http"
	"time"

	"kaboom-collab-backend/pkg/config"
	"kaboom-collab-backend/pkg/database"
	"kaboom-collab-backend/pkg/utils"
)

// Version is stamped at build time with -ldflags "-X".
var Version = "1.0.0"

// HealthHandler 处理健康检查
type HealthHandler struct {
	config *config.Config
	db     database.DatabaseInterface
}

func NewHealthHandler(cfg *config.Config, db database.DatabaseInterface) *HealthHandler {
	return &HealthHandler{config: cfg, db: db}
}

// HealthCheck 健康检查
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	// 测试数据库连接
	dbStatus := "healthy"
	if err := h.db.HealthCheck(r.Context()); err != nil {
		dbStatus = "unhealthy: " + err.Error()
	}

	utils.WriteSuccessResponse(w, map[string]interface{}{
		"service":     "kaboom-collab-backend",
		"version":     Version,
		"environment": h.config.Environment,
		"database":    h.getDatabaseType(),
		"db_status":   dbStatus,
		"timestamp":   time.Now().Unix(),
		"status":      "healthy",
	})
}

// getDatabaseType 获取数据库类型
func (h *HealthHandler) getDatabaseType() string {
	switch h.db.(type) {
	case *database.PostgresDatabase:
		return "postgresql"
	case *database.SupabaseDatabase:
		return "supabase"
	case *database.LocalDatabase:
		return "sqlite"
	}
	return "unknown"
}
