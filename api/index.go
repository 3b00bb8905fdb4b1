package handler

import (
	"net/http"
	"sync"

	"kaboom-collab-backend/pkg/config"
	"kaboom-collab-backend/pkg/database"
	"kaboom-collab-backend/pkg/logging"
	"kaboom-collab-backend/pkg/server"
	"kaboom-collab-backend/pkg/utils"
)

// Warm invocations reuse the app as long as the pooled store is unchanged.
var (
	appMu     sync.Mutex
	cachedApp *server.App
	appRouter http.Handler
	appDB     database.DatabaseInterface
)

// Handler 是Vercel函数的入口点
// 这个函数实现了"单体路由模式"，将所有API端点集中在一个Chi路由器中管理
func Handler(w http.ResponseWriter, r *http.Request) {
	// 加载配置
	cfg := config.GetCached()
	logging.SetLevel(cfg.LogLevel)

	// 验证配置
	if err := cfg.Validate(); err != nil {
		utils.WriteInternalServerErrorResponse(w, "Configuration error: "+err.Error())
		return
	}

	// 获取数据库连接（自动适配Vercel环境）
	db, err := database.GetDatabase(r.Context(), server.DatabaseConfig(cfg))
	if err != nil {
		logging.AppLogger.Error("database unavailable", "error", err)
		utils.WriteErrorResponseWithCode(w, http.StatusServiceUnavailable, "DATABASE_UNAVAILABLE", "Database unavailable", "")
		return
	}
	// 注意：连接由连接池管理，无需手动关闭

	router(cfg, db).ServeHTTP(w, r)
}

func router(cfg *config.Config, db database.DatabaseInterface) http.Handler {
	appMu.Lock()
	defer appMu.Unlock()

	if cachedApp == nil || appDB != db {
		if cachedApp != nil {
			cachedApp.Close()
		}
		cachedApp = server.NewApp(cfg, db, server.ProcessorFromConfig(cfg), server.MailerFromConfig(cfg))
		appRouter = cachedApp.Router()
		appDB = db
	}
	return appRouter
}
