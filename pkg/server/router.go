package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"kaboom-collab-backend/pkg/config"
	"kaboom-collab-backend/pkg/database"
	"kaboom-collab-backend/pkg/handlers"
	customMiddleware "kaboom-collab-backend/pkg/middleware"
	"kaboom-collab-backend/pkg/utils"
)

const maxBodyBytes = 1 << 20

// Router 创建Chi路由器，所有API端点集中在一个路由器中管理
func (a *App) Router() *chi.Mux {
	router := chi.NewRouter()
	setupMiddleware(router, a.Config)
	setupRoutes(router, a)
	return router
}

// setupMiddleware 设置全局中间件
func setupMiddleware(router *chi.Mux, cfg *config.Config) {
	// 基础中间件
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	// Normalize path and restore scheme/host before logging and routing
	router.Use(customMiddleware.Normalize())
	router.Use(customMiddleware.Logger(cfg))
	router.Use(customMiddleware.Recovery(cfg))

	// CORS中间件
	router.Use(customMiddleware.CORS(cfg))

	// 超时中间件（Vercel函数有时间限制）
	router.Use(middleware.Timeout(25 * time.Second)) // 留5秒缓冲

	router.Use(customMiddleware.MaxBodySize(maxBodyBytes))
	router.Use(customMiddleware.ContentTypeJSON)

	// 压缩中间件
	router.Use(middleware.Compress(5))

	// 开发环境额外中间件
	if cfg.IsDevelopment() {
		router.Use(middleware.Heartbeat("/ping"))
	}
}

// setupRoutes 设置所有API路由
func setupRoutes(router *chi.Mux, a *App) {
	cfg := a.Config

	// 创建处理器
	healthHandler := handlers.NewHealthHandler(cfg, a.DB)
	roomsHandler := handlers.NewRoomsHandler(cfg, a.Catalog, a.Admission, a.Dispatcher)
	invitationsHandler := handlers.NewInvitationsHandler(cfg, a.Admission, a.Dispatcher)
	webhookHandler := handlers.NewWebhookHandler(cfg, a.Bridge, a.Dispatcher)

	// 健康检查端点
	router.Get("/", healthHandler.HealthCheck)

	// 数据库连接池状态端点（调试用）
	if cfg.IsDevelopment() {
		router.Get("/debug/db-pool", func(w http.ResponseWriter, r *http.Request) {
			utils.WriteSuccessResponse(w, database.GetConnectionStats())
		})
	}

	// API路由组
	router.Route("/api", func(r chi.Router) {
		r.Route("/rooms", func(r chi.Router) {
			// 公开路由：匿名用户也能浏览与查看准入状态
			r.Group(func(r chi.Router) {
				r.Use(customMiddleware.OptionalAuthMiddleware(cfg))
				r.Get("/", roomsHandler.ListRooms)
				r.Get("/{roomID}/admission", roomsHandler.Evaluate)
			})

			// 需要认证的路由
			r.Group(func(r chi.Router) {
				r.Use(customMiddleware.AuthMiddleware(cfg))
				r.Get("/shared/{userID}", roomsHandler.SharedRooms)
				r.Post("/{roomID}/join", roomsHandler.Join)
				r.Post("/{roomID}/donation", roomsHandler.Donate)
				r.Post("/{roomID}/payment", roomsHandler.Pay)
				r.Post("/{roomID}/subscription", roomsHandler.Subscribe)
				r.Delete("/{roomID}/participants/me", roomsHandler.Leave)
				r.Get("/{roomID}/participants/pending", roomsHandler.ListPending)
				r.Post("/{roomID}/participants/{userID}/approve", roomsHandler.Approve)
			})
		})

		r.Route("/invitations", func(r chi.Router) {
			r.Use(customMiddleware.AuthMiddleware(cfg))
			r.Get("/", invitationsHandler.ListInvitations)
			r.Post("/{id}/respond", invitationsHandler.Respond)
		})

		// Webhook路由（不需要认证，但需要验证签名）
		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/stripe", webhookHandler.HandleStripeWebhook)
		})
	})

	// 404处理
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteNotFoundResponse(w, fmt.Sprintf("Route not found: %s %s", r.Method, r.URL.Path))
	})

	// 405处理
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteErrorResponseWithCode(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			fmt.Sprintf("Method %s not allowed for %s", r.Method, r.URL.Path), "")
	})
}
