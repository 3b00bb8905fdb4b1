package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"

	"kaboom-collab-backend/pkg/config"
	"kaboom-collab-backend/pkg/logging"
)

// CORS 创建CORS中间件. ALLOWED_ORIGINS entries may end in "*" to admit a
// prefix, e.g. "https://kaboom-collab-git-*" for preview deployments.
func CORS(cfg *config.Config) func(http.Handler) http.Handler {
	corsOptions := cors.Options{
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
			"X-Requested-With",
			"Cache-Control",
		},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300, // 5分钟
	}

	if cfg.IsDevelopment() || isWildcard(cfg.AllowedOrigins) {
		// 当AllowedOrigins为*时，不能设置AllowCredentials为true
		corsOptions.AllowedOrigins = []string{"*"}
		corsOptions.AllowCredentials = false
		return cors.Handler(corsOptions)
	}

	log := logging.Named("cors")
	allowed := cfg.AllowedOrigins
	corsOptions.AllowOriginFunc = func(r *http.Request, origin string) bool {
		if isOriginAllowed(origin, allowed) {
			return true
		}
		log.Debug("rejected origin", "origin", origin, "path", r.URL.Path)
		return false
	}
	return cors.Handler(corsOptions)
}

func isWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return len(origins) == 0
}

// isOriginAllowed 检查来源是否被允许
func isOriginAllowed(origin string, allowedOrigins []string) bool {
	for _, allowed := range allowedOrigins {
		if allowed == origin {
			return true
		}
		if prefix := strings.TrimSuffix(allowed, "*"); prefix != allowed && strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}
