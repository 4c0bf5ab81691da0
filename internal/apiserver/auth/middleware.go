package auth

import (
	"log"
	"net/http"
	"strings"
)

// 免认证路由
var publicPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

func isPublicRoute(path string) bool {
	return publicPaths[path]
}

// bearerToken 从 Authorization 头或 token 参数读取令牌
//
// EventSource 和浏览器 WebSocket 无法设置请求头，只能通过查询参数传递。
func bearerToken(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return "", false
		}
		return strings.TrimSpace(parts[1]), true
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, true
	}
	return "", false
}

// Middleware 创建 JWT 认证中间件
// 如果 cfg.Enabled() == false，所有请求以 anonymous 身份放行
func Middleware(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled() {
				next.ServeHTTP(w, r.WithContext(WithClientID(r.Context(), AnonymousClient)))
				return
			}

			if isPublicRoute(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(r)
			if !ok {
				http.Error(w, `{"error":"missing or invalid authorization"}`, http.StatusUnauthorized)
				return
			}

			claims, err := ParseToken(cfg, token)
			if err != nil {
				log.Printf("[auth] token parse error: %v", err)
				http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClientID(r.Context(), claims.Subject)))
		})
	}
}
