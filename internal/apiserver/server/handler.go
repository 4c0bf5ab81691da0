package server

import (
	"net/http"

	"resume-optimizer/internal/apiserver/auth"
)

// Router 返回配置好的 HTTP 路由
//
// 路由规则：
//
// 健康检查与指标:
//   - GET /health
//   - GET /metrics
//
// 作业 (Job):
//   - POST /api/v1/jobs                   - 提交作业
//   - GET  /api/v1/jobs                   - 列出当前客户端的作业
//   - GET  /api/v1/jobs/{id}              - 作业记录
//   - GET  /api/v1/jobs/{id}/snapshot     - 快照
//   - GET  /api/v1/jobs/{id}/events       - 已持久化事件（after / limit 分页）
//   - GET  /api/v1/jobs/{id}/archive      - 归档的 NDJSON 事件日志
//
// 事件流:
//   - GET  /api/v1/jobs/{id}/stream       - SSE
//   - GET  /ws/jobs/{id}/events           - WebSocket
func (h *Handler) Router(authCfg auth.Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("GET /metrics", MetricsHandler(h.gatherer))

	mux.HandleFunc("POST /api/v1/jobs", h.CreateJob)
	mux.HandleFunc("GET /api/v1/jobs", h.ListJobs)
	mux.HandleFunc("GET /api/v1/jobs/{id}", h.GetJob)
	mux.HandleFunc("GET /api/v1/jobs/{id}/snapshot", h.GetSnapshot)
	mux.HandleFunc("GET /api/v1/jobs/{id}/events", h.GetEvents)
	mux.HandleFunc("GET /api/v1/jobs/{id}/archive", h.GetArchive)

	mux.HandleFunc("GET /api/v1/jobs/{id}/stream", h.StreamSSE)
	mux.HandleFunc("GET /ws/jobs/{id}/events", h.StreamWS)

	// 中间件：指标在外层，认证在内层
	return h.metrics.MetricsMiddleware(auth.Middleware(authCfg)(mux))
}
