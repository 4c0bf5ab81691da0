// Package server 提供 HTTP API 处理器
//
// 本包实现简历优化服务的对外接口：
//   - 作业提交与查询
//   - 作业事件流（SSE / WebSocket）与快照
//   - 已持久化事件的分页读取与归档下载
//
// 文件组织：
//   - common.go: Handler 定义与通用工具函数
//   - handler.go: 路由
//   - jobs.go: 作业相关接口
//   - metrics.go: Prometheus 指标
package server

import (
	"context"
	"encoding/json"
	"net/http"

	"resume-optimizer/internal/pipeline"
	"resume-optimizer/internal/shared/model"
	"resume-optimizer/internal/shared/storage"
	"resume-optimizer/internal/stream"
	"resume-optimizer/internal/transport"

	"github.com/prometheus/client_golang/prometheus"
)

// JobSubmitter 作业入队，由 *pipeline.Runner 实现
type JobSubmitter interface {
	Submit(ctx context.Context, job pipeline.Job) (*model.Run, error)
}

// Snapshotter 作业快照，由 *stream.Manager 实现
type Snapshotter interface {
	Snapshot(ctx context.Context, jobID string) (*stream.Snapshot, error)
}

// ArchiveLoader 读取已归档的事件日志，由 *archive.Exporter 实现
type ArchiveLoader interface {
	Load(ctx context.Context, jobID string) ([]*model.Envelope, error)
}

// Deps Handler 依赖
//
// Archive 可为空（未启用归档）；Gatherer 为空时使用默认注册表。
type Deps struct {
	Store     storage.RunStore
	Streams   Snapshotter
	Jobs      JobSubmitter
	SSE       *transport.SSE
	WebSocket *transport.WebSocket
	Archive   ArchiveLoader
	Metrics   *Metrics
	Gatherer  prometheus.Gatherer
}

// Handler API 处理器
type Handler struct {
	store    storage.RunStore
	streams  Snapshotter
	jobs     JobSubmitter
	sse      *transport.SSE
	ws       *transport.WebSocket
	archive  ArchiveLoader
	metrics  *Metrics
	gatherer prometheus.Gatherer
}

// NewHandler 创建 Handler 实例
func NewHandler(d Deps) *Handler {
	if d.Metrics == nil {
		d.Metrics = NewMetrics("resume", nil)
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	return &Handler{
		store:    d.Store,
		streams:  d.Streams,
		jobs:     d.Jobs,
		sse:      d.SSE,
		ws:       d.WebSocket,
		archive:  d.Archive,
		metrics:  d.Metrics,
		gatherer: d.Gatherer,
	}
}

// GetMetrics 获取指标实例
func (h *Handler) GetMetrics() *Metrics {
	return h.metrics
}

// ============================================================================
// 工具函数
// ============================================================================

// writeJSON 将数据以 JSON 格式写入 HTTP 响应
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError 将错误信息以 JSON 格式写入 HTTP 响应
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Health 健康检查接口
//
// 路由: GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
