package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"resume-optimizer/internal/apiserver/auth"
	"resume-optimizer/internal/pipeline"
	"resume-optimizer/internal/shared/archive"
	"resume-optimizer/internal/shared/model"
)

const (
	defaultEventsLimit = 100
	maxEventsLimit     = 1000
	defaultListLimit   = 20
	maxListLimit       = 100
)

// ============================================================================
// 请求/响应类型
// ============================================================================

// CreateJobRequest 提交作业请求体
type CreateJobRequest struct {
	JobDescription string `json:"job_description"`
	Resume         string `json:"resume"`
	ApplicationID  string `json:"application_id,omitempty"`
}

// CreateJobResponse 提交作业响应体
type CreateJobResponse struct {
	JobID string `json:"job_id"`
}

// EventsResponse 事件分页响应体
type EventsResponse struct {
	Events    []*model.Envelope `json:"events"`
	Count     int               `json:"count"`
	NextAfter int64             `json:"next_after"`
}

// ============================================================================
// 作业接口
// ============================================================================

// CreateJob 提交作业
//
// 路由: POST /api/v1/jobs
//
// 作业立即入队并返回 202，进度通过事件流获取。
// 错误响应:
//   - 400 请求体无效或缺少 job_description / resume
//   - 503 作业队列已满
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.JobDescription) == "" || strings.TrimSpace(req.Resume) == "" {
		writeError(w, http.StatusBadRequest, "job_description and resume are required")
		return
	}

	run, err := h.jobs.Submit(r.Context(), pipeline.Job{
		ClientID:       auth.ClientID(r.Context()),
		ApplicationID:  req.ApplicationID,
		JobDescription: req.JobDescription,
		Resume:         req.Resume,
	})
	if errors.Is(err, pipeline.ErrQueueFull) || errors.Is(err, pipeline.ErrStopped) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		log.Printf("[API] Submit job failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}
	writeJSON(w, http.StatusAccepted, CreateJobResponse{JobID: run.JobID})
}

// ListJobs 列出当前客户端最近的作业
//
// 路由: GET /api/v1/jobs?limit=
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"), defaultListLimit, maxListLimit)
	runs, err := h.store.ListRunsByClient(r.Context(), auth.ClientID(r.Context()), limit)
	if err != nil {
		log.Printf("[API] List jobs failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if runs == nil {
		runs = []*model.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": runs, "count": len(runs)})
}

// GetJob 获取作业记录
//
// 路由: GET /api/v1/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	run, ok := h.ownedRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// GetSnapshot 获取作业快照
//
// 路由: GET /api/v1/jobs/{id}/snapshot
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	run, ok := h.ownedRun(w, r)
	if !ok {
		return
	}
	snap, err := h.streams.Snapshot(r.Context(), run.JobID)
	if err != nil {
		log.Printf("[API] Snapshot %s failed: %v", run.JobID, err)
		writeError(w, http.StatusInternalServerError, "failed to build snapshot")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetEvents 获取已持久化的事件
//
// 路由: GET /api/v1/jobs/{id}/events?after=&limit=
//
// 查询参数:
//   - after: 起始 event_id（不包含），默认 0
//   - limit: 返回数量限制，默认 100，最大 1000
//
// 只返回已落库的事件，心跳不在其中。next_after 为下一页的 after。
func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	run, ok := h.ownedRun(w, r)
	if !ok {
		return
	}
	after, err := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)
	if err != nil || after < 0 {
		after = 0
	}
	limit := parseLimit(r.URL.Query().Get("limit"), defaultEventsLimit, maxEventsLimit)

	events, err := h.store.GetEventsAfter(r.Context(), run.JobID, after, limit)
	if err != nil {
		log.Printf("[API] Get events %s failed: %v", run.JobID, err)
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}
	if events == nil {
		events = []*model.Envelope{}
	}
	next := after
	if n := len(events); n > 0 {
		next = events[n-1].EventID
	}
	writeJSON(w, http.StatusOK, EventsResponse{Events: events, Count: len(events), NextAfter: next})
}

// GetArchive 下载归档的事件日志（NDJSON）
//
// 路由: GET /api/v1/jobs/{id}/archive
func (h *Handler) GetArchive(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusNotFound, "archive disabled")
		return
	}
	run, ok := h.ownedRun(w, r)
	if !ok {
		return
	}
	events, err := h.archive.Load(r.Context(), run.JobID)
	if errors.Is(err, archive.ErrNotArchived) {
		writeError(w, http.StatusNotFound, "job not archived")
		return
	}
	if err != nil {
		log.Printf("[API] Load archive %s failed: %v", run.JobID, err)
		writeError(w, http.StatusBadGateway, "failed to load archive")
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	for _, env := range events {
		if err := enc.Encode(env); err != nil {
			return
		}
	}
}

// ============================================================================
// 事件流
// ============================================================================

// StreamSSE 作业事件流（SSE），支持 Last-Event-ID 续传
//
// 路由: GET /api/v1/jobs/{id}/stream
func (h *Handler) StreamSSE(w http.ResponseWriter, r *http.Request) {
	run, ok := h.ownedRun(w, r)
	if !ok {
		return
	}
	h.sse.ServeSSE(w, r, run.JobID)
}

// StreamWS 作业事件流（WebSocket）
//
// 路由: GET /ws/jobs/{id}/events
func (h *Handler) StreamWS(w http.ResponseWriter, r *http.Request) {
	run, ok := h.ownedRun(w, r)
	if !ok {
		return
	}
	h.ws.ServeWS(w, r, run.JobID)
}

// ownedRun 读取路径中的作业，不存在或不属于当前客户端时返回 404
func (h *Handler) ownedRun(w http.ResponseWriter, r *http.Request) (*model.Run, bool) {
	jobID := r.PathValue("id")
	run, err := h.store.GetRun(r.Context(), jobID)
	if err != nil {
		log.Printf("[API] Get job %s failed: %v", jobID, err)
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return nil, false
	}
	if run == nil || run.ClientID != auth.ClientID(r.Context()) {
		writeError(w, http.StatusNotFound, "job not found")
		return nil, false
	}
	return run, true
}

func parseLimit(raw string, def, max int) int {
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
