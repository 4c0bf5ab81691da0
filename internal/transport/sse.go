package transport

import (
	"log"
	"net/http"
	"time"

	"resume-optimizer/internal/shared/model"
)

// SSE Server-Sent Events 推送
type SSE struct {
	src     Source
	opts    Options
	metrics *Metrics
}

// NewSSE 创建 SSE 推送；metrics 为 nil 时按 opts 创建
func NewSSE(src Source, opts Options, metrics *Metrics) *SSE {
	opts.setDefaults()
	if metrics == nil {
		metrics = NewMetrics(opts.Namespace, opts.Registerer)
	}
	return &SSE{src: src, opts: opts, metrics: metrics}
}

// ServeSSE 推送作业事件流
//
// 先回放 Last-Event-ID 之后的事件再推送实时事件，连接建立后立即发送一个保活帧。
// 收到 done 后结束响应；订阅因消费过慢被关闭时也结束响应，由客户端带最后的 id 重连。
func (s *SSE) ServeSSE(w http.ResponseWriter, r *http.Request, jobID string) {
	rc := http.NewResponseController(w)
	after := LastEventID(r)

	sub, err := s.src.Subscribe(r.Context(), jobID, after)
	if err != nil {
		http.Error(w, "subscribe failed", http.StatusServiceUnavailable)
		return
	}
	defer s.src.Unsubscribe(sub)

	conns := s.metrics.Connections.WithLabelValues("sse")
	conns.Inc()
	defer conns.Dec()
	if after > 0 {
		s.metrics.Resumes.WithLabelValues("sse").Inc()
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fw := &sseWriter{w: w, rc: rc, opts: s.opts, metrics: s.metrics}
	if err := fw.writeKeepAlive(); err != nil {
		return
	}

	switch pump(r.Context(), sub, fw, s.opts.KeepAlive) {
	case pumpSubscription:
		if sub.Dropped() {
			log.Printf("[SSE] Client too slow for job %s, closing so it resumes after %d", jobID, fw.lastID)
		}
	case pumpClientGone:
		log.Printf("[SSE] Client disconnected from job %s at event %d", jobID, fw.lastID)
	}
}

type sseWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	opts    Options
	metrics *Metrics
	lastID  int64
}

func (s *sseWriter) write(frame []byte, kind string) error {
	// 不是所有 ResponseWriter 都支持写超时
	_ = s.rc.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	if _, err := s.w.Write(Pad(frame, s.opts.MinFrameBytes)); err != nil {
		return err
	}
	if err := s.rc.Flush(); err != nil {
		return err
	}
	s.metrics.Frames.WithLabelValues("sse", kind).Inc()
	return nil
}

func (s *sseWriter) writeEvent(env *model.Envelope) error {
	frame, err := EncodeFrame(env)
	if err != nil {
		log.Printf("[SSE] Failed to encode event %d for job %s: %v", env.EventID, env.JobID(), err)
		return nil
	}
	if err := s.write(frame, "event"); err != nil {
		return err
	}
	s.lastID = env.EventID
	return nil
}

func (s *sseWriter) writeKeepAlive() error {
	return s.write(KeepAliveFrame(), "keepalive")
}
