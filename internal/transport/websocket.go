package transport

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"resume-optimizer/internal/shared/model"
)

// upgrader WebSocket 升级器配置
//
// CheckOrigin 允许所有来源，认证由上层中间件完成
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// pongWait 客户端必须在该时间内回应 ping
const pongWait = 60 * time.Second

// WebSocket WebSocket 推送
//
// 与 SSE 的订阅语义相同：回放 last_event_id 之后的事件，再推送实时事件。
// 每条文本消息是一个事件信封 JSON；空闲时发送 ping；done 之后正常关闭连接。
type WebSocket struct {
	src     Source
	opts    Options
	metrics *Metrics
}

// NewWebSocket 创建 WebSocket 推送；metrics 为 nil 时按 opts 创建
func NewWebSocket(src Source, opts Options, metrics *Metrics) *WebSocket {
	opts.setDefaults()
	if metrics == nil {
		metrics = NewMetrics(opts.Namespace, opts.Registerer)
	}
	return &WebSocket{src: src, opts: opts, metrics: metrics}
}

// ServeWS 推送作业事件流
func (s *WebSocket) ServeWS(w http.ResponseWriter, r *http.Request, jobID string) {
	after := LastEventID(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Upgrade error: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, err := s.src.Subscribe(ctx, jobID, after)
	if err != nil {
		log.Printf("[WS] Subscribe failed for job %s: %v", jobID, err)
		s.close(conn, websocket.CloseInternalServerErr, "subscribe failed")
		return
	}
	defer s.src.Unsubscribe(sub)

	conns := s.metrics.Connections.WithLabelValues("ws")
	conns.Inc()
	defer conns.Dec()
	if after > 0 {
		s.metrics.Resumes.WithLabelValues("ws").Inc()
	}

	go readPump(conn, cancel)

	fw := &wsWriter{conn: conn, opts: s.opts, metrics: s.metrics}
	// 先发一次 ping，回放为空时客户端也能确认连接可用
	if err := fw.writeKeepAlive(); err != nil {
		log.Printf("[WS] Initial ping failed for job %s: %v", jobID, err)
		return
	}
	switch pump(ctx, sub, fw, s.opts.KeepAlive) {
	case pumpDone:
		s.close(conn, websocket.CloseNormalClosure, "job finished")
	case pumpSubscription:
		// 客户端应带 last_event_id 重连
		s.close(conn, websocket.CloseTryAgainLater, "resubscribe")
	case pumpClientGone:
		log.Printf("[WS] Client disconnected from job %s at event %d", jobID, fw.lastID)
	}
}

func (s *WebSocket) close(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.opts.WriteTimeout))
}

// readPump 读取客户端消息，只用于感知断开和处理 pong
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[WS] Read error: %v", err)
			}
			return
		}
	}
}

type wsWriter struct {
	conn    *websocket.Conn
	opts    Options
	metrics *Metrics
	lastID  int64
}

func (s *wsWriter) writeEvent(env *model.Envelope) error {
	data, err := model.MarshalEnvelope(env)
	if err != nil {
		log.Printf("[WS] Failed to encode event %d for job %s: %v", env.EventID, env.JobID(), err)
		return nil
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	s.lastID = env.EventID
	s.metrics.Frames.WithLabelValues("ws", "event").Inc()
	return nil
}

func (s *wsWriter) writeKeepAlive() error {
	if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.opts.WriteTimeout)); err != nil {
		return err
	}
	s.metrics.Frames.WithLabelValues("ws", "keepalive").Inc()
	return nil
}
