package stream

import (
	"sync/atomic"

	"resume-optimizer/internal/shared/model"
)

// Subscriber 一个作业事件流的订阅
//
// 通道由管理器关闭，关闭原因有三种：作业结束（收到 done）、
// 调用 Unsubscribe/CleanupJob、消费过慢被移除（Dropped 返回 true）。
// 被移除的订阅者应以最后收到的 event_id 重新订阅。
type Subscriber struct {
	jobID    string
	ch       chan *model.Envelope
	closed   bool // 由 Manager.mu 保护
	internal bool
	dropped  atomic.Bool
}

func newSubscriber(jobID string, capacity int) *Subscriber {
	return &Subscriber{jobID: jobID, ch: make(chan *model.Envelope, capacity)}
}

// C 事件通道
func (s *Subscriber) C() <-chan *model.Envelope { return s.ch }

// JobID 订阅的作业
func (s *Subscriber) JobID() string { return s.jobID }

// Dropped 是否因队列已满被移除
func (s *Subscriber) Dropped() bool { return s.dropped.Load() }

// offer 非阻塞投递，队列已满返回 false
func (s *Subscriber) offer(env *model.Envelope) bool {
	select {
	case s.ch <- env:
		return true
	default:
		return false
	}
}

// close 关闭通道，调用方必须持有 Manager.mu
func (s *Subscriber) close() {
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
