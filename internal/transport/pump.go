package transport

import (
	"context"
	"time"

	"resume-optimizer/internal/shared/model"
	"resume-optimizer/internal/stream"

	"github.com/prometheus/client_golang/prometheus"
)

// Source 推送读取事件的来源，由 *stream.Manager 实现
type Source interface {
	Subscribe(ctx context.Context, jobID string, after int64) (*stream.Subscriber, error)
	Unsubscribe(sub *stream.Subscriber)
}

// Options 推送参数
type Options struct {
	KeepAlive     time.Duration
	MinFrameBytes int
	WriteTimeout  time.Duration
	Namespace     string
	Registerer    prometheus.Registerer
}

func (o *Options) setDefaults() {
	if o.KeepAlive <= 0 {
		o.KeepAlive = 15 * time.Second
	}
	if o.MinFrameBytes < 0 {
		o.MinFrameBytes = 0
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.Namespace == "" {
		o.Namespace = "resume"
	}
}

// frameWriter 具体连接的写入方式
type frameWriter interface {
	writeEvent(env *model.Envelope) error
	writeKeepAlive() error
}

// pumpResult 推送循环结束原因
type pumpResult int

const (
	pumpDone         pumpResult = iota // 收到 done
	pumpClientGone                     // 连接断开或写失败
	pumpSubscription                   // 订阅被关闭（消费过慢或被清理）
)

// pump 把订阅的事件写给客户端，空闲 keepAlive 时发送保活帧
func pump(ctx context.Context, sub *stream.Subscriber, w frameWriter, keepAlive time.Duration) pumpResult {
	idle := time.NewTimer(keepAlive)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return pumpClientGone
		case env, ok := <-sub.C():
			if !ok {
				return pumpSubscription
			}
			if err := w.writeEvent(env); err != nil {
				return pumpClientGone
			}
			if env.Type().IsTerminal() {
				return pumpDone
			}
			idle.Reset(keepAlive)
		case <-idle.C:
			if err := w.writeKeepAlive(); err != nil {
				return pumpClientGone
			}
			idle.Reset(keepAlive)
		}
	}
}
