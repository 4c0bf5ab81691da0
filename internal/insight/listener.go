// Package insight 作业洞察监听器
//
// 每个作业一个监听器，作为内部订阅者消费作业事件流：
// 按步骤累积 agent_chunk 文本，在时间与字数条件同时满足时调用提取器，
// 对结果做近似去重后以 insight_emitted 事件重新发回流中。
package insight

import (
	"context"
	"fmt"
	"log"
	"time"

	"resume-optimizer/internal/shared/model"
	"resume-optimizer/internal/stream"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Publisher 监听器依赖的流接口，由 *stream.Manager 实现
type Publisher interface {
	SubscribeInternal(ctx context.Context, jobID string, after int64) (*stream.Subscriber, error)
	Unsubscribe(sub *stream.Subscriber)
	EmitFromThread(ev model.Event)
}

// Listener 单个作业的洞察监听器
type Listener struct {
	jobID   string
	pub     Publisher
	ext     Extractor
	cfg     Config
	clock   Clock
	metrics *Metrics

	steps  map[string]*stepBuffer
	seen   *lru.Cache[uint64, struct{}]
	lastID int64
}

// NewListener 创建监听器；clock 为 nil 时使用系统时钟
func NewListener(jobID string, pub Publisher, ext Extractor, cfg Config, clock Clock, metrics *Metrics) *Listener {
	cfg = cfg.withDefaults()
	if clock == nil {
		clock = SystemClock
	}
	if metrics == nil {
		metrics = NewMetrics(cfg.Namespace, nil)
	}
	seen, err := lru.New[uint64, struct{}](cfg.DedupSize)
	if err != nil {
		// 只在容量非正时出错，withDefaults 已保证
		panic(err)
	}
	return &Listener{
		jobID:   jobID,
		pub:     pub,
		ext:     ext,
		cfg:     cfg,
		clock:   clock,
		metrics: metrics,
		steps:   make(map[string]*stepBuffer),
		seen:    seen,
	}
}

// Run 订阅作业事件流直到收到 done 或 ctx 取消
//
// 因消费过慢被流管理器移除时，从最后处理的 event_id 之后重新订阅。
func (l *Listener) Run(ctx context.Context) error {
	l.metrics.ListenersActive.Inc()
	defer l.metrics.ListenersActive.Dec()

	for {
		sub, err := l.pub.SubscribeInternal(ctx, l.jobID, l.lastID)
		if err != nil {
			return err
		}
		finished, err := l.consume(ctx, sub)
		l.pub.Unsubscribe(sub)
		if finished || err != nil {
			return err
		}
		l.metrics.Resubscribes.Inc()
		log.Printf("[Insight] Listener for job %s dropped, resubscribing after %d", l.jobID, l.lastID)
	}
}

// consume 处理一个订阅，返回 finished=true 表示监听应结束
func (l *Listener) consume(ctx context.Context, sub *stream.Subscriber) (finished bool, err error) {
	idle := time.NewTimer(l.cfg.IdleSweep)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case env, ok := <-sub.C():
			if !ok {
				// 被清理而非被丢弃时不再重连
				return !sub.Dropped(), nil
			}
			if l.handle(ctx, env) {
				return true, nil
			}
			idle.Reset(l.cfg.IdleSweep)
		case <-idle.C:
			l.sweep(l.clock.Now())
			idle.Reset(l.cfg.IdleSweep)
		}
	}
}

// handle 处理一条事件，返回 true 表示作业已结束
func (l *Listener) handle(ctx context.Context, env *model.Envelope) bool {
	if env.EventID <= l.lastID {
		return false
	}
	l.lastID = env.EventID

	switch ev := env.Event.(type) {
	case model.AgentChunk:
		l.onChunk(ctx, ev)
	case model.AgentStepCompleted:
		// 步骤结束时不再补做提取，直接丢弃缓冲
		delete(l.steps, ev.Step)
	case model.Done:
		l.steps = make(map[string]*stepBuffer)
		return true
	}
	return false
}

func (l *Listener) onChunk(ctx context.Context, ev model.AgentChunk) {
	if ev.Text == "" {
		return
	}
	now := l.clock.Now()
	buf, ok := l.steps[ev.Step]
	if !ok {
		buf = &stepBuffer{}
		l.steps[ev.Step] = buf
	}
	buf.append(ev.Text, l.cfg.BufferChars, now)
	if !buf.ready(now, l.cfg.MinInterval, l.cfg.MinChars) {
		return
	}
	buf.markExtracted(now)
	l.extract(ctx, ev.Step, buf.window(l.cfg.WindowChars))
}

// extract 调用提取器并发出去重后的洞察，失败只记录
func (l *Listener) extract(ctx context.Context, step, window string) {
	category := CategoryForStep(step)
	ctx, cancel := context.WithTimeout(ctx, l.cfg.ExtractTimeout)
	defer cancel()

	l.metrics.Extractions.Inc()
	start := time.Now()
	candidates, err := l.safeExtract(ctx, category, window)
	l.metrics.ExtractionSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		l.metrics.ExtractionErrors.Inc()
		log.Printf("[Insight] Extraction failed: job=%s step=%s: %v", l.jobID, step, err)
		return
	}

	for _, c := range candidates {
		if c.Message == "" {
			continue
		}
		if c.Category == "" {
			c.Category = category
		}
		fp := Fingerprint(c.Category, c.Message)
		if l.seen.Contains(fp) {
			l.metrics.InsightsDeduped.Inc()
			continue
		}
		l.seen.Add(fp, struct{}{})
		l.metrics.InsightsEmitted.WithLabelValues(c.Category).Inc()
		l.pub.EmitFromThread(model.NewInsightEmitted(l.jobID, uuid.NewString(), step, c.Category, c.Message))
	}
}

// safeExtract 调用提取器，panic 转为错误
func (l *Listener) safeExtract(ctx context.Context, category, window string) (candidates []Candidate, err error) {
	defer func() {
		if r := recover(); r != nil {
			candidates, err = nil, fmt.Errorf("extractor panic: %v", r)
		}
	}()
	return l.ext.Extract(ctx, instructionFor(category), window, category)
}

// sweep 丢弃长时间没有新片段的步骤缓冲
func (l *Listener) sweep(now time.Time) {
	for step, buf := range l.steps {
		if now.Sub(buf.lastChunk) >= l.cfg.StaleAfter {
			delete(l.steps, step)
			log.Printf("[Insight] Discarded stale buffer: job=%s step=%s", l.jobID, step)
		}
	}
}
