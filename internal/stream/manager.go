// Package stream 作业事件流管理器
//
// Manager 是每个作业事件流的唯一写入者和分发者：
//   - 为事件分配作业内连续的 event_id
//   - 在内存中保留最近的历史（环形缓冲）
//   - 写入事件日志，并将 JobStatus 写穿到 Run 记录
//   - 非阻塞地分发给所有订阅者，消费过慢的订阅者被移除
//
// 所有状态由一把互斥锁保护。分配序号、写入历史、持久化、状态写穿、分发
// 在同一临界区内完成，订阅时的历史回放与注册也在同一临界区内完成，
// 因此订阅者看到的序列不会重复也不会有空洞。
package stream

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"resume-optimizer/internal/shared/model"
	"resume-optimizer/internal/shared/storage"

	"github.com/prometheus/client_golang/prometheus"
)

// storeTimeout 单次存储调用的超时
const storeTimeout = 5 * time.Second

// ErrLoopRunning 协调循环已在运行
var ErrLoopRunning = errors.New("stream: coordination loop already running")

// Options 管理器参数
type Options struct {
	HistorySize     int // 每个作业在内存中保留的最近事件数
	SubscriberQueue int // 订阅者实时队列容量（不含回放部分）
	IngestQueue     int // EmitFromThread 投递队列容量
	RecentChunks    int
	RecentInsights  int
	Namespace       string
	Registerer      prometheus.Registerer
}

func (o *Options) setDefaults() {
	if o.HistorySize <= 0 {
		o.HistorySize = 500
	}
	if o.SubscriberQueue <= 0 {
		o.SubscriberQueue = 1000
	}
	if o.IngestQueue <= 0 {
		o.IngestQueue = 4096
	}
	if o.RecentChunks <= 0 {
		o.RecentChunks = 50
	}
	if o.RecentInsights <= 0 {
		o.RecentInsights = 20
	}
	if o.Namespace == "" {
		o.Namespace = "resume"
	}
}

// jobState 单个作业的内存状态
//
// CleanupJob(keepHistory=false) 会释放 history 与订阅者，
// 但保留序号与结束标记，保证序号不被复用。
type jobState struct {
	lastID     int64
	history    *ring
	subs       map[*Subscriber]struct{}
	status     model.RunStatus
	done       bool
	finishedAt time.Time
}

// Manager 作业事件流管理器
type Manager struct {
	mu      sync.Mutex
	store   storage.RunStore
	opts    Options
	jobs    map[string]*jobState
	metrics *Metrics
	now     func() time.Time

	// 协调循环
	inbox    chan model.Event
	loopMu   sync.Mutex
	running  bool
	stopping chan struct{}
}

// NewManager 创建管理器
func NewManager(store storage.RunStore, opts Options) *Manager {
	opts.setDefaults()
	return &Manager{
		store:   store,
		opts:    opts,
		jobs:    make(map[string]*jobState),
		metrics: NewMetrics(opts.Namespace, opts.Registerer),
		now:     time.Now,
		inbox:   make(chan model.Event, opts.IngestQueue),
	}
}

// Metrics 返回管理器指标
func (m *Manager) Metrics() *Metrics { return m.metrics }

func storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), storeTimeout)
}

// ============================================================================
// Emit
// ============================================================================

// Emit 接收一个事件，返回分配的 event_id
//
// 作业已结束（已分发 done）时事件被丢弃，返回 ok=false。
// 持久化失败只记录日志和指标，不影响分发。
func (m *Manager) Emit(ev model.Event) (id int64, ok bool) {
	jobID := ev.JobID()

	m.mu.Lock()
	defer m.mu.Unlock()

	job := m.jobLocked(jobID)
	if job.done {
		m.metrics.EventsRejected.Inc()
		log.Printf("[Stream] Dropped %s for finished job %s", ev.Type(), jobID)
		return 0, false
	}
	return m.emitLocked(job, ev), true
}

// emitLocked 分配序号、写入历史、持久化、分发，调用方持有 mu 且 job 未结束
func (m *Manager) emitLocked(job *jobState, ev model.Event) int64 {
	jobID := ev.JobID()
	job.lastID++
	env := model.NewEnvelope(job.lastID, ev)
	if job.history != nil {
		job.history.push(env)
	}
	m.metrics.EventsEmitted.WithLabelValues(string(ev.Type())).Inc()

	m.persistLocked(job, env)

	for sub := range job.subs {
		if !sub.offer(env) {
			delete(job.subs, sub)
			sub.dropped.Store(true)
			sub.close()
			m.metrics.SubscribersActive.Dec()
			m.metrics.SubscribersDropped.Inc()
			log.Printf("[Stream] Dropped slow subscriber: job=%s event_id=%d", jobID, env.EventID)
		}
	}

	if ev.Type().IsTerminal() {
		job.done = true
		job.finishedAt = m.now()
		for sub := range job.subs {
			sub.close()
			m.metrics.SubscribersActive.Dec()
		}
		job.subs = make(map[*Subscriber]struct{})
	}

	return env.EventID
}

// persistLocked 写事件日志并写穿作业状态
func (m *Manager) persistLocked(job *jobState, env *model.Envelope) {
	if m.store == nil {
		return
	}
	ctx, cancel := storeCtx()
	defer cancel()

	jobID := env.JobID()
	if env.Type().IsDurable() {
		if err := m.store.AppendEvent(ctx, env); err != nil {
			m.metrics.PersistErrors.Inc()
			log.Printf("[Stream] Persist failed: job=%s event_id=%d type=%s: %v", jobID, env.EventID, env.Type(), err)
		}
	}

	var status model.RunStatus
	switch ev := env.Event.(type) {
	case model.JobStatus:
		status = ev.Status
	case model.Done:
		status = ev.Status
		if !status.Valid() {
			status = job.status
		}
	default:
		return
	}
	if !status.Valid() {
		return
	}
	job.status = status
	if err := m.store.UpdateRunStatus(ctx, jobID, status, env.EventID); err != nil {
		m.metrics.PersistErrors.Inc()
		log.Printf("[Stream] Status write-through failed: job=%s status=%s: %v", jobID, status, err)
	}
}

// jobLocked 取作业状态，首次出现时从存储恢复序号与结束标记
func (m *Manager) jobLocked(jobID string) *jobState {
	if job, ok := m.jobs[jobID]; ok {
		return job
	}
	job := &jobState{
		history: newRing(m.opts.HistorySize),
		subs:    make(map[*Subscriber]struct{}),
	}
	if m.store != nil {
		ctx, cancel := storeCtx()
		defer cancel()
		maxID, err := m.store.GetMaxEventID(ctx, jobID)
		if err != nil {
			log.Printf("[Stream] Failed to recover sequence for job %s: %v", jobID, err)
		}
		job.lastID = maxID
		if run, err := m.store.GetRun(ctx, jobID); err == nil && run != nil {
			job.status = run.Status
			if run.LastEventID > job.lastID {
				job.lastID = run.LastEventID
			}
		}
		switch {
		case m.endsWithDone(ctx, jobID, maxID):
			job.done = true
			job.finishedAt = m.now()
		case job.status.IsTerminal():
			// 进程在状态写穿与 done 之间退出，或作业入队前被拒绝：补发 done
			id := m.emitLocked(job, model.NewDone(jobID, job.status))
			log.Printf("[Stream] Recovered finished job %s without done, sealed at event_id=%d", jobID, id)
		}
	}
	m.jobs[jobID] = job
	return job
}

// endsWithDone 事件日志的最后一条是否为 done
func (m *Manager) endsWithDone(ctx context.Context, jobID string, maxID int64) bool {
	if maxID <= 0 {
		return false
	}
	last, err := m.store.GetEventsAfter(ctx, jobID, maxID-1, 1)
	if err != nil {
		log.Printf("[Stream] Failed to read last event for job %s: %v", jobID, err)
		return false
	}
	return len(last) == 1 && last[0].Type() == model.EventTypeDone
}

// ============================================================================
// EmitFromThread / Run
// ============================================================================

// EmitFromThread 供流水线工作协程等非协调协程投递事件
//
// 事件进入协调循环的队列，由 Run 所在协程调用 Emit。
// 循环未运行时事件被丢弃并计入 marshal_dropped_total；
// 队列已满时等待循环消费，循环停止则丢弃。
func (m *Manager) EmitFromThread(ev model.Event) {
	m.loopMu.Lock()
	running, stopping := m.running, m.stopping
	m.loopMu.Unlock()

	if !running {
		m.metrics.MarshalDropped.Inc()
		log.Printf("[Stream] Coordination loop not running, dropped %s for job %s", ev.Type(), ev.JobID())
		return
	}

	select {
	case m.inbox <- ev:
	case <-stopping:
		m.metrics.MarshalDropped.Inc()
		log.Printf("[Stream] Coordination loop stopped, dropped %s for job %s", ev.Type(), ev.JobID())
	}
}

// Run 运行协调循环，直到 ctx 取消
//
// 退出前会处理队列中已有的事件。
func (m *Manager) Run(ctx context.Context) error {
	m.loopMu.Lock()
	if m.running {
		m.loopMu.Unlock()
		return ErrLoopRunning
	}
	m.running = true
	m.stopping = make(chan struct{})
	m.loopMu.Unlock()

	log.Printf("[Stream] Coordination loop started")
	defer func() {
		m.loopMu.Lock()
		m.running = false
		close(m.stopping)
		m.loopMu.Unlock()
		m.drain()
		log.Printf("[Stream] Coordination loop stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-m.inbox:
			m.Emit(ev)
		}
	}
}

func (m *Manager) drain() {
	for {
		select {
		case ev := <-m.inbox:
			m.Emit(ev)
		default:
			return
		}
	}
}

// ============================================================================
// Subscribe / Unsubscribe
// ============================================================================

// Subscribe 订阅作业事件流，先回放 after 之后的历史，再接收实时事件
//
// 回放和注册在同一临界区内完成。作业已结束时回放完毕后通道即关闭。
func (m *Manager) Subscribe(ctx context.Context, jobID string, after int64) (*Subscriber, error) {
	return m.subscribe(ctx, jobID, after, false)
}

// SubscribeInternal 进程内组件（洞察监听、归档）的订阅，不计入 HasClients
func (m *Manager) SubscribeInternal(ctx context.Context, jobID string, after int64) (*Subscriber, error) {
	return m.subscribe(ctx, jobID, after, true)
}

func (m *Manager) subscribe(ctx context.Context, jobID string, after int64, internal bool) (*Subscriber, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if after < 0 {
		after = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	job := m.jobLocked(jobID)
	replay := m.historyLocked(ctx, jobID, job, after)

	sub := newSubscriber(jobID, m.opts.SubscriberQueue+len(replay))
	sub.internal = internal
	for _, env := range replay {
		sub.ch <- env
	}

	if job.done {
		sub.close()
		return sub, nil
	}
	job.subs[sub] = struct{}{}
	m.metrics.SubscribersActive.Inc()
	return sub, nil
}

// Unsubscribe 取消订阅，可重复调用
func (m *Manager) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, ok := m.jobs[sub.jobID]; ok {
		if _, registered := job.subs[sub]; registered {
			delete(job.subs, sub)
			m.metrics.SubscribersActive.Dec()
		}
	}
	sub.close()
}

// HasSubscribers 作业当前是否有订阅者
func (m *Manager) HasSubscribers(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	return ok && len(job.subs) > 0
}

// HasClients 作业当前是否有外部订阅者（SSE、WebSocket 等）
func (m *Manager) HasClients(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return false
	}
	for sub := range job.subs {
		if !sub.internal {
			return true
		}
	}
	return false
}

// historyLocked 返回 after 之后的历史
//
// 内存缓冲覆盖 after 之后全部事件时直接使用缓冲；否则先读事件日志，
// 再补上缓冲中比日志更新的事件。job 可以为 nil（只读日志）。
func (m *Manager) historyLocked(ctx context.Context, jobID string, job *jobState, after int64) []*model.Envelope {
	var buffered []*model.Envelope
	if job != nil && job.history != nil {
		if job.history.covers(after) {
			return job.history.since(after)
		}
		buffered = job.history.since(after)
	}
	if m.store == nil {
		return buffered
	}

	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	stored, err := m.store.GetEventsAfter(sctx, jobID, after, 0)
	if err != nil {
		log.Printf("[Stream] Failed to load history for job %s after %d: %v", jobID, after, err)
		return buffered
	}

	last := after
	if len(stored) > 0 {
		last = stored[len(stored)-1].EventID
	}
	for _, env := range buffered {
		if env.EventID > last {
			stored = append(stored, env)
		}
	}
	return stored
}

// ============================================================================
// Snapshot / Cleanup
// ============================================================================

// Snapshot 作业当前状态的快照
type Snapshot struct {
	JobID          string            `json:"job_id"`
	Status         model.RunStatus   `json:"status"`
	Done           bool              `json:"done"`
	LastEventID    int64             `json:"last_event_id"`
	History        []*model.Envelope `json:"history"`
	RecentChunks   []*model.Envelope `json:"recent_chunks"`
	RecentInsights []*model.Envelope `json:"recent_insights"`
}

// Snapshot 返回作业快照：状态、完整历史、最近的文本片段与洞察
//
// 状态优先取内存缓存，其次取 Run 记录，都没有时为 queued。
func (m *Manager) Snapshot(ctx context.Context, jobID string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	job := m.jobs[jobID]
	snap := &Snapshot{JobID: jobID, Status: model.RunStatusQueued}
	if job != nil {
		snap.Done = job.done
		snap.LastEventID = job.lastID
		if job.status != "" {
			snap.Status = job.status
		}
	}
	if (job == nil || job.status == "") && m.store != nil {
		sctx, cancel := context.WithTimeout(ctx, storeTimeout)
		run, err := m.store.GetRun(sctx, jobID)
		cancel()
		if err != nil {
			return nil, err
		}
		if run != nil {
			snap.Status = run.Status
			snap.Done = snap.Done || run.Status.IsTerminal()
		}
	}

	snap.History = m.historyLocked(ctx, jobID, job, 0)
	if n := len(snap.History); n > 0 && snap.History[n-1].EventID > snap.LastEventID {
		snap.LastEventID = snap.History[n-1].EventID
	}
	snap.RecentChunks = lastOfType(snap.History, model.EventTypeAgentChunk, m.opts.RecentChunks)
	snap.RecentInsights = lastOfType(snap.History, model.EventTypeInsightEmitted, m.opts.RecentInsights)
	return snap, nil
}

// lastOfType 取最后 n 个指定类型的事件（保持原顺序）
func lastOfType(envs []*model.Envelope, typ model.EventType, n int) []*model.Envelope {
	out := []*model.Envelope{}
	for i := len(envs) - 1; i >= 0 && len(out) < n; i-- {
		if envs[i].Type() == typ {
			out = append(out, envs[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// CleanupJob 结束作业的实时分发，keepHistory=false 时同时释放内存历史
//
// 作业尚未结束时先分发一条 done（状态沿用最近的作业状态），订阅者随之关闭，
// 之后该作业的 Emit 都被拒绝。序号与结束标记始终保留。
func (m *Manager) CleanupJob(jobID string, keepHistory bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return
	}
	m.cleanupLocked(jobID, job, keepHistory)
}

func (m *Manager) cleanupLocked(jobID string, job *jobState, keepHistory bool) {
	if !job.done {
		id := m.emitLocked(job, model.NewDone(jobID, job.status))
		log.Printf("[Stream] Job %s cleaned up before completion, done at event_id=%d", jobID, id)
	}
	for sub := range job.subs {
		sub.close()
		m.metrics.SubscribersActive.Dec()
	}
	job.subs = make(map[*Subscriber]struct{})
	if !keepHistory {
		job.history = nil
	}
}

// EvictFinished 清理结束超过 retention 的作业，返回清理数量
//
// 有存储时整个作业状态被移出内存，之后的访问由 jobLocked 从存储恢复序号与结束标记；
// 没有存储时只释放历史与订阅者，保留序号。
func (m *Manager) EvictFinished(retention time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-retention)
	n := 0
	for jobID, job := range m.jobs {
		if !job.done || job.finishedAt.After(cutoff) {
			continue
		}
		if m.store == nil && job.history == nil {
			continue
		}
		m.cleanupLocked(jobID, job, false)
		if m.store != nil {
			delete(m.jobs, jobID)
		}
		n++
	}
	if n > 0 {
		m.metrics.JobsEvicted.Add(float64(n))
		log.Printf("[Stream] Evicted %d finished jobs older than %s", n, retention)
	}
	return n
}

// RunRetention 每隔 interval 清理一次结束超过 retention 的作业，直到 ctx 取消
func (m *Manager) RunRetention(ctx context.Context, retention, interval time.Duration) error {
	if retention <= 0 {
		return nil
	}
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.EvictFinished(retention)
		}
	}
}
