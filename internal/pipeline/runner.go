// Package pipeline 简历优化流水线
//
// Runner 持有固定数量的工作协程，每个作业按步骤顺序调用模型流式生成，
// 通过 EmitFromThread 把过程事件交给流管理器的协调循环。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"resume-optimizer/internal/llm"
	"resume-optimizer/internal/shared/model"
	"resume-optimizer/internal/shared/storage"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrQueueFull 待处理作业已满
	ErrQueueFull = errors.New("pipeline: job queue is full")
	// ErrStopped 工作协程已退出，不再接收作业
	ErrStopped = errors.New("pipeline: runner stopped")
)

// Emitter 事件出口，由 *stream.Manager 实现
//
// HasClients 只统计外部订阅者，洞察监听与归档不算在内。
type Emitter interface {
	EmitFromThread(ev model.Event)
	HasClients(jobID string) bool
}

// InsightStarter 为作业启动洞察监听
type InsightStarter interface {
	Start(ctx context.Context, jobID string) bool
}

// Archiver 作业结束后导出事件日志
type Archiver interface {
	Archive(ctx context.Context, jobID string) (string, error)
}

// Config 流水线参数
type Config struct {
	Workers           int
	QueueSize         int
	Steps             []string
	ChunkChars        int
	ChunkInterval     time.Duration
	HeartbeatInterval time.Duration // 步骤执行期间有订阅者时的心跳间隔
	JobTimeout        time.Duration
	Model             string // 仅用于 agent_step_started 展示
	Namespace         string
	Registerer        prometheus.Registerer
}

func (c *Config) setDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = c.Workers * 16
	}
	if len(c.Steps) == 0 {
		c.Steps = []string{"analyzing", "rewriting", "validating", "polishing"}
	}
	if c.ChunkChars <= 0 {
		c.ChunkChars = 100
	}
	if c.ChunkInterval <= 0 {
		c.ChunkInterval = 250 * time.Millisecond
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 10 * time.Minute
	}
	if c.Namespace == "" {
		c.Namespace = "resume"
	}
}

// Runner 流水线执行器
type Runner struct {
	cfg      Config
	steps    []Step
	store    storage.RunRecordStore
	emitter  Emitter
	agent    llm.Streamer
	insights InsightStarter
	archiver Archiver
	metrics  *Metrics
	now      func() time.Time

	mu      sync.Mutex // 保护 stopped 与入队
	stopped bool
	queue   chan Job
}

// Option 可选依赖
type Option func(*Runner)

// WithInsights 作业开始前启动洞察监听
func WithInsights(s InsightStarter) Option {
	return func(r *Runner) { r.insights = s }
}

// WithArchiver 作业结束后归档事件日志
func WithArchiver(a Archiver) Option {
	return func(r *Runner) { r.archiver = a }
}

// NewRunner 创建执行器
func NewRunner(cfg Config, store storage.RunRecordStore, emitter Emitter, agent llm.Streamer, opts ...Option) *Runner {
	cfg.setDefaults()
	r := &Runner{
		cfg:     cfg,
		steps:   resolveSteps(cfg.Steps),
		store:   store,
		emitter: emitter,
		agent:   agent,
		metrics: NewMetrics(cfg.Namespace, cfg.Registerer),
		now:     time.Now,
		queue:   make(chan Job, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Metrics 返回流水线指标
func (r *Runner) Metrics() *Metrics { return r.metrics }

// Submit 创建 Run 记录（queued）并入队，不等待执行
func (r *Runner) Submit(ctx context.Context, job Job) (*model.Run, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	run := model.NewRun(job.ID, job.ClientID)
	if job.ApplicationID != "" {
		appID := job.ApplicationID
		run.ApplicationID = &appID
	}
	if err := r.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run %s: %w", job.ID, err)
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		r.reject(ctx, job.ID, "pipeline is shutting down")
		return nil, ErrStopped
	}
	select {
	case r.queue <- job:
		r.mu.Unlock()
		r.metrics.QueueDepth.Inc()
		log.Printf("[Pipeline] Job %s queued for client %s", job.ID, job.ClientID)
		return run, nil
	default:
		r.mu.Unlock()
		r.reject(ctx, job.ID, "job queue is full")
		return nil, ErrQueueFull
	}
}

// reject 入队失败的作业直接标记为 failed，订阅时由流管理器补发 done
func (r *Runner) reject(ctx context.Context, jobID, msg string) {
	if err := r.store.UpdateRunStatus(ctx, jobID, model.RunStatusFailed, 0); err != nil {
		log.Printf("[Pipeline] Failed to mark rejected job %s: %v", jobID, err)
	}
	if err := r.store.UpdateRunError(ctx, jobID, msg); err != nil {
		log.Printf("[Pipeline] Failed to record error for job %s: %v", jobID, err)
	}
}

// Run 启动工作协程，阻塞直到 ctx 取消
func (r *Runner) Run(ctx context.Context) error {
	log.Printf("[Pipeline] Starting %d workers", r.cfg.Workers)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case job := <-r.queue:
					r.metrics.QueueDepth.Dec()
					r.process(gctx, job)
				}
			}
		})
	}
	err := g.Wait()
	n := r.abandonQueued()
	log.Printf("[Pipeline] Workers stopped, %d queued jobs failed", n)
	return err
}

// abandonQueued 停止接收作业，队列中尚未开始的作业标记失败并发出 done
func (r *Runner) abandonQueued() int {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	n := 0
	for {
		select {
		case job := <-r.queue:
			r.metrics.QueueDepth.Dec()
			r.fail(job.ID, fmt.Errorf("pipeline stopped before job started: %w", context.Canceled))
			r.emit(model.NewDone(job.ID, model.RunStatusFailed))
			r.metrics.JobsTotal.WithLabelValues(string(model.RunStatusFailed)).Inc()
			n++
		default:
			return n
		}
	}
}

// ============================================================================
// 作业执行
// ============================================================================

// process 执行一个作业，保证最后发出 done
func (r *Runner) process(ctx context.Context, job Job) {
	r.metrics.JobsInFlight.Inc()
	defer r.metrics.JobsInFlight.Dec()

	if r.insights != nil {
		r.insights.Start(ctx, job.ID)
	}

	jobCtx, cancel := context.WithTimeout(ctx, r.cfg.JobTimeout)
	defer cancel()

	start := r.now()
	log.Printf("[Pipeline] Job %s started", job.ID)
	r.emit(model.NewJobStatus(job.ID, model.RunStatusRunning, "pipeline started"))

	outputs, total, err := r.runSteps(jobCtx, job)
	if err != nil {
		r.fail(job.ID, err)
		r.finish(ctx, job.ID, model.RunStatusFailed)
		return
	}

	r.emit(model.NewMetricUpdate(job.ID, "total_cost_usd", total, "usd"))
	if final := outputs[r.steps[len(r.steps)-1].Name]; final != "" {
		r.emit(model.NewDiffChunk(job.ID, "resume", job.Resume, final))
	}
	r.emit(model.NewJobStatus(job.ID, model.RunStatusCompleted, "pipeline completed"))
	log.Printf("[Pipeline] Job %s completed in %s, cost $%.4f", job.ID, r.now().Sub(start).Round(time.Millisecond), total)
	r.finish(ctx, job.ID, model.RunStatusCompleted)
}

// stepError 带步骤名的生产者错误
type stepError struct {
	step string
	err  error
}

func (e *stepError) Error() string { return fmt.Sprintf("step %s: %v", e.step, e.err) }
func (e *stepError) Unwrap() error { return e.err }

func (r *Runner) runSteps(ctx context.Context, job Job) (map[string]string, float64, error) {
	outputs := make(map[string]string, len(r.steps))
	var total float64
	for i, step := range r.steps {
		if err := ctx.Err(); err != nil {
			return outputs, total, &stepError{step: step.Name, err: err}
		}
		res, err := r.runStep(ctx, job, step, outputs)
		if err != nil {
			return outputs, total, &stepError{step: step.Name, err: err}
		}
		outputs[step.Name] = res.Text
		total += res.Cost

		progress := float64(i+1) / float64(len(r.steps))
		r.emit(model.NewStepProgress(job.ID, step.Name, progress, fmt.Sprintf("%d/%d steps done", i+1, len(r.steps))))
		if step.Name == "validating" {
			if score, issues, ok := parseValidation(res.Text); ok {
				r.emit(model.NewValidationUpdate(job.ID, score >= validationPassScore, score, issues))
			}
		}
	}
	return outputs, total, nil
}

func (r *Runner) runStep(ctx context.Context, job Job, step Step, outputs map[string]string) (llm.Result, error) {
	r.emit(model.NewAgentStepStarted(job.ID, step.Name, step.Agent, r.cfg.Model))

	live := func() bool { return r.emitter.HasClients(job.ID) }
	ch := newChunker(job.ID, step.Name, r.cfg.ChunkChars, r.cfg.ChunkInterval, r.now, live, r.emit)
	start := time.Now()
	stopBeat := r.heartbeat(job.ID, live)
	res, err := r.agent.Stream(ctx, llm.Request{System: step.System, Prompt: step.Prompt(job, outputs)}, ch.write)
	stopBeat()
	ch.flush()
	r.metrics.StepDuration.WithLabelValues(step.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		return res, err
	}

	r.metrics.CostUSD.Add(res.Cost)
	r.emit(model.NewAgentStepCompleted(job.ID, step.Name, step.Agent, res.TotalChars, res.Model, res.Cost))
	r.emit(model.NewMetricUpdate(job.ID, step.Name+"_cost_usd", res.Cost, "usd"))
	return res, nil
}

// heartbeat 在步骤执行期间定期发心跳，返回停止函数
//
// 模型首个 token 之前可能等待很久，心跳让前端知道作业仍在进行。没有订阅者时跳过。
func (r *Runner) heartbeat(jobID string, live func() bool) func() {
	stop := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(r.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if live() {
					r.emit(model.NewHeartbeat(jobID))
				}
			}
		}
	}()
	return func() {
		close(stop)
		<-stopped
	}
}

// fail 生产者失败：error 事件、failed 状态、记录错误信息
func (r *Runner) fail(jobID string, err error) {
	step := ""
	var se *stepError
	if errors.As(err, &se) {
		step = se.step
	}
	code := "producer_failed"
	if errors.Is(err, context.DeadlineExceeded) {
		code = "timeout"
	} else if errors.Is(err, context.Canceled) {
		code = "cancelled"
	}
	log.Printf("[Pipeline] Job %s failed: %v", jobID, err)

	r.emit(model.NewError(jobID, step, code, err.Error()))
	r.emit(model.NewJobStatus(jobID, model.RunStatusFailed, err.Error()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if uerr := r.store.UpdateRunError(ctx, jobID, err.Error()); uerr != nil {
		log.Printf("[Pipeline] Failed to record error for job %s: %v", jobID, uerr)
	}
}

// finish 发出 done，然后按需归档
func (r *Runner) finish(ctx context.Context, jobID string, status model.RunStatus) {
	r.emit(model.NewDone(jobID, status))
	r.metrics.JobsTotal.WithLabelValues(string(status)).Inc()

	if r.archiver == nil {
		return
	}
	actx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if key, err := r.archiver.Archive(actx, jobID); err != nil {
		r.metrics.ArchiveErrors.Inc()
		log.Printf("[Pipeline] Archive failed for job %s: %v", jobID, err)
	} else {
		log.Printf("[Pipeline] Job %s archived to %s", jobID, key)
	}
}

func (r *Runner) emit(ev model.Event) {
	r.emitter.EmitFromThread(ev)
}
