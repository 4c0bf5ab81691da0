package insight

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Manager 管理每个作业的监听器
type Manager struct {
	pub     Publisher
	ext     Extractor
	cfg     Config
	clock   Clock
	metrics *Metrics

	mu        sync.Mutex
	listeners map[string]chan struct{}
	wg        sync.WaitGroup
}

// NewManager 创建监听器管理器
func NewManager(pub Publisher, ext Extractor, cfg Config, reg prometheus.Registerer) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		pub:       pub,
		ext:       ext,
		cfg:       cfg,
		clock:     SystemClock,
		metrics:   NewMetrics(cfg.Namespace, reg),
		listeners: make(map[string]chan struct{}),
	}
}

// Metrics 返回监听器指标
func (m *Manager) Metrics() *Metrics { return m.metrics }

// Start 为作业启动监听器，已在运行时返回 false
//
// 监听器的生命周期由 ctx 控制，应传入进程级 ctx 而不是请求 ctx。
func (m *Manager) Start(ctx context.Context, jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.listeners[jobID]; ok {
		return false
	}
	done := make(chan struct{})
	m.listeners[jobID] = done

	l := NewListener(jobID, m.pub, m.ext, m.cfg, m.clock, m.metrics)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.listeners, jobID)
			m.mu.Unlock()
			close(done)
		}()
		if err := l.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[Insight] Listener for job %s stopped: %v", jobID, err)
		}
	}()
	return true
}

// Wait 等待作业的监听器结束；未在运行时立即返回
func (m *Manager) Wait(jobID string) {
	m.mu.Lock()
	done, ok := m.listeners[jobID]
	m.mu.Unlock()
	if ok {
		<-done
	}
}

// Running 作业的监听器是否在运行
func (m *Manager) Running(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.listeners[jobID]
	return ok
}

// Shutdown 等待所有监听器结束（调用方先取消 Start 时传入的 ctx）
func (m *Manager) Shutdown() {
	m.wg.Wait()
}
