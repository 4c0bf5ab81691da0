// Package memstore 内存版 storage.RunStore
//
// 用于单元测试和 driver=memory 的本地调试。进程退出即丢失数据。
// 支持注入写入失败，用于验证持久化失败时流仍然继续投递。
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"resume-optimizer/internal/shared/model"
	"resume-optimizer/internal/shared/storage"
)

// Store 内存存储
type Store struct {
	mu     sync.RWMutex
	runs   map[string]*model.Run
	events map[string][]*model.Envelope

	// appendErr 非空时 AppendEvent 直接返回该错误
	appendErr error
	// statusErr 非空时 UpdateRunStatus 直接返回该错误
	statusErr error
}

var _ storage.RunStore = (*Store)(nil)

// New 创建空的内存存储
func New() *Store {
	return &Store{
		runs:   make(map[string]*model.Run),
		events: make(map[string][]*model.Envelope),
	}
}

// FailAppends 设置 AppendEvent 的注入错误，传 nil 恢复正常
func (s *Store) FailAppends(err error) {
	s.mu.Lock()
	s.appendErr = err
	s.mu.Unlock()
}

// FailStatusUpdates 设置 UpdateRunStatus 的注入错误，传 nil 恢复正常
func (s *Store) FailStatusUpdates(err error) {
	s.mu.Lock()
	s.statusErr = err
	s.mu.Unlock()
}

func (s *Store) Close() error { return nil }

// ============================================================================
// RunRecordStore
// ============================================================================

func (s *Store) CreateRun(_ context.Context, run *model.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.JobID]; ok {
		return storage.ErrDuplicate
	}
	cp := *run
	s.runs[run.JobID] = &cp
	return nil
}

func (s *Store) GetRun(_ context.Context, jobID string) (*model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[jobID]
	if !ok {
		return nil, nil
	}
	cp := *run
	return &cp, nil
}

func (s *Store) UpdateRunStatus(_ context.Context, jobID string, status model.RunStatus, lastEventID int64) error {
	return s.update(jobID, func(run *model.Run) error {
		if s.statusErr != nil {
			return s.statusErr
		}
		run.Status = status
		run.LastEventID = lastEventID
		return nil
	})
}

func (s *Store) UpdateRunError(_ context.Context, jobID string, message string) error {
	return s.update(jobID, func(run *model.Run) error {
		run.Error = &message
		return nil
	})
}

func (s *Store) SetRunApplication(_ context.Context, jobID string, applicationID string) error {
	return s.update(jobID, func(run *model.Run) error {
		run.ApplicationID = &applicationID
		return nil
	})
}

func (s *Store) update(jobID string, fn func(run *model.Run) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[jobID]
	if !ok {
		return storage.ErrNotFound
	}
	if err := fn(run); err != nil {
		return err
	}
	run.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) ListRunsByClient(_ context.Context, clientID string, limit int) ([]*model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := []*model.Run{}
	for _, run := range s.runs {
		if run.ClientID == clientID {
			cp := *run
			runs = append(runs, &cp)
		}
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// ============================================================================
// EventLogStore
// ============================================================================

func (s *Store) AppendEvent(_ context.Context, env *model.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	jobID := env.JobID()
	log := s.events[jobID]
	i := sort.Search(len(log), func(i int) bool { return log[i].EventID >= env.EventID })
	if i < len(log) && log[i].EventID == env.EventID {
		return storage.ErrDuplicate
	}
	log = append(log, nil)
	copy(log[i+1:], log[i:])
	log[i] = env
	s.events[jobID] = log
	return nil
}

func (s *Store) GetEventsAfter(_ context.Context, jobID string, afterID int64, limit int) ([]*model.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.events[jobID]
	i := sort.Search(len(log), func(i int) bool { return log[i].EventID > afterID })
	out := make([]*model.Envelope, 0, len(log)-i)
	for _, env := range log[i:] {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, env)
	}
	return out, nil
}

func (s *Store) GetMaxEventID(_ context.Context, jobID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.events[jobID]
	if len(log) == 0 {
		return 0, nil
	}
	return log[len(log)-1].EventID, nil
}
