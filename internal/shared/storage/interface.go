// Package storage 定义持久化存储层抽象接口
//
// 设计原则：依赖倒置 (DIP)
//   - 调用方（流管理器、流水线、HTTP 层）只依赖接口
//   - 具体实现在子包中：repository/（SQL）、mongostore/、redis/、memstore/
//   - 初始化时由 driver.Open 按配置选择实现并注入
package storage

import (
	"context"

	"resume-optimizer/internal/shared/model"
)

// ============================================================================
// 持久化存储接口
// ============================================================================

// RunRecordStore 作业记录存储接口
//
// GetRun 在记录不存在时返回 (nil, nil)，与 SQL 实现的 sql.ErrNoRows 行为一致。
// 更新类操作在记录不存在时返回 ErrNotFound。
type RunRecordStore interface {
	CreateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, jobID string) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, jobID string, status model.RunStatus, lastEventID int64) error
	UpdateRunError(ctx context.Context, jobID string, message string) error
	SetRunApplication(ctx context.Context, jobID string, applicationID string) error
	ListRunsByClient(ctx context.Context, clientID string, limit int) ([]*model.Run, error)
}

// EventLogStore 事件日志存储接口（按作业只追加）
//
// 同一作业内 event_id 唯一，重复写入返回 ErrDuplicate。
type EventLogStore interface {
	AppendEvent(ctx context.Context, env *model.Envelope) error
	// GetEventsAfter 按 event_id 升序返回 afterID 之后的事件，limit <= 0 表示不限制
	GetEventsAfter(ctx context.Context, jobID string, afterID int64, limit int) ([]*model.Envelope, error)
	// GetMaxEventID 返回作业已持久化的最大 event_id，没有事件时返回 0
	GetMaxEventID(ctx context.Context, jobID string) (int64, error)
}

// RunStore 作业存储组合接口
//
// 所有实现都必须支持并发调用。
type RunStore interface {
	RunRecordStore
	EventLogStore
	Close() error
}
