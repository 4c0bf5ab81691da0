// Package model 定义核心数据模型
//
// run.go 包含作业运行记录的数据模型定义：
//   - Run：一次简历优化作业的持久化记录
//   - RunStatus：作业状态枚举
package model

import "time"

// ============================================================================
// RunStatus - 作业状态
// ============================================================================

// RunStatus 表示一次作业（Run）的状态
//
// 典型生命周期：
//
//	创建 → queued → running → completed/failed
//
// completed 与 failed 都是终态，进入终态后状态不再改变。
type RunStatus string

const (
	// RunStatusQueued 排队中：作业已创建，等待工作协程领取
	RunStatusQueued RunStatus = "queued"

	// RunStatusRunning 执行中：流水线已开始产生事件
	RunStatusRunning RunStatus = "running"

	// RunStatusCompleted 已完成：全部阶段执行成功
	RunStatusCompleted RunStatus = "completed"

	// RunStatusFailed 已失败：某个阶段的生产者出错
	RunStatusFailed RunStatus = "failed"
)

// Valid 是否为合法状态
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusQueued, RunStatusRunning, RunStatusCompleted, RunStatusFailed:
		return true
	}
	return false
}

// IsTerminal 是否为终态
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// ============================================================================
// Run - 作业记录
// ============================================================================

// Run 表示一次简历优化作业
//
// 字段说明：
//   - JobID：作业唯一标识，同时是事件流的分区键
//   - ClientID：发起作业的客户端身份（来自认证中间件）
//   - Status：作业状态，由 JobStatus 事件写穿更新
//   - ApplicationID：作业完成后关联的求职申请记录（可选）
//   - LastEventID：最近一次写穿时的事件序号
//   - Error：失败原因（失败时填充）
//
// 核心层从不删除 Run 记录。
type Run struct {
	JobID         string    `json:"job_id" bson:"_id" db:"job_id"`
	ClientID      string    `json:"client_id" bson:"client_id" db:"client_id"`
	Status        RunStatus `json:"status" bson:"status" db:"status"`
	ApplicationID *string   `json:"application_id,omitempty" bson:"application_id,omitempty" db:"application_id"`
	LastEventID   int64     `json:"last_event_id" bson:"last_event_id" db:"last_event_id"`
	Error         *string   `json:"error,omitempty" bson:"error,omitempty" db:"error"`
	CreatedAt     time.Time `json:"created_at" bson:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" bson:"updated_at" db:"updated_at"`
}

// NewRun 创建处于 queued 状态的作业记录
func NewRun(jobID, clientID string) *Run {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &Run{
		JobID:     jobID,
		ClientID:  clientID,
		Status:    RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsTerminal 作业是否已结束
func (r *Run) IsTerminal() bool {
	return r.Status.IsTerminal()
}
