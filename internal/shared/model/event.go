// Package model 定义核心数据模型
//
// event.go 包含流事件相关的数据模型定义：
//   - EventType：事件类型（线上传输的类型标签）
//   - Event：封闭的事件变体集合
//   - 各事件变体：JobStatus、StepProgress、InsightEmitted ...
package model

import (
	"errors"
	"fmt"
	"time"
)

// ============================================================================
// EventType - 事件类型
// ============================================================================

// EventType 事件类型标签
//
// 事件分类：
//  1. 作业事件：job_status, done, error, heartbeat
//  2. 阶段事件：step_progress, agent_step_started, agent_step_completed, agent_chunk
//  3. 产出事件：insight_emitted, metric_update, validation_update, diff_chunk
type EventType string

const (
	// EventTypeJobStatus 作业状态变更
	// Payload: {"status": "running", "message": "..."}
	EventTypeJobStatus EventType = "job_status"

	// EventTypeStepProgress 阶段进度
	// Payload: {"step": "rewriting", "progress": 0.5, "message": "..."}
	EventTypeStepProgress EventType = "step_progress"

	// EventTypeInsightEmitted 洞察
	// Payload: {"insight_id": "...", "step": "...", "category": "...", "message": "..."}
	EventTypeInsightEmitted EventType = "insight_emitted"

	// EventTypeMetricUpdate 指标更新
	// Payload: {"name": "cost_usd", "value": 0.012, "unit": "usd"}
	EventTypeMetricUpdate EventType = "metric_update"

	// EventTypeValidationUpdate 校验结果
	// Payload: {"passed": true, "score": 0.92, "issues": ["..."]}
	EventTypeValidationUpdate EventType = "validation_update"

	// EventTypeDiffChunk 改写前后对比片段
	EventTypeDiffChunk EventType = "diff_chunk"

	// EventTypeError 错误
	EventTypeError EventType = "error"

	// EventTypeHeartbeat 心跳（不持久化）
	EventTypeHeartbeat EventType = "heartbeat"

	// EventTypeDone 作业结束，流的最后一个事件
	EventTypeDone EventType = "done"

	// EventTypeAgentStepStarted Agent 阶段开始
	EventTypeAgentStepStarted EventType = "agent_step_started"

	// EventTypeAgentStepCompleted Agent 阶段完成
	EventTypeAgentStepCompleted EventType = "agent_step_completed"

	// EventTypeAgentChunk Agent 输出的文本片段
	// Payload: {"step": "rewriting", "seq": 3, "text": "..."}
	EventTypeAgentChunk EventType = "agent_chunk"
)

// IsTerminal 是否为结束事件
func (t EventType) IsTerminal() bool {
	return t == EventTypeDone
}

// IsDurable 是否需要写入事件日志
func (t EventType) IsDurable() bool {
	return t != EventTypeHeartbeat
}

// ErrUnknownEventType 无法识别的事件类型
var ErrUnknownEventType = errors.New("unknown event type")

// ============================================================================
// Event - 事件接口
// ============================================================================

// Event 流事件
//
// Event 是封闭的变体集合，只能由本包中的结构体实现。
// 事件一经构造即不可变，按值传递。
type Event interface {
	JobID() string
	Type() EventType
	// Timestamp 事件产生时间（Unix 毫秒）
	Timestamp() int64
	// Payload 变体字段的扁平表示，用于序列化
	Payload() map[string]any

	sealed()
}

// EventMeta 所有事件共有的头部字段
type EventMeta struct {
	Job string
	TS  int64
}

func (m EventMeta) JobID() string    { return m.Job }
func (m EventMeta) Timestamp() int64 { return m.TS }
func (EventMeta) sealed()            {}

// nowMillis 当前 Unix 毫秒（测试可替换）
var nowMillis = func() int64 { return time.Now().UnixMilli() }

func newMeta(jobID string) EventMeta {
	return EventMeta{Job: jobID, TS: nowMillis()}
}

// ============================================================================
// 事件变体
// ============================================================================

// JobStatus 作业状态变更，管理器会将其写穿到 Run 记录
type JobStatus struct {
	EventMeta
	Status  RunStatus
	Message string
}

func NewJobStatus(jobID string, status RunStatus, message string) JobStatus {
	return JobStatus{EventMeta: newMeta(jobID), Status: status, Message: message}
}

func (JobStatus) Type() EventType { return EventTypeJobStatus }
func (e JobStatus) Payload() map[string]any {
	return map[string]any{"status": string(e.Status), "message": e.Message}
}

// StepProgress 阶段进度，Progress 取值 0..1
type StepProgress struct {
	EventMeta
	Step     string
	Progress float64
	Message  string
}

func NewStepProgress(jobID, step string, progress float64, message string) StepProgress {
	return StepProgress{EventMeta: newMeta(jobID), Step: step, Progress: progress, Message: message}
}

func (StepProgress) Type() EventType { return EventTypeStepProgress }
func (e StepProgress) Payload() map[string]any {
	return map[string]any{"step": e.Step, "progress": e.Progress, "message": e.Message}
}

// InsightEmitted 从 Agent 输出中提取的洞察
type InsightEmitted struct {
	EventMeta
	InsightID string
	Step      string
	Category  string
	Message   string
}

func NewInsightEmitted(jobID, insightID, step, category, message string) InsightEmitted {
	return InsightEmitted{EventMeta: newMeta(jobID), InsightID: insightID, Step: step, Category: category, Message: message}
}

func (InsightEmitted) Type() EventType { return EventTypeInsightEmitted }
func (e InsightEmitted) Payload() map[string]any {
	return map[string]any{"insight_id": e.InsightID, "step": e.Step, "category": e.Category, "message": e.Message}
}

// MetricUpdate 数值指标（费用、token 数等）
type MetricUpdate struct {
	EventMeta
	Name  string
	Value float64
	Unit  string
}

func NewMetricUpdate(jobID, name string, value float64, unit string) MetricUpdate {
	return MetricUpdate{EventMeta: newMeta(jobID), Name: name, Value: value, Unit: unit}
}

func (MetricUpdate) Type() EventType { return EventTypeMetricUpdate }
func (e MetricUpdate) Payload() map[string]any {
	return map[string]any{"name": e.Name, "value": e.Value, "unit": e.Unit}
}

// ValidationUpdate 简历校验结果
type ValidationUpdate struct {
	EventMeta
	Passed bool
	Score  float64
	Issues []string
}

func NewValidationUpdate(jobID string, passed bool, score float64, issues []string) ValidationUpdate {
	cp := make([]string, len(issues))
	copy(cp, issues)
	return ValidationUpdate{EventMeta: newMeta(jobID), Passed: passed, Score: score, Issues: cp}
}

func (ValidationUpdate) Type() EventType { return EventTypeValidationUpdate }
func (e ValidationUpdate) Payload() map[string]any {
	issues := e.Issues
	if issues == nil {
		issues = []string{}
	}
	return map[string]any{"passed": e.Passed, "score": e.Score, "issues": issues}
}

// DiffChunk 某个简历段落改写前后的对比
type DiffChunk struct {
	EventMeta
	Section string
	Before  string
	After   string
}

func NewDiffChunk(jobID, section, before, after string) DiffChunk {
	return DiffChunk{EventMeta: newMeta(jobID), Section: section, Before: before, After: after}
}

func (DiffChunk) Type() EventType { return EventTypeDiffChunk }
func (e DiffChunk) Payload() map[string]any {
	return map[string]any{"section": e.Section, "before": e.Before, "after": e.After}
}

// Error 作业或阶段错误
type Error struct {
	EventMeta
	Step    string
	Code    string
	Message string
}

func NewError(jobID, step, code, message string) Error {
	return Error{EventMeta: newMeta(jobID), Step: step, Code: code, Message: message}
}

func (Error) Type() EventType { return EventTypeError }
func (e Error) Payload() map[string]any {
	return map[string]any{"step": e.Step, "code": e.Code, "message": e.Message}
}

// Heartbeat 心跳，占用序号但不持久化
type Heartbeat struct {
	EventMeta
}

func NewHeartbeat(jobID string) Heartbeat {
	return Heartbeat{EventMeta: newMeta(jobID)}
}

func (Heartbeat) Type() EventType           { return EventTypeHeartbeat }
func (Heartbeat) Payload() map[string]any { return map[string]any{} }

// Done 作业结束，订阅者收到后即关闭连接
type Done struct {
	EventMeta
	Status RunStatus
}

func NewDone(jobID string, status RunStatus) Done {
	return Done{EventMeta: newMeta(jobID), Status: status}
}

func (Done) Type() EventType { return EventTypeDone }
func (e Done) Payload() map[string]any {
	return map[string]any{"status": string(e.Status)}
}

// AgentStepStarted Agent 阶段开始
type AgentStepStarted struct {
	EventMeta
	Step  string
	Agent string
	Model string
}

func NewAgentStepStarted(jobID, step, agent, model string) AgentStepStarted {
	return AgentStepStarted{EventMeta: newMeta(jobID), Step: step, Agent: agent, Model: model}
}

func (AgentStepStarted) Type() EventType { return EventTypeAgentStepStarted }
func (e AgentStepStarted) Payload() map[string]any {
	return map[string]any{"step": e.Step, "agent": e.Agent, "model": e.Model}
}

// AgentStepCompleted Agent 阶段完成
type AgentStepCompleted struct {
	EventMeta
	Step       string
	Agent      string
	TotalChars int
	Model      string
	Cost       float64
}

func NewAgentStepCompleted(jobID, step, agent string, totalChars int, model string, cost float64) AgentStepCompleted {
	return AgentStepCompleted{
		EventMeta:  newMeta(jobID),
		Step:       step,
		Agent:      agent,
		TotalChars: totalChars,
		Model:      model,
		Cost:       cost,
	}
}

func (AgentStepCompleted) Type() EventType { return EventTypeAgentStepCompleted }
func (e AgentStepCompleted) Payload() map[string]any {
	return map[string]any{
		"step":        e.Step,
		"agent":       e.Agent,
		"total_chars": e.TotalChars,
		"model":       e.Model,
		"cost":        e.Cost,
	}
}

// AgentChunk Agent 输出文本片段，Seq 在阶段内从 1 递增
type AgentChunk struct {
	EventMeta
	Step string
	Seq  int
	Text string
}

func NewAgentChunk(jobID, step string, seq int, text string) AgentChunk {
	return AgentChunk{EventMeta: newMeta(jobID), Step: step, Seq: seq, Text: text}
}

func (AgentChunk) Type() EventType { return EventTypeAgentChunk }
func (e AgentChunk) Payload() map[string]any {
	return map[string]any{"step": e.Step, "seq": e.Seq, "text": e.Text}
}

// ============================================================================
// 解码
// ============================================================================

// DecodeEvent 根据类型标签和扁平 payload 还原事件变体
//
// payload 通常来自 JSON 解码，数字可能是 float64 或 json.Number，
// 字符串数组可能是 []any。
func DecodeEvent(typ EventType, jobID string, ts int64, payload map[string]any) (Event, error) {
	meta := EventMeta{Job: jobID, TS: ts}
	p := fields(payload)
	switch typ {
	case EventTypeJobStatus:
		return JobStatus{EventMeta: meta, Status: RunStatus(p.getString("status")), Message: p.getString("message")}, nil
	case EventTypeStepProgress:
		return StepProgress{EventMeta: meta, Step: p.getString("step"), Progress: p.getFloat("progress"), Message: p.getString("message")}, nil
	case EventTypeInsightEmitted:
		return InsightEmitted{
			EventMeta: meta,
			InsightID: p.getString("insight_id"),
			Step:      p.getString("step"),
			Category:  p.getString("category"),
			Message:   p.getString("message"),
		}, nil
	case EventTypeMetricUpdate:
		return MetricUpdate{EventMeta: meta, Name: p.getString("name"), Value: p.getFloat("value"), Unit: p.getString("unit")}, nil
	case EventTypeValidationUpdate:
		return ValidationUpdate{EventMeta: meta, Passed: p.getBool("passed"), Score: p.getFloat("score"), Issues: p.getStrings("issues")}, nil
	case EventTypeDiffChunk:
		return DiffChunk{EventMeta: meta, Section: p.getString("section"), Before: p.getString("before"), After: p.getString("after")}, nil
	case EventTypeError:
		return Error{EventMeta: meta, Step: p.getString("step"), Code: p.getString("code"), Message: p.getString("message")}, nil
	case EventTypeHeartbeat:
		return Heartbeat{EventMeta: meta}, nil
	case EventTypeDone:
		return Done{EventMeta: meta, Status: RunStatus(p.getString("status"))}, nil
	case EventTypeAgentStepStarted:
		return AgentStepStarted{EventMeta: meta, Step: p.getString("step"), Agent: p.getString("agent"), Model: p.getString("model")}, nil
	case EventTypeAgentStepCompleted:
		return AgentStepCompleted{
			EventMeta:  meta,
			Step:       p.getString("step"),
			Agent:      p.getString("agent"),
			TotalChars: int(p.getFloat("total_chars")),
			Model:      p.getString("model"),
			Cost:       p.getFloat("cost"),
		}, nil
	case EventTypeAgentChunk:
		return AgentChunk{EventMeta: meta, Step: p.getString("step"), Seq: int(p.getFloat("seq")), Text: p.getString("text")}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, typ)
	}
}
