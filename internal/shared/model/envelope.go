package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ============================================================================
// Envelope - 带序号的事件
// ============================================================================

// Envelope 事件 + 作业内序号
//
// EventID 从 1 开始，每个被接收的事件加 1，同一作业内无空洞、不复用。
// 序列化格式（事件日志和线上传输共用）：
//
//	{"event_id": 7, "type": "agent_chunk", "job_id": "...", "timestamp": 1700000000000, "payload": {...}}
type Envelope struct {
	EventID int64
	Event   Event
}

// NewEnvelope 创建信封
func NewEnvelope(id int64, ev Event) *Envelope {
	return &Envelope{EventID: id, Event: ev}
}

// JobID 所属作业
func (e *Envelope) JobID() string { return e.Event.JobID() }

// Type 事件类型
func (e *Envelope) Type() EventType { return e.Event.Type() }

// envelopeRecord 信封的扁平序列化结构
type envelopeRecord struct {
	EventID   int64          `json:"event_id"`
	Type      EventType      `json:"type"`
	JobID     string         `json:"job_id"`
	Timestamp int64          `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// MarshalJSON 序列化为扁平记录
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Event == nil {
		return nil, fmt.Errorf("envelope %d has no event", e.EventID)
	}
	return json.Marshal(envelopeRecord{
		EventID:   e.EventID,
		Type:      e.Event.Type(),
		JobID:     e.Event.JobID(),
		Timestamp: e.Event.Timestamp(),
		Payload:   e.Event.Payload(),
	})
}

// UnmarshalJSON 从扁平记录还原
func (e *Envelope) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rec envelopeRecord
	if err := dec.Decode(&rec); err != nil {
		return err
	}
	ev, err := DecodeEvent(rec.Type, rec.JobID, rec.Timestamp, rec.Payload)
	if err != nil {
		return err
	}
	e.EventID = rec.EventID
	e.Event = ev
	return nil
}

// MarshalEnvelope 序列化信封（存储层使用）
func MarshalEnvelope(env *Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// UnmarshalEnvelope 反序列化信封
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	env := &Envelope{}
	if err := json.Unmarshal(data, env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// ============================================================================
// payload 字段读取
// ============================================================================

// fields 宽松读取 payload 字段，缺失或类型不符时返回零值
type fields map[string]any

func (f fields) getString(key string) string {
	switch v := f[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (f fields) getFloat(key string) float64 {
	switch v := f[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		n, _ := v.Float64()
		return n
	case string:
		n, _ := strconv.ParseFloat(v, 64)
		return n
	}
	return 0
}

func (f fields) getBool(key string) bool {
	switch v := f[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

func (f fields) getStrings(key string) []string {
	switch v := f[key].(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}
