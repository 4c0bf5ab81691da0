// Package repository 事件日志相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"fmt"

	"resume-optimizer/internal/shared/model"
)

// AppendEvent 追加一条事件，(job_id, event_id) 重复时返回 storage.ErrDuplicate
func (s *Store) AppendEvent(ctx context.Context, env *model.Envelope) error {
	data, err := model.MarshalEnvelope(env)
	if err != nil {
		return err
	}
	query := s.rebind(`INSERT INTO stream_events (job_id, event_id, type, timestamp, data) VALUES ($1, $2, $3, $4, $5)`)
	_, err = s.db.ExecContext(ctx, query,
		env.JobID(), env.EventID, string(env.Type()), env.Event.Timestamp(), string(data))
	return s.wrapError(err)
}

// GetEventsAfter 获取 afterID 之后的事件（按 event_id 升序）
func (s *Store) GetEventsAfter(ctx context.Context, jobID string, afterID int64, limit int) ([]*model.Envelope, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		query := s.rebind(`SELECT data FROM stream_events WHERE job_id = $1 AND event_id > $2 ORDER BY event_id ASC LIMIT $3`)
		rows, err = s.db.QueryContext(ctx, query, jobID, afterID, limit)
	} else {
		query := s.rebind(`SELECT data FROM stream_events WHERE job_id = $1 AND event_id > $2 ORDER BY event_id ASC`)
		rows, err = s.db.QueryContext(ctx, query, jobID, afterID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	envs := []*model.Envelope{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		env, err := model.UnmarshalEnvelope(data)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", jobID, err)
		}
		envs = append(envs, env)
	}
	return envs, rows.Err()
}

// GetMaxEventID 获取作业已持久化的最大 event_id
func (s *Store) GetMaxEventID(ctx context.Context, jobID string) (int64, error) {
	query := s.rebind(`SELECT COALESCE(MAX(event_id), 0) FROM stream_events WHERE job_id = $1`)
	var maxID int64
	if err := s.db.QueryRowContext(ctx, query, jobID).Scan(&maxID); err != nil {
		return 0, err
	}
	return maxID, nil
}
