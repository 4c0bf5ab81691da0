// Package redis 作业记录相关操作
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"resume-optimizer/internal/shared/model"
	"resume-optimizer/internal/shared/storage"

	"github.com/redis/go-redis/v9"
)

// CreateRun 创建作业记录，job_id 已存在时返回 storage.ErrDuplicate
func (s *Store) CreateRun(ctx context.Context, run *model.Run) error {
	key := KeyRun + run.JobID

	created, err := s.client.HSetNX(ctx, key, "job_id", run.JobID).Result()
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	if !created {
		return storage.ErrDuplicate
	}

	fields := map[string]interface{}{
		"client_id":     run.ClientID,
		"status":        string(run.Status),
		"last_event_id": run.LastEventID,
		"created_at":    run.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":    run.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if run.ApplicationID != nil {
		fields["application_id"] = *run.ApplicationID
	}
	if run.Error != nil {
		fields["error"] = *run.Error
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.ZAdd(ctx, KeyRunsByClient+run.ClientID, redis.Z{
			Score:  float64(run.CreatedAt.UnixMilli()),
			Member: run.JobID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// GetRun 获取作业记录，不存在时返回 (nil, nil)
func (s *Store) GetRun(ctx context.Context, jobID string) (*model.Run, error) {
	values, err := s.client.HGetAll(ctx, KeyRun+jobID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if len(values) == 0 {
		return nil, nil
	}
	return parseRun(values), nil
}

func (s *Store) UpdateRunStatus(ctx context.Context, jobID string, status model.RunStatus, lastEventID int64) error {
	return s.updateFields(ctx, jobID, map[string]interface{}{
		"status":        string(status),
		"last_event_id": lastEventID,
	})
}

func (s *Store) UpdateRunError(ctx context.Context, jobID string, message string) error {
	return s.updateFields(ctx, jobID, map[string]interface{}{"error": message})
}

func (s *Store) SetRunApplication(ctx context.Context, jobID string, applicationID string) error {
	return s.updateFields(ctx, jobID, map[string]interface{}{"application_id": applicationID})
}

// ListRunsByClient 按创建时间倒序列出客户端的作业
func (s *Store) ListRunsByClient(ctx context.Context, clientID string, limit int) ([]*model.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := s.client.ZRevRange(ctx, KeyRunsByClient+clientID, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs := make([]*model.Run, 0, len(ids))
	for _, id := range ids {
		run, err := s.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}
		if run != nil {
			runs = append(runs, run)
		}
	}
	return runs, nil
}

// updateFields 更新存在的作业记录，不存在时返回 storage.ErrNotFound
func (s *Store) updateFields(ctx context.Context, jobID string, fields map[string]interface{}) error {
	key := KeyRun + jobID
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	// WATCH 保证检查存在与写入之间记录不会被删除
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists == 0 {
			return storage.ErrNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fields)
			return nil
		})
		return err
	}, key)
	if err == storage.ErrNotFound {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", jobID, err)
	}
	return nil
}

// parseRun 从 Hash 字段解析作业记录
func parseRun(values map[string]string) *model.Run {
	run := &model.Run{
		JobID:    values["job_id"],
		ClientID: values["client_id"],
		Status:   model.RunStatus(values["status"]),
	}
	run.LastEventID, _ = strconv.ParseInt(values["last_event_id"], 10, 64)
	if v, ok := values["application_id"]; ok {
		run.ApplicationID = &v
	}
	if v, ok := values["error"]; ok {
		run.Error = &v
	}
	run.CreatedAt, _ = time.Parse(time.RFC3339Nano, values["created_at"])
	run.UpdatedAt, _ = time.Parse(time.RFC3339Nano, values["updated_at"])
	return run
}
