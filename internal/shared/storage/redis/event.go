// Package redis 事件日志相关操作
package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"resume-optimizer/internal/shared/model"
	"resume-optimizer/internal/shared/storage"

	"github.com/redis/go-redis/v9"
)

// streamID 将 event_id 映射为 Stream 消息 ID
func streamID(eventID int64) string {
	return strconv.FormatInt(eventID, 10) + "-0"
}

// parseStreamID 从 Stream 消息 ID 取回 event_id
func parseStreamID(id string) (int64, error) {
	ms, _, _ := strings.Cut(id, "-")
	return strconv.ParseInt(ms, 10, 64)
}

// AppendEvent 追加事件
func (s *Store) AppendEvent(ctx context.Context, env *model.Envelope) error {
	data, err := model.MarshalEnvelope(env)
	if err != nil {
		return err
	}

	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: KeyRunEvents + env.JobID(),
		ID:     streamID(env.EventID),
		Values: map[string]interface{}{
			"type": string(env.Type()),
			"data": string(data),
		},
	}).Err()
	if err != nil {
		if strings.Contains(err.Error(), "equal or smaller than the target stream top item") {
			return storage.ErrDuplicate
		}
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// GetEventsAfter 获取 afterID 之后的事件
func (s *Store) GetEventsAfter(ctx context.Context, jobID string, afterID int64, limit int) ([]*model.Envelope, error) {
	key := KeyRunEvents + jobID
	start := "(" + streamID(afterID)

	var (
		msgs []redis.XMessage
		err  error
	)
	if limit > 0 {
		msgs, err = s.client.XRangeN(ctx, key, start, "+", int64(limit)).Result()
	} else {
		msgs, err = s.client.XRange(ctx, key, start, "+").Result()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}

	envs := make([]*model.Envelope, 0, len(msgs))
	for _, msg := range msgs {
		data, _ := msg.Values["data"].(string)
		env, err := model.UnmarshalEnvelope([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("job %s message %s: %w", jobID, msg.ID, err)
		}
		envs = append(envs, env)
	}
	return envs, nil
}

// GetMaxEventID 获取最大 event_id
func (s *Store) GetMaxEventID(ctx context.Context, jobID string) (int64, error) {
	msgs, err := s.client.XRevRangeN(ctx, KeyRunEvents+jobID, "+", "-", 1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get max event id: %w", err)
	}
	if len(msgs) == 0 {
		return 0, nil
	}
	return parseStreamID(msgs[0].ID)
}
