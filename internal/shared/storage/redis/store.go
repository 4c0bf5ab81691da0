// Package redis Redis 版 storage.RunStore
//
// 数据布局：
//   - run:{job_id}               Hash，作业记录
//   - runs_by_client:{client_id} ZSet，score 为创建时间（毫秒），member 为 job_id
//   - run_events:{job_id}        Stream，消息 ID 为 "{event_id}-0"，字段 data 为信封 JSON
//
// Stream 消息 ID 严格递增，重复或倒序写入会被 Redis 拒绝并映射为 storage.ErrDuplicate，
// 调用方需按 event_id 顺序追加（流管理器在锁内顺序写入）。
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"resume-optimizer/internal/shared/storage"

	"github.com/redis/go-redis/v9"
)

// Key 前缀
const (
	KeyRun          = "run:"
	KeyRunsByClient = "runs_by_client:"
	KeyRunEvents    = "run_events:"
)

// Store Redis 存储层
type Store struct {
	client *redis.Client
}

var _ storage.RunStore = (*Store)(nil)

// NewStore 创建 Redis 存储实例
func NewStore(addr, password string, db int) (*Store, error) {
	return connect(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewStoreFromURL 从 URL 创建 Redis 存储实例
func NewStoreFromURL(redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return connect(opts)
}

func connect(opts *redis.Options) (*Store, error) {
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("[Redis] Connected to %s", opts.Addr)
	return &Store{client: client}, nil
}

// Close 关闭 Redis 连接
func (s *Store) Close() error {
	return s.client.Close()
}

// Client 返回底层 Redis 客户端
func (s *Store) Client() *redis.Client {
	return s.client
}
