// Package mongostore 实现基于 MongoDB 的 storage.RunStore
//
// 使用 mongo-go-driver v2，通过 bson tag 实现 model 结构体的序列化/反序列化。
// Collection 名称和索引在 ensureIndexes 中统一管理。
package mongostore

import (
	"context"
	"fmt"
	"log"
	"time"

	"resume-optimizer/internal/shared/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Collection 名称常量
const (
	ColRuns   = "runs"
	ColEvents = "stream_events"
)

// Store 实现 storage.RunStore 接口的 MongoDB 驱动
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ storage.RunStore = (*Store)(nil)

// NewStore 创建 MongoDB 存储实例
//
// uri: MongoDB 连接 URI，如 "mongodb://localhost:27017"
// dbName: 数据库名称，如 "resume_optimizer"
func NewStore(uri, dbName string) (*Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect failed: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongostore: ping failed: %w", err)
	}

	s := &Store{client: client, db: client.Database(dbName)}

	// 事件日志的唯一索引是 ErrDuplicate 语义的基础，失败只告警不阻断启动
	if err := s.ensureIndexes(ctx); err != nil {
		log.Printf("WARNING: mongostore: ensure indexes failed: %v", err)
	}

	return s, nil
}

// Close 关闭 MongoDB 连接
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// col 获取指定 Collection
func (s *Store) col(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// ensureIndexes 创建所有必要的索引
func (s *Store) ensureIndexes(ctx context.Context) error {
	type idx struct {
		col    string
		keys   bson.D
		unique bool
	}

	indexes := []idx{
		{ColRuns, bson.D{{Key: "client_id", Value: 1}, {Key: "created_at", Value: -1}}, false},
		{ColEvents, bson.D{{Key: "job_id", Value: 1}, {Key: "event_id", Value: 1}}, true},
	}

	for _, ix := range indexes {
		im := mongo.IndexModel{Keys: ix.keys}
		if ix.unique {
			im.Options = options.Index().SetUnique(true)
		}
		if _, err := s.col(ix.col).Indexes().CreateOne(ctx, im); err != nil {
			return fmt.Errorf("create index on %s: %w", ix.col, err)
		}
	}
	return nil
}
