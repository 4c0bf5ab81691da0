package mongostore

import (
	"context"
	"fmt"

	"resume-optimizer/internal/shared/model"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// eventDoc 事件日志文档，data 保存信封的 JSON 序列化形式
type eventDoc struct {
	JobID     string `bson:"job_id"`
	EventID   int64  `bson:"event_id"`
	Type      string `bson:"type"`
	Timestamp int64  `bson:"timestamp"`
	Data      string `bson:"data"`
}

// ============================================================================
// EventLogStore
// ============================================================================

func (s *Store) AppendEvent(ctx context.Context, env *model.Envelope) error {
	data, err := model.MarshalEnvelope(env)
	if err != nil {
		return err
	}
	_, err = s.col(ColEvents).InsertOne(ctx, eventDoc{
		JobID:     env.JobID(),
		EventID:   env.EventID,
		Type:      string(env.Type()),
		Timestamp: env.Event.Timestamp(),
		Data:      string(data),
	})
	return wrapError(err)
}

func (s *Store) GetEventsAfter(ctx context.Context, jobID string, afterID int64, limit int) ([]*model.Envelope, error) {
	filter := bson.D{
		{Key: "job_id", Value: jobID},
		{Key: "event_id", Value: bson.D{{Key: "$gt", Value: afterID}}},
	}
	opts := options.Find().SetSort(bson.D{{Key: "event_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	docs, err := findMany[eventDoc](ctx, s.col(ColEvents), filter, opts)
	if err != nil {
		return nil, err
	}
	envs := make([]*model.Envelope, 0, len(docs))
	for _, doc := range docs {
		env, err := model.UnmarshalEnvelope([]byte(doc.Data))
		if err != nil {
			return nil, fmt.Errorf("job %s event %d: %w", jobID, doc.EventID, err)
		}
		envs = append(envs, env)
	}
	return envs, nil
}

func (s *Store) GetMaxEventID(ctx context.Context, jobID string) (int64, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "event_id", Value: -1}})
	doc, err := findOne[eventDoc](ctx, s.col(ColEvents), bson.D{{Key: "job_id", Value: jobID}}, opts)
	if err != nil || doc == nil {
		return 0, err
	}
	return doc.EventID, nil
}
