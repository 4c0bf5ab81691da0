package mongostore

import (
	"context"
	"time"

	"resume-optimizer/internal/shared/model"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ============================================================================
// RunRecordStore
// ============================================================================

func (s *Store) CreateRun(ctx context.Context, run *model.Run) error {
	_, err := s.col(ColRuns).InsertOne(ctx, run)
	return wrapError(err)
}

func (s *Store) GetRun(ctx context.Context, jobID string) (*model.Run, error) {
	return findOne[model.Run](ctx, s.col(ColRuns), bson.D{{Key: "_id", Value: jobID}})
}

func (s *Store) UpdateRunStatus(ctx context.Context, jobID string, status model.RunStatus, lastEventID int64) error {
	return updateFields(ctx, s.col(ColRuns), jobID, bson.D{
		{Key: "status", Value: status},
		{Key: "last_event_id", Value: lastEventID},
		{Key: "updated_at", Value: time.Now().UTC()},
	})
}

func (s *Store) UpdateRunError(ctx context.Context, jobID string, message string) error {
	return updateFields(ctx, s.col(ColRuns), jobID, bson.D{
		{Key: "error", Value: message},
		{Key: "updated_at", Value: time.Now().UTC()},
	})
}

func (s *Store) SetRunApplication(ctx context.Context, jobID string, applicationID string) error {
	return updateFields(ctx, s.col(ColRuns), jobID, bson.D{
		{Key: "application_id", Value: applicationID},
		{Key: "updated_at", Value: time.Now().UTC()},
	})
}

func (s *Store) ListRunsByClient(ctx context.Context, clientID string, limit int) ([]*model.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))
	return findMany[model.Run](ctx, s.col(ColRuns), bson.D{{Key: "client_id", Value: clientID}}, opts)
}
