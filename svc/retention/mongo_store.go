package retention

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

const profilesCollection = "parent_profiles"

// MongoStore implements Store on the parent_profiles collection.
type MongoStore struct {
	client   *mongo.Client
	profiles *mongo.Collection
}

// NewMongoStore creates the store. The client is kept for transactional
// commits.
func NewMongoStore(client *mongo.Client, db *mongo.Database) *MongoStore {
	if client == nil {
		panic("retention: mongo client is required")
	}
	if db == nil {
		panic("retention: mongo database is required")
	}
	return &MongoStore{
		client:   client,
		profiles: db.Collection(profilesCollection),
	}
}

func (s *MongoStore) ListProfiles(ctx context.Context) ([]ParentProfile, error) {
	cursor, err := s.profiles.Find(ctx, bson.M{"children.deleted": true})
	if err != nil {
		return nil, fmt.Errorf("failed to list parent profiles: %w", err)
	}
	defer cursor.Close(ctx)

	var profiles []ParentProfile
	if err := cursor.All(ctx, &profiles); err != nil {
		return nil, fmt.Errorf("failed to decode parent profiles: %w", err)
	}
	return profiles, nil
}

// ApplyCleanup pulls the erased children from their parent documents inside a
// single multi-document transaction.
func (s *MongoStore) ApplyCleanup(ctx context.Context, cleanups []ProfileCleanup) error {
	if len(cleanups) == 0 {
		return nil
	}

	now := time.Now()
	models := make([]mongo.WriteModel, 0, len(cleanups))
	for _, cleanup := range cleanups {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": cleanup.ProfileID}).
			SetUpdate(bson.M{
				"$pull": bson.M{"children": bson.M{"_id": bson.M{"$in": cleanup.ChildIDs}}},
				"$set":  bson.M{"last_cleanup_at": now, "updated_at": now},
			}))
	}

	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start mongo session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return s.profiles.BulkWrite(ctx, models)
	})
	if err != nil {
		return fmt.Errorf("failed to apply retention cleanup: %w", err)
	}
	return nil
}
