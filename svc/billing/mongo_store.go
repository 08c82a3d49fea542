package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	sessionsCollection      = "billing_sessions"
	subscriptionsCollection = "billing_subscriptions"
	usersCollection         = "users"
)

// MongoStore implements SessionStore, SubscriptionStore, and ProjectionStore
// on a single database. Sessions and subscriptions live in their own
// collections; the billing projection is embedded in the user document.
type MongoStore struct {
	sessions      *mongo.Collection
	subscriptions *mongo.Collection
	users         *mongo.Collection
}

// NewMongoStore creates the store for the given database.
func NewMongoStore(db *mongo.Database) *MongoStore {
	if db == nil {
		panic("billing: mongo database is required")
	}
	return &MongoStore{
		sessions:      db.Collection(sessionsCollection),
		subscriptions: db.Collection(subscriptionsCollection),
		users:         db.Collection(usersCollection),
	}
}

// EnsureIndexes creates the lookup indexes webhook and reconciliation paths
// depend on. Safe to call on every startup.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.sessions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "provider_session_id", Value: 1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "status", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create session indexes: %w", err)
	}

	_, err = s.subscriptions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "provider_subscription_id", Value: 1}}},
		{Keys: bson.D{{Key: "session_id", Value: 1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "email", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create subscription indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) SaveSession(ctx context.Context, session *CheckoutSession) error {
	_, err := s.sessions.ReplaceOne(ctx,
		bson.M{"_id": session.ID},
		session,
		options.Replace().SetUpsert(true))
	return err
}

func (s *MongoStore) GetSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	var session CheckoutSession
	err := s.sessions.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (s *MongoStore) GetSessionByProviderID(ctx context.Context, providerSessionID string) (*CheckoutSession, error) {
	var session CheckoutSession
	err := s.sessions.FindOne(ctx, bson.M{"provider_session_id": providerSessionID}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (s *MongoStore) UpdateSessionStatus(ctx context.Context, sessionID string, status SessionStatus, providerStatus string, updatedAt time.Time) error {
	set := bson.M{"status": status, "updated_at": updatedAt}
	if providerStatus != "" {
		set["provider_status"] = providerStatus
	}
	res, err := s.sessions.UpdateOne(ctx,
		bson.M{"_id": sessionID},
		bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *MongoStore) DeletePendingByUser(ctx context.Context, userID string) (int64, error) {
	res, err := s.sessions.DeleteMany(ctx, bson.M{"user_id": userID, "status": SessionPending})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) UpsertSubscription(ctx context.Context, sub *Subscription) error {
	_, err := s.subscriptions.ReplaceOne(ctx,
		bson.M{"_id": sub.ID},
		sub,
		options.Replace().SetUpsert(true))
	return err
}

func (s *MongoStore) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	var sub Subscription
	err := s.subscriptions.FindOne(ctx, bson.M{"_id": id}).Decode(&sub)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (s *MongoStore) GetBySessionID(ctx context.Context, sessionID string) (*Subscription, error) {
	var sub Subscription
	err := s.subscriptions.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&sub)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (s *MongoStore) GetByProviderSubscriptionID(ctx context.Context, providerSubID string) (*Subscription, error) {
	var sub Subscription
	err := s.subscriptions.FindOne(ctx, bson.M{"provider_subscription_id": providerSubID}).Decode(&sub)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (s *MongoStore) LatestByUserEmail(ctx context.Context, userID, email string) (*Subscription, error) {
	var sub Subscription
	err := s.subscriptions.FindOne(ctx,
		bson.M{"user_id": userID, "email": email},
		options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}}),
	).Decode(&sub)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (s *MongoStore) UpsertBilling(ctx context.Context, userID string, projection BillingProjection) error {
	_, err := s.users.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": bson.M{"billing": projection}},
		options.UpdateOne().SetUpsert(true))
	return err
}
