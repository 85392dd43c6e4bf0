package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// userDocument is the subset of the users collection the gate reads.
type userDocument struct {
	SubjectID          string     `bson:"subjectId"`
	SubscriptionTier   string     `bson:"subscriptionTier"`
	SubscriptionStatus string     `bson:"subscriptionStatus"`
	TrialEndsAt        *time.Time `bson:"trialEndsAt,omitempty"`
}

func (d userDocument) entitlement() *Entitlement {
	tier := d.SubscriptionTier
	if tier == "" {
		tier = TierFree
	}
	return &Entitlement{
		SubjectID:   d.SubjectID,
		PlanTier:    tier,
		Status:      d.SubscriptionStatus,
		TrialEndsAt: d.TrialEndsAt,
	}
}

// MongoEntitlementStore reads subscription state from the users collection
// owned by the account service.
type MongoEntitlementStore struct {
	users *mongo.Collection
}

func NewMongoEntitlementStore(db *mongo.Database) *MongoEntitlementStore {
	return &MongoEntitlementStore{users: db.Collection("users")}
}

func (s *MongoEntitlementStore) Lookup(ctx context.Context, subjectID string) (*Entitlement, error) {
	var doc userDocument
	err := s.users.FindOne(ctx,
		bson.M{"subjectId": subjectID},
		options.FindOne().SetProjection(bson.M{
			"subjectId":          1,
			"subscriptionTier":   1,
			"subscriptionStatus": 1,
			"trialEndsAt":        1,
		}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", ErrEntitlementNotFound, subjectID)
	}
	if err != nil {
		return nil, fmt.Errorf("mongo entitlement lookup: %w", err)
	}
	return doc.entitlement(), nil
}

// ConnectMongo connects and pings uri, returning the named database.
func ConnectMongo(ctx context.Context, uri, database string) (*mongo.Client, *mongo.Database, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, client.Database(database), nil
}
