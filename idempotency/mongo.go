package idempotency

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoCache is a Cache shared across replicas. The compare-and-insert is
// an InsertOne against a unique index on the fingerprint field; a
// duplicate-key error means another handler already accepted the
// delivery.
type MongoCache struct {
	collection *mongo.Collection
}

// NewMongoCache ensures the unique index and returns the cache.
func NewMongoCache(ctx context.Context, client *mongo.Client, database string) (*MongoCache, error) {
	collection := client.Database(database).Collection("webhook_fingerprints")
	_, err := collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "fingerprint", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, err
	}
	return &MongoCache{collection: collection}, nil
}

// Add records the fingerprint, returning true iff it was not present.
func (c *MongoCache) Add(ctx context.Context, fingerprint string) (bool, error) {
	_, err := c.collection.InsertOne(ctx, bson.M{
		"fingerprint": fingerprint,
		"accepted_at": time.Now().UTC(),
	})
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Close is a no-op; the mongo client is owned by the caller.
func (c *MongoCache) Close() error { return nil }
