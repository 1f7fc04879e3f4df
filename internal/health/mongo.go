package health

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoChecker implements health checking for the MongoDB payment store.
type MongoChecker struct {
	client *mongo.Client
}

// NewMongoChecker creates a new MongoDB health checker.
func NewMongoChecker(client *mongo.Client) *MongoChecker {
	return &MongoChecker{client: client}
}

// HealthCheck pings the primary. Readiness needs writes, so a secondary is
// not enough.
func (m *MongoChecker) HealthCheck(ctx context.Context) error {
	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("mongo ping: %w", err)
	}
	return nil
}
