package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vattentrygg/payments/internal/tracing"
)

// MongoStore implements Store on a MongoDB collection, one document per
// checkout session.
type MongoStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewMongoStore creates a store backed by the given collection.
func NewMongoStore(coll *mongo.Collection) *MongoStore {
	return &MongoStore{coll: coll, now: time.Now}
}

// EnsureIndexes creates the unique sessionId index that backs the upsert.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "sessionId", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("sessionId_unique"),
	})
	if err != nil {
		return fmt.Errorf("create sessionId index: %w", err)
	}
	return nil
}

// Upsert runs the merge in two phases: a $set/$setOnInsert upsert for the
// gateway fields, then a status update that skips refunded records.
func (s *MongoStore) Upsert(ctx context.Context, snapshot *Record) (inserted bool, err error) {
	if snapshot == nil || snapshot.SessionID == "" {
		return false, errors.New("upsert: session id is required")
	}
	ctx, endSpan := tracing.StartDBSpan(ctx, tracing.DBSystemMongo, s.coll.Name(), tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	now := s.now().UTC()
	filter := bson.M{"sessionId": snapshot.SessionID}
	update := bson.M{
		"$set": snapshotFields(snapshot, now),
		"$setOnInsert": bson.M{
			"insertedAt":     now,
			"status":         snapshot.Status,
			"refunds":        bson.A{},
			"refundedAmount": int64(0),
		},
	}
	opts := options.Update().SetUpsert(true)

	res, err := s.coll.UpdateOne(ctx, filter, update, opts)
	if mongo.IsDuplicateKeyError(err) {
		// Lost the insert race against a concurrent delivery; the document
		// exists now, so the retry takes the update path.
		res, err = s.coll.UpdateOne(ctx, filter, update, opts)
	}
	if err != nil {
		return false, fmt.Errorf("upsert payment %s: %w", snapshot.SessionID, err)
	}
	if res.UpsertedCount > 0 {
		return true, nil
	}

	_, err = s.coll.UpdateOne(ctx,
		bson.M{"sessionId": snapshot.SessionID, "status": bson.M{"$ne": StatusRefunded}},
		bson.M{"$set": bson.M{"status": snapshot.Status}},
	)
	if err != nil {
		return false, fmt.Errorf("update payment status %s: %w", snapshot.SessionID, err)
	}
	return false, nil
}

func snapshotFields(r *Record, now time.Time) bson.M {
	lineItems := r.LineItems
	if lineItems == nil {
		lineItems = []LineItem{}
	}
	return bson.M{
		"mode":            r.Mode,
		"amountTotal":     r.AmountTotal,
		"currency":        r.Currency,
		"customerEmail":   r.CustomerEmail,
		"customerDetails": r.CustomerDetails,
		"billingDetails":  r.BillingDetails,
		"shippingDetails": r.ShippingDetails,
		"paymentMethod":   r.PaymentMethod,
		"paymentIntentId": r.PaymentIntentID,
		"chargeId":        r.ChargeID,
		"paymentStatus":   r.PaymentStatus,
		"lineItems":       lineItems,
		"metadata":        r.Metadata,
		"updatedAt":       now,
	}
}

// GetBySessionID retrieves a payment record by session ID.
func (s *MongoStore) GetBySessionID(ctx context.Context, sessionID string) (rec *Record, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, tracing.DBSystemMongo, s.coll.Name(), tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	var out Record
	err = s.coll.FindOne(ctx, bson.M{"sessionId": sessionID}).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find payment %s: %w", sessionID, err)
	}
	return &out, nil
}

// AppendRefund pushes the refund and increments refundedAmount atomically.
func (s *MongoStore) AppendRefund(ctx context.Context, sessionID string, refund Refund) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, tracing.DBSystemMongo, s.coll.Name(), tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	now := s.now().UTC()
	_, err = s.coll.UpdateOne(ctx,
		bson.M{"sessionId": sessionID},
		bson.M{
			"$push": bson.M{"refunds": refund},
			"$inc":  bson.M{"refundedAmount": refund.Amount},
			"$set":  bson.M{"updatedAt": now},
			"$setOnInsert": bson.M{
				"insertedAt": now,
				"status":     StatusComplete,
				"lineItems":  bson.A{},
			},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("append refund to %s: %w", sessionID, err)
	}
	return nil
}

// SetStatus overwrites the status of an existing record.
func (s *MongoStore) SetStatus(ctx context.Context, sessionID string, status Status) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, tracing.DBSystemMongo, s.coll.Name(), tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	res, err := s.coll.UpdateOne(ctx,
		bson.M{"sessionId": sessionID},
		bson.M{"$set": bson.M{"status": status, "updatedAt": s.now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("set status on %s: %w", sessionID, err)
	}
	if res.MatchedCount == 0 {
		return ErrRecordNotFound
	}
	return nil
}
