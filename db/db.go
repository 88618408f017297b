package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// DB holds the client and every collection the service uses.
type DB struct {
	Client *mongo.Client

	BookingsCollection      *mongo.Collection
	MessagesCollection      *mongo.Collection
	VerificationsCollection *mongo.Collection
	NannySharesCollection   *mongo.Collection
	UserCollection          *mongo.Collection
	LedgerCollection        *mongo.Collection
	IdempotencyCollection   *mongo.Collection
	VouchersCollection      *mongo.Collection
}

// Connect opens a MongoDB connection and pings it.
func Connect(ctx context.Context, uri, dbName string) (*DB, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	database := client.Database(dbName)
	return &DB{
		Client:                  client,
		BookingsCollection:      database.Collection("bookings"),
		MessagesCollection:      database.Collection("messages"),
		VerificationsCollection: database.Collection("verifications"),
		NannySharesCollection:   database.Collection("nanny_shares"),
		UserCollection:          database.Collection("users"),
		LedgerCollection:        database.Collection("ledger"),
		IdempotencyCollection:   database.Collection("idempotency"),
		VouchersCollection:      database.Collection("vouchers"),
	}, nil
}

// EnsureIndexes creates the lookup and uniqueness indexes. Idempotency
// indexes are owned by the middleware store.
func (d *DB) EnsureIndexes(ctx context.Context) error {
	unique := func(name string) *options.IndexOptions {
		return options.Index().SetUnique(true).SetName(name)
	}
	plan := map[*mongo.Collection][]mongo.IndexModel{
		d.BookingsCollection: {
			{Keys: bson.D{{Key: "id", Value: 1}}, Options: unique("unique_id")},
			{Keys: bson.D{{Key: "parentId", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "caregiverId", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "paymentIntentId", Value: 1}}, Options: options.Index().SetSparse(true)},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "paymentStatus", Value: 1}, {Key: "completedAt", Value: 1}}},
		},
		d.MessagesCollection: {
			{Keys: bson.D{{Key: "id", Value: 1}}, Options: unique("unique_id")},
			{Keys: bson.D{{Key: "conversationKey", Value: 1}, {Key: "createdAt", Value: 1}, {Key: "id", Value: 1}}},
		},
		d.VerificationsCollection: {
			{Keys: bson.D{{Key: "id", Value: 1}}, Options: unique("unique_id")},
			{Keys: bson.D{{Key: "subjectId", Value: 1}, {Key: "type", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
		d.NannySharesCollection: {
			{Keys: bson.D{{Key: "id", Value: 1}}, Options: unique("unique_id")},
			{Keys: bson.D{{Key: "suburb", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "participants", Value: 1}}},
		},
		d.UserCollection: {
			{Keys: bson.D{{Key: "id", Value: 1}}, Options: unique("unique_id")},
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: unique("unique_email")},
		},
		d.VouchersCollection: {
			{Keys: bson.D{{Key: "id", Value: 1}}, Options: unique("unique_id")},
			{Keys: bson.D{{Key: "caregiverId", Value: 1}, {Key: "submittedAt", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "submittedAt", Value: -1}}},
		},
		d.LedgerCollection: {
			{Keys: bson.D{{Key: "booking_id", Value: 1}, {Key: "kind", Value: 1}}, Options: unique("unique_booking_kind")},
		},
	}
	for coll, idxs := range plan {
		if _, err := coll.Indexes().CreateMany(ctx, idxs); err != nil {
			return fmt.Errorf("indexes on %s: %w", coll.Name(), err)
		}
	}
	return nil
}

func (d *DB) Close(ctx context.Context) error {
	return d.Client.Disconnect(ctx)
}
