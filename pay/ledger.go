package pay

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"nannynest/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// LedgerStore records where released money went. One entry per
// (booking, kind); re-recording an existing entry is a no-op.
type LedgerStore interface {
	Record(ctx context.Context, entries ...models.LedgerEntry) error
	ForBooking(ctx context.Context, bookingID string) ([]models.LedgerEntry, error)
}

type MongoLedger struct {
	coll *mongo.Collection
}

func NewMongoLedger(coll *mongo.Collection) *MongoLedger {
	return &MongoLedger{coll: coll}
}

func (l *MongoLedger) Record(ctx context.Context, entries ...models.LedgerEntry) error {
	docs := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		docs = append(docs, e)
	}
	_, err := l.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("record ledger: %w", err)
	}
	return nil
}

func (l *MongoLedger) ForBooking(ctx context.Context, bookingID string) ([]models.LedgerEntry, error) {
	cur, err := l.coll.Find(ctx, bson.M{"booking_id": bookingID}, options.Find().SetSort(bson.M{"kind": 1}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []models.LedgerEntry{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]models.LedgerEntry
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]models.LedgerEntry)}
}

func (l *MemoryLedger) Record(_ context.Context, entries ...models.LedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range entries {
		k := e.BookingID + "/" + string(e.Kind)
		if _, ok := l.entries[k]; !ok {
			l.entries[k] = e
		}
	}
	return nil
}

func (l *MemoryLedger) ForBooking(_ context.Context, bookingID string) ([]models.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []models.LedgerEntry{}
	for _, e := range l.entries {
		if e.BookingID == bookingID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out, nil
}
