package chats

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

// Store persists messages. Messages are immutable once inserted.
type Store interface {
	Insert(ctx context.Context, m *models.Message) error
	// ListByKey returns a conversation oldest first, ties broken by id.
	ListByKey(ctx context.Context, key string) ([]models.Message, error)
	// LatestByUser returns the newest message of every direct
	// conversation userID takes part in, newest first.
	LatestByUser(ctx context.Context, userID string) ([]models.Message, error)
}

type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(coll *mongo.Collection) *MongoStore {
	return &MongoStore{coll: coll}
}

func (s *MongoStore) Insert(ctx context.Context, m *models.Message) error {
	if _, err := s.coll.InsertOne(ctx, m); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *MongoStore) ListByKey(ctx context.Context, key string) ([]models.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "id", Value: 1}})
	cur, err := s.coll.Find(ctx, bson.M{"conversationKey": key}, opts)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer cur.Close(ctx)

	msgs := []models.Message{}
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return msgs, nil
}

func (s *MongoStore) LatestByUser(ctx context.Context, userID string) ([]models.Message, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"$or":        bson.A{bson.M{"senderId": userID}, bson.M{"receiverId": userID}},
			"receiverId": bson.M{"$gt": ""},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "createdAt", Value: -1}, {Key: "id", Value: -1}}}},
		{{Key: "$group", Value: bson.M{"_id": "$conversationKey", "doc": bson.M{"$first": "$$ROOT"}}}},
		{{Key: "$replaceRoot", Value: bson.M{"newRoot": "$doc"}}},
		{{Key: "$sort", Value: bson.D{{Key: "createdAt", Value: -1}, {Key: "id", Value: -1}}}},
	}
	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate conversations: %w", err)
	}
	defer cur.Close(ctx)

	msgs := []models.Message{}
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}
	return msgs, nil
}

type MemoryStore struct {
	mu   sync.Mutex
	msgs []models.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(_ context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, *m)
	return nil
}

func before(a, b models.Message) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (s *MemoryStore) ListByKey(_ context.Context, key string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Message{}
	for _, m := range s.msgs {
		if m.ConversationKey == key {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return before(out[i], out[j]) })
	return out, nil
}

func (s *MemoryStore) LatestByUser(_ context.Context, userID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	latest := map[string]models.Message{}
	for _, m := range s.msgs {
		if m.ReceiverID == "" || (m.SenderID != userID && m.ReceiverID != userID) {
			continue
		}
		if cur, ok := latest[m.ConversationKey]; !ok || before(cur, m) {
			latest[m.ConversationKey] = m
		}
	}
	out := make([]models.Message, 0, len(latest))
	for _, m := range latest {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return before(out[j], out[i]) })
	return out, nil
}
