package nannyshare

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync"

	"nannynest/models"
	"nannynest/xerrors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Filter narrows List. Suburb matches case-insensitively.
type Filter struct {
	Suburb      string
	Participant string
	Status      models.ShareStatus
}

// Store persists shares. Update is a compare-and-swap on Version.
type Store interface {
	Insert(ctx context.Context, s *models.NannyShare) error
	Get(ctx context.Context, id string) (*models.NannyShare, error)
	List(ctx context.Context, f Filter) ([]models.NannyShare, error)
	Update(ctx context.Context, s *models.NannyShare) error
}

type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(coll *mongo.Collection) *MongoStore {
	return &MongoStore{coll: coll}
}

func (s *MongoStore) Insert(ctx context.Context, share *models.NannyShare) error {
	_, err := s.coll.InsertOne(ctx, share)
	if mongo.IsDuplicateKeyError(err) {
		return xerrors.Conflict("nanny share already exists")
	}
	return err
}

func (s *MongoStore) Get(ctx context.Context, id string) (*models.NannyShare, error) {
	var share models.NannyShare
	err := s.coll.FindOne(ctx, bson.M{"id": id}).Decode(&share)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, xerrors.NotFound("nanny share")
	}
	if err != nil {
		return nil, fmt.Errorf("find nanny share: %w", err)
	}
	return &share, nil
}

func (s *MongoStore) List(ctx context.Context, f Filter) ([]models.NannyShare, error) {
	q := bson.M{}
	if f.Suburb != "" {
		q["suburb"] = bson.M{"$regex": "^" + regexp.QuoteMeta(f.Suburb) + "$", "$options": "i"}
	}
	if f.Participant != "" {
		q["participants"] = f.Participant
	}
	if f.Status != "" {
		q["status"] = f.Status
	}
	cur, err := s.coll.Find(ctx, q, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("list nanny shares: %w", err)
	}
	defer cur.Close(ctx)

	shares := []models.NannyShare{}
	if err := cur.All(ctx, &shares); err != nil {
		return nil, fmt.Errorf("decode nanny shares: %w", err)
	}
	return shares, nil
}

func (s *MongoStore) Update(ctx context.Context, share *models.NannyShare) error {
	prev := share.Version
	next := *share
	next.Version = prev + 1

	res, err := s.coll.ReplaceOne(ctx, bson.M{"id": share.ID, "version": prev}, next)
	if err != nil {
		return fmt.Errorf("update nanny share: %w", err)
	}
	if res.MatchedCount == 0 {
		if _, err := s.Get(ctx, share.ID); err != nil {
			return err
		}
		return xerrors.Conflict("nanny share was modified concurrently")
	}
	share.Version = next.Version
	return nil
}

type MemoryStore struct {
	mu     sync.RWMutex
	shares map[string]models.NannyShare
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{shares: make(map[string]models.NannyShare)}
}

func clone(s models.NannyShare) models.NannyShare {
	s.Participants = slices.Clone(s.Participants)
	return s
}

func (s *MemoryStore) Insert(_ context.Context, share *models.NannyShare) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.shares[share.ID]; ok {
		return xerrors.Conflict("nanny share already exists")
	}
	s.shares[share.ID] = clone(*share)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.NannyShare, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	share, ok := s.shares[id]
	if !ok {
		return nil, xerrors.NotFound("nanny share")
	}
	out := clone(share)
	return &out, nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]models.NannyShare, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.NannyShare{}
	for _, share := range s.shares {
		if f.Suburb != "" && !strings.EqualFold(share.Suburb, f.Suburb) {
			continue
		}
		if f.Participant != "" && !share.HasParticipant(f.Participant) {
			continue
		}
		if f.Status != "" && share.Status != f.Status {
			continue
		}
		out = append(out, clone(share))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, share *models.NannyShare) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.shares[share.ID]
	if !ok {
		return xerrors.NotFound("nanny share")
	}
	if cur.Version != share.Version {
		return xerrors.Conflict("nanny share was modified concurrently")
	}
	share.Version++
	s.shares[share.ID] = clone(*share)
	return nil
}
