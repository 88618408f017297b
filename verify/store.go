package verify

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"nannynest/models"
	"nannynest/xerrors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// StateChange is applied by Store.Transition.
type StateChange struct {
	State     models.VerificationState
	Provider  string
	Reference string
	Reason    string
	At        time.Time
}

// Store persists verification records. Transition only applies when the
// stored state is one of from; otherwise it returns xerrors.ErrConflict.
type Store interface {
	Insert(ctx context.Context, rec *models.VerificationRecord) error
	Get(ctx context.Context, id string) (*models.VerificationRecord, error)
	ListBySubject(ctx context.Context, subjectID string) ([]models.VerificationRecord, error)
	Transition(ctx context.Context, id string, from []models.VerificationState, ch StateChange) (*models.VerificationRecord, error)
	// ApprovedExpiringBetween skips records already warned about.
	ApprovedExpiringBetween(ctx context.Context, from, to time.Time) ([]models.VerificationRecord, error)
	// MarkExpiryWarned reports false when another sweep got there first.
	MarkExpiryWarned(ctx context.Context, id string, at time.Time) (bool, error)
}

type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(coll *mongo.Collection) *MongoStore {
	return &MongoStore{coll: coll}
}

func (s *MongoStore) Insert(ctx context.Context, rec *models.VerificationRecord) error {
	_, err := s.coll.InsertOne(ctx, rec)
	return err
}

func (s *MongoStore) Get(ctx context.Context, id string) (*models.VerificationRecord, error) {
	var rec models.VerificationRecord
	err := s.coll.FindOne(ctx, bson.M{"id": id}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, xerrors.NotFound("verification")
	}
	if err != nil {
		return nil, fmt.Errorf("find verification: %w", err)
	}
	return &rec, nil
}

func (s *MongoStore) ListBySubject(ctx context.Context, subjectID string) ([]models.VerificationRecord, error) {
	cur, err := s.coll.Find(ctx, bson.M{"subjectId": subjectID},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	recs := []models.VerificationRecord{}
	if err := cur.All(ctx, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *MongoStore) Transition(ctx context.Context, id string, from []models.VerificationState, ch StateChange) (*models.VerificationRecord, error) {
	set := bson.M{"state": ch.State, "updatedAt": ch.At}
	if ch.Provider != "" {
		set["provider"] = ch.Provider
	}
	if ch.Reference != "" {
		set["reference"] = ch.Reference
	}
	if ch.Reason != "" {
		set["reason"] = ch.Reason
	}
	if ch.State.Decided() {
		set["decidedAt"] = ch.At
	}

	var rec models.VerificationRecord
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"id": id, "state": bson.M{"$in": from}},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		cur, gerr := s.Get(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		return nil, xerrors.Conflict("verification is " + string(cur.State))
	}
	if err != nil {
		return nil, fmt.Errorf("update verification: %w", err)
	}
	return &rec, nil
}

func (s *MongoStore) ApprovedExpiringBetween(ctx context.Context, from, to time.Time) ([]models.VerificationRecord, error) {
	cur, err := s.coll.Find(ctx, bson.M{
		"state":          models.VerificationApproved,
		"expiryDate":     bson.M{"$gt": from, "$lte": to},
		"expiryWarnedAt": bson.M{"$exists": false},
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	recs := []models.VerificationRecord{}
	if err := cur.All(ctx, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *MongoStore) MarkExpiryWarned(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"id": id, "expiryWarnedAt": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"expiryWarnedAt": at}},
	)
	if err != nil {
		return false, fmt.Errorf("mark expiry warned: %w", err)
	}
	return res.ModifiedCount == 1, nil
}

type MemoryStore struct {
	mu   sync.Mutex
	recs map[string]models.VerificationRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]models.VerificationRecord)}
}

func (s *MemoryStore) Insert(_ context.Context, rec *models.VerificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.ID] = *rec
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.VerificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return nil, xerrors.NotFound("verification")
	}
	return &rec, nil
}

func (s *MemoryStore) ListBySubject(_ context.Context, subjectID string) ([]models.VerificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.VerificationRecord{}
	for _, r := range s.recs {
		if r.SubjectID == subjectID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Transition(_ context.Context, id string, from []models.VerificationState, ch StateChange) (*models.VerificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return nil, xerrors.NotFound("verification")
	}
	if !slices.Contains(from, rec.State) {
		return nil, xerrors.Conflict("verification is " + string(rec.State))
	}
	rec.State = ch.State
	rec.UpdatedAt = ch.At
	if ch.Provider != "" {
		rec.Provider = ch.Provider
	}
	if ch.Reference != "" {
		rec.Reference = ch.Reference
	}
	if ch.Reason != "" {
		rec.Reason = ch.Reason
	}
	if ch.State.Decided() {
		at := ch.At
		rec.DecidedAt = &at
	}
	s.recs[id] = rec
	return &rec, nil
}

func (s *MemoryStore) ApprovedExpiringBetween(_ context.Context, from, to time.Time) ([]models.VerificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.VerificationRecord{}
	for _, r := range s.recs {
		if r.State == models.VerificationApproved && r.ExpiryWarnedAt == nil &&
			r.ExpiryDate.After(from) && !r.ExpiryDate.After(to) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiryDate.Before(out[j].ExpiryDate) })
	return out, nil
}

func (s *MemoryStore) MarkExpiryWarned(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return false, xerrors.NotFound("verification")
	}
	if rec.ExpiryWarnedAt != nil {
		return false, nil
	}
	rec.ExpiryWarnedAt = &at
	s.recs[id] = rec
	return true, nil
}
