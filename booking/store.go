package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"nannynest/models"
	"nannynest/xerrors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Filter narrows List. Zero fields match everything.
type Filter struct {
	ParentID        string
	CaregiverID     string
	UserID          string // parent or caregiver
	Status          models.BookingStatus
	PaymentStatus   models.PaymentStatus
	CompletedBefore time.Time
}

func (f Filter) match(b *models.Booking) bool {
	if f.ParentID != "" && b.ParentID != f.ParentID {
		return false
	}
	if f.CaregiverID != "" && b.CaregiverID != f.CaregiverID {
		return false
	}
	if f.UserID != "" && !b.IsParticipant(f.UserID) {
		return false
	}
	if f.Status != "" && b.Status != f.Status {
		return false
	}
	if f.PaymentStatus != "" && b.PaymentStatus != f.PaymentStatus {
		return false
	}
	if !f.CompletedBefore.IsZero() && (b.CompletedAt == nil || b.CompletedAt.After(f.CompletedBefore)) {
		return false
	}
	return true
}

func (f Filter) bson() bson.M {
	q := bson.M{}
	if f.ParentID != "" {
		q["parentId"] = f.ParentID
	}
	if f.CaregiverID != "" {
		q["caregiverId"] = f.CaregiverID
	}
	if f.UserID != "" {
		q["$or"] = bson.A{bson.M{"parentId": f.UserID}, bson.M{"caregiverId": f.UserID}}
	}
	if f.Status != "" {
		q["status"] = f.Status
	}
	if f.PaymentStatus != "" {
		q["paymentStatus"] = f.PaymentStatus
	}
	if !f.CompletedBefore.IsZero() {
		q["completedAt"] = bson.M{"$lte": f.CompletedBefore}
	}
	return q
}

// Store persists bookings. Update is a compare-and-swap on Version: it
// fails with xerrors.ErrConflict when the stored version moved on, and
// bumps b.Version on success.
type Store interface {
	Insert(ctx context.Context, b *models.Booking) error
	Get(ctx context.Context, id string) (*models.Booking, error)
	FindByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.Booking, error)
	List(ctx context.Context, f Filter) ([]models.Booking, error)
	Update(ctx context.Context, b *models.Booking) error
}

type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(coll *mongo.Collection) *MongoStore {
	return &MongoStore{coll: coll}
}

func (s *MongoStore) Insert(ctx context.Context, b *models.Booking) error {
	_, err := s.coll.InsertOne(ctx, b)
	if mongo.IsDuplicateKeyError(err) {
		return xerrors.Conflict("booking already exists")
	}
	return err
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M) (*models.Booking, error) {
	var b models.Booking
	err := s.coll.FindOne(ctx, filter).Decode(&b)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, xerrors.NotFound("booking")
	}
	if err != nil {
		return nil, fmt.Errorf("find booking: %w", err)
	}
	return &b, nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (*models.Booking, error) {
	return s.findOne(ctx, bson.M{"id": id})
}

func (s *MongoStore) FindByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.Booking, error) {
	return s.findOne(ctx, bson.M{"paymentIntentId": paymentIntentID})
}

func (s *MongoStore) List(ctx context.Context, f Filter) ([]models.Booking, error) {
	cur, err := s.coll.Find(ctx, f.bson(), options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer cur.Close(ctx)

	bookings := []models.Booking{}
	if err := cur.All(ctx, &bookings); err != nil {
		return nil, fmt.Errorf("decode bookings: %w", err)
	}
	return bookings, nil
}

func (s *MongoStore) Update(ctx context.Context, b *models.Booking) error {
	prev := b.Version
	next := *b
	next.Version = prev + 1

	res, err := s.coll.ReplaceOne(ctx, bson.M{"id": b.ID, "version": prev}, next)
	if err != nil {
		return fmt.Errorf("update booking: %w", err)
	}
	if res.MatchedCount == 0 {
		if _, err := s.Get(ctx, b.ID); err != nil {
			return err
		}
		return xerrors.Conflict("booking was modified concurrently")
	}
	b.Version = next.Version
	return nil
}

// MemoryStore keeps bookings in process.
type MemoryStore struct {
	mu       sync.RWMutex
	bookings map[string]models.Booking
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bookings: make(map[string]models.Booking)}
}

func (s *MemoryStore) Insert(_ context.Context, b *models.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bookings[b.ID]; ok {
		return xerrors.Conflict("booking already exists")
	}
	s.bookings[b.ID] = *b
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, xerrors.NotFound("booking")
	}
	return &b, nil
}

func (s *MemoryStore) FindByPaymentIntent(_ context.Context, paymentIntentID string) (*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.bookings {
		if paymentIntentID != "" && b.PaymentIntentID == paymentIntentID {
			return &b, nil
		}
	}
	return nil, xerrors.NotFound("booking")
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Booking{}
	for _, b := range s.bookings {
		if f.match(&b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, b *models.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.bookings[b.ID]
	if !ok {
		return xerrors.NotFound("booking")
	}
	if cur.Version != b.Version {
		return xerrors.Conflict("booking was modified concurrently")
	}
	b.Version++
	s.bookings[b.ID] = *b
	return nil
}
