package vouchers

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

// Change is applied by Store.Transition.
type Change struct {
	Status     models.VoucherStatus
	Notes      string
	TransferID string
	At         time.Time
}

// Store persists vouchers. Transition only applies when the stored status
// is from; otherwise it returns xerrors.ErrConflict.
type Store interface {
	Insert(ctx context.Context, v *models.Voucher) error
	Get(ctx context.Context, id string) (*models.Voucher, error)
	ListByCaregiver(ctx context.Context, caregiverID string) ([]models.Voucher, error)
	// List returns every voucher, or those in status when it is set.
	List(ctx context.Context, status models.VoucherStatus) ([]models.Voucher, error)
	Transition(ctx context.Context, id string, from models.VoucherStatus, ch Change) (*models.Voucher, error)
}

func (ch Change) set() bson.M {
	set := bson.M{"status": ch.Status}
	if ch.Notes != "" {
		set["notes"] = ch.Notes
	}
	if ch.TransferID != "" {
		set["transferId"] = ch.TransferID
	}
	switch ch.Status {
	case models.VoucherApproved, models.VoucherRejected:
		set["processedAt"] = ch.At
	case models.VoucherPaid:
		set["paidAt"] = ch.At
	}
	return set
}

func (ch Change) apply(v *models.Voucher) {
	v.Status = ch.Status
	if ch.Notes != "" {
		v.Notes = ch.Notes
	}
	if ch.TransferID != "" {
		v.TransferID = ch.TransferID
	}
	at := ch.At
	switch ch.Status {
	case models.VoucherApproved, models.VoucherRejected:
		v.ProcessedAt = &at
	case models.VoucherPaid:
		v.PaidAt = &at
	}
}

type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(coll *mongo.Collection) *MongoStore {
	return &MongoStore{coll: coll}
}

func (s *MongoStore) Insert(ctx context.Context, v *models.Voucher) error {
	_, err := s.coll.InsertOne(ctx, v)
	return err
}

func (s *MongoStore) Get(ctx context.Context, id string) (*models.Voucher, error) {
	var v models.Voucher
	err := s.coll.FindOne(ctx, bson.M{"id": id}).Decode(&v)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, xerrors.NotFound("voucher")
	}
	if err != nil {
		return nil, fmt.Errorf("find voucher: %w", err)
	}
	return &v, nil
}

func (s *MongoStore) find(ctx context.Context, filter bson.M) ([]models.Voucher, error) {
	cur, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "submittedAt", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []models.Voucher{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) ListByCaregiver(ctx context.Context, caregiverID string) ([]models.Voucher, error) {
	return s.find(ctx, bson.M{"caregiverId": caregiverID})
}

func (s *MongoStore) List(ctx context.Context, status models.VoucherStatus) ([]models.Voucher, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}
	return s.find(ctx, filter)
}

func (s *MongoStore) Transition(ctx context.Context, id string, from models.VoucherStatus, ch Change) (*models.Voucher, error) {
	var v models.Voucher
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"id": id, "status": from},
		bson.M{"$set": ch.set()},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&v)
	if errors.Is(err, mongo.ErrNoDocuments) {
		cur, gerr := s.Get(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		return nil, xerrors.Conflict("voucher is " + string(cur.Status))
	}
	if err != nil {
		return nil, fmt.Errorf("update voucher: %w", err)
	}
	return &v, nil
}

type MemoryStore struct {
	mu       sync.Mutex
	vouchers map[string]models.Voucher
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{vouchers: make(map[string]models.Voucher)}
}

func (s *MemoryStore) Insert(_ context.Context, v *models.Voucher) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vouchers[v.ID]; ok {
		return xerrors.Conflict("voucher exists")
	}
	s.vouchers[v.ID] = *v
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vouchers[id]
	if !ok {
		return nil, xerrors.NotFound("voucher")
	}
	return &v, nil
}

func (s *MemoryStore) filter(keep func(*models.Voucher) bool) []models.Voucher {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Voucher{}
	for _, v := range s.vouchers {
		if keep(&v) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out
}

func (s *MemoryStore) ListByCaregiver(_ context.Context, caregiverID string) ([]models.Voucher, error) {
	return s.filter(func(v *models.Voucher) bool { return v.CaregiverID == caregiverID }), nil
}

func (s *MemoryStore) List(_ context.Context, status models.VoucherStatus) ([]models.Voucher, error) {
	return s.filter(func(v *models.Voucher) bool { return status == "" || v.Status == status }), nil
}

func (s *MemoryStore) Transition(_ context.Context, id string, from models.VoucherStatus, ch Change) (*models.Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vouchers[id]
	if !ok {
		return nil, xerrors.NotFound("voucher")
	}
	if v.Status != from {
		return nil, xerrors.Conflict("voucher is " + string(v.Status))
	}
	ch.apply(&v)
	s.vouchers[id] = v
	return &v, nil
}
