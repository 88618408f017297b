package users

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"nannynest/models"
	"nannynest/xerrors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// MaxPhotos caps a profile's photo gallery.
const MaxPhotos = 10

// Store persists user accounts. Emails are stored normalised and unique.
type Store interface {
	Insert(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByRefreshToken(ctx context.Context, hash string) (*models.User, error)
	SetRefreshToken(ctx context.Context, id, hash string, expiry time.Time) error
	ClearRefreshToken(ctx context.Context, id string) error
	SetPayoutAccount(ctx context.Context, id, accountID string) error
	GetByPayoutAccount(ctx context.Context, accountID string) (*models.User, error)
	SetPayoutsEnabled(ctx context.Context, id string, enabled bool) error
	// SetVerifiedPhone stores phone in E.164 form and marks it verified.
	SetVerifiedPhone(ctx context.Context, id, phone string) error
	// AddPhotos appends photos unless the gallery would exceed MaxPhotos.
	AddPhotos(ctx context.Context, id string, photos []models.Photo) (*models.User, error)
}

type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(coll *mongo.Collection) *MongoStore {
	return &MongoStore{coll: coll}
}

func (s *MongoStore) Insert(ctx context.Context, u *models.User) error {
	_, err := s.coll.InsertOne(ctx, u)
	if mongo.IsDuplicateKeyError(err) {
		return xerrors.Conflict("email already registered")
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	var u models.User
	err := s.coll.FindOne(ctx, filter).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, xerrors.NotFound("user")
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &u, nil
}

func (s *MongoStore) GetByID(ctx context.Context, id string) (*models.User, error) {
	return s.findOne(ctx, bson.M{"id": id})
}

func (s *MongoStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findOne(ctx, bson.M{"email": email})
}

func (s *MongoStore) GetByRefreshToken(ctx context.Context, hash string) (*models.User, error) {
	return s.findOne(ctx, bson.M{"refreshToken": hash})
}

func (s *MongoStore) set(ctx context.Context, id string, update bson.M) error {
	res, err := s.coll.UpdateOne(ctx, bson.M{"id": id}, update)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if res.MatchedCount == 0 {
		return xerrors.NotFound("user")
	}
	return nil
}

func (s *MongoStore) SetRefreshToken(ctx context.Context, id, hash string, expiry time.Time) error {
	return s.set(ctx, id, bson.M{"$set": bson.M{
		"refreshToken":  hash,
		"refreshExpiry": expiry,
		"lastLogin":     time.Now().UTC(),
	}})
}

func (s *MongoStore) ClearRefreshToken(ctx context.Context, id string) error {
	return s.set(ctx, id, bson.M{"$unset": bson.M{"refreshToken": "", "refreshExpiry": ""}})
}

func (s *MongoStore) SetPayoutAccount(ctx context.Context, id, accountID string) error {
	return s.set(ctx, id, bson.M{"$set": bson.M{"payoutAccountId": accountID}})
}

func (s *MongoStore) GetByPayoutAccount(ctx context.Context, accountID string) (*models.User, error) {
	return s.findOne(ctx, bson.M{"payoutAccountId": accountID})
}

func (s *MongoStore) SetPayoutsEnabled(ctx context.Context, id string, enabled bool) error {
	return s.set(ctx, id, bson.M{"$set": bson.M{"payoutsEnabled": enabled}})
}

func (s *MongoStore) SetVerifiedPhone(ctx context.Context, id, phone string) error {
	return s.set(ctx, id, bson.M{"$set": bson.M{"phone": phone, "phoneVerified": true}})
}

func (s *MongoStore) AddPhotos(ctx context.Context, id string, photos []models.Photo) (*models.User, error) {
	// only matches while the gallery still has room for every new photo
	limit := MaxPhotos - len(photos)
	if limit < 0 {
		return nil, xerrors.Invalid("photos", fmt.Sprintf("at most %d photos per profile", MaxPhotos))
	}
	filter := bson.M{
		"id": id,
		"$or": bson.A{
			bson.M{"photos": bson.M{"$exists": false}},
			bson.M{fmt.Sprintf("photos.%d", limit): bson.M{"$exists": false}},
		},
	}
	res, err := s.coll.UpdateOne(ctx, filter, bson.M{"$push": bson.M{"photos": bson.M{"$each": photos}}})
	if err != nil {
		return nil, fmt.Errorf("add photos: %w", err)
	}
	if res.MatchedCount == 0 {
		if _, err := s.GetByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, xerrors.Invalid("photos", fmt.Sprintf("at most %d photos per profile", MaxPhotos))
	}
	return s.GetByID(ctx, id)
}

type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]models.User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]models.User)}
}

func (s *MemoryStore) Insert(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return xerrors.Conflict("email already registered")
		}
	}
	if _, ok := s.users[u.ID]; ok {
		return xerrors.Conflict("user already exists")
	}
	s.users[u.ID] = *u
	return nil
}

func (s *MemoryStore) find(match func(*models.User) bool) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if match(&u) {
			u.Photos = slices.Clone(u.Photos)
			return &u, nil
		}
	}
	return nil, xerrors.NotFound("user")
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (*models.User, error) {
	return s.find(func(u *models.User) bool { return u.ID == id })
}

func (s *MemoryStore) GetByEmail(_ context.Context, email string) (*models.User, error) {
	return s.find(func(u *models.User) bool { return u.Email == email })
}

func (s *MemoryStore) GetByRefreshToken(_ context.Context, hash string) (*models.User, error) {
	return s.find(func(u *models.User) bool { return hash != "" && u.RefreshTokenHash == hash })
}

func (s *MemoryStore) update(id string, fn func(*models.User) error) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, xerrors.NotFound("user")
	}
	u.Photos = slices.Clone(u.Photos)
	if err := fn(&u); err != nil {
		return nil, err
	}
	s.users[id] = u
	return &u, nil
}

func (s *MemoryStore) SetRefreshToken(_ context.Context, id, hash string, expiry time.Time) error {
	_, err := s.update(id, func(u *models.User) error {
		now := time.Now().UTC()
		u.RefreshTokenHash = hash
		u.RefreshExpiry = &expiry
		u.LastLogin = &now
		return nil
	})
	return err
}

func (s *MemoryStore) ClearRefreshToken(_ context.Context, id string) error {
	_, err := s.update(id, func(u *models.User) error {
		u.RefreshTokenHash = ""
		u.RefreshExpiry = nil
		return nil
	})
	return err
}

func (s *MemoryStore) SetPayoutAccount(_ context.Context, id, accountID string) error {
	_, err := s.update(id, func(u *models.User) error {
		u.PayoutAccountID = accountID
		return nil
	})
	return err
}

func (s *MemoryStore) GetByPayoutAccount(_ context.Context, accountID string) (*models.User, error) {
	return s.find(func(u *models.User) bool { return accountID != "" && u.PayoutAccountID == accountID })
}

func (s *MemoryStore) SetPayoutsEnabled(_ context.Context, id string, enabled bool) error {
	_, err := s.update(id, func(u *models.User) error {
		u.PayoutsEnabled = enabled
		return nil
	})
	return err
}

func (s *MemoryStore) SetVerifiedPhone(_ context.Context, id, phone string) error {
	_, err := s.update(id, func(u *models.User) error {
		u.Phone = phone
		u.PhoneVerified = true
		return nil
	})
	return err
}

func (s *MemoryStore) AddPhotos(_ context.Context, id string, photos []models.Photo) (*models.User, error) {
	return s.update(id, func(u *models.User) error {
		if len(u.Photos)+len(photos) > MaxPhotos {
			return xerrors.Invalid("photos", fmt.Sprintf("at most %d photos per profile", MaxPhotos))
		}
		u.Photos = append(u.Photos, photos...)
		return nil
	})
}
