package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"nannynest/models"
	"nannynest/utils"
	"nannynest/xerrors"

	"github.com/julienschmidt/httprouter"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const IdempotencyTTL = 24 * time.Hour

// IdempotencyStore keeps one record per Idempotency-Key. Insert returns
// xerrors.ErrConflict when the key already exists.
type IdempotencyStore interface {
	Insert(ctx context.Context, rec models.IdempotencyRecord) error
	Get(ctx context.Context, key string) (*models.IdempotencyRecord, error)
	SaveResponse(ctx context.Context, key string, response map[string]interface{}) error
}

type MongoIdempotencyStore struct {
	coll *mongo.Collection
}

func NewMongoIdempotencyStore(coll *mongo.Collection) *MongoIdempotencyStore {
	return &MongoIdempotencyStore{coll: coll}
}

// EnsureIndexes creates the unique key and TTL indexes.
func (s *MongoIdempotencyStore) EnsureIndexes(ctx context.Context) error {
	idxs := []mongo.IndexModel{
		{
			Keys:    bson.M{"key": 1},
			Options: options.Index().SetUnique(true).SetName("unique_key"),
		},
		{
			Keys:    bson.M{"expires_at": 1},
			Options: options.Index().SetExpireAfterSeconds(0).SetName("ttl_expires_at"),
		},
	}
	_, err := s.coll.Indexes().CreateMany(ctx, idxs)
	return err
}

func (s *MongoIdempotencyStore) Insert(ctx context.Context, rec models.IdempotencyRecord) error {
	_, err := s.coll.InsertOne(ctx, rec)
	if mongo.IsDuplicateKeyError(err) {
		return xerrors.ErrConflict
	}
	return err
}

func (s *MongoIdempotencyStore) Get(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	var rec models.IdempotencyRecord
	err := s.coll.FindOne(ctx, bson.M{"key": key}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, xerrors.NotFound("idempotency key")
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *MongoIdempotencyStore) SaveResponse(ctx context.Context, key string, response map[string]interface{}) error {
	_, err := s.coll.UpdateOne(ctx, bson.M{"key": key}, bson.M{"$set": bson.M{"response": response}})
	return err
}

// MemoryIdempotencyStore is used with STORE_BACKEND=memory and in tests.
type MemoryIdempotencyStore struct {
	mu   sync.Mutex
	recs map[string]models.IdempotencyRecord
	now  func() time.Time
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{recs: make(map[string]models.IdempotencyRecord), now: time.Now}
}

func (s *MemoryIdempotencyStore) Insert(_ context.Context, rec models.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.recs[rec.Key]; ok && s.now().Before(old.ExpiresAt) {
		return xerrors.ErrConflict
	}
	s.recs[rec.Key] = rec
	return nil
}

func (s *MemoryIdempotencyStore) Get(_ context.Context, key string) (*models.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[key]
	if !ok {
		return nil, xerrors.NotFound("idempotency key")
	}
	return &rec, nil
}

func (s *MemoryIdempotencyStore) SaveResponse(_ context.Context, key string, response map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[key]
	if !ok {
		return xerrors.NotFound("idempotency key")
	}
	rec.Response = response
	s.recs[key] = rec
	return nil
}

func computeRequestHash(r *http.Request, bodyBytes []byte, userID string) string {
	h := sha256.New()
	h.Write([]byte(r.Method + ":" + r.URL.Path + ":" + userID + ":"))
	h.Write(bodyBytes)
	return hex.EncodeToString(h.Sum(nil))
}

// CaptureResponseWriter wraps http.ResponseWriter to capture status and body.
type CaptureResponseWriter struct {
	w           http.ResponseWriter
	statusCode  int
	buf         bytes.Buffer
	wroteHeader bool
}

func NewCaptureResponseWriter(w http.ResponseWriter) *CaptureResponseWriter {
	return &CaptureResponseWriter{w: w, statusCode: http.StatusOK}
}

func (c *CaptureResponseWriter) Header() http.Header {
	return c.w.Header()
}

func (c *CaptureResponseWriter) WriteHeader(statusCode int) {
	if !c.wroteHeader {
		c.statusCode = statusCode
		c.w.WriteHeader(statusCode)
		c.wroteHeader = true
	}
}

func (c *CaptureResponseWriter) Write(b []byte) (int, error) {
	c.buf.Write(b)
	return c.w.Write(b)
}

func (c *CaptureResponseWriter) Status() int {
	return c.statusCode
}

func (c *CaptureResponseWriter) BodyBytes() []byte {
	return c.buf.Bytes()
}

// Idempotency replays stored responses for mutating endpoints when the
// client sends an Idempotency-Key.
//   - no header: pass-through
//   - first use of a key: run the handler and store its response
//   - same key, different request: 409
//   - same key, stored response: replay it
//   - same key, still in flight: 409, the client retries later
func Idempotency(store IdempotencyStore) func(httprouter.Handle) httprouter.Handle {
	return func(next httprouter.Handle) httprouter.Handle {
		return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				next(w, r, ps)
				return
			}

			userID := utils.GetUserIDFromRequest(r)

			bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
			if err != nil {
				utils.RespondWithError(w, http.StatusBadRequest, "failed to read request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			reqHash := computeRequestHash(r, bodyBytes, userID)
			now := time.Now()
			rec := models.IdempotencyRecord{
				Key:         key,
				Method:      r.Method,
				Path:        r.URL.Path,
				UserID:      userID,
				RequestHash: reqHash,
				CreatedAt:   now,
				ExpiresAt:   now.Add(IdempotencyTTL),
			}

			ctx := r.Context()
			err = store.Insert(ctx, rec)
			if err == nil {
				crw := NewCaptureResponseWriter(w)
				next(crw, r, ps)

				var parsed interface{}
				if err := json.Unmarshal(crw.BodyBytes(), &parsed); err != nil {
					parsed = string(crw.BodyBytes())
				}
				_ = store.SaveResponse(ctx, key, map[string]interface{}{
					"status": crw.Status(),
					"body":   parsed,
				})
				return
			}

			if !errors.Is(err, xerrors.ErrConflict) {
				utils.RespondWithError(w, http.StatusInternalServerError, "idempotency lookup error")
				return
			}

			existing, err := store.Get(ctx, key)
			if err != nil {
				utils.RespondWithError(w, http.StatusInternalServerError, "idempotency lookup error")
				return
			}

			if existing.RequestHash != reqHash {
				utils.RespondWithError(w, http.StatusConflict, "idempotency-key conflict")
				return
			}

			if existing.Response == nil {
				utils.RespondWithError(w, http.StatusConflict, "request with this idempotency-key is still in progress")
				return
			}

			utils.RespondWithJSON(w, statusOf(existing.Response["status"]), existing.Response["body"])
		}
	}
}

// statusOf reads the stored status, which is an int in memory and a
// number type after a Mongo round trip.
func statusOf(v interface{}) int {
	switch s := v.(type) {
	case int:
		return s
	case int32:
		return int(s)
	case int64:
		return int(s)
	case float64:
		return int(s)
	}
	return http.StatusOK
}
