package chats

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"nannynest/metrics"
	"nannynest/models"
	"nannynest/xerrors"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const maxContentLength = 2000

// ShareLookup resolves nanny-share membership for group threads.
type ShareLookup interface {
	Get(ctx context.Context, id string) (*models.NannyShare, error)
}

// Broadcaster pushes stored messages to live subscribers.
type Broadcaster interface {
	Broadcast(msg models.Message)
}

// Relay stores messages between users, blocking any that carry contact
// details, and serves each viewer its redacted view.
type Relay struct {
	store  Store
	shares ShareLookup
	filter *ContactFilter
	hub    Broadcaster
	log    *zap.Logger
	now    func() time.Time

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewRelay(store Store, shares ShareLookup, hub Broadcaster, log *zap.Logger) *Relay {
	return &Relay{
		store:   store,
		shares:  shares,
		filter:  NewContactFilter(),
		hub:     hub,
		log:     log.Named("chats"),
		now:     func() time.Time { return time.Now().UTC() },
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

func (r *Relay) newID(t time.Time) string {
	r.idMu.Lock()
	defer r.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), r.entropy).String()
}

func cleanContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", xerrors.Invalid("content", "is required")
	}
	if utf8.RuneCountInString(content) > maxContentLength {
		return "", xerrors.Invalid("content", fmt.Sprintf("must be at most %d characters", maxContentLength))
	}
	return content, nil
}

// SendDirect stores a message from senderID to receiverID.
func (r *Relay) SendDirect(ctx context.Context, senderID, receiverID, content string) (*models.Message, error) {
	if senderID == "" {
		return nil, xerrors.Invalid("senderId", "is required")
	}
	if receiverID == "" {
		return nil, xerrors.Invalid("receiverId", "is required")
	}
	if senderID == receiverID {
		return nil, xerrors.Invalid("receiverId", "cannot message yourself")
	}
	if strings.Contains(senderID, ":") || strings.Contains(receiverID, ":") {
		return nil, xerrors.Invalid("receiverId", "invalid user id")
	}
	return r.send(ctx, DirectKey(senderID, receiverID), senderID, receiverID, content)
}

// SendToShare posts to a nanny share's group thread. Only members may post.
func (r *Relay) SendToShare(ctx context.Context, shareID, senderID, content string) (*models.Message, error) {
	if err := r.authorizeShare(ctx, shareID, senderID); err != nil {
		return nil, err
	}
	return r.send(ctx, ShareKey(shareID), senderID, "", content)
}

func (r *Relay) send(ctx context.Context, key, senderID, receiverID, content string) (*models.Message, error) {
	content, err := cleanContent(content)
	if err != nil {
		return nil, err
	}
	now := r.now()
	msg := &models.Message{
		ID:              r.newID(now),
		ConversationKey: key,
		SenderID:        senderID,
		ReceiverID:      receiverID,
		Content:         content,
		Blocked:         r.filter.Blocked(content),
		CreatedAt:       now,
	}
	if err := r.store.Insert(ctx, msg); err != nil {
		return nil, err
	}
	metrics.MessagesSent.WithLabelValues(fmt.Sprint(msg.Blocked)).Inc()
	if msg.Blocked {
		r.log.Info("message blocked",
			zap.String("message_id", msg.ID),
			zap.String("conversation", key),
			zap.String("sender_id", senderID))
	}
	if r.hub != nil {
		r.hub.Broadcast(*msg)
	}
	return msg, nil
}

// Authorize fails with ErrForbidden unless viewerID belongs to the
// conversation.
func (r *Relay) Authorize(ctx context.Context, key, viewerID string) error {
	shareID, users, ok := splitKey(key)
	if !ok {
		return xerrors.Invalid("conversationKey", "malformed conversation key")
	}
	if shareID != "" {
		return r.authorizeShare(ctx, shareID, viewerID)
	}
	if viewerID == "" || (users[0] != viewerID && users[1] != viewerID) {
		return xerrors.ErrForbidden
	}
	return nil
}

func (r *Relay) authorizeShare(ctx context.Context, shareID, userID string) error {
	if r.shares == nil {
		return xerrors.NotFound("nanny share")
	}
	share, err := r.shares.Get(ctx, shareID)
	if err != nil {
		return err
	}
	if !share.IsMember(userID) {
		return xerrors.ErrForbidden
	}
	return nil
}

// Messages returns the whole conversation as viewerID may see it, oldest
// first.
func (r *Relay) Messages(ctx context.Context, key, viewerID string) ([]models.Message, error) {
	if err := r.Authorize(ctx, key, viewerID); err != nil {
		return nil, err
	}
	msgs, err := r.store.ListByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		msgs[i] = msgs[i].ViewFor(viewerID)
	}
	return msgs, nil
}

type Conversation struct {
	ConversationKey string         `json:"conversationKey"`
	PartnerID       string         `json:"partnerId"`
	LastMessage     models.Message `json:"lastMessage"`
}

// Conversations lists userID's direct conversations, most recent first.
func (r *Relay) Conversations(ctx context.Context, userID string) ([]Conversation, error) {
	latest, err := r.store.LatestByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Conversation, 0, len(latest))
	for _, m := range latest {
		partner := m.ReceiverID
		if partner == userID {
			partner = m.SenderID
		}
		out = append(out, Conversation{
			ConversationKey: m.ConversationKey,
			PartnerID:       partner,
			LastMessage:     m.ViewFor(userID),
		})
	}
	return out, nil
}
