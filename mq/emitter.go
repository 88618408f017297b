package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Channels
const (
	TopicNotify       = "notify-events"
	TopicVerification = "verification-events"
)

// Event names
const (
	BookingRequested      = "booking.requested"
	BookingConfirmed      = "booking.confirmed"
	BookingDeclined       = "booking.declined"
	BookingCompleted      = "booking.completed"
	BookingCancelled      = "booking.cancelled"
	PaymentCaptured       = "payment.captured"
	PaymentRefunded       = "payment.refunded"
	PayoutReleased        = "payout.released"
	PayoutsEnabled        = "payout.enabled"
	VerificationSubmitted = "verification.submitted"
	VerificationDecided   = "verification.decided"
	VerificationExpiring  = "verification.expiring"
	ShareJoined           = "share.joined"
	VoucherSubmitted      = "voucher.submitted"
	VoucherDecided        = "voucher.decided"
	VoucherPaid           = "voucher.paid"
	ShareNannyAssigned    = "share.nanny_assigned"
)

// Event is the payload carried on every channel.
type Event struct {
	Name       string            `json:"name"`
	Recipient  string            `json:"recipient,omitempty"`
	BookingID  string            `json:"booking_id,omitempty"`
	RecordID   string            `json:"record_id,omitempty"`
	ShareID    string            `json:"share_id,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, topic string, evt Event) error
}

// Handler processes one event taken off a channel.
type Handler func(ctx context.Context, evt Event) error

// Bus publishes events and runs workers for them.
type Bus interface {
	Publisher
	Subscribe(ctx context.Context, topic string, h Handler)
}

// RedisBus publishes events to Redis pub/sub channels.
type RedisBus struct {
	conn *redis.Client
	log  *zap.Logger
}

func NewRedisBus(conn *redis.Client, log *zap.Logger) *RedisBus {
	return &RedisBus{conn: conn, log: log.Named("mq")}
}

func (b *RedisBus) Publish(ctx context.Context, topic string, evt Event) error {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", evt.Name, err)
	}
	if err := b.conn.Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("publish %s to %s: %w", evt.Name, topic, err)
	}
	b.log.Debug("event published", zap.String("topic", topic), zap.String("event", evt.Name))
	return nil
}

// Subscribe starts a worker that feeds topic into h until ctx is done.
func (b *RedisBus) Subscribe(ctx context.Context, topic string, h Handler) {
	sub := b.conn.Subscribe(ctx, topic)
	ch := sub.Channel()
	b.log.Info("worker listening", zap.String("topic", topic))

	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var evt Event
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					b.log.Warn("bad event payload", zap.String("topic", topic), zap.Error(err))
					continue
				}
				if err := h(ctx, evt); err != nil {
					b.log.Error("event handler failed",
						zap.String("topic", topic), zap.String("event", evt.Name), zap.Error(err))
				}
			}
		}
	}()
}
