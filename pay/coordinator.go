package pay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nannynest/booking"
	"nannynest/metrics"
	"nannynest/models"
	"nannynest/mq"
	"nannynest/rdx"
	"nannynest/stripe"
	"nannynest/utils"
	"nannynest/xerrors"

	"go.uber.org/zap"
)

// releaseLockTTL bounds how long one release may hold its booking.
const releaseLockTTL = 30 * time.Second

// Processor is the payment side of Stripe.
type Processor interface {
	CreatePaymentIntent(ctx context.Context, req stripe.IntentRequest) (*stripe.IntentSession, error)
	Transfer(ctx context.Context, req stripe.TransferRequest) (*stripe.Payout, error)
	Refund(ctx context.Context, req stripe.RefundRequest) (*stripe.Refund, error)
}

// Accounts resolves caregivers to their connected payout account.
type Accounts interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	SetPayoutAccount(ctx context.Context, id, accountID string) error
}

// Coordinator moves a booking's money: capture into the platform balance,
// hold, then transfer the caregiver's share.
type Coordinator struct {
	bookings  booking.Store
	ledger    LedgerStore
	processor Processor
	accounts  Accounts
	locks     rdx.Locker
	events    mq.Publisher
	hold      time.Duration
	log       *zap.Logger
	now       func() time.Time
}

type Deps struct {
	Bookings  booking.Store
	Ledger    LedgerStore
	Processor Processor
	Accounts  Accounts
	Locks     rdx.Locker
	Events    mq.Publisher
	Hold      time.Duration
	Log       *zap.Logger
}

func NewCoordinator(d Deps) *Coordinator {
	return &Coordinator{
		bookings:  d.Bookings,
		ledger:    d.Ledger,
		processor: d.Processor,
		accounts:  d.Accounts,
		locks:     d.Locks,
		events:    d.Events,
		hold:      d.Hold,
		log:       d.Log.Named("pay"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// InitiatePayment opens a PaymentIntent for the booking total.
func (c *Coordinator) InitiatePayment(ctx context.Context, bookingID, parentID string) (*stripe.IntentSession, error) {
	b, err := c.bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.ParentID != parentID {
		return nil, xerrors.ErrForbidden
	}
	if b.PaymentStatus != models.PaymentUnpaid {
		return nil, fmt.Errorf("%w: payment is %s", xerrors.ErrAlreadyPaid, b.PaymentStatus)
	}
	if b.Status != models.BookingConfirmed {
		return nil, xerrors.NotEligible("booking must be confirmed before payment")
	}

	session, err := c.processor.CreatePaymentIntent(ctx, stripe.IntentRequest{
		BookingID:      b.ID,
		Amount:         b.Total,
		Currency:       b.Currency,
		Description:    fmt.Sprintf("Childcare booking %s (%d days)", b.ID, b.Days),
		IdempotencyKey: "pay-" + b.ID,
	})
	if err != nil {
		return nil, err
	}

	b.PaymentStatus = models.PaymentInitiated
	b.PaymentIntentID = session.ID
	b.UpdatedAt = c.now()
	if err := c.bookings.Update(ctx, b); err != nil {
		return nil, err
	}
	metrics.PaymentsInitiated.Inc()
	c.log.Info("payment initiated",
		zap.String("booking_id", b.ID),
		zap.String("payment_intent", session.ID),
		zap.Int64("amount", b.Total))
	return session, nil
}

// Capture is what the payment_intent.succeeded webhook tells us.
// BookingID, from the intent metadata, is a fallback for webhooks that
// beat the intent id write.
type Capture struct {
	PaymentIntentID string
	ChargeID        string
	BookingID       string
}

// ConfirmCapture records a successful charge. A charge that lands on a
// cancelled booking is refunded and the booking is left as it was.
func (c *Coordinator) ConfirmCapture(ctx context.Context, capt Capture) (*models.Booking, error) {
	b, err := c.bookings.FindByPaymentIntent(ctx, capt.PaymentIntentID)
	if errors.Is(err, xerrors.ErrNotFound) && capt.BookingID != "" {
		b, err = c.bookings.Get(ctx, capt.BookingID)
		if err == nil && b.PaymentIntentID != "" && b.PaymentIntentID != capt.PaymentIntentID {
			return nil, xerrors.Conflict("payment intent does not belong to booking")
		}
	}
	if err != nil {
		return nil, err
	}

	switch b.PaymentStatus {
	case models.PaymentPaidUnreleased, models.PaymentReleased:
		return b, nil
	}
	if b.Status == models.BookingCancelled {
		if err := c.refundCancelled(ctx, b, capt.PaymentIntentID); err != nil {
			return nil, err
		}
		return b, nil
	}

	now := c.now()
	b.PaymentStatus = models.PaymentPaidUnreleased
	b.PaymentIntentID = capt.PaymentIntentID
	b.ChargeID = capt.ChargeID
	b.PaidAt = &now
	b.UpdatedAt = now
	if err := c.bookings.Update(ctx, b); err != nil {
		return nil, err
	}
	c.log.Info("payment captured", zap.String("booking_id", b.ID), zap.String("payment_intent", capt.PaymentIntentID))
	c.emit(ctx, mq.PaymentCaptured, b.ParentID, b)
	c.emit(ctx, mq.PaymentCaptured, b.CaregiverID, b)
	return b, nil
}

// refundCancelled hands a late charge back to the parent. Redelivered
// webhooks reuse the idempotency key, so Stripe refunds once.
func (c *Coordinator) refundCancelled(ctx context.Context, b *models.Booking, paymentIntentID string) error {
	ref, err := c.processor.Refund(ctx, stripe.RefundRequest{
		BookingID:       b.ID,
		PaymentIntentID: paymentIntentID,
		IdempotencyKey:  "refund-" + b.ID,
	})
	if err != nil {
		return fmt.Errorf("refund cancelled booking: %w", err)
	}
	err = c.ledger.Record(ctx, models.LedgerEntry{
		ID:          utils.GetUUID(),
		BookingID:   b.ID,
		Kind:        models.LedgerParentRefund,
		Account:     "parent:" + b.ParentID,
		Amount:      ref.Amount,
		Currency:    b.Currency,
		ExternalRef: ref.RefundID,
		CreatedAt:   c.now(),
		Meta:        models.Meta{"paymentIntent": paymentIntentID},
	})
	if err != nil {
		return err
	}
	metrics.PaymentsRefunded.Inc()
	c.log.Warn("charge on cancelled booking refunded",
		zap.String("booking_id", b.ID),
		zap.String("payment_intent", paymentIntentID),
		zap.String("refund_id", ref.RefundID),
		zap.Int64("amount", ref.Amount))
	c.emit(ctx, mq.PaymentRefunded, b.ParentID, b)
	return nil
}

type Release struct {
	BookingID  string    `json:"bookingId"`
	Amount     int64     `json:"amount"`
	ServiceFee int64     `json:"serviceFee"`
	TransferID string    `json:"transferId"`
	ReleasedAt time.Time `json:"releasedAt"`
}

// Eligible reports why b cannot be released yet, or nil.
func (c *Coordinator) Eligible(b *models.Booking) error {
	if b.PaymentStatus == models.PaymentReleased {
		return xerrors.NotEligible("funds already released")
	}
	if b.Status != models.BookingCompleted || b.CompletedAt == nil {
		return xerrors.NotEligible("booking is not completed")
	}
	if at := b.ReleasableAt(c.hold); c.now().Before(at) {
		return xerrors.NotEligible("escrow hold ends at " + at.Format(time.RFC3339))
	}
	if b.PaymentStatus != models.PaymentPaidUnreleased {
		return xerrors.NotEligible("payment has not been captured")
	}
	return nil
}

// ReleaseToProvider pays the caregiver their share of a completed, paid
// booking once the hold has passed. The service fee stays on the platform.
func (c *Coordinator) ReleaseToProvider(ctx context.Context, bookingID string) (*Release, error) {
	lockKey := "lock:release:" + bookingID
	ok, err := c.locks.Acquire(ctx, lockKey, releaseLockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire release lock: %w", err)
	}
	if !ok {
		return nil, xerrors.Conflict("release already in progress")
	}
	defer func() {
		if err := c.locks.Release(context.WithoutCancel(ctx), lockKey); err != nil {
			c.log.Warn("release lock not freed", zap.String("key", lockKey), zap.Error(err))
		}
	}()

	b, err := c.bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := c.Eligible(b); err != nil {
		return nil, err
	}

	caregiver, err := c.accounts.GetByID(ctx, b.CaregiverID)
	if err != nil {
		return nil, fmt.Errorf("load caregiver: %w", err)
	}
	if caregiver.PayoutAccountID == "" {
		return nil, xerrors.ErrNoPayout
	}

	payout, err := c.processor.Transfer(ctx, stripe.TransferRequest{
		BookingID:      b.ID,
		Destination:    caregiver.PayoutAccountID,
		Amount:         b.CaregiverAmount(),
		Currency:       b.Currency,
		SourceCharge:   b.ChargeID,
		IdempotencyKey: "release-" + b.ID,
	})
	if err != nil {
		return nil, err
	}

	now := c.now()
	err = c.ledger.Record(ctx,
		models.LedgerEntry{
			ID:          utils.GetUUID(),
			BookingID:   b.ID,
			Kind:        models.LedgerCaregiverPayout,
			Account:     caregiver.PayoutAccountID,
			Amount:      b.CaregiverAmount(),
			Currency:    b.Currency,
			ExternalRef: payout.TransferID,
			CreatedAt:   now,
		},
		models.LedgerEntry{
			ID:          utils.GetUUID(),
			BookingID:   b.ID,
			Kind:        models.LedgerPlatformFee,
			Account:     "platform",
			Amount:      b.ServiceFee,
			Currency:    b.Currency,
			ExternalRef: b.PaymentIntentID,
			CreatedAt:   now,
			Meta:        models.Meta{"feeRate": b.FeeRate},
		},
	)
	if err != nil {
		return nil, err
	}

	b.PaymentStatus = models.PaymentReleased
	b.TransferID = payout.TransferID
	b.ReleasedAt = &now
	b.UpdatedAt = now
	if err := c.bookings.Update(ctx, b); err != nil {
		return nil, err
	}

	metrics.PayoutsReleased.Inc()
	metrics.PayoutCents.Add(float64(b.CaregiverAmount()))
	c.log.Info("payout released",
		zap.String("booking_id", b.ID),
		zap.String("transfer_id", payout.TransferID),
		zap.Int64("amount", b.CaregiverAmount()),
		zap.Int64("service_fee", b.ServiceFee))
	c.emit(ctx, mq.PayoutReleased, b.CaregiverID, b)

	return &Release{
		BookingID:  b.ID,
		Amount:     b.CaregiverAmount(),
		ServiceFee: b.ServiceFee,
		TransferID: payout.TransferID,
		ReleasedAt: now,
	}, nil
}

// Due lists bookings whose hold has passed and whose funds are still held.
func (c *Coordinator) Due(ctx context.Context) ([]models.Booking, error) {
	return c.bookings.List(ctx, booking.Filter{
		Status:          models.BookingCompleted,
		PaymentStatus:   models.PaymentPaidUnreleased,
		CompletedBefore: c.now().Add(-c.hold),
	})
}

type ItemResult struct {
	BookingID string `json:"bookingId"`
	Success   bool   `json:"success"`
	Amount    int64  `json:"amount,omitempty"`
	Error     string `json:"error,omitempty"`
}

type BulkResult struct {
	Attempted int          `json:"attempted"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Results   []ItemResult `json:"results"`
}

// BulkRelease releases each id in turn; one failure does not stop the
// rest. With no ids it releases everything Due.
func (c *Coordinator) BulkRelease(ctx context.Context, ids []string) (BulkResult, error) {
	start := time.Now()
	defer func() { metrics.BulkReleaseDuration.Observe(time.Since(start).Seconds()) }()

	if len(ids) == 0 {
		due, err := c.Due(ctx)
		if err != nil {
			return BulkResult{}, fmt.Errorf("list due bookings: %w", err)
		}
		for _, b := range due {
			ids = append(ids, b.ID)
		}
	}

	res := BulkResult{Results: make([]ItemResult, 0, len(ids))}
	for _, id := range ids {
		res.Attempted++
		rel, err := c.ReleaseToProvider(ctx, id)
		if err != nil {
			res.Failed++
			metrics.PayoutFailures.WithLabelValues(failureReason(err)).Inc()
			c.log.Warn("release failed", zap.String("booking_id", id), zap.Error(err))
			res.Results = append(res.Results, ItemResult{BookingID: id, Error: publicError(err)})
			continue
		}
		res.Succeeded++
		res.Results = append(res.Results, ItemResult{BookingID: id, Success: true, Amount: rel.Amount})
	}
	c.log.Info("bulk release finished",
		zap.Int("attempted", res.Attempted),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed))
	return res, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, xerrors.ErrNotEligible):
		return "not_eligible"
	case errors.Is(err, xerrors.ErrNoPayout):
		return "no_payout_account"
	case errors.Is(err, xerrors.ErrNotFound):
		return "not_found"
	case errors.Is(err, xerrors.ErrConflict):
		return "conflict"
	default:
		return "processor"
	}
}

func publicError(err error) string {
	if failureReason(err) == "processor" {
		return "transfer failed"
	}
	return err.Error()
}

func (c *Coordinator) emit(ctx context.Context, name, recipient string, b *models.Booking) {
	if c.events == nil {
		return
	}
	err := c.events.Publish(ctx, mq.TopicNotify, mq.Event{
		Name:       name,
		Recipient:  recipient,
		BookingID:  b.ID,
		Data:       map[string]string{"paymentStatus": string(b.PaymentStatus)},
		OccurredAt: c.now(),
	})
	if err != nil {
		c.log.Warn("notify publish failed", zap.String("event", name), zap.Error(err))
	}
}
