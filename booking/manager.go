package booking

import (
	"context"
	"fmt"
	"time"

	"nannynest/metrics"
	"nannynest/models"
	"nannynest/mq"
	"nannynest/pricing"
	"nannynest/utils"
	"nannynest/xerrors"

	"go.uber.org/zap"
)

// Manager owns the booking status lifecycle. Payment status belongs to
// the pay package.
type Manager struct {
	store    Store
	calc     pricing.Calculator
	events   mq.Publisher
	intents  IntentCanceller
	currency string
	log      *zap.Logger
	now      func() time.Time
}

// IntentCanceller voids a PaymentIntent that has not been charged yet.
type IntentCanceller interface {
	CancelPaymentIntent(ctx context.Context, id string) error
}

// SetIntentCanceller lets Cancel void an open payment. Without one,
// bookings with a payment in flight cannot be cancelled.
func (m *Manager) SetIntentCanceller(c IntentCanceller) { m.intents = c }

func NewManager(store Store, calc pricing.Calculator, events mq.Publisher, currency string, log *zap.Logger) *Manager {
	return &Manager{
		store:    store,
		calc:     calc,
		events:   events,
		currency: currency,
		log:      log.Named("booking"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type CreateRequest struct {
	CaregiverID string
	JobID       string
	StartDate   time.Time
	EndDate     time.Time
	HoursPerDay int
	RatePerHour int64 // cents
	Notes       string
}

func (m *Manager) Quote(start, end time.Time, hoursPerDay int, ratePerHour int64) (pricing.Quote, error) {
	return m.calc.Quote(start, end, hoursPerDay, ratePerHour)
}

// Create records a pending, unpaid booking priced at the configured fee rate.
func (m *Manager) Create(ctx context.Context, parentID string, req CreateRequest) (*models.Booking, error) {
	if parentID == "" {
		return nil, xerrors.Invalid("parentId", "is required")
	}
	if req.CaregiverID == "" {
		return nil, xerrors.Invalid("caregiverId", "is required")
	}
	if parentID == req.CaregiverID {
		return nil, xerrors.Invalid("caregiverId", "cannot book yourself")
	}
	q, err := m.calc.Quote(req.StartDate, req.EndDate, req.HoursPerDay, req.RatePerHour)
	if err != nil {
		return nil, err
	}

	now := m.now()
	b := &models.Booking{
		ID:            utils.GetUUID(),
		ParentID:      parentID,
		CaregiverID:   req.CaregiverID,
		JobID:         req.JobID,
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
		Days:          q.Days,
		HoursPerDay:   q.HoursPerDay,
		RatePerHour:   q.RatePerHour,
		Notes:         req.Notes,
		Status:        models.BookingPending,
		PaymentStatus: models.PaymentUnpaid,
		Subtotal:      q.Subtotal,
		ServiceFee:    q.ServiceFee,
		Total:         q.Total,
		FeeRate:       q.FeeRate,
		Currency:      m.currency,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.store.Insert(ctx, b); err != nil {
		return nil, err
	}
	metrics.BookingsCreated.Inc()
	m.log.Info("booking created",
		zap.String("booking_id", b.ID),
		zap.String("parent_id", parentID),
		zap.String("caregiver_id", b.CaregiverID),
		zap.Int64("total", b.Total))
	m.emit(ctx, mq.BookingRequested, b.CaregiverID, b)
	return b, nil
}

// Confirm moves pending to confirmed. Confirming twice is a no-op.
func (m *Manager) Confirm(ctx context.Context, id, caregiverID string) (*models.Booking, error) {
	b, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.CaregiverID != caregiverID {
		return nil, xerrors.ErrForbidden
	}
	switch b.Status {
	case models.BookingConfirmed:
		return b, nil
	case models.BookingPending:
	default:
		return nil, xerrors.Conflict("cannot confirm a " + string(b.Status) + " booking")
	}

	now := m.now()
	b.Status = models.BookingConfirmed
	b.ConfirmedAt = &now
	if err := m.save(ctx, b, now); err != nil {
		return nil, err
	}
	m.emit(ctx, mq.BookingConfirmed, b.ParentID, b)
	return b, nil
}

// Decline lets the caregiver turn down a pending request.
func (m *Manager) Decline(ctx context.Context, id, caregiverID string) (*models.Booking, error) {
	b, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.CaregiverID != caregiverID {
		return nil, xerrors.ErrForbidden
	}
	switch b.Status {
	case models.BookingCancelled:
		return b, nil
	case models.BookingPending:
	default:
		return nil, xerrors.Conflict("only pending bookings can be declined")
	}

	now := m.now()
	b.Status = models.BookingCancelled
	b.CancelledAt = &now
	if err := m.save(ctx, b, now); err != nil {
		return nil, err
	}
	m.emit(ctx, mq.BookingDeclined, b.ParentID, b)
	return b, nil
}

// Complete marks a confirmed booking done and starts the escrow hold.
func (m *Manager) Complete(ctx context.Context, id string, actor models.Actor) (*models.Booking, error) {
	b, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.IsParticipant(actor.ID) && !actor.IsAdmin() {
		return nil, xerrors.ErrForbidden
	}
	switch b.Status {
	case models.BookingCompleted:
		return b, nil
	case models.BookingConfirmed:
	default:
		return nil, xerrors.Conflict("only confirmed bookings can be completed")
	}

	now := m.now()
	b.Status = models.BookingCompleted
	b.CompletedAt = &now
	if err := m.save(ctx, b, now); err != nil {
		return nil, err
	}
	m.emit(ctx, mq.BookingCompleted, b.ParentID, b)
	m.emit(ctx, mq.BookingCompleted, b.CaregiverID, b)
	return b, nil
}

// Cancel is allowed before any money is captured. An open PaymentIntent
// is voided first so no charge can land on the cancelled booking.
func (m *Manager) Cancel(ctx context.Context, id string, actor models.Actor) (*models.Booking, error) {
	b, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.IsParticipant(actor.ID) && !actor.IsAdmin() {
		return nil, xerrors.ErrForbidden
	}
	if b.Status == models.BookingCancelled {
		return b, nil
	}
	if b.Status == models.BookingCompleted {
		return nil, xerrors.NotEligible("completed bookings cannot be cancelled")
	}
	if b.PaymentStatus.Paid() {
		return nil, xerrors.NotEligible("paid bookings cannot be cancelled")
	}
	if b.PaymentStatus == models.PaymentInitiated && b.PaymentIntentID != "" {
		if m.intents == nil {
			return nil, xerrors.NotEligible("payment is in progress")
		}
		// fails once the charge has gone through; the capture webhook
		// then moves the booking to paid
		if err := m.intents.CancelPaymentIntent(ctx, b.PaymentIntentID); err != nil {
			m.log.Warn("payment intent not voided",
				zap.String("booking_id", b.ID),
				zap.String("payment_intent", b.PaymentIntentID),
				zap.Error(err))
			return nil, fmt.Errorf("%w: payment could not be voided, it may already be captured", xerrors.ErrConflict)
		}
	}

	now := m.now()
	b.Status = models.BookingCancelled
	b.CancelledAt = &now
	if err := m.save(ctx, b, now); err != nil {
		return nil, err
	}
	other := b.CaregiverID
	if actor.ID == b.CaregiverID {
		other = b.ParentID
	}
	m.emit(ctx, mq.BookingCancelled, other, b)
	return b, nil
}

// Get returns the booking if actor is a participant or an admin.
func (m *Manager) Get(ctx context.Context, id string, actor models.Actor) (*models.Booking, error) {
	b, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.IsParticipant(actor.ID) && !actor.IsAdmin() {
		return nil, xerrors.ErrForbidden
	}
	return b, nil
}

// List returns the actor's bookings, newest first. role narrows to the
// parent or caregiver side.
func (m *Manager) List(ctx context.Context, actor models.Actor, role string, status models.BookingStatus) ([]models.Booking, error) {
	if status != "" && !status.Valid() {
		return nil, xerrors.Invalid("status", "unknown status")
	}
	f := Filter{Status: status}
	switch role {
	case models.RoleParent:
		f.ParentID = actor.ID
	case models.RoleCaregiver:
		f.CaregiverID = actor.ID
	case "":
		f.UserID = actor.ID
	default:
		return nil, xerrors.Invalid("role", "must be parent or caregiver")
	}
	return m.store.List(ctx, f)
}

func (m *Manager) save(ctx context.Context, b *models.Booking, now time.Time) error {
	b.UpdatedAt = now
	if err := m.store.Update(ctx, b); err != nil {
		return err
	}
	metrics.BookingTransitions.WithLabelValues(string(b.Status)).Inc()
	m.log.Info("booking transition",
		zap.String("booking_id", b.ID),
		zap.String("status", string(b.Status)),
		zap.Int64("version", b.Version))
	return nil
}

func (m *Manager) emit(ctx context.Context, name, recipient string, b *models.Booking) {
	if m.events == nil {
		return
	}
	err := m.events.Publish(ctx, mq.TopicNotify, mq.Event{
		Name:      name,
		Recipient: recipient,
		BookingID: b.ID,
		Data: map[string]string{
			"status":        string(b.Status),
			"paymentStatus": string(b.PaymentStatus),
			"total":         pricing.Format(b.Total),
		},
		OccurredAt: m.now(),
	})
	if err != nil {
		m.log.Warn("notify publish failed", zap.String("event", name), zap.Error(err))
	}
}
