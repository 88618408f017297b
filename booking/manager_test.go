package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"nannynest/models"
	"nannynest/mq"
	"nannynest/pricing"
	"nannynest/xerrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	parent    = models.Actor{ID: "p1", Roles: []string{models.RoleParent}}
	caregiver = models.Actor{ID: "c1", Roles: []string{models.RoleCaregiver}}
	admin     = models.Actor{ID: "a1", Roles: []string{models.RoleAdmin}}
	outsider  = models.Actor{ID: "x1", Roles: []string{models.RoleParent}}
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func newTestManager(t *testing.T) (*Manager, *MemoryStore, *mq.MemoryBus) {
	t.Helper()
	calc, err := pricing.NewCalculator(pricing.DefaultFeeRate)
	require.NoError(t, err)
	store := NewMemoryStore()
	bus := mq.NewMemoryBus(nil)
	m := NewManager(store, calc, bus, "aud", zap.NewNop())
	now := time.Date(2025, 1, 4, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	return m, store, bus
}

func validRequest() CreateRequest {
	return CreateRequest{
		CaregiverID: caregiver.ID,
		StartDate:   day("2025-01-01"),
		EndDate:     day("2025-01-03"),
		HoursPerDay: 8,
		RatePerHour: 2500,
	}
}

func TestCreateBookingPricing(t *testing.T) {
	m, _, bus := newTestManager(t)
	ctx := context.Background()

	b, err := m.Create(ctx, parent.ID, validRequest())
	require.NoError(t, err)

	assert.Equal(t, models.BookingPending, b.Status)
	assert.Equal(t, models.PaymentUnpaid, b.PaymentStatus)
	assert.Equal(t, 3, b.Days)
	assert.EqualValues(t, 60000, b.Subtotal)
	assert.EqualValues(t, 9000, b.ServiceFee)
	assert.EqualValues(t, 69000, b.Total)
	assert.Equal(t, b.Subtotal+b.ServiceFee, b.Total)
	assert.Equal(t, "aud", b.Currency)
	assert.NotEmpty(t, b.ID)

	evts := bus.Events(mq.TopicNotify)
	require.Len(t, evts, 1)
	assert.Equal(t, mq.BookingRequested, evts[0].Name)
	assert.Equal(t, caregiver.ID, evts[0].Recipient)
	assert.Equal(t, b.ID, evts[0].BookingID)
}

func TestCreateBookingValidation(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		parent string
		mutate func(*CreateRequest)
	}{
		{"end before start", parent.ID, func(r *CreateRequest) { r.EndDate = day("2024-12-31") }},
		{"zero hours", parent.ID, func(r *CreateRequest) { r.HoursPerDay = 0 }},
		{"too many hours", parent.ID, func(r *CreateRequest) { r.HoursPerDay = 25 }},
		{"zero rate", parent.ID, func(r *CreateRequest) { r.RatePerHour = 0 }},
		{"missing caregiver", parent.ID, func(r *CreateRequest) { r.CaregiverID = "" }},
		{"missing parent", "", func(*CreateRequest) {}},
		{"self booking", caregiver.ID, func(*CreateRequest) {}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			_, err := m.Create(ctx, tt.parent, req)
			assert.ErrorIs(t, err, xerrors.ErrValidation)
		})
	}

	all, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestConfirmBooking(t *testing.T) {
	m, _, bus := newTestManager(t)
	ctx := context.Background()
	b, err := m.Create(ctx, parent.ID, validRequest())
	require.NoError(t, err)

	_, err = m.Confirm(ctx, b.ID, outsider.ID)
	assert.ErrorIs(t, err, xerrors.ErrForbidden)

	_, err = m.Confirm(ctx, "missing", caregiver.ID)
	assert.ErrorIs(t, err, xerrors.ErrNotFound)

	got, err := m.Confirm(ctx, b.ID, caregiver.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingConfirmed, got.Status)
	require.NotNil(t, got.ConfirmedAt)
	version := got.Version

	again, err := m.Confirm(ctx, b.ID, caregiver.ID)
	require.NoError(t, err)
	assert.Equal(t, version, again.Version, "repeat confirm must not write")

	evts := bus.Events(mq.TopicNotify)
	require.Len(t, evts, 2)
	assert.Equal(t, mq.BookingConfirmed, evts[1].Name)
	assert.Equal(t, parent.ID, evts[1].Recipient)
}

func TestConfirmRejectsTerminalStates(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	b, err := m.Create(ctx, parent.ID, validRequest())
	require.NoError(t, err)

	_, err = m.Decline(ctx, b.ID, caregiver.ID)
	require.NoError(t, err)

	_, err = m.Confirm(ctx, b.ID, caregiver.ID)
	assert.ErrorIs(t, err, xerrors.ErrConflict)
}

func TestCompleteBooking(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	b, err := m.Create(ctx, parent.ID, validRequest())
	require.NoError(t, err)

	_, err = m.Complete(ctx, b.ID, parent)
	assert.ErrorIs(t, err, xerrors.ErrConflict, "pending bookings cannot complete")

	_, err = m.Confirm(ctx, b.ID, caregiver.ID)
	require.NoError(t, err)

	_, err = m.Complete(ctx, b.ID, outsider)
	assert.ErrorIs(t, err, xerrors.ErrForbidden)

	done, err := m.Complete(ctx, b.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, models.BookingCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, m.now(), *done.CompletedAt)

	again, err := m.Complete(ctx, b.ID, parent)
	require.NoError(t, err)
	assert.Equal(t, done.Version, again.Version)
}

func TestCancelBooking(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	t.Run("unpaid confirmed booking cancels", func(t *testing.T) {
		b, err := m.Create(ctx, parent.ID, validRequest())
		require.NoError(t, err)
		_, err = m.Confirm(ctx, b.ID, caregiver.ID)
		require.NoError(t, err)

		got, err := m.Cancel(ctx, b.ID, parent)
		require.NoError(t, err)
		assert.Equal(t, models.BookingCancelled, got.Status)
		assert.True(t, got.Terminal())
	})

	t.Run("paid booking is not eligible", func(t *testing.T) {
		b, err := m.Create(ctx, parent.ID, validRequest())
		require.NoError(t, err)
		b.PaymentStatus = models.PaymentPaidUnreleased
		require.NoError(t, store.Update(ctx, b))

		_, err = m.Cancel(ctx, b.ID, caregiver)
		assert.ErrorIs(t, err, xerrors.ErrNotEligible)
	})

	t.Run("open payment intent is voided", func(t *testing.T) {
		intents := &fakeIntents{}
		m.SetIntentCanceller(intents)
		defer m.SetIntentCanceller(nil)

		b, err := m.Create(ctx, parent.ID, validRequest())
		require.NoError(t, err)
		b.Status = models.BookingConfirmed
		b.PaymentStatus = models.PaymentInitiated
		b.PaymentIntentID = "pi_open"
		require.NoError(t, store.Update(ctx, b))

		got, err := m.Cancel(ctx, b.ID, parent)
		require.NoError(t, err)
		assert.Equal(t, models.BookingCancelled, got.Status)
		assert.Equal(t, []string{"pi_open"}, intents.cancelled)
	})

	t.Run("captured intent blocks cancel", func(t *testing.T) {
		m.SetIntentCanceller(&fakeIntents{err: errors.New("payment_intent_unexpected_state")})
		defer m.SetIntentCanceller(nil)

		b, err := m.Create(ctx, parent.ID, validRequest())
		require.NoError(t, err)
		b.Status = models.BookingConfirmed
		b.PaymentStatus = models.PaymentInitiated
		b.PaymentIntentID = "pi_done"
		require.NoError(t, store.Update(ctx, b))

		_, err = m.Cancel(ctx, b.ID, parent)
		assert.ErrorIs(t, err, xerrors.ErrConflict)
		got, err := store.Get(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, models.BookingConfirmed, got.Status)
	})

	t.Run("payment in flight without canceller", func(t *testing.T) {
		b, err := m.Create(ctx, parent.ID, validRequest())
		require.NoError(t, err)
		b.PaymentStatus = models.PaymentInitiated
		b.PaymentIntentID = "pi_x"
		require.NoError(t, store.Update(ctx, b))

		_, err = m.Cancel(ctx, b.ID, parent)
		assert.ErrorIs(t, err, xerrors.ErrNotEligible)
	})

	t.Run("completed booking is not eligible", func(t *testing.T) {
		b, err := m.Create(ctx, parent.ID, validRequest())
		require.NoError(t, err)
		_, err = m.Confirm(ctx, b.ID, caregiver.ID)
		require.NoError(t, err)
		_, err = m.Complete(ctx, b.ID, parent)
		require.NoError(t, err)

		_, err = m.Cancel(ctx, b.ID, parent)
		assert.ErrorIs(t, err, xerrors.ErrNotEligible)
	})

	t.Run("outsider forbidden", func(t *testing.T) {
		b, err := m.Create(ctx, parent.ID, validRequest())
		require.NoError(t, err)
		_, err = m.Cancel(ctx, b.ID, outsider)
		assert.ErrorIs(t, err, xerrors.ErrForbidden)
	})
}

type fakeIntents struct {
	cancelled []string
	err       error
}

func (f *fakeIntents) CancelPaymentIntent(_ context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

func TestStaleVersionConflicts(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	b, err := m.Create(ctx, parent.ID, validRequest())
	require.NoError(t, err)

	stale, err := store.Get(ctx, b.ID)
	require.NoError(t, err)

	_, err = m.Confirm(ctx, b.ID, caregiver.ID)
	require.NoError(t, err)

	stale.Status = models.BookingCancelled
	err = store.Update(ctx, stale)
	assert.ErrorIs(t, err, xerrors.ErrConflict)

	cur, err := store.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingConfirmed, cur.Status)
}

func TestListBookings(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, parent.ID, validRequest())
	require.NoError(t, err)
	other := validRequest()
	other.CaregiverID = "c2"
	_, err = m.Create(ctx, parent.ID, other)
	require.NoError(t, err)

	mine, err := m.List(ctx, parent, models.RoleParent, "")
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	theirs, err := m.List(ctx, caregiver, "", "")
	require.NoError(t, err)
	assert.Len(t, theirs, 1)

	_, err = m.List(ctx, parent, "", "bogus")
	assert.ErrorIs(t, err, xerrors.ErrValidation)

	_, err = m.Get(ctx, theirs[0].ID, outsider)
	assert.ErrorIs(t, err, xerrors.ErrForbidden)
}
