package pay

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"nannynest/booking"
	"nannynest/models"
	"nannynest/mq"
	"nannynest/rdx"
	"nannynest/stripe"
	"nannynest/xerrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeProcessor struct {
	mu        sync.Mutex
	intents   []stripe.IntentRequest
	transfers []stripe.TransferRequest
	refunds   []stripe.RefundRequest
	failFor   map[string]bool
}

func (f *fakeProcessor) CreatePaymentIntent(_ context.Context, req stripe.IntentRequest) (*stripe.IntentSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents = append(f.intents, req)
	return &stripe.IntentSession{
		ID:           "pi_" + req.BookingID,
		ClientSecret: "pi_" + req.BookingID + "_secret",
		Amount:       req.Amount,
		Currency:     req.Currency,
	}, nil
}

func (f *fakeProcessor) Transfer(_ context.Context, req stripe.TransferRequest) (*stripe.Payout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[req.BookingID] {
		return nil, errors.New("stripe: insufficient platform balance")
	}
	f.transfers = append(f.transfers, req)
	return &stripe.Payout{TransferID: "tr_" + req.BookingID, Amount: req.Amount}, nil
}

func (f *fakeProcessor) Refund(_ context.Context, req stripe.RefundRequest) (*stripe.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, req)
	return &stripe.Refund{RefundID: "re_" + req.BookingID, Amount: 69000}, nil
}

type fakeAccounts struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func (f *fakeAccounts) GetByID(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, xerrors.NotFound("user")
	}
	cp := *u
	return &cp, nil
}

func (f *fakeAccounts) SetPayoutAccount(_ context.Context, id, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return xerrors.NotFound("user")
	}
	u.PayoutAccountID = accountID
	return nil
}

func (f *fakeAccounts) GetByPayoutAccount(_ context.Context, accountID string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if accountID != "" && u.PayoutAccountID == accountID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, xerrors.NotFound("user")
}

func (f *fakeAccounts) SetPayoutsEnabled(_ context.Context, id string, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return xerrors.NotFound("user")
	}
	u.PayoutsEnabled = enabled
	return nil
}

type fixture struct {
	coord     *Coordinator
	store     *booking.MemoryStore
	ledger    *MemoryLedger
	processor *fakeProcessor
	accounts  *fakeAccounts
	locks     *rdx.MemoryLocker
	bus       *mq.MemoryBus
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     booking.NewMemoryStore(),
		ledger:    NewMemoryLedger(),
		processor: &fakeProcessor{failFor: map[string]bool{}},
		accounts: &fakeAccounts{users: map[string]*models.User{
			"c1": {ID: "c1", Email: "c1@example.com", PayoutAccountID: "acct_c1"},
			"c2": {ID: "c2", Email: "c2@example.com"},
			"p1": {ID: "p1", Email: "p1@example.com"},
		}},
		locks: rdx.NewMemoryLocker(),
		bus:   mq.NewMemoryBus(nil),
		now:   time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC),
	}
	f.coord = NewCoordinator(Deps{
		Bookings:  f.store,
		Ledger:    f.ledger,
		Processor: f.processor,
		Accounts:  f.accounts,
		Locks:     f.locks,
		Events:    f.bus,
		Hold:      24 * time.Hour,
		Log:       zap.NewNop(),
	})
	f.coord.now = func() time.Time { return f.now }
	return f
}

var seq int

// seed stores a booking priced like the worked example: $600 + $90 fee.
func (f *fixture) seed(t *testing.T, status models.BookingStatus, ps models.PaymentStatus, completedAgo time.Duration) *models.Booking {
	t.Helper()
	seq++
	b := &models.Booking{
		ID:            fmt.Sprintf("b%d", seq),
		ParentID:      "p1",
		CaregiverID:   "c1",
		Days:          3,
		HoursPerDay:   8,
		RatePerHour:   2500,
		Status:        status,
		PaymentStatus: ps,
		Subtotal:      60000,
		ServiceFee:    9000,
		Total:         69000,
		FeeRate:       "0.15",
		Currency:      "aud",
		CreatedAt:     f.now.Add(-72 * time.Hour),
	}
	if status == models.BookingCompleted {
		at := f.now.Add(-completedAgo)
		b.CompletedAt = &at
	}
	if ps.Paid() {
		b.PaymentIntentID = "pi_" + b.ID
		b.ChargeID = "ch_" + b.ID
	}
	require.NoError(t, f.store.Insert(context.Background(), b))
	return b
}

func TestInitiatePayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.seed(t, models.BookingConfirmed, models.PaymentUnpaid, 0)

	_, err := f.coord.InitiatePayment(ctx, b.ID, "someone-else")
	assert.ErrorIs(t, err, xerrors.ErrForbidden)

	session, err := f.coord.InitiatePayment(ctx, b.ID, "p1")
	require.NoError(t, err)
	assert.Equal(t, "pi_"+b.ID+"_secret", session.ClientSecret)
	assert.EqualValues(t, 69000, session.Amount)

	require.Len(t, f.processor.intents, 1)
	assert.Equal(t, "pay-"+b.ID, f.processor.intents[0].IdempotencyKey)
	assert.Equal(t, "aud", f.processor.intents[0].Currency)

	got, err := f.store.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentInitiated, got.PaymentStatus)
	assert.Equal(t, session.ID, got.PaymentIntentID)

	_, err = f.coord.InitiatePayment(ctx, b.ID, "p1")
	assert.ErrorIs(t, err, xerrors.ErrAlreadyPaid)
}

func TestInitiatePaymentRequiresConfirmed(t *testing.T) {
	f := newFixture(t)
	b := f.seed(t, models.BookingPending, models.PaymentUnpaid, 0)

	_, err := f.coord.InitiatePayment(context.Background(), b.ID, "p1")
	assert.ErrorIs(t, err, xerrors.ErrNotEligible)
	assert.Empty(t, f.processor.intents)
}

func TestConfirmCapture(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.seed(t, models.BookingConfirmed, models.PaymentUnpaid, 0)
	session, err := f.coord.InitiatePayment(ctx, b.ID, "p1")
	require.NoError(t, err)

	got, err := f.coord.ConfirmCapture(ctx, Capture{PaymentIntentID: session.ID, ChargeID: "ch_1"})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaidUnreleased, got.PaymentStatus)
	assert.Equal(t, "ch_1", got.ChargeID)
	require.NotNil(t, got.PaidAt)

	again, err := f.coord.ConfirmCapture(ctx, Capture{PaymentIntentID: session.ID, ChargeID: "ch_1"})
	require.NoError(t, err)
	assert.Equal(t, got.Version, again.Version, "redelivered webhook must not write")

	_, err = f.coord.ConfirmCapture(ctx, Capture{PaymentIntentID: "pi_unknown"})
	assert.ErrorIs(t, err, xerrors.ErrNotFound)
}

func TestConfirmCaptureFallsBackToBookingID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.seed(t, models.BookingConfirmed, models.PaymentUnpaid, 0)

	got, err := f.coord.ConfirmCapture(ctx, Capture{PaymentIntentID: "pi_early", BookingID: b.ID})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaidUnreleased, got.PaymentStatus)
	assert.Equal(t, "pi_early", got.PaymentIntentID)
}

func TestCaptureAfterCancelRefunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.seed(t, models.BookingConfirmed, models.PaymentUnpaid, 0)
	session, err := f.coord.InitiatePayment(ctx, b.ID, "p1")
	require.NoError(t, err)

	// cancelled while the intent was open, then the charge succeeds anyway
	cancelled, err := f.store.Get(ctx, b.ID)
	require.NoError(t, err)
	cancelled.Status = models.BookingCancelled
	require.NoError(t, f.store.Update(ctx, cancelled))

	got, err := f.coord.ConfirmCapture(ctx, Capture{PaymentIntentID: session.ID, ChargeID: "ch_late"})
	require.NoError(t, err)
	assert.Equal(t, models.BookingCancelled, got.Status)
	assert.Equal(t, models.PaymentInitiated, got.PaymentStatus)

	stored, err := f.store.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingCancelled, stored.Status)
	assert.False(t, stored.PaymentStatus.Paid())
	assert.Nil(t, stored.PaidAt)

	require.Len(t, f.processor.refunds, 1)
	assert.Equal(t, session.ID, f.processor.refunds[0].PaymentIntentID)
	assert.Equal(t, "refund-"+b.ID, f.processor.refunds[0].IdempotencyKey)

	entries, err := f.ledger.ForBooking(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.LedgerParentRefund, entries[0].Kind)
	assert.Equal(t, "re_"+b.ID, entries[0].ExternalRef)

	evts := f.bus.Events(mq.TopicNotify)
	require.NotEmpty(t, evts)
	assert.Equal(t, mq.PaymentRefunded, evts[len(evts)-1].Name)
	assert.Equal(t, "p1", evts[len(evts)-1].Recipient)

	// a redelivered webhook refunds under the same key and records nothing new
	_, err = f.coord.ConfirmCapture(ctx, Capture{PaymentIntentID: session.ID})
	require.NoError(t, err)
	require.Len(t, f.processor.refunds, 2)
	assert.Equal(t, f.processor.refunds[0].IdempotencyKey, f.processor.refunds[1].IdempotencyKey)
	entries, err = f.ledger.ForBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = f.coord.ReleaseToProvider(ctx, b.ID)
	assert.ErrorIs(t, err, xerrors.ErrNotEligible)
	assert.Empty(t, f.processor.transfers)
}

func TestReleaseToProvider(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.seed(t, models.BookingCompleted, models.PaymentPaidUnreleased, 24*time.Hour)

	rel, err := f.coord.ReleaseToProvider(ctx, b.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 60000, rel.Amount)
	assert.EqualValues(t, 9000, rel.ServiceFee)
	assert.Equal(t, "tr_"+b.ID, rel.TransferID)

	require.Len(t, f.processor.transfers, 1)
	tr := f.processor.transfers[0]
	assert.Equal(t, "acct_c1", tr.Destination)
	assert.EqualValues(t, 60000, tr.Amount)
	assert.Equal(t, "release-"+b.ID, tr.IdempotencyKey)
	assert.Equal(t, "ch_"+b.ID, tr.SourceCharge)

	entries, err := f.ledger.ForBooking(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.LedgerCaregiverPayout, entries[0].Kind)
	assert.EqualValues(t, 60000, entries[0].Amount)
	assert.Equal(t, models.LedgerPlatformFee, entries[1].Kind)
	assert.EqualValues(t, 9000, entries[1].Amount)
	assert.Equal(t, b.Total, entries[0].Amount+entries[1].Amount)

	got, err := f.store.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentReleased, got.PaymentStatus)
	assert.True(t, got.Terminal())

	_, err = f.coord.ReleaseToProvider(ctx, b.ID)
	assert.ErrorIs(t, err, xerrors.ErrNotEligible)
	assert.Len(t, f.processor.transfers, 1)

	evts := f.bus.Events(mq.TopicNotify)
	require.NotEmpty(t, evts)
	assert.Equal(t, mq.PayoutReleased, evts[len(evts)-1].Name)
	assert.Equal(t, "c1", evts[len(evts)-1].Recipient)
}

func TestReleaseBeforeHoldAlwaysFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	elapsed := []time.Duration{0, time.Second, 23*time.Hour + 59*time.Minute + 59*time.Second}
	for i := 0; i < 200; i++ {
		elapsed = append(elapsed, time.Duration(rng.Int63n(int64(24*time.Hour))))
	}
	for _, d := range elapsed {
		b := f.seed(t, models.BookingCompleted, models.PaymentPaidUnreleased, d)
		_, err := f.coord.ReleaseToProvider(ctx, b.ID)
		require.ErrorIs(t, err, xerrors.ErrNotEligible, "elapsed %s", d)

		got, err := f.store.Get(ctx, b.ID)
		require.NoError(t, err)
		require.Equal(t, models.PaymentPaidUnreleased, got.PaymentStatus)
	}
	assert.Empty(t, f.processor.transfers)
}

func TestReleaseIneligible(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		b    *models.Booking
		want error
	}{
		{"confirmed", f.seed(t, models.BookingConfirmed, models.PaymentPaidUnreleased, 0), xerrors.ErrNotEligible},
		{"unpaid", f.seed(t, models.BookingCompleted, models.PaymentUnpaid, 48*time.Hour), xerrors.ErrNotEligible},
		{"initiated", f.seed(t, models.BookingCompleted, models.PaymentInitiated, 48*time.Hour), xerrors.ErrNotEligible},
		{"cancelled", f.seed(t, models.BookingCancelled, models.PaymentUnpaid, 0), xerrors.ErrNotEligible},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.coord.ReleaseToProvider(ctx, tt.b.ID)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := f.coord.ReleaseToProvider(ctx, "nope")
	assert.ErrorIs(t, err, xerrors.ErrNotFound)
	assert.Empty(t, f.processor.transfers)
}

func TestReleaseWithoutPayoutAccount(t *testing.T) {
	f := newFixture(t)
	b := f.seed(t, models.BookingCompleted, models.PaymentPaidUnreleased, 25*time.Hour)
	b.CaregiverID = "c2"
	require.NoError(t, f.store.Update(context.Background(), b))

	_, err := f.coord.ReleaseToProvider(context.Background(), b.ID)
	assert.ErrorIs(t, err, xerrors.ErrNoPayout)
}

func TestReleaseLockHeld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.seed(t, models.BookingCompleted, models.PaymentPaidUnreleased, 25*time.Hour)

	ok, err := f.locks.Acquire(ctx, "lock:release:"+b.ID, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.coord.ReleaseToProvider(ctx, b.ID)
	assert.ErrorIs(t, err, xerrors.ErrConflict)
	assert.Empty(t, f.processor.transfers)
}

func TestConcurrentReleasePaysOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.seed(t, models.BookingCompleted, models.PaymentPaidUnreleased, 25*time.Hour)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.coord.ReleaseToProvider(ctx, b.ID); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Len(t, f.processor.transfers, 1)
}

func TestBulkRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ok1 := f.seed(t, models.BookingCompleted, models.PaymentPaidUnreleased, 30*time.Hour)
	ok2 := f.seed(t, models.BookingCompleted, models.PaymentPaidUnreleased, 48*time.Hour)
	early := f.seed(t, models.BookingCompleted, models.PaymentPaidUnreleased, time.Hour)
	broken := f.seed(t, models.BookingCompleted, models.PaymentPaidUnreleased, 48*time.Hour)
	f.processor.failFor[broken.ID] = true

	ids := []string{ok1.ID, early.ID, "missing", broken.ID, ok2.ID}
	res, err := f.coord.BulkRelease(ctx, ids)
	require.NoError(t, err)

	assert.Equal(t, len(ids), res.Attempted)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 3, res.Failed)
	assert.Equal(t, res.Attempted, res.Succeeded+res.Failed)
	require.Len(t, res.Results, len(ids))
	assert.True(t, res.Results[0].Success)
	assert.False(t, res.Results[1].Success)
	assert.Contains(t, res.Results[1].Error, "escrow hold")
	assert.Equal(t, "transfer failed", res.Results[3].Error)
	assert.True(t, res.Results[4].Success)
}

func TestBulkReleaseDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	due := f.seed(t, models.BookingCompleted, models.PaymentPaidUnreleased, 25*time.Hour)
	f.seed(t, models.BookingCompleted, models.PaymentPaidUnreleased, 2*time.Hour)
	f.seed(t, models.BookingCompleted, models.PaymentReleased, 72*time.Hour)
	f.seed(t, models.BookingConfirmed, models.PaymentPaidUnreleased, 0)

	res, err := f.coord.BulkRelease(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempted)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, due.ID, res.Results[0].BookingID)

	res, err = f.coord.BulkRelease(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, res.Attempted)
}

func TestOnboarding(t *testing.T) {
	f := newFixture(t)
	conn := &fakeConnect{}
	o := NewOnboarding(conn, f.accounts, f.bus, "https://app.example", zap.NewNop())
	ctx := context.Background()

	acct, url, err := o.Start(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, "acct_new_c2@example.com", acct)
	assert.Contains(t, url, acct)

	again, _, err := o.Start(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, acct, again)
	assert.Equal(t, 1, conn.created, "account is created once")

	st, err := o.Status(ctx, "c2")
	require.NoError(t, err)
	assert.True(t, st.PayoutsEnabled)
}

func TestAccountUpdated(t *testing.T) {
	f := newFixture(t)
	o := NewOnboarding(&fakeConnect{}, f.accounts, f.bus, "https://app.example", zap.NewNop())
	ctx := context.Background()

	require.NoError(t, o.AccountUpdated(ctx, "acct_c1", true))
	u, err := f.accounts.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, u.PayoutsEnabled)

	evts := f.bus.Events(mq.TopicNotify)
	require.Len(t, evts, 1)
	assert.Equal(t, mq.PayoutsEnabled, evts[0].Name)
	assert.Equal(t, "c1", evts[0].Recipient)

	// unchanged readiness is a no-op
	require.NoError(t, o.AccountUpdated(ctx, "acct_c1", true))
	assert.Len(t, f.bus.Events(mq.TopicNotify), 1)

	require.NoError(t, o.AccountUpdated(ctx, "acct_c1", false))
	u, err = f.accounts.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, u.PayoutsEnabled)
	assert.Len(t, f.bus.Events(mq.TopicNotify), 1)

	assert.ErrorIs(t, o.AccountUpdated(ctx, "acct_unknown", true), xerrors.ErrNotFound)
}

type fakeConnect struct {
	created int
}

func (f *fakeConnect) CreateConnectAccount(_ context.Context, email string) (*stripe.ConnectAccount, error) {
	f.created++
	return &stripe.ConnectAccount{ID: "acct_new_" + email}, nil
}

func (f *fakeConnect) OnboardingLink(_ context.Context, accountID, _, _ string) (string, error) {
	return "https://connect.stripe.test/" + accountID, nil
}

func (f *fakeConnect) GetConnectAccount(_ context.Context, accountID string) (*stripe.ConnectAccount, error) {
	return &stripe.ConnectAccount{ID: accountID, PayoutsEnabled: true, DetailsSubmitted: true}, nil
}
