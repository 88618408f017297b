package vouchers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"nannynest/booking"
	"nannynest/globals"
	"nannynest/models"
	"nannynest/mq"
	"nannynest/pay"
	"nannynest/stripe"
	"nannynest/users"
	"nannynest/xerrors"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePayer struct {
	mu        sync.Mutex
	transfers []stripe.TransferRequest
	err       error
}

func (f *fakePayer) Transfer(_ context.Context, req stripe.TransferRequest) (*stripe.Payout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.transfers = append(f.transfers, req)
	return &stripe.Payout{TransferID: "tr_" + req.IdempotencyKey, Amount: req.Amount}, nil
}

type fixture struct {
	svc      *Service
	store    *MemoryStore
	bookings *booking.MemoryStore
	users    *users.MemoryStore
	ledger   *pay.MemoryLedger
	payer    *fakePayer
	bus      *mq.MemoryBus
}

var testNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    NewMemoryStore(),
		bookings: booking.NewMemoryStore(),
		users:    users.NewMemoryStore(),
		ledger:   pay.NewMemoryLedger(),
		payer:    &fakePayer{},
		bus:      mq.NewMemoryBus(zap.NewNop()),
	}
	ctx := context.Background()
	require.NoError(t, f.users.Insert(ctx, &models.User{ID: "c1", Email: "c1@example.com", PayoutAccountID: "acct_c1"}))
	require.NoError(t, f.users.Insert(ctx, &models.User{ID: "c2", Email: "c2@example.com"}))
	f.svc = NewService(Deps{
		Store:    f.store,
		Bookings: f.bookings,
		Payer:    f.payer,
		Accounts: f.users,
		Ledger:   f.ledger,
		Events:   f.bus,
		Currency: "aud",
		Log:      zap.NewNop(),
	})
	f.svc.now = func() time.Time { return testNow }
	return f
}

func (f *fixture) complete(t *testing.T, caregiverID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, f.bookings.Insert(context.Background(), &models.Booking{
			ID:          fmt.Sprintf("%s-b%d", caregiverID, i),
			ParentID:    "p1",
			CaregiverID: caregiverID,
			Status:      models.BookingCompleted,
		}))
	}
}

func wwccClaim(amount float64) Claim {
	return Claim{
		VoucherType:       models.VoucherWWCC,
		ReceiptAmount:     amount,
		ReceiptImageURL:   "https://cdn.example.com/r/1.jpg",
		CertificationDate: "2025-02-01",
		ExpiryDate:        "2030-02-01",
		State:             "nsw",
	}
}

func TestPolicyRefund(t *testing.T) {
	cases := []struct {
		typ     models.VoucherType
		receipt int64
		want    int64
	}{
		{models.VoucherWWCC, 80_00, 24_00},
		{models.VoucherWWCC, 120_00, 35_00},
		{models.VoucherFirstAid, 150_00, 37_50},
		{models.VoucherFirstAid, 450_00, 50_00},
		{models.VoucherPoliceCheck, 50_00, 10_00},
		{models.VoucherPoliceCheck, 75_00, 15_00},
		{models.VoucherPoliceCheck, 10_03, 2_01},
	}
	for _, tc := range cases {
		p, ok := policyFor(tc.typ)
		require.True(t, ok)
		assert.Equal(t, tc.want, p.Refund(tc.receipt), "%s on %d", tc.typ, tc.receipt)
	}
}

func TestEligibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e, err := f.svc.Eligibility(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, Eligibility{IsEligible: false, CompletedBookings: 0, RequiredBookings: 2, RemainingBookings: 2}, e)

	require.NoError(t, f.bookings.Insert(ctx, &models.Booking{ID: "x", CaregiverID: "c1", Status: models.BookingConfirmed}))
	f.complete(t, "c1", 1)
	e, err = f.svc.Eligibility(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, e.IsEligible)
	assert.Equal(t, 1, e.RemainingBookings)

	f.complete(t, "c2", 3)
	e, err = f.svc.Eligibility(ctx, "c2")
	require.NoError(t, err)
	assert.True(t, e.IsEligible)
	assert.Equal(t, 0, e.RemainingBookings)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	f.complete(t, "c1", 2)

	cases := map[string]func(c *Claim){
		"unknown type":     func(c *Claim) { c.VoucherType = "cpr" },
		"receipt too low":  func(c *Claim) { c.ReceiptAmount = 9.99 },
		"receipt too high": func(c *Claim) { c.ReceiptAmount = 500.01 },
		"no receipt image": func(c *Claim) { c.ReceiptImageURL = " " },
		"no cert date":     func(c *Claim) { c.CertificationDate = "" },
		"future cert date": func(c *Claim) { c.CertificationDate = "2025-04-01" },
		"expiry before":    func(c *Claim) { c.ExpiryDate = "2025-01-01" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := wwccClaim(100)
			mutate(&c)
			_, err := f.svc.Submit(context.Background(), "c1", c)
			assert.ErrorIs(t, err, xerrors.ErrValidation)
		})
	}

	bounds := map[string]float64{"2025-01-02": 10, "2025-01-03": 500}
	for day, amount := range bounds {
		c := wwccClaim(amount)
		c.CertificationDate = day
		_, err := f.svc.Submit(context.Background(), "c1", c)
		assert.NoError(t, err, "receipt of $%v is within bounds", amount)
	}
}

func TestSubmitNeedsCompletedBookings(t *testing.T) {
	f := newFixture(t)
	f.complete(t, "c1", 1)

	_, err := f.svc.Submit(context.Background(), "c1", wwccClaim(100))
	require.ErrorIs(t, err, xerrors.ErrNotEligible)
	assert.Contains(t, err.Error(), "completed: 1")
	assert.Empty(t, f.bus.Events(mq.TopicNotify))
}

func TestSubmitCapsRefund(t *testing.T) {
	f := newFixture(t)
	f.complete(t, "c1", 2)
	ctx := context.Background()

	v, err := f.svc.Submit(ctx, "c1", wwccClaim(120))
	require.NoError(t, err)
	assert.Equal(t, models.VoucherPending, v.Status)
	assert.Equal(t, int64(120_00), v.ReceiptAmount)
	assert.Equal(t, int64(35_00), v.RefundAmount)
	assert.Equal(t, 30, v.RefundPercentage)
	assert.Equal(t, "NSW", v.State)
	assert.Equal(t, testNow, v.SubmittedAt)

	_, err = f.svc.Submit(ctx, "c1", wwccClaim(90))
	assert.ErrorIs(t, err, xerrors.ErrConflict, "same certification twice")

	evts := f.bus.Events(mq.TopicNotify)
	require.Len(t, evts, 1)
	assert.Equal(t, mq.VoucherSubmitted, evts[0].Name)
	assert.Equal(t, "c1", evts[0].Recipient)
	assert.Equal(t, "$35.00", evts[0].Data["refundAmount"])
	assert.Equal(t, "wwcc-certification", evts[0].Data["type"])

	mine, err := f.svc.ListByCaregiver(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, v.ID, mine[0].ID)
}

func TestDecideAndPay(t *testing.T) {
	f := newFixture(t)
	f.complete(t, "c1", 2)
	ctx := context.Background()

	v, err := f.svc.Submit(ctx, "c1", wwccClaim(100))
	require.NoError(t, err)

	_, err = f.svc.Pay(ctx, v.ID)
	assert.ErrorIs(t, err, xerrors.ErrNotEligible, "pending claims are not paid")

	v, err = f.svc.Decide(ctx, v.ID, true, "receipt checked")
	require.NoError(t, err)
	assert.Equal(t, models.VoucherApproved, v.Status)
	assert.Equal(t, "receipt checked", v.Notes)
	require.NotNil(t, v.ProcessedAt)

	_, err = f.svc.Decide(ctx, v.ID, false, "")
	assert.ErrorIs(t, err, xerrors.ErrConflict)

	paid, err := f.svc.Pay(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VoucherPaid, paid.Status)
	assert.Equal(t, "tr_voucher-"+v.ID, paid.TransferID)
	require.NotNil(t, paid.PaidAt)

	require.Len(t, f.payer.transfers, 1)
	tr := f.payer.transfers[0]
	assert.Equal(t, "acct_c1", tr.Destination)
	assert.Equal(t, int64(30_00), tr.Amount)
	assert.Equal(t, "voucher-"+v.ID, tr.IdempotencyKey)

	entries, err := f.ledger.ForBooking(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.LedgerVoucherRefund, entries[0].Kind)
	assert.Equal(t, int64(30_00), entries[0].Amount)

	_, err = f.svc.Pay(ctx, v.ID)
	assert.ErrorIs(t, err, xerrors.ErrNotEligible, "paid once")

	names := []string{}
	for _, e := range f.bus.Events(mq.TopicNotify) {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{mq.VoucherSubmitted, mq.VoucherDecided, mq.VoucherPaid}, names)
}

func TestPayFailures(t *testing.T) {
	f := newFixture(t)
	f.complete(t, "c2", 2)
	f.complete(t, "c1", 2)
	ctx := context.Background()

	v, err := f.svc.Submit(ctx, "c2", wwccClaim(100))
	require.NoError(t, err)
	_, err = f.svc.Decide(ctx, v.ID, true, "")
	require.NoError(t, err)
	_, err = f.svc.Pay(ctx, v.ID)
	assert.ErrorIs(t, err, xerrors.ErrNoPayout)

	w, err := f.svc.Submit(ctx, "c1", wwccClaim(100))
	require.NoError(t, err)
	_, err = f.svc.Decide(ctx, w.ID, true, "")
	require.NoError(t, err)
	f.payer.err = errors.New("stripe: insufficient platform balance")
	_, err = f.svc.Pay(ctx, w.ID)
	require.Error(t, err)

	got, err := f.store.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VoucherApproved, got.Status, "a failed transfer leaves the claim payable")

	f.payer.err = nil
	paid, err := f.svc.Pay(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VoucherPaid, paid.Status)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	f.complete(t, "c1", 2)
	ctx := context.Background()

	st, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, st)

	a, err := f.svc.Submit(ctx, "c1", wwccClaim(100))
	require.NoError(t, err)
	fa := wwccClaim(150)
	fa.VoucherType = models.VoucherFirstAid
	b, err := f.svc.Submit(ctx, "c1", fa)
	require.NoError(t, err)
	pc := wwccClaim(60)
	pc.VoucherType = models.VoucherPoliceCheck
	_, err = f.svc.Submit(ctx, "c1", pc)
	require.NoError(t, err)

	for _, id := range []string{a.ID, b.ID} {
		_, err = f.svc.Decide(ctx, id, true, "")
		require.NoError(t, err)
		_, err = f.svc.Pay(ctx, id)
		require.NoError(t, err)
	}

	st, err = f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{
		TotalClaims:   3,
		PendingClaims: 1,
		TotalRefunded: 30_00 + 37_50,
		AverageRefund: 33_75,
	}, st)
}

func TestTypes(t *testing.T) {
	ts := Types()
	require.Len(t, ts, 3)
	assert.Equal(t, models.VoucherWWCC, ts[0].Type)
	assert.Equal(t, "30%", ts[0].RefundRate)
	assert.Equal(t, int64(35_00), ts[0].MaxRefund)
	ts[0].MaxRefund = 0
	assert.Equal(t, int64(35_00), Types()[0].MaxRefund)
}

func TestHandlers(t *testing.T) {
	f := newFixture(t)
	f.complete(t, "c1", 2)
	h := NewHandlers(f.svc)

	call := func(fn httprouter.Handle, method, body string, ps httprouter.Params) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/", strings.NewReader(body))
		req = req.WithContext(context.WithValue(req.Context(), globals.UserIDKey, "c1"))
		rec := httptest.NewRecorder()
		fn(rec, req, ps)
		return rec
	}

	rec := call(h.Eligibility, http.MethodGet, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"isEligible":true`)

	rec = call(h.Submit, http.MethodPost, `{"voucherType":"police-check","receiptAmount":5,"receiptImageUrl":"x","certificationDate":"2025-02-01"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(h.Submit, http.MethodPost, `{"voucherType":"police-check","receiptAmount":60,"receiptImageUrl":"x","certificationDate":"2025-02-01"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"refundAmount":1200`)

	vs, err := f.store.ListByCaregiver(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, vs, 1)
	id := httprouter.Params{{Key: "id", Value: vs[0].ID}}

	rec = call(h.Decide, http.MethodPost, `{"notes":"x"}`, id)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(h.Decide, http.MethodPost, `{"approved":true}`, id)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = call(h.Pay, http.MethodPost, "", id)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"paymentId":"tr_voucher-`+vs[0].ID+`"`)

	rec = call(h.AdminList, http.MethodGet, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"totalRefunded":1200`)

	rec = call(h.Pay, http.MethodPost, "", httprouter.Params{{Key: "id", Value: "nope"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
