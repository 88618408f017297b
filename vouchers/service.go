// Package vouchers refunds caregivers part of what they paid for their
// certifications once they have worked on the platform.
package vouchers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"nannynest/booking"
	"nannynest/metrics"
	"nannynest/models"
	"nannynest/mq"
	"nannynest/pricing"
	"nannynest/stripe"
	"nannynest/utils"
	"nannynest/xerrors"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// RequiredBookings is how many completed bookings unlock claims.
	RequiredBookings = 2

	MinReceipt int64 = 10_00
	MaxReceipt int64 = 500_00
)

// Policy is the refund offered for one certification.
type Policy struct {
	Type        models.VoucherType `json:"type"`
	Description string             `json:"description"`
	Rate        decimal.Decimal    `json:"-"`
	RefundRate  string             `json:"refundRate"`
	MaxRefund   int64              `json:"maxRefund"`
}

var policies = []Policy{
	{Type: models.VoucherWWCC, Description: "Working with Children Check", Rate: decimal.RequireFromString("0.30"), RefundRate: "30%", MaxRefund: 35_00},
	{Type: models.VoucherFirstAid, Description: "First Aid Certification", Rate: decimal.RequireFromString("0.25"), RefundRate: "25%", MaxRefund: 50_00},
	{Type: models.VoucherPoliceCheck, Description: "National Police Check", Rate: decimal.RequireFromString("0.20"), RefundRate: "20%", MaxRefund: 15_00},
}

// Types lists the certifications a claim can be made for.
func Types() []Policy {
	return append([]Policy(nil), policies...)
}

func policyFor(t models.VoucherType) (Policy, bool) {
	for _, p := range policies {
		if p.Type == t {
			return p, true
		}
	}
	return Policy{}, false
}

// Refund is the rate applied to receipt, rounded to the cent and capped.
func (p Policy) Refund(receipt int64) int64 {
	r := decimal.NewFromInt(receipt).Mul(p.Rate).Round(0).IntPart()
	return min(r, p.MaxRefund)
}

type Bookings interface {
	List(ctx context.Context, f booking.Filter) ([]models.Booking, error)
}

type Payer interface {
	Transfer(ctx context.Context, req stripe.TransferRequest) (*stripe.Payout, error)
}

type Accounts interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

type Ledger interface {
	Record(ctx context.Context, entries ...models.LedgerEntry) error
}

type Deps struct {
	Store    Store
	Bookings Bookings
	Payer    Payer
	Accounts Accounts
	Ledger   Ledger
	Events   mq.Publisher
	Currency string
	Log      *zap.Logger
}

type Service struct {
	store    Store
	bookings Bookings
	payer    Payer
	accounts Accounts
	ledger   Ledger
	events   mq.Publisher
	currency string
	log      *zap.Logger
	now      func() time.Time
}

func NewService(d Deps) *Service {
	return &Service{
		store:    d.Store,
		bookings: d.Bookings,
		payer:    d.Payer,
		accounts: d.Accounts,
		ledger:   d.Ledger,
		events:   d.Events,
		currency: d.Currency,
		log:      d.Log.Named("vouchers"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type Eligibility struct {
	IsEligible        bool `json:"isEligible"`
	CompletedBookings int  `json:"completedBookings"`
	RequiredBookings  int  `json:"requiredBookings"`
	RemainingBookings int  `json:"remainingBookings"`
}

func (s *Service) Eligibility(ctx context.Context, caregiverID string) (Eligibility, error) {
	done, err := s.bookings.List(ctx, booking.Filter{CaregiverID: caregiverID, Status: models.BookingCompleted})
	if err != nil {
		return Eligibility{}, fmt.Errorf("count completed bookings: %w", err)
	}
	n := len(done)
	return Eligibility{
		IsEligible:        n >= RequiredBookings,
		CompletedBookings: n,
		RequiredBookings:  RequiredBookings,
		RemainingBookings: max(0, RequiredBookings-n),
	}, nil
}

// Claim is the submit payload. ReceiptAmount is in dollars.
type Claim struct {
	VoucherType       models.VoucherType `json:"voucherType"`
	ReceiptAmount     float64            `json:"receiptAmount"`
	ReceiptImageURL   string             `json:"receiptImageUrl"`
	CertificationDate string             `json:"certificationDate"`
	ExpiryDate        string             `json:"expiryDate"`
	State             string             `json:"state"`
}

// Submit files a pending claim. A certification can be claimed once.
func (s *Service) Submit(ctx context.Context, caregiverID string, c Claim) (*models.Voucher, error) {
	p, ok := policyFor(c.VoucherType)
	if !ok {
		return nil, xerrors.Invalid("voucherType", "must be wwcc-certification, first-aid or police-check")
	}
	receipt := pricing.CentsFromDollars(c.ReceiptAmount)
	if receipt < MinReceipt || receipt > MaxReceipt {
		return nil, xerrors.Invalid("receiptAmount", "must be between $10 and $500")
	}
	if strings.TrimSpace(c.ReceiptImageURL) == "" {
		return nil, xerrors.Invalid("receiptImageUrl", "is required")
	}
	certified, err := pricing.ParseDate("certificationDate", c.CertificationDate)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if certified.After(now) {
		return nil, xerrors.Invalid("certificationDate", "cannot be in the future")
	}
	var expiry string
	if c.ExpiryDate != "" {
		exp, err := pricing.ParseDate("expiryDate", c.ExpiryDate)
		if err != nil {
			return nil, err
		}
		if !exp.After(certified) {
			return nil, xerrors.Invalid("expiryDate", "must be after certificationDate")
		}
		expiry = exp.Format("2006-01-02")
	}

	elig, err := s.Eligibility(ctx, caregiverID)
	if err != nil {
		return nil, err
	}
	if !elig.IsEligible {
		return nil, xerrors.NotEligible(fmt.Sprintf(
			"complete at least %d bookings before claiming certification refunds (completed: %d)",
			RequiredBookings, elig.CompletedBookings))
	}

	certDay := certified.Format("2006-01-02")
	existing, err := s.store.ListByCaregiver(ctx, caregiverID)
	if err != nil {
		return nil, err
	}
	for _, v := range existing {
		if v.Type == p.Type && v.CertificationDate == certDay && v.Status != models.VoucherRejected {
			return nil, xerrors.Conflict("this certification has already been claimed")
		}
	}

	refund := p.Refund(receipt)
	v := &models.Voucher{
		ID:                ulid.Make().String(),
		CaregiverID:       caregiverID,
		Type:              p.Type,
		ReceiptAmount:     receipt,
		RefundAmount:      refund,
		RefundPercentage:  int(p.Rate.Shift(2).IntPart()),
		Currency:          s.currency,
		Status:            models.VoucherPending,
		ReceiptImageURL:   strings.TrimSpace(c.ReceiptImageURL),
		CertificationDate: certDay,
		ExpiryDate:        expiry,
		State:             strings.ToUpper(strings.TrimSpace(c.State)),
		Notes:             string(p.Type) + " certification voucher claim",
		SubmittedAt:       now,
	}
	if err := s.store.Insert(ctx, v); err != nil {
		return nil, fmt.Errorf("insert voucher: %w", err)
	}

	metrics.VouchersClaimed.WithLabelValues(string(p.Type)).Inc()
	s.log.Info("voucher submitted",
		zap.String("voucher_id", v.ID),
		zap.String("caregiver_id", caregiverID),
		zap.String("type", string(p.Type)),
		zap.Int64("refund", refund))
	s.emit(ctx, mq.VoucherSubmitted, v)
	return v, nil
}

func (s *Service) ListByCaregiver(ctx context.Context, caregiverID string) ([]models.Voucher, error) {
	return s.store.ListByCaregiver(ctx, caregiverID)
}

func (s *Service) List(ctx context.Context, status models.VoucherStatus) ([]models.Voucher, error) {
	return s.store.List(ctx, status)
}

// Decide approves or rejects a pending claim. Admin notes replace the
// claim's default note.
func (s *Service) Decide(ctx context.Context, id string, approved bool, notes string) (*models.Voucher, error) {
	to := models.VoucherRejected
	if approved {
		to = models.VoucherApproved
	}
	v, err := s.store.Transition(ctx, id, models.VoucherPending, Change{
		Status: to,
		Notes:  strings.TrimSpace(notes),
		At:     s.now(),
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("voucher decided", zap.String("voucher_id", id), zap.String("status", string(to)))
	s.emit(ctx, mq.VoucherDecided, v)
	return v, nil
}

// Pay transfers an approved refund to the caregiver's payout account.
// Retrying a voucher reuses its transfer.
func (s *Service) Pay(ctx context.Context, id string) (*models.Voucher, error) {
	v, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if v.Status != models.VoucherApproved {
		return nil, xerrors.NotEligible("voucher is " + string(v.Status) + ", not approved")
	}
	caregiver, err := s.accounts.GetByID(ctx, v.CaregiverID)
	if err != nil {
		return nil, fmt.Errorf("load caregiver: %w", err)
	}
	if caregiver.PayoutAccountID == "" {
		return nil, xerrors.ErrNoPayout
	}

	payout, err := s.payer.Transfer(ctx, stripe.TransferRequest{
		BookingID:      "voucher-" + v.ID,
		Destination:    caregiver.PayoutAccountID,
		Amount:         v.RefundAmount,
		Currency:       v.Currency,
		IdempotencyKey: "voucher-" + v.ID,
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	err = s.ledger.Record(ctx, models.LedgerEntry{
		ID:          utils.GetUUID(),
		BookingID:   v.ID,
		Kind:        models.LedgerVoucherRefund,
		Account:     caregiver.PayoutAccountID,
		Amount:      v.RefundAmount,
		Currency:    v.Currency,
		ExternalRef: payout.TransferID,
		CreatedAt:   now,
		Meta:        models.Meta{"voucherType": string(v.Type)},
	})
	if err != nil {
		return nil, err
	}

	paid, err := s.store.Transition(ctx, v.ID, models.VoucherApproved, Change{
		Status:     models.VoucherPaid,
		TransferID: payout.TransferID,
		At:         now,
	})
	if errors.Is(err, xerrors.ErrConflict) {
		// a concurrent Pay got the same transfer back and won the update
		return s.store.Get(ctx, v.ID)
	}
	if err != nil {
		return nil, err
	}

	s.log.Info("voucher paid",
		zap.String("voucher_id", v.ID),
		zap.String("transfer_id", payout.TransferID),
		zap.Int64("amount", v.RefundAmount))
	s.emit(ctx, mq.VoucherPaid, paid)
	return paid, nil
}

type Stats struct {
	TotalClaims   int   `json:"totalClaims"`
	PendingClaims int   `json:"pendingClaims"`
	TotalRefunded int64 `json:"totalRefunded"`
	AverageRefund int64 `json:"averageRefund"`
}

// Stats sums paid refunds. AverageRefund is over paid claims.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	all, err := s.store.List(ctx, "")
	if err != nil {
		return Stats{}, err
	}
	st := Stats{TotalClaims: len(all)}
	paid := 0
	for _, v := range all {
		switch v.Status {
		case models.VoucherPending:
			st.PendingClaims++
		case models.VoucherPaid:
			paid++
			st.TotalRefunded += v.RefundAmount
		}
	}
	if paid > 0 {
		st.AverageRefund = decimal.NewFromInt(st.TotalRefunded).Div(decimal.NewFromInt(int64(paid))).Round(0).IntPart()
	}
	return st, nil
}

func (s *Service) emit(ctx context.Context, name string, v *models.Voucher) {
	if s.events == nil {
		return
	}
	err := s.events.Publish(ctx, mq.TopicNotify, mq.Event{
		Name:      name,
		Recipient: v.CaregiverID,
		RecordID:  v.ID,
		Data: map[string]string{
			"type":         string(v.Type),
			"status":       string(v.Status),
			"refundAmount": pricing.Format(v.RefundAmount),
		},
		OccurredAt: s.now(),
	})
	if err != nil {
		s.log.Warn("notify publish failed", zap.String("event", name), zap.Error(err))
	}
}
