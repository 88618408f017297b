package models

import "time"

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
)

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingPending, BookingConfirmed, BookingCompleted, BookingCancelled:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentUnpaid         PaymentStatus = "unpaid"
	PaymentInitiated      PaymentStatus = "payment_initiated"
	PaymentPaidUnreleased PaymentStatus = "paid_unreleased"
	PaymentReleased       PaymentStatus = "released"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentUnpaid, PaymentInitiated, PaymentPaidUnreleased, PaymentReleased:
		return true
	}
	return false
}

// Paid reports whether funds have been captured from the parent.
func (s PaymentStatus) Paid() bool {
	return s == PaymentPaidUnreleased || s == PaymentReleased
}

// Booking amounts are integer cents in Currency.
type Booking struct {
	ID          string    `json:"id" bson:"id"`
	ParentID    string    `json:"parentId" bson:"parentId"`
	CaregiverID string    `json:"caregiverId" bson:"caregiverId"`
	JobID       string    `json:"jobId,omitempty" bson:"jobId,omitempty"`
	StartDate   time.Time `json:"startDate" bson:"startDate"`
	EndDate     time.Time `json:"endDate" bson:"endDate"`
	Days        int       `json:"days" bson:"days"`
	HoursPerDay int       `json:"hoursPerDay" bson:"hoursPerDay"`
	RatePerHour int64     `json:"ratePerHour" bson:"ratePerHour"`
	Notes       string    `json:"notes,omitempty" bson:"notes,omitempty"`

	Status        BookingStatus `json:"status" bson:"status"`
	PaymentStatus PaymentStatus `json:"paymentStatus" bson:"paymentStatus"`

	Subtotal   int64  `json:"subtotal" bson:"subtotal"`
	ServiceFee int64  `json:"serviceFee" bson:"serviceFee"`
	Total      int64  `json:"total" bson:"total"`
	FeeRate    string `json:"feeRate" bson:"feeRate"`
	Currency   string `json:"currency" bson:"currency"`

	PaymentIntentID string `json:"paymentIntentId,omitempty" bson:"paymentIntentId,omitempty"`
	ChargeID        string `json:"chargeId,omitempty" bson:"chargeId,omitempty"`
	TransferID      string `json:"transferId,omitempty" bson:"transferId,omitempty"`

	CreatedAt   time.Time  `json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt" bson:"updatedAt"`
	ConfirmedAt *time.Time `json:"confirmedAt,omitempty" bson:"confirmedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty" bson:"completedAt,omitempty"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty" bson:"cancelledAt,omitempty"`
	PaidAt      *time.Time `json:"paidAt,omitempty" bson:"paidAt,omitempty"`
	ReleasedAt  *time.Time `json:"releasedAt,omitempty" bson:"releasedAt,omitempty"`

	Version int64 `json:"version" bson:"version"`
}

// CaregiverAmount is what the caregiver receives on release; the
// service fee stays with the platform.
func (b *Booking) CaregiverAmount() int64 { return b.Subtotal }

// Terminal bookings accept no further transitions.
func (b *Booking) Terminal() bool {
	return b.Status == BookingCancelled || b.PaymentStatus == PaymentReleased
}

// IsParticipant reports whether userID is the parent or the caregiver.
func (b *Booking) IsParticipant(userID string) bool {
	return userID != "" && (userID == b.ParentID || userID == b.CaregiverID)
}

// ReleasableAt is the earliest instant funds may go to the caregiver.
// The zero time means the booking has not completed yet.
func (b *Booking) ReleasableAt(hold time.Duration) time.Time {
	if b.CompletedAt == nil {
		return time.Time{}
	}
	return b.CompletedAt.Add(hold)
}
