package models

import (
	"time"
)

// Meta is a generic key-value map for ledger metadata
type Meta map[string]interface{}

type LedgerKind string

const (
	LedgerCaregiverPayout LedgerKind = "caregiver_payout"
	LedgerPlatformFee     LedgerKind = "platform_fee"
	LedgerParentRefund    LedgerKind = "parent_refund"
	LedgerVoucherRefund   LedgerKind = "voucher_refund"
)

// LedgerEntry records where a booking's captured money went. Voucher
// refunds carry the voucher id in BookingID.
type LedgerEntry struct {
	ID          string     `bson:"_id,omitempty" json:"id"`
	BookingID   string     `bson:"booking_id" json:"bookingId"`
	Kind        LedgerKind `bson:"kind" json:"kind"`
	Account     string     `bson:"account" json:"account"`
	Amount      int64      `bson:"amount" json:"amount"`
	Currency    string     `bson:"currency" json:"currency"`
	ExternalRef string     `bson:"external_ref,omitempty" json:"externalRef,omitempty"`
	CreatedAt   time.Time  `bson:"created_at" json:"createdAt"`
	Meta        Meta       `bson:"meta,omitempty" json:"meta,omitempty"`
}

// IdempotencyRecord represents an idempotency key record stored in Mongo.
type IdempotencyRecord struct {
	Key         string                 `bson:"key" json:"key"`
	Method      string                 `bson:"method" json:"method"`
	Path        string                 `bson:"path" json:"path"`
	UserID      string                 `bson:"userid" json:"userid"`
	RequestHash string                 `bson:"request_hash" json:"request_hash"`
	Response    map[string]interface{} `bson:"response,omitempty" json:"response,omitempty"`
	CreatedAt   time.Time              `bson:"created_at" json:"created_at"`
	ExpiresAt   time.Time              `bson:"expires_at" json:"expires_at"`
}
