package models

import "time"

type VoucherType string

const (
	VoucherWWCC        VoucherType = "wwcc-certification"
	VoucherFirstAid    VoucherType = "first-aid"
	VoucherPoliceCheck VoucherType = "police-check"
)

type VoucherStatus string

const (
	VoucherPending  VoucherStatus = "pending"
	VoucherApproved VoucherStatus = "approved"
	VoucherPaid     VoucherStatus = "paid"
	VoucherRejected VoucherStatus = "rejected"
)

// Voucher is a caregiver's claim for part of a certification fee back.
// Amounts are in cents.
type Voucher struct {
	ID                string        `json:"id" bson:"id"`
	CaregiverID       string        `json:"caregiverId" bson:"caregiverId"`
	Type              VoucherType   `json:"voucherType" bson:"type"`
	ReceiptAmount     int64         `json:"originalAmount" bson:"receiptAmount"`
	RefundAmount      int64         `json:"refundAmount" bson:"refundAmount"`
	RefundPercentage  int           `json:"refundPercentage" bson:"refundPercentage"`
	Currency          string        `json:"currency" bson:"currency"`
	Status            VoucherStatus `json:"status" bson:"status"`
	ReceiptImageURL   string        `json:"receiptImageUrl" bson:"receiptImageUrl"`
	CertificationDate string        `json:"certificationDate" bson:"certificationDate"`
	ExpiryDate        string        `json:"expiryDate,omitempty" bson:"expiryDate,omitempty"`
	State             string        `json:"state,omitempty" bson:"state,omitempty"`
	Notes             string        `json:"notes,omitempty" bson:"notes,omitempty"`
	TransferID        string        `json:"transferId,omitempty" bson:"transferId,omitempty"`
	SubmittedAt       time.Time     `json:"submissionDate" bson:"submittedAt"`
	ProcessedAt       *time.Time    `json:"processedDate,omitempty" bson:"processedAt,omitempty"`
	PaidAt            *time.Time    `json:"paymentDate,omitempty" bson:"paidAt,omitempty"`
}
