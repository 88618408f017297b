package models

import "time"

type VerificationType string

const (
	VerificationWWCC            VerificationType = "wwcc"
	VerificationBackgroundCheck VerificationType = "background_check"
)

// MandatoryVerifications must all be approved and unexpired before a
// caregiver can list a public profile.
var MandatoryVerifications = []VerificationType{VerificationWWCC, VerificationBackgroundCheck}

func (t VerificationType) Valid() bool {
	return t == VerificationWWCC || t == VerificationBackgroundCheck
}

type VerificationState string

const (
	VerificationPending  VerificationState = "pending"
	VerificationInReview VerificationState = "in_review"
	VerificationApproved VerificationState = "approved"
	VerificationRejected VerificationState = "rejected"
)

// Decided states are never left again.
func (s VerificationState) Decided() bool {
	return s == VerificationApproved || s == VerificationRejected
}

type VerificationRecord struct {
	ID           string            `json:"id" bson:"id"`
	SubjectID    string            `json:"subjectId" bson:"subjectId"`
	Type         VerificationType  `json:"type" bson:"type"`
	State        VerificationState `json:"state" bson:"state"`
	ExpiryDate   time.Time         `json:"expiryDate" bson:"expiryDate"`
	Jurisdiction string            `json:"jurisdiction,omitempty" bson:"jurisdiction,omitempty"`
	Number       string            `json:"number,omitempty" bson:"number,omitempty"`
	FirstName    string            `json:"firstName" bson:"firstName"`
	LastName     string            `json:"lastName" bson:"lastName"`
	DateOfBirth  string            `json:"dateOfBirth,omitempty" bson:"dateOfBirth,omitempty"`
	Address      string            `json:"address,omitempty" bson:"address,omitempty"`
	CheckTypes   []string          `json:"checkTypes,omitempty" bson:"checkTypes,omitempty"`
	Provider     string            `json:"provider,omitempty" bson:"provider,omitempty"`
	Reference    string            `json:"reference,omitempty" bson:"reference,omitempty"`
	Reason       string            `json:"reason,omitempty" bson:"reason,omitempty"`
	CreatedAt    time.Time         `json:"createdAt" bson:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt" bson:"updatedAt"`
	DecidedAt    *time.Time        `json:"decidedAt,omitempty" bson:"decidedAt,omitempty"`
	// ExpiryWarnedAt is set once the subject has been told the record is
	// about to lapse.
	ExpiryWarnedAt *time.Time `json:"expiryWarnedAt,omitempty" bson:"expiryWarnedAt,omitempty"`
}

// Active reports whether the record currently grants the verified capability.
func (r *VerificationRecord) Active(now time.Time) bool {
	return r.State == VerificationApproved && now.Before(r.ExpiryDate)
}
