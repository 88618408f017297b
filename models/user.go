package models

import (
	"slices"
	"time"
)

const (
	RoleParent    = "parent"
	RoleCaregiver = "caregiver"
	RoleAdmin     = "admin"
)

type User struct {
	ID              string    `json:"id" bson:"id"`
	Email           string    `json:"email" bson:"email"`
	PasswordHash    string    `json:"-" bson:"passwordHash"`
	FirstName       string    `json:"firstName" bson:"firstName"`
	LastName        string    `json:"lastName" bson:"lastName"`
	Phone           string    `json:"phone,omitempty" bson:"phone,omitempty"`
	PhoneVerified   bool      `json:"phoneVerified" bson:"phoneVerified"`
	Roles           []string  `json:"roles" bson:"roles"`
	PayoutAccountID string    `json:"payoutAccountId,omitempty" bson:"payoutAccountId,omitempty"`
	PayoutsEnabled  bool      `json:"payoutsEnabled" bson:"payoutsEnabled"`
	Photos          []Photo   `json:"photos,omitempty" bson:"photos,omitempty"`
	CreatedAt       time.Time `json:"createdAt" bson:"createdAt"`

	RefreshTokenHash string     `json:"-" bson:"refreshToken,omitempty"`
	RefreshExpiry    *time.Time `json:"-" bson:"refreshExpiry,omitempty"`
	LastLogin        *time.Time `json:"lastLogin,omitempty" bson:"lastLogin,omitempty"`
}

type Photo struct {
	URL      string    `json:"url" bson:"url"`
	ThumbURL string    `json:"thumbUrl" bson:"thumbUrl"`
	Width    int       `json:"width" bson:"width"`
	Height   int       `json:"height" bson:"height"`
	AddedAt  time.Time `json:"addedAt" bson:"addedAt"`
}

func (u *User) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID    string
	Roles []string
}

func (a Actor) Has(role string) bool { return slices.Contains(a.Roles, role) }

func (a Actor) IsAdmin() bool { return a.Has(RoleAdmin) }
