package models

import (
	"slices"
	"time"
)

type ShareStatus string

const (
	ShareOpen   ShareStatus = "open"
	ShareFull   ShareStatus = "full"
	ShareActive ShareStatus = "active"
)

type NannyShare struct {
	ID           string      `json:"id" bson:"id"`
	CreatorID    string      `json:"creatorId" bson:"creatorId"`
	Title        string      `json:"title" bson:"title"`
	Location     string      `json:"location" bson:"location"`
	Suburb       string      `json:"suburb" bson:"suburb"`
	RatePerHour  int64       `json:"ratePerHour" bson:"ratePerHour"`
	Schedule     string      `json:"schedule,omitempty" bson:"schedule,omitempty"`
	StartDate    time.Time   `json:"startDate" bson:"startDate"`
	EndDate      *time.Time  `json:"endDate,omitempty" bson:"endDate,omitempty"`
	Requirements string      `json:"requirements,omitempty" bson:"requirements,omitempty"`
	MaxFamilies  int         `json:"maxFamilies" bson:"maxFamilies"`
	Participants []string    `json:"participants" bson:"participants"`
	NannyID      string      `json:"nannyId,omitempty" bson:"nannyId,omitempty"`
	Status       ShareStatus `json:"status" bson:"status"`
	CreatedAt    time.Time   `json:"createdAt" bson:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt" bson:"updatedAt"`
	Version      int64       `json:"version" bson:"version"`
}

func (s *NannyShare) HasParticipant(userID string) bool {
	return slices.Contains(s.Participants, userID)
}

// IsMember covers participating families and the assigned nanny.
func (s *NannyShare) IsMember(userID string) bool {
	return userID != "" && (s.HasParticipant(userID) || s.NannyID == userID)
}

// Members lists participants followed by the nanny, if any.
func (s *NannyShare) Members() []string {
	out := slices.Clone(s.Participants)
	if s.NannyID != "" && !slices.Contains(out, s.NannyID) {
		out = append(out, s.NannyID)
	}
	return out
}

// SyncStatus keeps open/full in step with the participant count. Active
// shares keep their status.
func (s *NannyShare) SyncStatus() {
	if s.Status == ShareActive {
		return
	}
	if len(s.Participants) >= s.MaxFamilies {
		s.Status = ShareFull
	} else {
		s.Status = ShareOpen
	}
}
