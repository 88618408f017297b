package models

import "time"

// BlockedPlaceholder replaces the content of a blocked message for everyone
// but its sender.
const BlockedPlaceholder = "Message blocked - contains external contact info"

type Message struct {
	ID              string    `json:"id" bson:"id"`
	ConversationKey string    `json:"conversationKey" bson:"conversationKey"`
	SenderID        string    `json:"senderId" bson:"senderId"`
	ReceiverID      string    `json:"receiverId,omitempty" bson:"receiverId,omitempty"`
	Content         string    `json:"content" bson:"content"`
	Blocked         bool      `json:"blocked" bson:"blocked"`
	CreatedAt       time.Time `json:"createdAt" bson:"createdAt"`
}

// ViewFor returns the message as viewerID is allowed to see it.
func (m Message) ViewFor(viewerID string) Message {
	if m.Blocked && viewerID != m.SenderID {
		m.Content = BlockedPlaceholder
	}
	return m
}
