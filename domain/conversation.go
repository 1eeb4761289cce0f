// Package domain contains core concepts of the conversation system.
// This file defines Conversation entities and the last-message projection rules.
// No runtime, network, or storage logic should be added here.
package domain

import (
	"time"

	"github.com/google/uuid"
)

type ConversationID string

type UserID string

func NewConversationID() ConversationID {
	return ConversationID(uuid.NewString())
}

// Conversation is a thread between exactly one customer and one provider.
// LastMessage and LastMessageAt are a cache of the message log and may lag behind it.
type Conversation struct {
	ID               ConversationID
	CustomerID       UserID
	ProviderID       UserID
	ServiceRequestID *string
	LastMessage      *string
	LastMessageAt    time.Time
	CreatedAt        time.Time
	CustomerProfile  Profile
	ProviderProfile  Profile
}

// HasParticipant reports whether userID owns the conversation.
func (c Conversation) HasParticipant(userID UserID) bool {
	return userID != "" && (c.CustomerID == userID || c.ProviderID == userID)
}

// Participants returns the customer first, then the provider.
func (c Conversation) Participants() []UserID {
	return []UserID{c.CustomerID, c.ProviderID}
}

// Counterpart returns the other participant.
func (c Conversation) Counterpart(userID UserID) UserID {
	if c.CustomerID == userID {
		return c.ProviderID
	}
	return c.CustomerID
}

// ApplyLastMessage moves the projection forward.
// The update carrying the latest server assigned timestamp wins, older ones are ignored.
func (c *Conversation) ApplyLastMessage(content string, at time.Time) bool {
	if c.LastMessage != nil && !at.After(c.LastMessageAt) {
		return false
	}
	c.LastMessage = &content
	c.LastMessageAt = at
	return true
}

// IsConsistentWith tells whether the projection reflects last, the newest stored message.
func (c Conversation) IsConsistentWith(last *Message) bool {
	if last == nil {
		return c.LastMessage == nil
	}
	return c.LastMessage != nil &&
		*c.LastMessage == last.Content &&
		c.LastMessageAt.Equal(last.CreatedAt)
}
