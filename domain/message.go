// Package domain contains core concepts of the conversation system.
// This file defines Message entries and related rules.
// Messages are immutable except for ReadAt.
package domain

import (
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeFile  MessageType = "file"
)

func (t MessageType) IsValid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile:
		return true
	}
	return false
}

// Message is a single entry of a conversation's append-only log.
// CreatedAt is assigned by the store, never by the sender.
type Message struct {
	ID             uuid.UUID
	ConversationID ConversationID
	SenderID       UserID
	Content        string
	Type           MessageType
	ReadAt         *time.Time
	CreatedAt      time.Time
	// CorrelationID echoes the optimistic entry of the sender, empty when none was given.
	CorrelationID string
}

// LastOf returns the newest message of an ordered log, nil when empty.
func LastOf(messages []Message) *Message {
	if len(messages) == 0 {
		return nil
	}
	last := messages[len(messages)-1]
	return &last
}
