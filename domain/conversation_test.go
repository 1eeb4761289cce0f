package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestConversation_ApplyLastMessage_LatestTimestampWins(t *testing.T) {
	req := require.New(t)
	at := time.Now().UTC()
	conversation := Conversation{ID: NewConversationID(), CustomerID: "alice", ProviderID: "bob"}

	// Given the newest update lands first
	req.True(conversation.ApplyLastMessage("Yes, 2pm works", at.Add(time.Second)))

	// When an older update arrives late
	applied := conversation.ApplyLastMessage("Are you free Friday?", at)

	// Then it is ignored
	req.False(applied)
	req.Equal("Yes, 2pm works", *conversation.LastMessage)
	req.Equal(at.Add(time.Second), conversation.LastMessageAt)
}

func TestConversation_ApplyLastMessage_EmptyProjection(t *testing.T) {
	req := require.New(t)
	conversation := Conversation{CreatedAt: time.Now().UTC()}

	// A zero timestamp still initializes an empty projection
	req.True(conversation.ApplyLastMessage("first", time.Time{}))
	req.Equal("first", *conversation.LastMessage)
}

func TestConversation_HasParticipant(t *testing.T) {
	req := require.New(t)
	conversation := Conversation{CustomerID: "alice", ProviderID: "bob"}

	req.True(conversation.HasParticipant("alice"))
	req.True(conversation.HasParticipant("bob"))
	req.False(conversation.HasParticipant("mallory"))
	req.False(conversation.HasParticipant(""))
	req.Equal(UserID("bob"), conversation.Counterpart("alice"))
	req.Equal(UserID("alice"), conversation.Counterpart("bob"))
}

func TestConversation_IsConsistentWith(t *testing.T) {
	req := require.New(t)
	at := time.Now().UTC()
	conversation := Conversation{CustomerID: "alice", ProviderID: "bob"}
	req.True(conversation.IsConsistentWith(nil))

	last := Message{ID: uuid.New(), Content: "hello", CreatedAt: at}
	req.False(conversation.IsConsistentWith(&last))

	conversation.ApplyLastMessage("hello", at)
	req.True(conversation.IsConsistentWith(&last))
	req.Equal(&last, LastOf([]Message{{Content: "older"}, last}))
	req.Nil(LastOf(nil))
}
