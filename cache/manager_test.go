package cache

import (
	"context"
	"log/slog"
	"testing"

	"convo-lab/domain"

	"github.com/stretchr/testify/require"
)

func TestManager_Invalidation_Is_Scoped_To_Its_Key(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	m := NewManager(slog.Default())
	listAlice := func(context.Context) ([]domain.Conversation, error) {
		return []domain.Conversation{{ID: "c1"}}, nil
	}
	listCarol := func(context.Context) ([]domain.Conversation, error) {
		return []domain.Conversation{{ID: "c2"}}, nil
	}
	messages := func(context.Context) ([]domain.Message, error) { return nil, nil }

	_, err := m.Conversations(ctx, "alice", listAlice)
	req.NoError(err)
	_, err = m.Conversations(ctx, "carol", listCarol)
	req.NoError(err)
	_, err = m.Messages(ctx, "c1", messages)
	req.NoError(err)

	// When alice's list is invalidated
	m.InvalidateConversations("alice")

	// Then only alice refetches
	_, err = m.Conversations(ctx, "alice", listAlice)
	req.NoError(err)
	_, err = m.Conversations(ctx, "carol", listCarol)
	req.NoError(err)
	_, err = m.Messages(ctx, "c1", messages)
	req.NoError(err)

	req.Equal(2, m.ConversationStats("alice").Fetches)
	req.Equal(1, m.ConversationStats("carol").Fetches)
	req.Equal(1, m.MessageStats("c1").Fetches)

	m.InvalidateMessages("c1")
	_, err = m.Messages(ctx, "c1", messages)
	req.NoError(err)
	req.Equal(2, m.MessageStats("c1").Fetches)

	m.Purge()
	req.Equal(0, m.MessageStats("c1").Fetches)
}
