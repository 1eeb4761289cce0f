package runtime

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"convo-lab/domain"
	"convo-lab/errors"
	"convo-lab/infrastructure/bus"
	"convo-lab/mocks"
	"convo-lab/projection"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestSession_Send_Commits_Pending_Entry(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	api := mocks.NewMockIChatAPI(ctrl)
	memory := bus.NewMemory(slog.Default(), 8)
	session := NewSession(ctx, slog.Default(), "bob", api, memory, 0)
	defer session.Close()

	now := time.Now()
	m1 := domain.Message{ID: uuid.New(), ConversationID: "c1", SenderID: "alice", Content: "Are you free Friday?", CreatedAt: now}
	m2 := domain.Message{ID: uuid.New(), ConversationID: "c1", SenderID: "bob", Content: "Yes, 2pm works", CreatedAt: now.Add(time.Second)}

	gomock.InOrder(
		api.EXPECT().ListMessages(gomock.Any(), domain.ConversationID("c1")).Return([]domain.Message{m1}, nil),
		api.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, cmd domain.SendMessageCommand) (domain.Message, error) {
			req.Equal(domain.ConversationID("c1"), cmd.ConversationID)
			req.Equal(domain.UserID("bob"), cmd.SenderID)
			req.Equal("Yes, 2pm works", cmd.Content)
			req.Equal(domain.MessageTypeText, cmd.Type)
			req.NotEmpty(cmd.CorrelationID)
			return m2, nil
		}),
		api.EXPECT().ListMessages(gomock.Any(), domain.ConversationID("c1")).Return([]domain.Message{m1, m2}, nil),
	)

	release, err := session.OpenConversation(ctx, "c1")
	req.NoError(err)
	defer release()

	entries, err := session.Messages(ctx, "c1")
	req.NoError(err)
	req.Len(entries, 1)

	// When bob answers
	result := session.Send(ctx, "c1", "Yes, 2pm works")

	// Then the message is committed and shown once after the refetch
	req.False(result.Failed())
	req.Equal(m2.ID, result.Message.ID)
	entries, err = session.Messages(ctx, "c1")
	req.NoError(err)
	req.Len(entries, 2)
	req.Equal("Are you free Friday?", entries[0].Content)
	req.Equal("Yes, 2pm works", entries[1].Content)
	req.Equal(projection.StateCommitted, entries[1].State)
}

func TestSession_Refetch_Before_Send_Returns_Shows_Message_Once(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	api := mocks.NewMockIChatAPI(ctrl)
	session := NewSession(ctx, slog.Default(), "bob", api, bus.NewMemory(slog.Default(), 8), 0)
	defer session.Close()

	var stored domain.Message
	api.EXPECT().ListMessages(gomock.Any(), domain.ConversationID("c1")).Return(nil, nil)
	api.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, cmd domain.SendMessageCommand) (domain.Message, error) {
		stored = domain.Message{
			ID:             uuid.New(),
			ConversationID: cmd.ConversationID,
			SenderID:       cmd.SenderID,
			Content:        cmd.Content,
			Type:           cmd.Type,
			CreatedAt:      time.Now(),
			CorrelationID:  cmd.CorrelationID,
		}
		// Given the change reaches the session before the send answer
		session.Cache().InvalidateMessages("c1")
		entries, err := session.Messages(ctx, "c1")
		req.NoError(err)
		req.Len(entries, 1)
		req.Equal(projection.StateCommitted, entries[0].State)
		req.Equal(stored.ID, entries[0].Message.ID)
		return stored, nil
	})
	api.EXPECT().ListMessages(gomock.Any(), domain.ConversationID("c1")).DoAndReturn(func(context.Context, domain.ConversationID) ([]domain.Message, error) {
		return []domain.Message{stored}, nil
	}).Times(2)

	_, err := session.Messages(ctx, "c1")
	req.NoError(err)

	// When the send answer arrives
	result := session.Send(ctx, "c1", "hi")

	// Then the message is still shown once
	req.False(result.Failed())
	entries, err := session.Messages(ctx, "c1")
	req.NoError(err)
	req.Len(entries, 1)
	req.Equal("hi", entries[0].Content)
}

func TestSession_Send_Failure_Keeps_Draft(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	api := mocks.NewMockIChatAPI(ctrl)
	session := NewSession(ctx, slog.Default(), "bob", api, bus.NewMemory(slog.Default(), 8), 0)
	defer session.Close()

	api.EXPECT().Send(gomock.Any(), gomock.Any()).Return(domain.Message{}, errors.Transient(context.DeadlineExceeded)).Times(1)
	api.EXPECT().ListMessages(gomock.Any(), domain.ConversationID("c1")).Return(nil, nil)

	result := session.Send(ctx, "c1", "hello")

	// Then the content is handed back and nothing is pending
	req.True(result.Failed())
	req.True(errors.IsRetryable(result.Err))
	req.Equal("hello", result.Draft)
	entries, err := session.Messages(ctx, "c1")
	req.NoError(err)
	req.Empty(entries)
}

func TestSession_Conversations_Cached_Until_Invalidated(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	api := mocks.NewMockIChatAPI(ctrl)
	session := NewSession(ctx, slog.Default(), "alice", api, bus.NewMemory(slog.Default(), 8), 0)
	defer session.Close()

	conversations := []domain.Conversation{{ID: "c1", CustomerID: "alice", ProviderID: "bob"}}
	api.EXPECT().ListConversations(gomock.Any(), domain.UserID("alice")).Return(conversations, nil).Times(2)

	first, err := session.Conversations(ctx)
	req.NoError(err)
	second, err := session.Conversations(ctx)
	req.NoError(err)
	req.Equal(first, second)

	session.Cache().InvalidateConversations("alice")
	_, err = session.Conversations(ctx)
	req.NoError(err)
}

func TestSession_Close_Releases_Subscriptions(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	memory := bus.NewMemory(slog.Default(), 8)
	session := NewSession(ctx, slog.Default(), "alice", mocks.NewMockIChatAPI(ctrl), memory, 0)

	_, err := session.OpenConversationList(ctx)
	req.NoError(err)
	_, err = session.OpenConversation(ctx, "c1")
	req.NoError(err)
	req.Equal(2, memory.Live())

	session.Close()

	req.Equal(0, memory.Live())
	req.Equal(0, session.Subscriptions().LiveCount())
	_, err = session.OpenConversation(ctx, "c2")
	req.ErrorIs(err, errors.ErrSubscriptionGone)
}

func TestSession_Close_Cancels_Hanging_Fetch(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	api := mocks.NewMockIChatAPI(ctrl)
	session := NewSession(ctx, slog.Default(), "alice", api, bus.NewMemory(slog.Default(), 8), 0)

	started := make(chan struct{})
	api.EXPECT().ListMessages(gomock.Any(), domain.ConversationID("c1")).DoAndReturn(func(ctx context.Context, _ domain.ConversationID) ([]domain.Message, error) {
		close(started)
		<-ctx.Done()
		return nil, errors.Transient(ctx.Err())
	})

	// Given a read whose call never answers on its own
	errs := make(chan error, 1)
	go func() {
		_, err := session.Messages(ctx, "c1")
		errs <- err
	}()
	<-started

	// When the session closes
	session.Close()

	// Then the read returns
	select {
	case err := <-errs:
		req.ErrorIs(err, context.Canceled)
	case <-time.After(time.Second):
		req.Fail("fetch still running after Close")
	}
}
