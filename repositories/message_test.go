package repositories

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"convo-lab/domain"
	"convo-lab/domain/event"
	"convo-lab/errors"
	"convo-lab/mocks"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func openDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).
		WithLoggingLevel(badger.ERROR).
		WithValueLogFileSize(16 << 20))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func Test_Insert_Multiple_Messages_Ordered_By_Store_Time(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repository := NewMessageRepository(openDB(t), slog.Default(), nil, nil)
	conversationID := domain.NewConversationID()

	// Given the wall clock never moves
	frozen := time.Now().UTC()
	repository.clock = newServerClock(func() time.Time { return frozen })

	var inserted []domain.Message
	for _, sender := range []domain.UserID{"alice", "bob", "alice"} {
		message, err := repository.Insert(ctx, domain.Message{
			ConversationID: conversationID,
			SenderID:       sender,
			Content:        "this message will self destruct in 5 seconds",
			Type:           domain.MessageTypeText,
			// Client supplied timestamps are ignored
			CreatedAt: frozen.Add(-time.Hour),
		})
		req.NoError(err)
		inserted = append(inserted, message)
	}

	// Then each message got a strictly increasing server timestamp
	for i := 1; i < len(inserted); i++ {
		req.True(inserted[i].CreatedAt.After(inserted[i-1].CreatedAt))
	}

	fetched, err := repository.ListByConversation(ctx, conversationID)
	req.NoError(err)
	req.Equal(inserted, fetched)
}

func Test_List_Messages_With_Limit_Keeps_Newest(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repository := NewMessageRepository(openDB(t), slog.Default(), nil, lo.ToPtr(2))
	conversationID := domain.NewConversationID()

	var contents []string
	for _, content := range []string{"one", "two", "three"} {
		_, err := repository.Insert(ctx, domain.Message{ConversationID: conversationID, SenderID: "alice", Content: content, Type: domain.MessageTypeText})
		req.NoError(err)
		contents = append(contents, content)
	}

	fetched, err := repository.ListByConversation(ctx, conversationID)
	req.NoError(err)
	req.Len(fetched, 2)
	req.Equal([]string{"two", "three"}, lo.Map(fetched, func(m domain.Message, _ int) string { return m.Content }))
}

func Test_List_Messages_Isolated_Per_Conversation(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repository := NewMessageRepository(openDB(t), slog.Default(), nil, nil)
	first, second := domain.NewConversationID(), domain.NewConversationID()

	_, err := repository.Insert(ctx, domain.Message{ConversationID: first, SenderID: "alice", Content: "for first"})
	req.NoError(err)
	_, err = repository.Insert(ctx, domain.Message{ConversationID: second, SenderID: "bob", Content: "for second"})
	req.NoError(err)

	fetched, err := repository.ListByConversation(ctx, first)
	req.NoError(err)
	req.Len(fetched, 1)
	req.Equal("for first", fetched[0].Content)

	empty, err := repository.ListByConversation(ctx, domain.NewConversationID())
	req.NoError(err)
	req.Empty(empty)
}

func Test_Concurrent_Inserts_Are_All_Persisted(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repository := NewMessageRepository(openDB(t), slog.Default(), nil, nil)
	conversationID := domain.NewConversationID()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repository.Insert(ctx, domain.Message{ConversationID: conversationID, SenderID: "alice", Content: "concurrent"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		req.NoError(err)
	}

	fetched, err := repository.ListByConversation(ctx, conversationID)
	req.NoError(err)
	req.Len(fetched, 20)
	for i := 1; i < len(fetched); i++ {
		req.True(fetched[i].CreatedAt.After(fetched[i-1].CreatedAt))
	}
}

func Test_Last_Message(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repository := NewMessageRepository(openDB(t), slog.Default(), nil, nil)
	conversationID := domain.NewConversationID()

	last, err := repository.Last(ctx, conversationID)
	req.NoError(err)
	req.Nil(last)

	_, err = repository.Insert(ctx, domain.Message{ConversationID: conversationID, SenderID: "alice", Content: "Are you free Friday?"})
	req.NoError(err)
	m2, err := repository.Insert(ctx, domain.Message{ConversationID: conversationID, SenderID: "bob", Content: "Yes, 2pm works"})
	req.NoError(err)

	last, err = repository.Last(ctx, conversationID)
	req.NoError(err)
	req.Equal(m2, *last)
}

func Test_Clock_Survives_Restart(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	db := openDB(t)
	conversationID := domain.NewConversationID()

	// Given a message stored with a timestamp ahead of the current wall clock
	future := time.Now().UTC().Add(time.Hour)
	first := NewMessageRepository(db, slog.Default(), nil, nil)
	first.clock = newServerClock(func() time.Time { return future })
	m1, err := first.Insert(ctx, domain.Message{ConversationID: conversationID, SenderID: "alice", Content: "from the future"})
	req.NoError(err)

	// When a fresh repository (no clock memory) inserts with a lagging clock
	second := NewMessageRepository(db, slog.Default(), nil, nil)
	m2, err := second.Insert(ctx, domain.Message{ConversationID: conversationID, SenderID: "bob", Content: "from now"})
	req.NoError(err)

	// Then the log order is still preserved
	req.True(m2.CreatedAt.After(m1.CreatedAt))
}

func Test_Mark_Read_Once(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repository := NewMessageRepository(openDB(t), slog.Default(), nil, nil)
	message, err := repository.Insert(ctx, domain.Message{ConversationID: domain.NewConversationID(), SenderID: "alice", Content: "hello"})
	req.NoError(err)
	req.Nil(message.ReadAt)

	readAt := time.Now().UTC()
	read, err := repository.MarkRead(ctx, message.ID, readAt)
	req.NoError(err)
	req.NotNil(read.ReadAt)
	req.True(readAt.Equal(*read.ReadAt))

	// A second call keeps the first timestamp
	again, err := repository.MarkRead(ctx, message.ID, readAt.Add(time.Minute))
	req.NoError(err)
	req.True(readAt.Equal(*again.ReadAt))

	stored, err := repository.GetByID(ctx, message.ID)
	req.NoError(err)
	req.True(readAt.Equal(*stored.ReadAt))

	_, err = repository.MarkRead(ctx, uuid.New(), readAt)
	req.ErrorIs(err, errors.ErrMessageNotFound)
}

func Test_Insert_Publishes_After_Commit(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	publisher := mocks.NewMockIPublisher(ctrl)
	repository := NewMessageRepository(openDB(t), slog.Default(), publisher, nil)
	conversationID := domain.NewConversationID()

	publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, change event.Change) error {
			// The row is already readable when the notification goes out
			messages, err := repository.ListByConversation(ctx, conversationID)
			req.NoError(err)
			req.Len(messages, 1)
			req.Equal(event.TableMessages, change.Table)
			req.Equal(event.OpInsert, change.Op)
			req.Equal(string(conversationID), change.Row[event.ColumnConversationID])
			return nil
		}).Times(1)

	_, err := repository.Insert(ctx, domain.Message{ConversationID: conversationID, SenderID: "alice", Content: "hello"})
	req.NoError(err)
}

func Test_Insert_Survives_Publisher_Failure(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	publisher := mocks.NewMockIPublisher(ctrl)
	repository := NewMessageRepository(openDB(t), slog.Default(), publisher, nil)
	conversationID := domain.NewConversationID()

	// Given the bus is unreachable
	publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(errors.ErrTransientIO).Times(1)

	// Then the write itself still succeeds
	_, err := repository.Insert(ctx, domain.Message{ConversationID: conversationID, SenderID: "alice", Content: "hello"})
	req.NoError(err)
	messages, err := repository.ListByConversation(ctx, conversationID)
	req.NoError(err)
	req.Len(messages, 1)
}

func Test_Canceled_Context_Is_Retryable(t *testing.T) {
	req := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	repository := NewMessageRepository(openDB(t), slog.Default(), nil, nil)

	_, err := repository.Insert(ctx, domain.Message{ConversationID: domain.NewConversationID(), SenderID: "alice", Content: "hello"})
	req.True(errors.IsRetryable(err))
}
