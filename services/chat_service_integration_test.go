package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"convo-lab/auth"
	"convo-lab/domain"
	"convo-lab/infrastructure/bus"
	"convo-lab/repositories"
	"convo-lab/runtime"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

type stack struct {
	svc      *ChatService
	bus      *bus.Memory
	users    *repositories.UserRepository
	messages *repositories.MessageRepository
}

func newStack(t *testing.T) stack {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).
		WithLoggingLevel(badger.ERROR).
		WithValueLogFileSize(16 << 20))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	memory := bus.NewMemory(log, 64)
	t.Cleanup(memory.Close)
	users := repositories.NewUserRepository(db)
	messages := repositories.NewMessageRepository(db, log, memory, nil)
	svc := NewChatService(log,
		repositories.NewConversationRepository(db, log, memory),
		messages,
		users,
		auth.ContextIdentity{},
		2000,
	)
	return stack{svc: svc, bus: memory, users: users, messages: messages}
}

func (s stack) user(t *testing.T, name string, role domain.Role) domain.UserID {
	t.Helper()
	user, err := s.users.CreateUser(context.Background(), domain.User{
		Email:    name + "@example.com",
		FullName: name,
		Roles:    []domain.Role{role},
	})
	require.NoError(t, err)
	return user.ID
}

func TestChatService_Friday_Scenario(t *testing.T) {
	req := require.New(t)
	s := newStack(t)
	alice := s.user(t, "alice", domain.RoleCustomer)
	bob := s.user(t, "bob", domain.RoleProvider)
	aliceCtx := auth.WithUser(context.Background(), alice, domain.RoleCustomer)
	bobCtx := auth.WithUser(context.Background(), bob, domain.RoleProvider)

	conversation, err := s.svc.StartConversation(aliceCtx, domain.StartConversationCommand{CustomerID: alice, ProviderID: bob})
	req.NoError(err)

	aliceSession := runtime.NewSession(aliceCtx, slog.Default(), alice, s.svc, s.bus, 10*time.Millisecond)
	defer aliceSession.Close()
	bobSession := runtime.NewSession(bobCtx, slog.Default(), bob, s.svc, s.bus, 10*time.Millisecond)
	defer bobSession.Close()

	_, err = aliceSession.OpenConversationList(aliceCtx)
	req.NoError(err)
	_, err = bobSession.OpenConversation(bobCtx, conversation.ID)
	req.NoError(err)

	// Given alice asks a question
	first := aliceSession.Send(aliceCtx, conversation.ID, "Are you free Friday?")
	req.NoError(first.Err)

	// When bob sees it and answers
	req.Eventually(func() bool {
		entries, err := bobSession.Messages(bobCtx, conversation.ID)
		return err == nil && len(entries) == 1
	}, 2*time.Second, 10*time.Millisecond)
	second := bobSession.Send(bobCtx, conversation.ID, "Yes, 2pm works")
	req.NoError(second.Err)

	// Then the log is ordered and alice's list converges on the answer
	req.True(first.Message.CreatedAt.Before(second.Message.CreatedAt))
	messages, err := s.svc.ListMessages(aliceCtx, conversation.ID)
	req.NoError(err)
	req.Len(messages, 2)
	req.Equal("Are you free Friday?", messages[0].Content)
	req.Equal("Yes, 2pm works", messages[1].Content)

	req.Eventually(func() bool {
		conversations, err := aliceSession.Conversations(aliceCtx)
		return err == nil && len(conversations) == 1 &&
			conversations[0].LastMessage != nil && *conversations[0].LastMessage == "Yes, 2pm works"
	}, 2*time.Second, 10*time.Millisecond)

	conversations, err := aliceSession.Conversations(aliceCtx)
	req.NoError(err)
	req.Equal("bob", conversations[0].ProviderProfile.FullName)
}

func TestChatService_Cached_List_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	s := newStack(t)
	alice := s.user(t, "alice", domain.RoleCustomer)
	bob := s.user(t, "bob", domain.RoleProvider)
	ctx := auth.WithUser(context.Background(), alice)
	_, err := s.svc.StartConversation(ctx, domain.StartConversationCommand{CustomerID: alice, ProviderID: bob})
	req.NoError(err)

	session := runtime.NewSession(ctx, slog.Default(), alice, s.svc, s.bus, 0)
	defer session.Close()

	first, err := session.Conversations(ctx)
	req.NoError(err)
	second, err := session.Conversations(ctx)
	req.NoError(err)

	req.Equal(first, second)
	req.Equal(1, session.Cache().ConversationStats(alice).Fetches)
}

func TestChatService_Send_Updates_Last_Message_After_Invalidation(t *testing.T) {
	req := require.New(t)
	s := newStack(t)
	alice := s.user(t, "alice", domain.RoleCustomer)
	bob := s.user(t, "bob", domain.RoleProvider)
	ctx := auth.WithUser(context.Background(), alice)
	conversation, err := s.svc.StartConversation(ctx, domain.StartConversationCommand{CustomerID: alice, ProviderID: bob})
	req.NoError(err)

	session := runtime.NewSession(ctx, slog.Default(), alice, s.svc, s.bus, 0)
	defer session.Close()
	unregister := s.svc.RegisterInvalidator(session.Cache())
	defer unregister()

	before, err := session.Conversations(ctx)
	req.NoError(err)
	req.Nil(before[0].LastMessage)

	_, err = s.svc.Send(ctx, domain.SendMessageCommand{ConversationID: conversation.ID, SenderID: alice, Content: "hello"})
	req.NoError(err)

	// The registered hook already invalidated the list
	after, err := session.Conversations(ctx)
	req.NoError(err)
	req.Equal("hello", *after[0].LastMessage)
}

func TestChatService_Concurrent_Senders_Both_Persisted(t *testing.T) {
	req := require.New(t)
	s := newStack(t)
	alice := s.user(t, "alice", domain.RoleCustomer)
	bob := s.user(t, "bob", domain.RoleProvider)
	aliceCtx := auth.WithUser(context.Background(), alice)
	bobCtx := auth.WithUser(context.Background(), bob)
	conversation, err := s.svc.StartConversation(aliceCtx, domain.StartConversationCommand{CustomerID: alice, ProviderID: bob})
	req.NoError(err)

	const perSender = 20
	var wg sync.WaitGroup
	errs := make(chan error, 2*perSender)
	send := func(ctx context.Context, sender domain.UserID) {
		defer wg.Done()
		for i := 0; i < perSender; i++ {
			_, err := s.svc.Send(ctx, domain.SendMessageCommand{
				ConversationID: conversation.ID,
				SenderID:       sender,
				Content:        fmt.Sprintf("%s #%d", sender, i),
			})
			errs <- err
		}
	}
	wg.Add(2)
	go send(aliceCtx, alice)
	go send(bobCtx, bob)
	wg.Wait()
	close(errs)
	for err := range errs {
		req.NoError(err)
	}

	messages, err := s.svc.ListMessages(aliceCtx, conversation.ID)
	req.NoError(err)
	req.Len(messages, 2*perSender)
	for i := 1; i < len(messages); i++ {
		req.True(messages[i-1].CreatedAt.Before(messages[i].CreatedAt))
	}

	// And the projection matches the newest message
	conversations, err := s.svc.ListConversations(aliceCtx, alice)
	req.NoError(err)
	req.True(conversations[0].IsConsistentWith(domain.LastOf(messages)))
}

func TestChatService_Outsider_Cannot_Write(t *testing.T) {
	req := require.New(t)
	s := newStack(t)
	alice := s.user(t, "alice", domain.RoleCustomer)
	bob := s.user(t, "bob", domain.RoleProvider)
	carol := s.user(t, "carol", domain.RoleCustomer)
	aliceCtx := auth.WithUser(context.Background(), alice)
	conversation, err := s.svc.StartConversation(aliceCtx, domain.StartConversationCommand{CustomerID: alice, ProviderID: bob})
	req.NoError(err)

	_, err = s.svc.Send(auth.WithUser(context.Background(), carol), domain.SendMessageCommand{
		ConversationID: conversation.ID,
		SenderID:       carol,
		Content:        "let me in",
	})
	req.Error(err)

	messages, err := s.svc.ListMessages(aliceCtx, conversation.ID)
	req.NoError(err)
	req.Empty(messages)
}

func TestChatService_Lost_Projection_Update_Keeps_List_Ordered(t *testing.T) {
	req := require.New(t)
	s := newStack(t)
	alice := s.user(t, "alice", domain.RoleCustomer)
	bob := s.user(t, "bob", domain.RoleProvider)
	carol := s.user(t, "carol", domain.RoleProvider)
	ctx := auth.WithUser(context.Background(), alice)
	first, err := s.svc.StartConversation(ctx, domain.StartConversationCommand{CustomerID: alice, ProviderID: bob})
	req.NoError(err)
	second, err := s.svc.StartConversation(ctx, domain.StartConversationCommand{CustomerID: alice, ProviderID: carol})
	req.NoError(err)

	send := func(id domain.ConversationID, content string) {
		_, err := s.svc.Send(ctx, domain.SendMessageCommand{ConversationID: id, SenderID: alice, Content: content})
		req.NoError(err)
	}
	send(first.ID, "one")
	time.Sleep(2 * time.Millisecond)
	send(second.ID, "two")
	time.Sleep(2 * time.Millisecond)

	// Given a message stored in the first conversation without its projection update
	_, err = s.messages.Insert(ctx, domain.Message{ConversationID: first.ID, SenderID: alice, Content: "three"})
	req.NoError(err)

	// When the list is read
	conversations, err := s.svc.ListConversations(ctx, alice)

	// Then the repaired conversation comes first
	req.NoError(err)
	req.Len(conversations, 2)
	req.Equal(first.ID, conversations[0].ID)
	req.Equal("three", *conversations[0].LastMessage)
	req.Equal(second.ID, conversations[1].ID)

	// And the repair was persisted
	again, err := s.svc.ListConversations(ctx, alice)
	req.NoError(err)
	req.Equal(first.ID, again[0].ID)
}
