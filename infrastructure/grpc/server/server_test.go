package server

import (
	"context"
	"log/slog"
	"net"
	"testing"
	"time"

	"convo-lab/auth"
	"convo-lab/domain"
	"convo-lab/domain/event"
	"convo-lab/errors"
	"convo-lab/infrastructure/bus"
	"convo-lab/infrastructure/grpc/client"
	"convo-lab/repositories"
	"convo-lab/runtime"
	"convo-lab/services"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

const password = "Sup3r-Secret!pass"

type harness struct {
	listener *bufconn.Listener
	bus      *bus.Memory
	log      *slog.Logger
}

func newHarness(t *testing.T) harness {
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
	tokens := auth.NewTokens("test-secret", time.Hour)
	chatService := services.NewChatService(log,
		repositories.NewConversationRepository(db, log, memory),
		repositories.NewMessageRepository(db, log, memory, nil),
		users,
		auth.ContextIdentity{},
		2000,
	)
	s := New(log, tokens,
		NewChatServer(log, chatService, memory, auth.ContextIdentity{}),
		NewAuthServer(services.NewAuthService(users, tokens)),
	)

	listener := bufconn.Listen(1 << 20)
	go func() { _ = s.Serve(listener) }()
	t.Cleanup(s.Stop)
	return harness{listener: listener, bus: memory, log: log}
}

func (h harness) dial(t *testing.T) *client.ChatClient {
	t.Helper()
	credentials := client.NewTokenCredentials()
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return h.listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithPerRPCCredentials(credentials),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return client.NewChatClient(conn, credentials)
}

func (h harness) register(t *testing.T, name string, role domain.Role) (*client.ChatClient, domain.UserID) {
	t.Helper()
	c := h.dial(t)
	userID, err := c.Register(context.Background(), name+"@example.com", password, name, role)
	require.NoError(t, err)
	return c, userID
}

func TestServer_Rejects_Calls_Without_Token(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	anonymous := h.dial(t)

	// When listing without signing in first
	_, err := anonymous.ListConversations(context.Background(), "alice")

	// Then the call is refused before reaching the service
	req.ErrorIs(err, errors.ErrUnauthenticated)
}

func TestServer_Login_After_Register(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	_, alice := h.register(t, "alice", domain.RoleCustomer)

	c := h.dial(t)
	_, err := c.Login(context.Background(), "alice@example.com", "wrong-Passw0rd!")
	req.ErrorIs(err, errors.ErrUnauthenticated)

	userID, err := c.Login(context.Background(), "ALICE@example.com", password)
	req.NoError(err)
	req.Equal(alice, userID)

	conversations, err := c.ListConversations(context.Background(), alice)
	req.NoError(err)
	req.Empty(conversations)
}

func TestServer_Register_Validation_Error(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)

	_, err := h.dial(t).Register(context.Background(), "not-an-email", "short", "x", domain.RoleCustomer)

	req.ErrorIs(err, errors.ErrValidation)
}

func TestServer_Remote_Session_Sees_Counterpart_Message(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	aliceClient, alice := h.register(t, "alice", domain.RoleCustomer)
	bobClient, bob := h.register(t, "bob", domain.RoleProvider)
	ctx := context.Background()

	conversation, err := aliceClient.StartConversation(ctx, domain.StartConversationCommand{CustomerID: alice, ProviderID: bob})
	req.NoError(err)
	req.Equal("bob", conversation.ProviderProfile.FullName)

	// Given bob watches the conversation and his list through the Watch stream
	remote := client.NewRemoteBus(bobClient.Service(), h.log, 16)
	defer remote.Close()
	bobSession := runtime.NewSession(ctx, h.log, bob, bobClient, remote, 10*time.Millisecond)
	defer bobSession.Close()
	_, err = bobSession.OpenConversation(ctx, conversation.ID)
	req.NoError(err)
	_, err = bobSession.OpenConversationList(ctx)
	req.NoError(err)

	entries, err := bobSession.Messages(ctx, conversation.ID)
	req.NoError(err)
	req.Empty(entries)

	// When alice sends a message
	sent, err := aliceClient.Send(ctx, domain.SendMessageCommand{ConversationID: conversation.ID, SenderID: alice, Content: "  Are you free Friday?  "})
	req.NoError(err)
	req.Equal("Are you free Friday?", sent.Content)

	// Then bob's cached views converge without polling
	req.Eventually(func() bool {
		entries, err := bobSession.Messages(ctx, conversation.ID)
		return err == nil && len(entries) == 1 && entries[0].Message.ID == sent.ID
	}, 3*time.Second, 10*time.Millisecond)
	req.Eventually(func() bool {
		conversations, err := bobSession.Conversations(ctx)
		return err == nil && len(conversations) == 1 &&
			conversations[0].LastMessage != nil && *conversations[0].LastMessage == "Are you free Friday?"
	}, 3*time.Second, 10*time.Millisecond)

	// And bob can mark it read
	read, err := bobClient.MarkRead(ctx, sent.ID)
	req.NoError(err)
	req.NotNil(read.ReadAt)
}

func TestServer_Outsider_Cannot_Read_Write_Or_Watch(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	aliceClient, alice := h.register(t, "alice", domain.RoleCustomer)
	_, bob := h.register(t, "bob", domain.RoleProvider)
	carolClient, carol := h.register(t, "carol", domain.RoleCustomer)
	ctx := context.Background()

	conversation, err := aliceClient.StartConversation(ctx, domain.StartConversationCommand{CustomerID: alice, ProviderID: bob})
	req.NoError(err)

	_, err = carolClient.ListMessages(ctx, conversation.ID)
	req.ErrorIs(err, errors.ErrAuth)

	_, err = carolClient.Send(ctx, domain.SendMessageCommand{ConversationID: conversation.ID, SenderID: carol, Content: "hi"})
	req.ErrorIs(err, errors.ErrAuth)

	_, err = carolClient.ListConversations(ctx, alice)
	req.ErrorIs(err, errors.ErrAuth)

	remote := client.NewRemoteBus(carolClient.Service(), h.log, 16)
	defer remote.Close()
	_, err = remote.Subscribe(ctx, event.TableMessages, event.Eq(event.ColumnConversationID, string(conversation.ID)))
	req.ErrorIs(err, errors.ErrAuth)
	_, err = remote.Subscribe(ctx, event.TableConversations, event.Eq(event.ColumnCustomerID, string(alice)))
	req.ErrorIs(err, errors.ErrAuth)
	_, err = remote.Subscribe(ctx, event.TableConversations, event.Filter{})
	req.ErrorIs(err, errors.ErrAuth)
	_, err = remote.Subscribe(ctx, "payments", event.Eq(event.ColumnID, "1"))
	req.ErrorIs(err, errors.ErrValidation)
	req.Zero(remote.Live())

	// Nothing was written by the outsider
	messages, err := aliceClient.ListMessages(ctx, conversation.ID)
	req.NoError(err)
	req.Empty(messages)
}

func TestServer_Watch_Releases_Bus_Subscription(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	aliceClient, alice := h.register(t, "alice", domain.RoleCustomer)
	ctx := context.Background()

	remote := client.NewRemoteBus(aliceClient.Service(), h.log, 16)
	sub, err := remote.Subscribe(ctx, event.TableConversations, event.Eq(event.ColumnCustomerID, string(alice)).Or(event.ColumnProviderID, string(alice)))
	req.NoError(err)
	req.Eventually(func() bool { return h.bus.Live() == 1 }, time.Second, 5*time.Millisecond)

	req.NoError(remote.Unsubscribe(ctx, sub))

	req.Eventually(func() bool { return h.bus.Live() == 0 }, 2*time.Second, 5*time.Millisecond)
	_, open := <-sub.Events()
	req.False(open)
}
