//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"
	"time"

	"convo-lab/domain"
	"convo-lab/domain/event"

	"github.com/google/uuid"
)

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

type ISupervisor interface {
	Start(ctx context.Context, worker Worker)
	Stop()
	Wait()
}

// IConversationRepository is the durable store contract for conversations.
type IConversationRepository interface {
	Create(ctx context.Context, conversation domain.Conversation) (domain.Conversation, error)
	GetByID(ctx context.Context, id domain.ConversationID) (domain.Conversation, error)
	FindByParties(ctx context.Context, customerID, providerID domain.UserID, serviceRequestID *string) (*domain.Conversation, error)
	// ListForParticipant returns conversations where userID is customer or provider,
	// newest last_message_at first.
	ListForParticipant(ctx context.Context, userID domain.UserID) ([]domain.Conversation, error)
	// UpdateLastMessage applies the projection only when at is newer than the stored one.
	UpdateLastMessage(ctx context.Context, id domain.ConversationID, content string, at time.Time) (bool, error)
}

// IMessageRepository is the durable store contract for the append-only message log.
type IMessageRepository interface {
	// Insert assigns ID and CreatedAt and returns the persisted message.
	Insert(ctx context.Context, message domain.Message) (domain.Message, error)
	// ListByConversation returns messages ordered by created_at ascending.
	ListByConversation(ctx context.Context, id domain.ConversationID) ([]domain.Message, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Message, error)
	Last(ctx context.Context, id domain.ConversationID) (*domain.Message, error)
	MarkRead(ctx context.Context, id uuid.UUID, at time.Time) (domain.Message, error)
}

type IUserRepository interface {
	CreateUser(ctx context.Context, user domain.User) (domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)
	GetUserByID(ctx context.Context, id domain.UserID) (domain.User, error)
}

// ISubscription is the handle of one live bus subscription.
type ISubscription interface {
	Events() <-chan event.Change
	Table() event.Table
	Filter() event.Filter
}

// IChangeBus notifies subscribers of row changes. Delivery is best effort and
// asynchronous with respect to the write that caused it.
type IChangeBus interface {
	Subscribe(ctx context.Context, table event.Table, filter event.Filter) (ISubscription, error)
	Unsubscribe(ctx context.Context, sub ISubscription) error
}

// IPublisher is the write side of the bus, called by the store after commit.
type IPublisher interface {
	Publish(ctx context.Context, change event.Change) error
}

// IIdentity supplies the authenticated caller.
type IIdentity interface {
	CurrentUser(ctx context.Context) (domain.UserID, error)
}

// IInvalidator receives targeted invalidations after a successful write.
type IInvalidator interface {
	InvalidateConversations(userID domain.UserID)
	InvalidateMessages(conversationID domain.ConversationID)
}

// IChatAPI is the caller facing API, served in-process or over gRPC.
type IChatAPI interface {
	ListConversations(ctx context.Context, userID domain.UserID) ([]domain.Conversation, error)
	ListMessages(ctx context.Context, conversationID domain.ConversationID) ([]domain.Message, error)
	Send(ctx context.Context, cmd domain.SendMessageCommand) (domain.Message, error)
	MarkRead(ctx context.Context, messageID uuid.UUID) (domain.Message, error)
	StartConversation(ctx context.Context, cmd domain.StartConversationCommand) (domain.Conversation, error)
}
