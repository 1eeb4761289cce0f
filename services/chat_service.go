//go:generate go run go.uber.org/mock/mockgen -source=chat_service.go -destination=../mocks/mock_chat_service.go -package=mocks
package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"convo-lab/contract"
	"convo-lab/domain"
	"convo-lab/errors"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// IChatService is the conversation API checked against the caller identity on
// every call.
type IChatService interface {
	contract.IChatAPI
	CheckParticipant(ctx context.Context, id domain.ConversationID) (domain.UserID, error)
	RegisterInvalidator(invalidator contract.IInvalidator) (unregister func())
}

var _ IChatService = (*ChatService)(nil)

type ChatService struct {
	log              *slog.Logger
	conversations    contract.IConversationRepository
	messages         contract.IMessageRepository
	users            contract.IUserRepository
	identity         contract.IIdentity
	maxContentLength int
	now              func() time.Time

	mu           sync.RWMutex
	invalidators map[*invalidatorHandle]contract.IInvalidator
}

type invalidatorHandle struct{}

func NewChatService(
	log *slog.Logger,
	conversations contract.IConversationRepository,
	messages contract.IMessageRepository,
	users contract.IUserRepository,
	identity contract.IIdentity,
	maxContentLength int,
) *ChatService {
	return &ChatService{
		log:              log,
		conversations:    conversations,
		messages:         messages,
		users:            users,
		identity:         identity,
		maxContentLength: maxContentLength,
		now:              time.Now,
		invalidators:     make(map[*invalidatorHandle]contract.IInvalidator),
	}
}

// RegisterInvalidator adds a hook called after every successful write.
func (s *ChatService) RegisterInvalidator(invalidator contract.IInvalidator) func() {
	handle := &invalidatorHandle{}
	s.mu.Lock()
	s.invalidators[handle] = invalidator
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.invalidators, handle)
		s.mu.Unlock()
	}
}

func (s *ChatService) invalidate(conversation domain.Conversation, messages bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inv := range s.invalidators {
		inv.InvalidateConversations(conversation.CustomerID)
		inv.InvalidateConversations(conversation.ProviderID)
		if messages {
			inv.InvalidateMessages(conversation.ID)
		}
	}
}

// participantConversation loads id and checks the caller takes part in it.
func (s *ChatService) participantConversation(ctx context.Context, id domain.ConversationID) (domain.UserID, domain.Conversation, error) {
	caller, err := s.identity.CurrentUser(ctx)
	if err != nil {
		return "", domain.Conversation{}, err
	}
	conversation, err := s.conversations.GetByID(ctx, id)
	if errors.Is(err, errors.ErrNotFound) {
		// Existence is not disclosed to outsiders.
		return "", domain.Conversation{}, errors.ErrNotParticipant
	}
	if err != nil {
		return "", domain.Conversation{}, err
	}
	if !conversation.HasParticipant(caller) {
		return "", domain.Conversation{}, errors.ErrNotParticipant
	}
	return caller, conversation, nil
}

// CheckParticipant returns the caller when it takes part in conversation id.
func (s *ChatService) CheckParticipant(ctx context.Context, id domain.ConversationID) (domain.UserID, error) {
	caller, _, err := s.participantConversation(ctx, id)
	return caller, err
}

// ListConversations returns the conversations of userID, newest activity first, with
// both profiles attached. Only userID may list them.
func (s *ChatService) ListConversations(ctx context.Context, userID domain.UserID) ([]domain.Conversation, error) {
	caller, err := s.identity.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	if caller != userID {
		return nil, errors.ErrImpersonation
	}
	conversations, err := s.conversations.ListForParticipant(ctx, userID)
	if err != nil {
		return nil, err
	}
	repaired := false
	for i := range conversations {
		var ok bool
		conversations[i], ok = s.reconcile(ctx, conversations[i])
		repaired = repaired || ok
	}
	if repaired {
		slices.SortStableFunc(conversations, byLastActivity)
	}
	return s.withProfiles(ctx, conversations), nil
}

// byLastActivity orders conversations newest last message first, then by id.
func byLastActivity(a, b domain.Conversation) int {
	if c := b.LastMessageAt.Compare(a.LastMessageAt); c != 0 {
		return c
	}
	return strings.Compare(string(a.ID), string(b.ID))
}

// reconcile brings the last message of conversation back to the newest stored
// message and reports whether the returned value moved. Inconsistencies are logged,
// never returned: the message log stays authoritative.
func (s *ChatService) reconcile(ctx context.Context, conversation domain.Conversation) (domain.Conversation, bool) {
	last, err := s.messages.Last(ctx, conversation.ID)
	if err != nil {
		s.log.Warn("Projection check skipped", "conversation", conversation.ID, "error", err)
		return conversation, false
	}
	if conversation.IsConsistentWith(last) {
		return conversation, false
	}
	if last == nil || !conversation.ApplyLastMessage(last.Content, last.CreatedAt) {
		s.log.Warn("Projection ahead of message log",
			"conversation", conversation.ID,
			"error", errors.ErrProjectionInconsistency)
		return conversation, false
	}
	s.log.Info("Projection lagging behind message log", "conversation", conversation.ID)
	if _, err := s.conversations.UpdateLastMessage(ctx, conversation.ID, last.Content, last.CreatedAt); err != nil {
		s.log.Warn("Projection repair failed",
			"conversation", conversation.ID,
			"error", fmt.Errorf("%w: %w", errors.ErrProjectionInconsistency, err))
	}
	return conversation, true
}

func (s *ChatService) withProfiles(ctx context.Context, conversations []domain.Conversation) []domain.Conversation {
	profiles := make(map[domain.UserID]domain.Profile)
	profile := func(id domain.UserID) domain.Profile {
		if p, ok := profiles[id]; ok {
			return p
		}
		user, err := s.users.GetUserByID(ctx, id)
		if err != nil {
			s.log.Debug("Profile unavailable", "user", id, "error", err)
		}
		p := user.Profile()
		profiles[id] = p
		return p
	}
	return lo.Map(conversations, func(c domain.Conversation, _ int) domain.Conversation {
		c.CustomerProfile = profile(c.CustomerID)
		c.ProviderProfile = profile(c.ProviderID)
		return c
	})
}

// ListMessages returns the log of a conversation, oldest first.
func (s *ChatService) ListMessages(ctx context.Context, conversationID domain.ConversationID) ([]domain.Message, error) {
	if conversationID == "" {
		return nil, errors.ErrMissingConversation
	}
	if _, _, err := s.participantConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.messages.ListByConversation(ctx, conversationID)
}

// Send appends a message then moves the conversation projection forward.
// The second step is best effort: its failure is logged and never returned, the
// message log stays authoritative. Send is never retried here.
func (s *ChatService) Send(ctx context.Context, cmd domain.SendMessageCommand) (domain.Message, error) {
	cmd, err := cmd.Normalize(s.maxContentLength)
	if err != nil {
		return domain.Message{}, err
	}
	caller, conversation, err := s.participantConversation(ctx, cmd.ConversationID)
	if err != nil {
		return domain.Message{}, err
	}
	if caller != cmd.SenderID {
		return domain.Message{}, errors.ErrImpersonation
	}

	message, err := s.messages.Insert(ctx, domain.Message{
		ConversationID: cmd.ConversationID,
		SenderID:       cmd.SenderID,
		Content:        cmd.Content,
		Type:           cmd.Type,
		CorrelationID:  cmd.CorrelationID,
	})
	if err != nil {
		return domain.Message{}, err
	}

	if _, err := s.conversations.UpdateLastMessage(ctx, conversation.ID, message.Content, message.CreatedAt); err != nil {
		s.log.Warn("Last message not updated",
			"conversation", conversation.ID,
			"message", message.ID,
			"error", fmt.Errorf("%w: %w", errors.ErrProjectionInconsistency, err))
	}

	s.invalidate(conversation, true)
	return message, nil
}

// MarkRead stamps read_at once. Only the recipient may do it.
func (s *ChatService) MarkRead(ctx context.Context, messageID uuid.UUID) (domain.Message, error) {
	caller, err := s.identity.CurrentUser(ctx)
	if err != nil {
		return domain.Message{}, err
	}
	message, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return domain.Message{}, err
	}
	_, conversation, err := s.participantConversation(ctx, message.ConversationID)
	if err != nil {
		return domain.Message{}, err
	}
	if message.SenderID == caller {
		return domain.Message{}, fmt.Errorf("%w: only the recipient marks a message read", errors.ErrAuth)
	}
	if message.ReadAt != nil {
		return message, nil
	}
	read, err := s.messages.MarkRead(ctx, messageID, s.now())
	if err != nil {
		return domain.Message{}, err
	}
	s.invalidate(conversation, true)
	return read, nil
}

// StartConversation returns the conversation of the (customer, provider, service
// request) triple, creating it on first contact. The caller must be one of the two.
func (s *ChatService) StartConversation(ctx context.Context, cmd domain.StartConversationCommand) (domain.Conversation, error) {
	if err := cmd.Validate(); err != nil {
		return domain.Conversation{}, err
	}
	caller, err := s.identity.CurrentUser(ctx)
	if err != nil {
		return domain.Conversation{}, err
	}
	if caller != cmd.CustomerID && caller != cmd.ProviderID {
		return domain.Conversation{}, errors.ErrImpersonation
	}

	existing, err := s.conversations.FindByParties(ctx, cmd.CustomerID, cmd.ProviderID, cmd.ServiceRequestID)
	if err != nil {
		return domain.Conversation{}, err
	}
	if existing != nil {
		return s.withProfiles(ctx, []domain.Conversation{*existing})[0], nil
	}

	counterpart := cmd.ProviderID
	if caller == cmd.ProviderID {
		counterpart = cmd.CustomerID
	}
	if _, err := s.users.GetUserByID(ctx, counterpart); err != nil {
		return domain.Conversation{}, err
	}

	conversation, err := s.conversations.Create(ctx, domain.Conversation{
		CustomerID:       cmd.CustomerID,
		ProviderID:       cmd.ProviderID,
		ServiceRequestID: cmd.ServiceRequestID,
	})
	if err != nil {
		return domain.Conversation{}, err
	}
	s.log.Debug("Conversation started", "conversation", conversation.ID, "customer", cmd.CustomerID, "provider", cmd.ProviderID)
	s.invalidate(conversation, false)
	return s.withProfiles(ctx, []domain.Conversation{conversation})[0], nil
}
