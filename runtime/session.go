package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"convo-lab/cache"
	"convo-lab/contract"
	"convo-lab/domain"
	"convo-lab/errors"
	"convo-lab/projection"

	"github.com/google/uuid"
)

// SendResult is the outcome of an optimistic send.
// On failure Draft holds the content so that it can be sent again.
type SendResult struct {
	CorrelationID string
	Message       *domain.Message
	Draft         string
	Err           error
}

func (r SendResult) Failed() bool { return r.Err != nil }

// Session is the state of one signed-in user: its query cache, its scopes and the
// optimistic timelines of the conversations it opened. Nothing is shared between
// sessions. Close tears everything down.
type Session struct {
	log   *slog.Logger
	user  domain.UserID
	api   contract.IChatAPI
	cache *cache.Manager
	subs  *SubscriptionManager

	mu        sync.Mutex
	timelines map[domain.ConversationID]*projection.Timeline
	releases  []func()
	closed    bool
}

func NewSession(ctx context.Context, log *slog.Logger, user domain.UserID, api contract.IChatAPI, bus contract.IChangeBus, restartInterval time.Duration) *Session {
	log = log.With("session", user)
	manager := cache.NewManager(log)
	return &Session{
		log:       log,
		user:      user,
		api:       api,
		cache:     manager,
		subs:      NewSubscriptionManager(ctx, log, bus, manager, restartInterval),
		timelines: make(map[domain.ConversationID]*projection.Timeline),
	}
}

func (s *Session) User() domain.UserID { return s.user }

// Cache exposes the session cache, mainly to register it as an invalidator.
func (s *Session) Cache() *cache.Manager { return s.cache }

func (s *Session) Subscriptions() *SubscriptionManager { return s.subs }

// OpenConversationList watches the conversation list of the session user.
func (s *Session) OpenConversationList(ctx context.Context) (func(), error) {
	return s.open(ctx, ConversationListScope(s.user))
}

// OpenConversation watches the messages of one conversation.
func (s *Session) OpenConversation(ctx context.Context, id domain.ConversationID) (func(), error) {
	release, err := s.open(ctx, ConversationScope(id))
	if err != nil {
		return nil, err
	}
	s.timeline(id)
	return release, nil
}

func (s *Session) open(ctx context.Context, scope Scope) (func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: session closed", errors.ErrSubscriptionGone)
	}
	s.mu.Unlock()

	release, err := s.subs.Watch(ctx, scope)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.releases = append(s.releases, release)
	s.mu.Unlock()
	return release, nil
}

func (s *Session) timeline(id domain.ConversationID) *projection.Timeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timelines[id]
	if !ok {
		t = projection.NewTimeline(id)
		s.timelines[id] = t
	}
	return t
}

// Conversations is the cached conversation list of the session user.
func (s *Session) Conversations(ctx context.Context) ([]domain.Conversation, error) {
	return s.cache.Conversations(ctx, s.user, func(ctx context.Context) ([]domain.Conversation, error) {
		return s.api.ListConversations(ctx, s.user)
	})
}

// Messages is the cached message log of id merged with the optimistic entries.
func (s *Session) Messages(ctx context.Context, id domain.ConversationID) ([]projection.Entry, error) {
	confirmed, err := s.cache.Messages(ctx, id, func(ctx context.Context) ([]domain.Message, error) {
		return s.api.ListMessages(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return s.timeline(id).Merge(confirmed), nil
}

// Send shows content as pending right away, then commits or fails it.
// A failed send is never retried; its content comes back as a draft.
func (s *Session) Send(ctx context.Context, id domain.ConversationID, content string) SendResult {
	correlationID := uuid.NewString()
	timeline := s.timeline(id)
	timeline.AddPending(correlationID, content)

	message, err := s.api.Send(ctx, domain.SendMessageCommand{
		ConversationID: id,
		SenderID:       s.user,
		Content:        content,
		Type:           domain.MessageTypeText,
		CorrelationID:  correlationID,
	})
	if err != nil {
		draft, _ := timeline.Fail(correlationID)
		s.log.Debug("Send failed", "conversation", id, "retryable", errors.IsRetryable(err), "error", err)
		return SendResult{CorrelationID: correlationID, Draft: draft, Err: err}
	}
	timeline.Commit(correlationID, message)
	s.cache.InvalidateMessages(id)
	s.cache.InvalidateConversations(s.user)
	return SendResult{CorrelationID: correlationID, Message: &message}
}

// Close releases every scope, drops the cache and the timelines.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	releases := s.releases
	s.releases = nil
	s.timelines = make(map[domain.ConversationID]*projection.Timeline)
	s.mu.Unlock()

	for _, release := range releases {
		release()
	}
	s.subs.Close()
	s.cache.Close()
	s.log.Debug("Session closed")
}
