package cache

import (
	"context"
	"log/slog"

	"convo-lab/contract"
	"convo-lab/domain"
)

var _ contract.IInvalidator = (*Manager)(nil)

// Manager groups the two query shapes of a session:
// conversations(userID) and messages(conversationID).
type Manager struct {
	conversations *QueryCache[domain.UserID, []domain.Conversation]
	messages      *QueryCache[domain.ConversationID, []domain.Message]
}

func NewManager(log *slog.Logger) *Manager {
	return &Manager{
		conversations: NewQueryCache[domain.UserID, []domain.Conversation]("conversations", log),
		messages:      NewQueryCache[domain.ConversationID, []domain.Message]("messages", log),
	}
}

func (m *Manager) Conversations(ctx context.Context, userID domain.UserID, fetch Fetch[[]domain.Conversation]) ([]domain.Conversation, error) {
	return m.conversations.Read(ctx, userID, fetch)
}

func (m *Manager) Messages(ctx context.Context, conversationID domain.ConversationID, fetch Fetch[[]domain.Message]) ([]domain.Message, error) {
	return m.messages.Read(ctx, conversationID, fetch)
}

func (m *Manager) InvalidateConversations(userID domain.UserID) {
	m.conversations.Invalidate(userID)
}

func (m *Manager) InvalidateMessages(conversationID domain.ConversationID) {
	m.messages.Invalidate(conversationID)
}

func (m *Manager) ConversationStats(userID domain.UserID) Stats {
	return m.conversations.Stats(userID)
}

func (m *Manager) MessageStats(conversationID domain.ConversationID) Stats {
	return m.messages.Stats(conversationID)
}

func (m *Manager) Purge() {
	m.conversations.Purge()
	m.messages.Purge()
}

// Close purges both caches and cancels their fetches.
func (m *Manager) Close() {
	m.conversations.Close()
	m.messages.Close()
}
