package runtime

import (
	"fmt"

	"convo-lab/domain"
	"convo-lab/domain/event"
)

type ScopeKind string

const (
	ScopeConversationList ScopeKind = "conversations"
	ScopeConversation     ScopeKind = "messages"
)

// Scope identifies one observed query. Two watches of equal scopes share a single
// bus subscription.
type Scope struct {
	Kind           ScopeKind
	UserID         domain.UserID
	ConversationID domain.ConversationID
}

// ConversationListScope observes every conversation where userID takes part.
func ConversationListScope(userID domain.UserID) Scope {
	return Scope{Kind: ScopeConversationList, UserID: userID}
}

// ConversationScope observes the messages of one conversation.
func ConversationScope(conversationID domain.ConversationID) Scope {
	return Scope{Kind: ScopeConversation, ConversationID: conversationID}
}

func (s Scope) Table() event.Table {
	if s.Kind == ScopeConversationList {
		return event.TableConversations
	}
	return event.TableMessages
}

func (s Scope) Filter() event.Filter {
	if s.Kind == ScopeConversationList {
		return event.Eq(event.ColumnCustomerID, string(s.UserID)).Or(event.ColumnProviderID, string(s.UserID))
	}
	return event.Eq(event.ColumnConversationID, string(s.ConversationID))
}

func (s Scope) String() string {
	if s.Kind == ScopeConversationList {
		return fmt.Sprintf("conversations(%s)", s.UserID)
	}
	return fmt.Sprintf("messages(%s)", s.ConversationID)
}
