package client

import (
	"time"

	"convo-lab/domain"
	"convo-lab/domain/event"
	pb "convo-lab/proto/convo"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

func ToConversation(c *pb.Conversation) domain.Conversation {
	if c == nil {
		return domain.Conversation{}
	}
	return domain.Conversation{
		ID:               domain.ConversationID(c.ID),
		CustomerID:       domain.UserID(c.CustomerID),
		ProviderID:       domain.UserID(c.ProviderID),
		ServiceRequestID: c.ServiceRequestID,
		LastMessage:      c.LastMessage,
		LastMessageAt:    lo.FromPtrOr(c.LastMessageAt, time.Time{}),
		CreatedAt:        c.CreatedAt,
		CustomerProfile:  domain.Profile{FullName: c.CustomerProfile.FullName, AvatarURL: c.CustomerProfile.AvatarURL},
		ProviderProfile:  domain.Profile{FullName: c.ProviderProfile.FullName, AvatarURL: c.ProviderProfile.AvatarURL},
	}
}

// ToMessage fails only when the server sent an id that is not a uuid.
func ToMessage(m *pb.Message) (domain.Message, error) {
	if m == nil {
		return domain.Message{}, nil
	}
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{
		ID:             id,
		ConversationID: domain.ConversationID(m.ConversationID),
		SenderID:       domain.UserID(m.SenderID),
		Content:        m.Content,
		Type:           domain.MessageType(m.MessageType),
		ReadAt:         m.ReadAt,
		CreatedAt:      m.CreatedAt,
		CorrelationID:  m.CorrelationID,
	}, nil
}

func toChange(e *pb.ChangeEvent) event.Change {
	return event.Change{
		Table: event.Table(e.Table),
		Op:    event.Op(e.Op),
		Row:   e.Row,
		At:    e.At,
	}
}

func toMatches(filter event.Filter) []pb.Match {
	return lo.Map(filter.Any, func(m event.Match, _ int) pb.Match {
		return pb.Match{Column: m.Column, Value: m.Value}
	})
}
