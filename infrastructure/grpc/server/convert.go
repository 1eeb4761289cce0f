package server

import (
	"convo-lab/domain"
	"convo-lab/domain/event"
	pb "convo-lab/proto/convo"

	"github.com/samber/lo"
)

func toConversation(c domain.Conversation) *pb.Conversation {
	out := &pb.Conversation{
		ID:               string(c.ID),
		CustomerID:       string(c.CustomerID),
		ProviderID:       string(c.ProviderID),
		ServiceRequestID: c.ServiceRequestID,
		LastMessage:      c.LastMessage,
		CreatedAt:        c.CreatedAt,
		CustomerProfile:  pb.Profile{FullName: c.CustomerProfile.FullName, AvatarURL: c.CustomerProfile.AvatarURL},
		ProviderProfile:  pb.Profile{FullName: c.ProviderProfile.FullName, AvatarURL: c.ProviderProfile.AvatarURL},
	}
	if c.LastMessage != nil {
		out.LastMessageAt = lo.ToPtr(c.LastMessageAt)
	}
	return out
}

func toConversations(conversations []domain.Conversation) []*pb.Conversation {
	return lo.Map(conversations, func(item domain.Conversation, _ int) *pb.Conversation {
		return toConversation(item)
	})
}

func toMessage(m domain.Message) *pb.Message {
	return &pb.Message{
		ID:             m.ID.String(),
		ConversationID: string(m.ConversationID),
		SenderID:       string(m.SenderID),
		Content:        m.Content,
		MessageType:    string(m.Type),
		ReadAt:         m.ReadAt,
		CreatedAt:      m.CreatedAt,
		CorrelationID:  m.CorrelationID,
	}
}

func toMessages(messages []domain.Message) []*pb.Message {
	return lo.Map(messages, func(item domain.Message, _ int) *pb.Message {
		return toMessage(item)
	})
}

func toChangeEvent(change event.Change) *pb.ChangeEvent {
	return &pb.ChangeEvent{
		Table: string(change.Table),
		Op:    string(change.Op),
		Row:   change.Row,
		At:    change.At,
	}
}
