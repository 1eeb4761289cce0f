package client

import (
	"context"
	"fmt"

	"convo-lab/domain"
	"convo-lab/errors"
	pb "convo-lab/proto/convo"

	"github.com/google/uuid"
	"google.golang.org/grpc"
)

// ChatClient is the remote implementation of the caller facing chat API.
type ChatClient struct {
	chat        pb.ChatServiceClient
	auth        pb.AuthServiceClient
	credentials *TokenCredentials
}

// NewChatClient wires both service clients on conn. credentials must be the ones
// passed to grpc.WithPerRPCCredentials when conn was built, Login stores the token there.
func NewChatClient(conn grpc.ClientConnInterface, credentials *TokenCredentials) *ChatClient {
	return &ChatClient{
		chat:        pb.NewChatServiceClient(conn),
		auth:        pb.NewAuthServiceClient(conn),
		credentials: credentials,
	}
}

// Service exposes the raw chat client, used by RemoteBus.
func (c *ChatClient) Service() pb.ChatServiceClient {
	return c.chat
}

func (c *ChatClient) Register(ctx context.Context, email, password, fullName string, role domain.Role) (domain.UserID, error) {
	resp, err := c.auth.Register(ctx, &pb.RegisterRequest{Email: email, Password: password, FullName: fullName, Role: string(role)})
	if err != nil {
		return "", errors.FromGRPCError(err)
	}
	c.credentials.SetToken(resp.Token)
	return domain.UserID(resp.UserID), nil
}

func (c *ChatClient) Login(ctx context.Context, email, password string) (domain.UserID, error) {
	resp, err := c.auth.Login(ctx, &pb.LoginRequest{Email: email, Password: password})
	if err != nil {
		return "", errors.FromGRPCError(err)
	}
	c.credentials.SetToken(resp.Token)
	return domain.UserID(resp.UserID), nil
}

func (c *ChatClient) ListConversations(ctx context.Context, userID domain.UserID) ([]domain.Conversation, error) {
	resp, err := c.chat.ListConversations(ctx, &pb.ListConversationsRequest{UserID: string(userID)})
	if err != nil {
		return nil, errors.FromGRPCError(err)
	}
	conversations := make([]domain.Conversation, 0, len(resp.Conversations))
	for _, conversation := range resp.Conversations {
		conversations = append(conversations, ToConversation(conversation))
	}
	return conversations, nil
}

func (c *ChatClient) ListMessages(ctx context.Context, conversationID domain.ConversationID) ([]domain.Message, error) {
	resp, err := c.chat.ListMessages(ctx, &pb.ListMessagesRequest{ConversationID: string(conversationID)})
	if err != nil {
		return nil, errors.FromGRPCError(err)
	}
	messages := make([]domain.Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		message, err := ToMessage(m)
		if err != nil {
			return nil, fmt.Errorf("message %q: %w", m.ID, err)
		}
		messages = append(messages, message)
	}
	return messages, nil
}

func (c *ChatClient) Send(ctx context.Context, cmd domain.SendMessageCommand) (domain.Message, error) {
	resp, err := c.chat.SendMessage(ctx, &pb.SendMessageRequest{
		ConversationID: string(cmd.ConversationID),
		SenderID:       string(cmd.SenderID),
		Content:        cmd.Content,
		MessageType:    string(cmd.Type),
		CorrelationID:  cmd.CorrelationID,
	})
	if err != nil {
		return domain.Message{}, errors.FromGRPCError(err)
	}
	return ToMessage(resp.Message)
}

func (c *ChatClient) MarkRead(ctx context.Context, messageID uuid.UUID) (domain.Message, error) {
	resp, err := c.chat.MarkRead(ctx, &pb.MarkReadRequest{MessageID: messageID.String()})
	if err != nil {
		return domain.Message{}, errors.FromGRPCError(err)
	}
	return ToMessage(resp.Message)
}

func (c *ChatClient) StartConversation(ctx context.Context, cmd domain.StartConversationCommand) (domain.Conversation, error) {
	resp, err := c.chat.StartConversation(ctx, &pb.StartConversationRequest{
		CustomerID:       string(cmd.CustomerID),
		ProviderID:       string(cmd.ProviderID),
		ServiceRequestID: cmd.ServiceRequestID,
	})
	if err != nil {
		return domain.Conversation{}, errors.FromGRPCError(err)
	}
	return ToConversation(resp.Conversation), nil
}
