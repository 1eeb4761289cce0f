package server

import (
	"context"
	"fmt"
	"log/slog"

	"convo-lab/contract"
	"convo-lab/domain"
	"convo-lab/domain/event"
	"convo-lab/errors"
	pb "convo-lab/proto/convo"
	"convo-lab/services"
	"convo-lab/telemetry"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type ChatServer struct {
	pb.UnimplementedChatServiceServer
	log         *slog.Logger
	chatService services.IChatService
	bus         contract.IChangeBus
	identity    contract.IIdentity
	emitter     *telemetry.Emitter
}

func NewChatServer(log *slog.Logger, chatService services.IChatService, bus contract.IChangeBus, identity contract.IIdentity) *ChatServer {
	return &ChatServer{log: log, chatService: chatService, bus: bus, identity: identity}
}

// WithEmitter reports the commit to delivery latency of every forwarded change.
func (s *ChatServer) WithEmitter(emitter *telemetry.Emitter) *ChatServer {
	s.emitter = emitter
	return s
}

func (s *ChatServer) ListConversations(ctx context.Context, req *pb.ListConversationsRequest) (*pb.ListConversationsResponse, error) {
	conversations, err := s.chatService.ListConversations(ctx, domain.UserID(req.UserID))
	if err != nil {
		return nil, errors.MapToGRPCError(err)
	}
	return &pb.ListConversationsResponse{Conversations: toConversations(conversations)}, nil
}

func (s *ChatServer) ListMessages(ctx context.Context, req *pb.ListMessagesRequest) (*pb.ListMessagesResponse, error) {
	messages, err := s.chatService.ListMessages(ctx, domain.ConversationID(req.ConversationID))
	if err != nil {
		return nil, errors.MapToGRPCError(err)
	}
	return &pb.ListMessagesResponse{Messages: toMessages(messages)}, nil
}

// SendMessage persists the message and answers with the stored copy, whose id and
// created_at let the caller reconcile its optimistic entry.
func (s *ChatServer) SendMessage(ctx context.Context, req *pb.SendMessageRequest) (*pb.SendMessageResponse, error) {
	message, err := s.chatService.Send(ctx, domain.SendMessageCommand{
		ConversationID: domain.ConversationID(req.ConversationID),
		SenderID:       domain.UserID(req.SenderID),
		Content:        req.Content,
		Type:           domain.MessageType(req.MessageType),
		CorrelationID:  req.CorrelationID,
	})
	if err != nil {
		return nil, errors.MapToGRPCError(err)
	}
	return &pb.SendMessageResponse{Message: toMessage(message)}, nil
}

func (s *ChatServer) MarkRead(ctx context.Context, req *pb.MarkReadRequest) (*pb.MarkReadResponse, error) {
	id, err := uuid.Parse(req.MessageID)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid message id")
	}
	message, err := s.chatService.MarkRead(ctx, id)
	if err != nil {
		return nil, errors.MapToGRPCError(err)
	}
	return &pb.MarkReadResponse{Message: toMessage(message)}, nil
}

func (s *ChatServer) StartConversation(ctx context.Context, req *pb.StartConversationRequest) (*pb.StartConversationResponse, error) {
	conversation, err := s.chatService.StartConversation(ctx, domain.StartConversationCommand{
		CustomerID:       domain.UserID(req.CustomerID),
		ProviderID:       domain.UserID(req.ProviderID),
		ServiceRequestID: req.ServiceRequestID,
	})
	if err != nil {
		return nil, errors.MapToGRPCError(err)
	}
	return &pb.StartConversationResponse{Conversation: toConversation(conversation)}, nil
}

// Watch streams the changes of one scope until the client leaves.
// The first event is always a resync: it confirms the subscription and tells the
// client to refetch whatever it may have missed before.
// The stream ends with Unavailable when the bus drops the subscription, so that the
// client reconnects.
func (s *ChatServer) Watch(req *pb.WatchRequest, stream grpc.ServerStreamingServer[pb.ChangeEvent]) error {
	ctx := stream.Context()
	table, filter, err := s.authorizeWatch(ctx, req)
	if err != nil {
		return errors.MapToGRPCError(err)
	}

	sub, err := s.bus.Subscribe(ctx, table, filter)
	if err != nil {
		return errors.MapToGRPCError(err)
	}
	defer func() {
		if err := s.bus.Unsubscribe(context.WithoutCancel(ctx), sub); err != nil {
			s.log.Warn("Watch unsubscribe failed", "table", table, "error", err)
		}
	}()

	if err := stream.Send(toChangeEvent(event.Resync(table))); err != nil {
		return err
	}
	s.log.Debug("Watch started", "table", table, "filter", filter.String())

	for {
		select {
		case <-ctx.Done():
			s.log.Debug("Watch ended by client", "table", table, "filter", filter.String())
			return nil
		case change, ok := <-sub.Events():
			if !ok {
				return status.Error(codes.Unavailable, "subscription closed")
			}
			if err := stream.Send(toChangeEvent(change)); err != nil {
				s.log.Warn("Failed to push change to stream", "table", table, "error", err)
				return err
			}
			if change.Op != event.OpResync {
				s.emitter.Emit(telemetry.ChangeDeliveredType, telemetry.ChangeDelivered{Table: change.Table, Op: change.Op, At: change.At})
			}
		}
	}
}

// authorizeWatch only lets a caller observe rows it may read: its own conversation
// list, or the messages of conversations it takes part in.
func (s *ChatServer) authorizeWatch(ctx context.Context, req *pb.WatchRequest) (event.Table, event.Filter, error) {
	caller, err := s.identity.CurrentUser(ctx)
	if err != nil {
		return "", event.Filter{}, err
	}
	if len(req.Any) == 0 {
		return "", event.Filter{}, fmt.Errorf("%w: unbounded watch", errors.ErrNotParticipant)
	}
	filter := event.Filter{Any: lo.Map(req.Any, func(m pb.Match, _ int) event.Match {
		return event.Match{Column: m.Column, Value: m.Value}
	})}

	switch table := event.Table(req.Table); table {
	case event.TableConversations:
		for _, m := range filter.Any {
			if (m.Column != event.ColumnCustomerID && m.Column != event.ColumnProviderID) || m.Value != string(caller) {
				return "", event.Filter{}, errors.ErrImpersonation
			}
		}
		return table, filter, nil
	case event.TableMessages:
		for _, conversationID := range lo.Uniq(lo.Map(filter.Any, func(m event.Match, _ int) string { return m.Value })) {
			if _, err := s.chatService.CheckParticipant(ctx, domain.ConversationID(conversationID)); err != nil {
				return "", event.Filter{}, err
			}
		}
		for _, m := range filter.Any {
			if m.Column != event.ColumnConversationID {
				return "", event.Filter{}, fmt.Errorf("%w: messages are watched by conversation", errors.ErrValidation)
			}
		}
		return table, filter, nil
	default:
		return "", event.Filter{}, fmt.Errorf("%w: unknown table %q", errors.ErrValidation, req.Table)
	}
}
