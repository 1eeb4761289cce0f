// Package convo holds the wire types and service descriptors of the convo.v1 gRPC API.
// Messages are plain structs encoded as protobuf wire messages by wire.go.
package convo

import "time"

type Profile struct {
	FullName  string  `json:"full_name"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

type Conversation struct {
	ID               string     `json:"id"`
	CustomerID       string     `json:"customer_id"`
	ProviderID       string     `json:"provider_id"`
	ServiceRequestID *string    `json:"service_request_id,omitempty"`
	LastMessage      *string    `json:"last_message,omitempty"`
	LastMessageAt    *time.Time `json:"last_message_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	CustomerProfile  Profile    `json:"customer_profile"`
	ProviderProfile  Profile    `json:"provider_profile"`
}

type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	Content        string     `json:"content"`
	MessageType    string     `json:"message_type"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CorrelationID  string     `json:"correlation_id,omitempty"`
}

type ListConversationsRequest struct {
	UserID string `json:"user_id"`
}

type ListConversationsResponse struct {
	Conversations []*Conversation `json:"conversations"`
}

type ListMessagesRequest struct {
	ConversationID string `json:"conversation_id"`
}

type ListMessagesResponse struct {
	Messages []*Message `json:"messages"`
}

type SendMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Content        string `json:"content"`
	MessageType    string `json:"message_type,omitempty"`
	CorrelationID  string `json:"correlation_id,omitempty"`
}

type SendMessageResponse struct {
	Message *Message `json:"message"`
}

type MarkReadRequest struct {
	MessageID string `json:"message_id"`
}

type MarkReadResponse struct {
	Message *Message `json:"message"`
}

type StartConversationRequest struct {
	CustomerID       string  `json:"customer_id"`
	ProviderID       string  `json:"provider_id"`
	ServiceRequestID *string `json:"service_request_id,omitempty"`
}

type StartConversationResponse struct {
	Conversation *Conversation `json:"conversation"`
}

type Match struct {
	Column string `json:"column"`
	Value  string `json:"value"`
}

type WatchRequest struct {
	Table string  `json:"table"`
	Any   []Match `json:"any"`
}

type ChangeEvent struct {
	Table string            `json:"table"`
	Op    string            `json:"op"`
	Row   map[string]string `json:"row,omitempty"`
	At    time.Time         `json:"at"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}
