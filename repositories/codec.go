package repositories

import (
	"fmt"
	"time"

	"convo-lab/domain"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// Records are stored as protobuf wire messages. Field numbers are part of the on-disk
// format and must never be reused.
const (
	messageID             protowire.Number = 1
	messageConversationID protowire.Number = 2
	messageSenderID       protowire.Number = 3
	messageContent        protowire.Number = 4
	messageType           protowire.Number = 5
	messageReadAt         protowire.Number = 6
	messageCreatedAt      protowire.Number = 7
	messageCorrelationID  protowire.Number = 8
)

const (
	conversationID               protowire.Number = 1
	conversationCustomerID       protowire.Number = 2
	conversationProviderID       protowire.Number = 3
	conversationServiceRequestID protowire.Number = 4
	conversationLastMessage      protowire.Number = 5
	conversationLastMessageAt    protowire.Number = 6
	conversationCreatedAt        protowire.Number = 7
)

const (
	userID           protowire.Number = 1
	userEmail        protowire.Number = 2
	userPasswordHash protowire.Number = 3
	userRoles        protowire.Number = 4
	userFullName     protowire.Number = 5
	userAvatarURL    protowire.Number = 6
	userCreatedAt    protowire.Number = 7
)

type recordWriter struct {
	b []byte
}

func (w *recordWriter) string(num protowire.Number, v string) {
	if v == "" {
		return
	}
	w.optString(num, &v)
}

// optString writes the field whenever v is set, so an empty value keeps its presence.
func (w *recordWriter) optString(num protowire.Number, v *string) {
	if v == nil {
		return
	}
	w.b = protowire.AppendTag(w.b, num, protowire.BytesType)
	w.b = protowire.AppendString(w.b, *v)
}

func (w *recordWriter) time(num protowire.Number, t time.Time) {
	if t.IsZero() {
		return
	}
	w.b = protowire.AppendTag(w.b, num, protowire.VarintType)
	w.b = protowire.AppendVarint(w.b, uint64(t.UnixNano()))
}

func (w *recordWriter) optTime(num protowire.Number, t *time.Time) {
	if t == nil {
		return
	}
	w.time(num, *t)
}

type record struct {
	strings map[protowire.Number][]string
	varints map[protowire.Number]uint64
}

func decodeRecord(b []byte) (record, error) {
	r := record{
		strings: make(map[protowire.Number][]string),
		varints: make(map[protowire.Number]uint64),
	}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return r, fmt.Errorf("decode tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch typ {
		case protowire.BytesType:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return r, fmt.Errorf("decode field %d: %w", num, protowire.ParseError(m))
			}
			r.strings[num] = append(r.strings[num], v)
			n = m
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return r, fmt.Errorf("decode field %d: %w", num, protowire.ParseError(m))
			}
			r.varints[num] = v
			n = m
		default:
			// Unknown wire types come from newer writers, skip them.
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return r, fmt.Errorf("skip field %d: %w", num, protowire.ParseError(n))
			}
		}
		b = b[n:]
	}
	return r, nil
}

func (r record) str(num protowire.Number) string {
	if v := r.optStr(num); v != nil {
		return *v
	}
	return ""
}

func (r record) optStr(num protowire.Number) *string {
	values := r.strings[num]
	if len(values) == 0 {
		return nil
	}
	v := values[len(values)-1]
	return &v
}

func (r record) time(num protowire.Number) time.Time {
	v, ok := r.varints[num]
	if !ok {
		return time.Time{}
	}
	return time.Unix(0, int64(v)).UTC()
}

func (r record) optTime(num protowire.Number) *time.Time {
	if _, ok := r.varints[num]; !ok {
		return nil
	}
	t := r.time(num)
	return &t
}

func encodeMessage(m domain.Message) []byte {
	var w recordWriter
	w.string(messageID, m.ID.String())
	w.string(messageConversationID, string(m.ConversationID))
	w.string(messageSenderID, string(m.SenderID))
	w.string(messageContent, m.Content)
	w.string(messageType, string(m.Type))
	w.optTime(messageReadAt, m.ReadAt)
	w.time(messageCreatedAt, m.CreatedAt)
	w.string(messageCorrelationID, m.CorrelationID)
	return w.b
}

func decodeMessage(b []byte) (domain.Message, error) {
	r, err := decodeRecord(b)
	if err != nil {
		return domain.Message{}, err
	}
	id, err := uuid.Parse(r.str(messageID))
	if err != nil {
		return domain.Message{}, fmt.Errorf("decode message id: %w", err)
	}
	return domain.Message{
		ID:             id,
		ConversationID: domain.ConversationID(r.str(messageConversationID)),
		SenderID:       domain.UserID(r.str(messageSenderID)),
		Content:        r.str(messageContent),
		Type:           domain.MessageType(r.str(messageType)),
		ReadAt:         r.optTime(messageReadAt),
		CreatedAt:      r.time(messageCreatedAt),
		CorrelationID:  r.str(messageCorrelationID),
	}, nil
}

func encodeConversation(c domain.Conversation) []byte {
	var w recordWriter
	w.string(conversationID, string(c.ID))
	w.string(conversationCustomerID, string(c.CustomerID))
	w.string(conversationProviderID, string(c.ProviderID))
	w.optString(conversationServiceRequestID, c.ServiceRequestID)
	w.optString(conversationLastMessage, c.LastMessage)
	w.time(conversationLastMessageAt, c.LastMessageAt)
	w.time(conversationCreatedAt, c.CreatedAt)
	return w.b
}

func decodeConversation(b []byte) (domain.Conversation, error) {
	r, err := decodeRecord(b)
	if err != nil {
		return domain.Conversation{}, err
	}
	return domain.Conversation{
		ID:               domain.ConversationID(r.str(conversationID)),
		CustomerID:       domain.UserID(r.str(conversationCustomerID)),
		ProviderID:       domain.UserID(r.str(conversationProviderID)),
		ServiceRequestID: r.optStr(conversationServiceRequestID),
		LastMessage:      r.optStr(conversationLastMessage),
		LastMessageAt:    r.time(conversationLastMessageAt),
		CreatedAt:        r.time(conversationCreatedAt),
	}, nil
}

func encodeUser(u domain.User) []byte {
	var w recordWriter
	w.string(userID, string(u.ID))
	w.string(userEmail, u.Email)
	w.string(userPasswordHash, u.PasswordHash)
	for _, role := range u.Roles {
		w.string(userRoles, string(role))
	}
	w.string(userFullName, u.FullName)
	w.optString(userAvatarURL, u.AvatarURL)
	w.time(userCreatedAt, u.CreatedAt)
	return w.b
}

func decodeUser(b []byte) (domain.User, error) {
	r, err := decodeRecord(b)
	if err != nil {
		return domain.User{}, err
	}
	var roles []domain.Role
	for _, role := range r.strings[userRoles] {
		roles = append(roles, domain.Role(role))
	}
	return domain.User{
		ID:           domain.UserID(r.str(userID)),
		Email:        r.str(userEmail),
		PasswordHash: r.str(userPasswordHash),
		Roles:        roles,
		FullName:     r.str(userFullName),
		AvatarURL:    r.optStr(userAvatarURL),
		CreatedAt:    r.time(userCreatedAt),
	}, nil
}
