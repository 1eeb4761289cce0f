package convo

import (
	"fmt"
	"slices"
	"time"

	"github.com/samber/lo"
	"google.golang.org/protobuf/encoding/protowire"
)

// Wire layout of the convo.v1 messages. Field numbers must never be reused.
//
//	Profile                    1 full_name, 2 avatar_url (optional)
//	Conversation               1 id, 2 customer_id, 3 provider_id, 4 service_request_id (optional),
//	                           5 last_message (optional), 6 last_message_at (Timestamp),
//	                           7 created_at (Timestamp), 8 customer_profile, 9 provider_profile
//	Message                    1 id, 2 conversation_id, 3 sender_id, 4 content, 5 message_type,
//	                           6 read_at (Timestamp), 7 created_at (Timestamp), 8 correlation_id
//	ListConversationsRequest   1 user_id
//	ListConversationsResponse  1 conversations (repeated)
//	ListMessagesRequest        1 conversation_id
//	ListMessagesResponse       1 messages (repeated)
//	SendMessageRequest         1 conversation_id, 2 sender_id, 3 content, 4 message_type, 5 correlation_id
//	SendMessageResponse        1 message
//	MarkReadRequest            1 message_id
//	MarkReadResponse           1 message
//	StartConversationRequest   1 customer_id, 2 provider_id, 3 service_request_id (optional)
//	StartConversationResponse  1 conversation
//	Match                      1 column, 2 value
//	WatchRequest               1 table, 2 any (repeated Match)
//	ChangeEvent                1 table, 2 op, 3 row (map<string, string>), 4 at (Timestamp)
//	RegisterRequest            1 email, 2 password, 3 full_name, 4 role
//	LoginRequest               1 email, 2 password
//	AuthResponse               1 token, 2 user_id
//
// Timestamps use the google.protobuf.Timestamp layout: 1 seconds, 2 nanos.

var (
	_ wireMessage = (*Profile)(nil)
	_ wireMessage = (*Conversation)(nil)
	_ wireMessage = (*Message)(nil)
	_ wireMessage = (*ListConversationsRequest)(nil)
	_ wireMessage = (*ListConversationsResponse)(nil)
	_ wireMessage = (*ListMessagesRequest)(nil)
	_ wireMessage = (*ListMessagesResponse)(nil)
	_ wireMessage = (*SendMessageRequest)(nil)
	_ wireMessage = (*SendMessageResponse)(nil)
	_ wireMessage = (*MarkReadRequest)(nil)
	_ wireMessage = (*MarkReadResponse)(nil)
	_ wireMessage = (*StartConversationRequest)(nil)
	_ wireMessage = (*StartConversationResponse)(nil)
	_ wireMessage = (*Match)(nil)
	_ wireMessage = (*WatchRequest)(nil)
	_ wireMessage = (*ChangeEvent)(nil)
	_ wireMessage = (*RegisterRequest)(nil)
	_ wireMessage = (*LoginRequest)(nil)
	_ wireMessage = (*AuthResponse)(nil)
)

// field is one decoded varint or length-delimited field.
type field struct {
	num    protowire.Number
	varint uint64
	bytes  []byte
}

func (f field) str() string { return string(f.bytes) }

func (f field) optStr() *string {
	s := string(f.bytes)
	return &s
}

func (f field) time() (time.Time, error) {
	return consumeTime(f.bytes)
}

func (f field) optTime() (*time.Time, error) {
	t, err := consumeTime(f.bytes)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// eachField walks the fields of b. Fixed-size and group fields are skipped, they come
// from newer writers.
func eachField(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("decode tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		f := field{num: num}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("decode field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
		if typ != protowire.VarintType && typ != protowire.BytesType {
			continue
		}
		if err := fn(f); err != nil {
			return fmt.Errorf("decode field %d: %w", num, err)
		}
	}
	return nil
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	return appendOptString(b, num, &v)
}

// appendOptString writes v whenever it is set, an empty value keeps its presence.
func appendOptString(b []byte, num protowire.Number, v *string) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, *v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendMessage(b []byte, num protowire.Number, m wireMessage) []byte {
	return appendBytes(b, num, m.appendWire(nil))
}

func appendTime(b []byte, num protowire.Number, t time.Time) []byte {
	if t.IsZero() {
		return b
	}
	return appendBytes(b, num, timestamp(t))
}

func appendOptTime(b []byte, num protowire.Number, t *time.Time) []byte {
	if t == nil {
		return b
	}
	return appendBytes(b, num, timestamp(*t))
}

func timestamp(t time.Time) []byte {
	var b []byte
	if s := t.Unix(); s != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(s))
	}
	if n := t.Nanosecond(); n != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(n))
	}
	return b
}

func consumeTime(b []byte) (time.Time, error) {
	var seconds, nanos int64
	err := eachField(b, func(f field) error {
		switch f.num {
		case 1:
			seconds = int64(f.varint)
		case 2:
			nanos = int64(int32(f.varint))
		}
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	if nanos < 0 || nanos >= int64(time.Second) {
		return time.Time{}, fmt.Errorf("timestamp nanos out of range: %d", nanos)
	}
	return time.Unix(seconds, nanos).UTC(), nil
}

// appendRow writes a map<string, string> as sorted entries so that equal rows encode
// to equal bytes.
func appendRow(b []byte, num protowire.Number, row map[string]string) []byte {
	keys := lo.Keys(row)
	slices.Sort(keys)
	for _, k := range keys {
		var entry []byte
		entry = appendString(entry, 1, k)
		entry = appendString(entry, 2, row[k])
		b = appendBytes(b, num, entry)
	}
	return b
}

func consumeRowEntry(b []byte, row map[string]string) error {
	var key, value string
	err := eachField(b, func(f field) error {
		switch f.num {
		case 1:
			key = f.str()
		case 2:
			value = f.str()
		}
		return nil
	})
	if err != nil {
		return err
	}
	row[key] = value
	return nil
}

func (m *Profile) appendWire(b []byte) []byte {
	if m == nil {
		return b
	}
	b = appendString(b, 1, m.FullName)
	return appendOptString(b, 2, m.AvatarURL)
}

func (m *Profile) consumeWire(b []byte) error {
	*m = Profile{}
	return eachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.FullName = f.str()
		case 2:
			m.AvatarURL = f.optStr()
		}
		return nil
	})
}

func (m *Conversation) appendWire(b []byte) []byte {
	if m == nil {
		return b
	}
	b = appendString(b, 1, m.ID)
	b = appendString(b, 2, m.CustomerID)
	b = appendString(b, 3, m.ProviderID)
	b = appendOptString(b, 4, m.ServiceRequestID)
	b = appendOptString(b, 5, m.LastMessage)
	b = appendOptTime(b, 6, m.LastMessageAt)
	b = appendTime(b, 7, m.CreatedAt)
	b = appendMessage(b, 8, &m.CustomerProfile)
	return appendMessage(b, 9, &m.ProviderProfile)
}

func (m *Conversation) consumeWire(b []byte) error {
	*m = Conversation{}
	return eachField(b, func(f field) (err error) {
		switch f.num {
		case 1:
			m.ID = f.str()
		case 2:
			m.CustomerID = f.str()
		case 3:
			m.ProviderID = f.str()
		case 4:
			m.ServiceRequestID = f.optStr()
		case 5:
			m.LastMessage = f.optStr()
		case 6:
			m.LastMessageAt, err = f.optTime()
		case 7:
			m.CreatedAt, err = f.time()
		case 8:
			err = m.CustomerProfile.consumeWire(f.bytes)
		case 9:
			err = m.ProviderProfile.consumeWire(f.bytes)
		}
		return err
	})
}

func (m *Message) appendWire(b []byte) []byte {
	if m == nil {
		return b
	}
	b = appendString(b, 1, m.ID)
	b = appendString(b, 2, m.ConversationID)
	b = appendString(b, 3, m.SenderID)
	b = appendString(b, 4, m.Content)
	b = appendString(b, 5, m.MessageType)
	b = appendOptTime(b, 6, m.ReadAt)
	b = appendTime(b, 7, m.CreatedAt)
	return appendString(b, 8, m.CorrelationID)
}

func (m *Message) consumeWire(b []byte) error {
	*m = Message{}
	return eachField(b, func(f field) (err error) {
		switch f.num {
		case 1:
			m.ID = f.str()
		case 2:
			m.ConversationID = f.str()
		case 3:
			m.SenderID = f.str()
		case 4:
			m.Content = f.str()
		case 5:
			m.MessageType = f.str()
		case 6:
			m.ReadAt, err = f.optTime()
		case 7:
			m.CreatedAt, err = f.time()
		case 8:
			m.CorrelationID = f.str()
		}
		return err
	})
}

func (m *ListConversationsRequest) appendWire(b []byte) []byte {
	if m == nil {
		return b
	}
	return appendString(b, 1, m.UserID)
}

func (m *ListConversationsRequest) consumeWire(b []byte) error {
	*m = ListConversationsRequest{}
	return eachField(b, func(f field) error {
		if f.num == 1 {
			m.UserID = f.str()
		}
		return nil
	})
}

func (m *ListConversationsResponse) appendWire(b []byte) []byte {
	if m == nil {
		return b
	}
	for _, c := range m.Conversations {
		if c != nil {
			b = appendMessage(b, 1, c)
		}
	}
	return b
}

func (m *ListConversationsResponse) consumeWire(b []byte) error {
	*m = ListConversationsResponse{}
	return eachField(b, func(f field) error {
		if f.num != 1 {
			return nil
		}
		c := new(Conversation)
		if err := c.consumeWire(f.bytes); err != nil {
			return err
		}
		m.Conversations = append(m.Conversations, c)
		return nil
	})
}

func (m *ListMessagesRequest) appendWire(b []byte) []byte {
	if m == nil {
		return b
	}
	return appendString(b, 1, m.ConversationID)
}

func (m *ListMessagesRequest) consumeWire(b []byte) error {
	*m = ListMessagesRequest{}
	return eachField(b, func(f field) error {
		if f.num == 1 {
			m.ConversationID = f.str()
		}
		return nil
	})
}

func (m *ListMessagesResponse) appendWire(b []byte) []byte {
	if m == nil {
		return b
	}
	for _, message := range m.Messages {
		if message != nil {
			b = appendMessage(b, 1, message)
		}
	}
	return b
}

func (m *ListMessagesResponse) consumeWire(b []byte) error {
	*m = ListMessagesResponse{}
	return eachField(b, func(f field) error {
		if f.num != 1 {
			return nil
		}
		message := new(Message)
		if err := message.consumeWire(f.bytes); err != nil {
			return err
		}
		m.Messages = append(m.Messages, message)
		return nil
	})
}

func (m *SendMessageRequest) appendWire(b []byte) []byte {
	if m == nil {
		return b
	}
	b = appendString(b, 1, m.ConversationID)
	b = appendString(b, 2, m.SenderID)
	b = appendString(b, 3, m.Content)
	b = appendString(b, 4, m.MessageType)
	return appendString(b, 5, m.CorrelationID)
}

func (m *SendMessageRequest) consumeWire(b []byte) error {
	*m = SendMessageRequest{}
	return eachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.ConversationID = f.str()
		case 2:
			m.SenderID = f.str()
		case 3:
			m.Content = f.str()
		case 4:
			m.MessageType = f.str()
		case 5:
			m.CorrelationID = f.str()
		}
		return nil
	})
}

// appendSingleMessage and consumeSingleMessage serve the responses that only carry
// one Message.
func appendSingleMessage(b []byte, message *Message) []byte {
	if message == nil {
		return b
	}
	return appendMessage(b, 1, message)
}

func consumeSingleMessage(b []byte) (*Message, error) {
	var message *Message
	err := eachField(b, func(f field) error {
		if f.num != 1 {
			return nil
		}
		message = new(Message)
		return message.consumeWire(f.bytes)
	})
	return message, err
}

func (m *SendMessageResponse) appendWire(b []byte) []byte {
	if m == nil {
		return b
	}
	return appendSingleMessage(b, m.Message)
}

func (m *SendMessageResponse) consumeWire(b []byte) (err error) {
	*m = SendMessageResponse{}
	m.Message, err = consumeSingleMessage(b)
	return err
}

func (m *MarkReadRequest) appendWire(b []byte) []byte {
	if m == nil {
		return b
	}
	return appendString(b, 1, m.MessageID)
}

func (m *MarkReadRequest) consumeWire(b []byte) error {
	*m = MarkReadRequest{}
	return eachField(b, func(f field) error {
		if f.num == 1 {
			m.MessageID = f.str()
		}
		return nil
	})
}

func (m *MarkReadResponse) appendWire(b []byte) []byte {
	if m == nil {
		return b
	}
	return appendSingleMessage(b, m.Message)
}

func (m *MarkReadResponse) consumeWire(b []byte) (err error) {
	*m = MarkReadResponse{}
	m.Message, err = consumeSingleMessage(b)
	return err
}

func (m *StartConversationRequest) appendWire(b []byte) []byte {
	if m == nil {
		return b
	}
	b = appendString(b, 1, m.CustomerID)
	b = appendString(b, 2, m.ProviderID)
	return appendOptString(b, 3, m.ServiceRequestID)
}

func (m *StartConversationRequest) consumeWire(b []byte) error {
	*m = StartConversationRequest{}
	return eachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.CustomerID = f.str()
		case 2:
			m.ProviderID = f.str()
		case 3:
			m.ServiceRequestID = f.optStr()
		}
		return nil
	})
}

func (m *StartConversationResponse) appendWire(b []byte) []byte {
	if m == nil || m.Conversation == nil {
		return b
	}
	return appendMessage(b, 1, m.Conversation)
}

func (m *StartConversationResponse) consumeWire(b []byte) error {
	*m = StartConversationResponse{}
	return eachField(b, func(f field) error {
		if f.num != 1 {
			return nil
		}
		m.Conversation = new(Conversation)
		return m.Conversation.consumeWire(f.bytes)
	})
}

func (m *Match) appendWire(b []byte) []byte {
	if m == nil {
		return b
	}
	b = appendString(b, 1, m.Column)
	return appendString(b, 2, m.Value)
}

func (m *Match) consumeWire(b []byte) error {
	*m = Match{}
	return eachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.Column = f.str()
		case 2:
			m.Value = f.str()
		}
		return nil
	})
}

func (m *WatchRequest) appendWire(b []byte) []byte {
	if m == nil {
		return b
	}
	b = appendString(b, 1, m.Table)
	for i := range m.Any {
		b = appendMessage(b, 2, &m.Any[i])
	}
	return b
}

func (m *WatchRequest) consumeWire(b []byte) error {
	*m = WatchRequest{}
	return eachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.Table = f.str()
		case 2:
			var match Match
			if err := match.consumeWire(f.bytes); err != nil {
				return err
			}
			m.Any = append(m.Any, match)
		}
		return nil
	})
}

func (m *ChangeEvent) appendWire(b []byte) []byte {
	if m == nil {
		return b
	}
	b = appendString(b, 1, m.Table)
	b = appendString(b, 2, m.Op)
	b = appendRow(b, 3, m.Row)
	return appendTime(b, 4, m.At)
}

func (m *ChangeEvent) consumeWire(b []byte) error {
	*m = ChangeEvent{}
	return eachField(b, func(f field) (err error) {
		switch f.num {
		case 1:
			m.Table = f.str()
		case 2:
			m.Op = f.str()
		case 3:
			if m.Row == nil {
				m.Row = make(map[string]string)
			}
			err = consumeRowEntry(f.bytes, m.Row)
		case 4:
			m.At, err = f.time()
		}
		return err
	})
}

func (m *RegisterRequest) appendWire(b []byte) []byte {
	if m == nil {
		return b
	}
	b = appendString(b, 1, m.Email)
	b = appendString(b, 2, m.Password)
	b = appendString(b, 3, m.FullName)
	return appendString(b, 4, m.Role)
}

func (m *RegisterRequest) consumeWire(b []byte) error {
	*m = RegisterRequest{}
	return eachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.Email = f.str()
		case 2:
			m.Password = f.str()
		case 3:
			m.FullName = f.str()
		case 4:
			m.Role = f.str()
		}
		return nil
	})
}

func (m *LoginRequest) appendWire(b []byte) []byte {
	if m == nil {
		return b
	}
	b = appendString(b, 1, m.Email)
	return appendString(b, 2, m.Password)
}

func (m *LoginRequest) consumeWire(b []byte) error {
	*m = LoginRequest{}
	return eachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.Email = f.str()
		case 2:
			m.Password = f.str()
		}
		return nil
	})
}

func (m *AuthResponse) appendWire(b []byte) []byte {
	if m == nil {
		return b
	}
	b = appendString(b, 1, m.Token)
	return appendString(b, 2, m.UserID)
}

func (m *AuthResponse) consumeWire(b []byte) error {
	*m = AuthResponse{}
	return eachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.Token = f.str()
		case 2:
			m.UserID = f.str()
		}
		return nil
	})
}
