package domain

import (
	"strings"
	"testing"

	"convo-lab/errors"

	"github.com/stretchr/testify/require"
)

func TestSendMessageCommand_Normalize(t *testing.T) {
	tests := []struct {
		name    string
		cmd     SendMessageCommand
		max     int
		wantErr error
	}{
		{"Valid text", SendMessageCommand{ConversationID: "c1", SenderID: "alice", Content: "hello"}, 10, nil},
		{"Missing conversation", SendMessageCommand{SenderID: "alice", Content: "hello"}, 10, errors.ErrMissingConversation},
		{"Missing sender", SendMessageCommand{ConversationID: "c1", Content: "hello"}, 10, errors.ErrValidation},
		{"Blank content", SendMessageCommand{ConversationID: "c1", SenderID: "alice", Content: " \n\t "}, 10, errors.ErrEmptyContent},
		{"Too long", SendMessageCommand{ConversationID: "c1", SenderID: "alice", Content: strings.Repeat("a", 11)}, 10, errors.ErrContentTooLong},
		{"No limit", SendMessageCommand{ConversationID: "c1", SenderID: "alice", Content: strings.Repeat("a", 11)}, 0, nil},
		{"Unknown type", SendMessageCommand{ConversationID: "c1", SenderID: "alice", Content: "x", Type: "video"}, 10, errors.ErrInvalidMessageType},
		{"Correlation id too long", SendMessageCommand{ConversationID: "c1", SenderID: "alice", Content: "x", CorrelationID: strings.Repeat("c", 65)}, 10, errors.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			_, err := tt.cmd.Normalize(tt.max)
			if tt.wantErr != nil {
				req.ErrorIs(err, tt.wantErr)
				req.ErrorIs(err, errors.ErrValidation)
			} else {
				req.NoError(err)
			}
		})
	}
}

func TestSendMessageCommand_Normalize_TrimsAndDefaults(t *testing.T) {
	req := require.New(t)
	cmd, err := SendMessageCommand{ConversationID: "c1", SenderID: "alice", Content: "  hello  "}.Normalize(0)
	req.NoError(err)
	req.Equal("hello", cmd.Content)
	req.Equal(MessageTypeText, cmd.Type)
}

func TestStartConversationCommand_Validate(t *testing.T) {
	req := require.New(t)
	req.NoError(StartConversationCommand{CustomerID: "alice", ProviderID: "bob"}.Validate())
	req.ErrorIs(StartConversationCommand{CustomerID: "alice", ProviderID: "alice"}.Validate(), errors.ErrSameParticipant)
	req.ErrorIs(StartConversationCommand{CustomerID: "alice"}.Validate(), errors.ErrValidation)
}
