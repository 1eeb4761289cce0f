package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"convo-lab/errors"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type SendMessageCommand struct {
	ConversationID ConversationID `validate:"required"`
	SenderID       UserID         `validate:"required"`
	Content        string
	Type           MessageType
	CorrelationID  string `validate:"omitempty,max=64"`
}

// Normalize trims the content, defaults the type and checks the command.
// maxContentLength <= 0 disables the length check.
func (c SendMessageCommand) Normalize(maxContentLength int) (SendMessageCommand, error) {
	if c.ConversationID == "" {
		return c, errors.ErrMissingConversation
	}
	if err := validate.Struct(c); err != nil {
		return c, fmt.Errorf("%w: %v", errors.ErrValidation, err)
	}
	c.Content = strings.TrimSpace(c.Content)
	if c.Content == "" {
		return c, errors.ErrEmptyContent
	}
	if maxContentLength > 0 && utf8.RuneCountInString(c.Content) > maxContentLength {
		return c, errors.ErrContentTooLong
	}
	if c.Type == "" {
		c.Type = MessageTypeText
	}
	if !c.Type.IsValid() {
		return c, errors.ErrInvalidMessageType
	}
	return c, nil
}

type StartConversationCommand struct {
	CustomerID       UserID `validate:"required"`
	ProviderID       UserID `validate:"required"`
	ServiceRequestID *string
}

func (c StartConversationCommand) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrValidation, err)
	}
	if c.CustomerID == c.ProviderID {
		return errors.ErrSameParticipant
	}
	return nil
}
