package errors

import (
	stderrors "errors"
	"fmt"
)

// Taxonomy roots. Every error returned by the core wraps one of them.
var (
	ErrValidation              = fmt.Errorf("validation error")
	ErrAuth                    = fmt.Errorf("auth error")
	ErrTransientIO             = fmt.Errorf("transient io error")
	ErrProjectionInconsistency = fmt.Errorf("projection inconsistency")
	ErrNotFound                = fmt.Errorf("not found")
)

var (
	ErrEmptyContent        = fmt.Errorf("%w: content is empty", ErrValidation)
	ErrContentTooLong      = fmt.Errorf("%w: content is too long", ErrValidation)
	ErrMissingConversation = fmt.Errorf("%w: no conversation selected", ErrValidation)
	ErrInvalidMessageType  = fmt.Errorf("%w: unknown message type", ErrValidation)
	ErrInvalidPassword     = fmt.Errorf("%w: password does not meet complexity rules", ErrValidation)
	ErrSameParticipant     = fmt.Errorf("%w: customer and provider must differ", ErrValidation)

	ErrUnauthenticated    = fmt.Errorf("%w: not authenticated", ErrAuth)
	ErrNotParticipant     = fmt.Errorf("%w: caller is not a participant", ErrAuth)
	ErrImpersonation      = fmt.Errorf("%w: caller may only act as themselves", ErrAuth)
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", ErrAuth)

	ErrConversationNotFound = fmt.Errorf("%w: conversation", ErrNotFound)
	ErrMessageNotFound      = fmt.Errorf("%w: message", ErrNotFound)
	ErrUserNotFound         = fmt.Errorf("%w: user", ErrNotFound)

	ErrUserAlreadyExists = fmt.Errorf("user already exists")
	ErrTokenGeneration   = fmt.Errorf("token generation failed")
	ErrWorkerPanic       = fmt.Errorf("worker panic")
	ErrSubscriptionGone  = fmt.Errorf("subscription closed")
)

// Transient marks err as a retryable I/O failure while keeping it inspectable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, ErrTransientIO) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransientIO, err)
}

// IsRetryable reports whether the caller may retry the failed operation.
// Validation and auth failures never are.
func IsRetryable(err error) bool {
	return stderrors.Is(err, ErrTransientIO)
}

func Is(err, target error) bool { return stderrors.Is(err, target) }
