package errors

import (
	stderrors "errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// MapToGRPCError translates the domain taxonomy into gRPC status codes.
func MapToGRPCError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok && !isDomain(err) {
		return err
	}
	switch {
	case stderrors.Is(err, ErrUnauthenticated), stderrors.Is(err, ErrInvalidCredentials):
		return status.Error(codes.Unauthenticated, err.Error())
	case stderrors.Is(err, ErrAuth):
		return status.Error(codes.PermissionDenied, err.Error())
	case stderrors.Is(err, ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case stderrors.Is(err, ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case stderrors.Is(err, ErrUserAlreadyExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case stderrors.Is(err, ErrTransientIO):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// FromGRPCError is the client side inverse of MapToGRPCError.
func FromGRPCError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unauthenticated:
		return wrapStatus(ErrUnauthenticated, st)
	case codes.PermissionDenied:
		return wrapStatus(ErrNotParticipant, st)
	case codes.InvalidArgument:
		return wrapStatus(ErrValidation, st)
	case codes.NotFound:
		return wrapStatus(ErrNotFound, st)
	case codes.AlreadyExists:
		return wrapStatus(ErrUserAlreadyExists, st)
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted:
		return wrapStatus(ErrTransientIO, st)
	default:
		return err
	}
}

func wrapStatus(sentinel error, st *status.Status) error {
	return &statusError{sentinel: sentinel, msg: st.Message()}
}

type statusError struct {
	sentinel error
	msg      string
}

func (e *statusError) Error() string { return e.msg }
func (e *statusError) Unwrap() error { return e.sentinel }

func isDomain(err error) bool {
	for _, s := range []error{ErrValidation, ErrAuth, ErrTransientIO, ErrNotFound, ErrUserAlreadyExists} {
		if stderrors.Is(err, s) {
			return true
		}
	}
	return false
}
