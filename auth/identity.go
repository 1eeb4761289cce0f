package auth

import (
	"context"

	"convo-lab/contract"
	"convo-lab/domain"
	"convo-lab/errors"
)

type contextKey string

const (
	userIDKey contextKey = "user_id"
	rolesKey  contextKey = "roles"
)

// WithUser returns a context carrying the authenticated caller.
func WithUser(ctx context.Context, userID domain.UserID, roles ...domain.Role) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, rolesKey, roles)
}

func UserFromContext(ctx context.Context) (domain.UserID, bool) {
	userID, ok := ctx.Value(userIDKey).(domain.UserID)
	return userID, ok && userID != ""
}

func RolesFromContext(ctx context.Context) []domain.Role {
	roles, _ := ctx.Value(rolesKey).([]domain.Role)
	return roles
}

var _ contract.IIdentity = ContextIdentity{}

// ContextIdentity reads the caller set by WithUser or by the gRPC interceptor.
type ContextIdentity struct{}

func (ContextIdentity) CurrentUser(ctx context.Context) (domain.UserID, error) {
	userID, ok := UserFromContext(ctx)
	if !ok {
		return "", errors.ErrUnauthenticated
	}
	return userID, nil
}
