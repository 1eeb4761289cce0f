package client

import (
	"context"
	"sync"

	"convo-lab/auth"
)

// TokenCredentials attaches the bearer token of the signed in user to every call.
// The token is set after Login, calls made before carry no header.
type TokenCredentials struct {
	mu    sync.RWMutex
	token string
}

func NewTokenCredentials() *TokenCredentials {
	return &TokenCredentials{}
}

func (c *TokenCredentials) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *TokenCredentials) GetRequestMetadata(_ context.Context, _ ...string) (map[string]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" {
		return map[string]string{}, nil
	}
	return map[string]string{auth.AuthorizationHeader: "Bearer " + c.token}, nil
}

// RequireTransportSecurity is false: the lab runs over plaintext connections.
func (c *TokenCredentials) RequireTransportSecurity() bool {
	return false
}
