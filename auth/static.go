package auth

import (
	"context"
	"crypto/subtle"
	"sync"
)

// StaticTokenAuthenticator is an in-memory allow-list of bearer tokens. It
// requires no external identity provider, so the broker can be exercised
// end-to-end without one; production deployments are expected to supply
// their own Authenticator (e.g. backed by an OIDC introspection call).
type StaticTokenAuthenticator struct {
	mu     sync.RWMutex
	tokens map[string]struct{}
}

// NewStaticTokenAuthenticator creates an authenticator with no tokens
// allowed; call Add to populate it.
func NewStaticTokenAuthenticator() *StaticTokenAuthenticator {
	return &StaticTokenAuthenticator{tokens: make(map[string]struct{})}
}

// Add allows token to authenticate successfully.
func (a *StaticTokenAuthenticator) Add(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens[token] = struct{}{}
}

// Remove revokes token.
func (a *StaticTokenAuthenticator) Remove(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.tokens, token)
}

// Has reports whether token is currently allowed.
func (a *StaticTokenAuthenticator) Has(token string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.tokens[token]
	return ok
}

// Count returns the number of allowed tokens.
func (a *StaticTokenAuthenticator) Count() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.tokens)
}

// AuthenticateFromToken reports whether token is on the allow-list, using a
// constant-time comparison against each stored token.
func (a *StaticTokenAuthenticator) AuthenticateFromToken(_ context.Context, token string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for stored := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(stored), []byte(token)) == 1 {
			return true, nil
		}
	}
	return false, nil
}
