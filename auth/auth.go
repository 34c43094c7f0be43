// Package auth defines the authenticator port consumed by the protocol
// engine on CONNECT, plus a dependency-free reference implementation.
package auth

import "context"

// Authenticator validates a bearer token presented on CONNECT/STOMP.
// Returning false (or a non-nil error) causes the engine to reject the
// session without marking it connected.
type Authenticator interface {
	AuthenticateFromToken(ctx context.Context, token string) (bool, error)
}
