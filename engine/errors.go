package engine

import "errors"

var (
	// ErrNotConnected is raised when a frame other than CONNECT/STOMP
	// arrives before the session has connected.
	ErrNotConnected = errors.New("engine: Not connected, send CONNECT frame first")

	// ErrMissingAcceptVersion is raised when CONNECT/STOMP omits the
	// accept-version header.
	ErrMissingAcceptVersion = errors.New("engine: missing accept-version header")

	// ErrUnsupportedVersion is raised when accept-version does not list
	// the one version this broker negotiates.
	ErrUnsupportedVersion = errors.New("engine: accept-version does not include 1.2")

	// ErrMissingToken is raised when CONNECT/STOMP omits the token
	// header.
	ErrMissingToken = errors.New("engine: missing token header")

	// ErrAuthFailed is raised when the authenticator rejects the token.
	ErrAuthFailed = errors.New("engine: authentication failed")

	// ErrUnknownCommand is raised when a frame's command is not one the
	// engine dispatches: anything outside the recognized set, and also the
	// server-to-client commands (connected, message, error, receipt) when a
	// client sends them.
	ErrUnknownCommand = errors.New("engine: unknown command")

	// ErrMissingID is raised when SUBSCRIBE/UNSUBSCRIBE omits id.
	ErrMissingID = errors.New("engine: missing id header")

	// ErrMissingDestination is raised when SUBSCRIBE/UNSUBSCRIBE omits
	// destination.
	ErrMissingDestination = errors.New("engine: missing destination header")

	// ErrMissingTransaction is raised when BEGIN/COMMIT/ABORT omits the
	// transaction header.
	ErrMissingTransaction = errors.New("engine: missing transaction header")
)
