// Package errs defines the error taxonomy the agent runtime surfaces to
// callers. Synchronous operations wrap one of these sentinels with
// fmt.Errorf("...: %w", ...) so callers can errors.Is against the kind
// without depending on message text.
package errs

import "errors"

var (
	// ErrConfig is returned when a ConnectConfig is missing required fields.
	// Raised at connect entry only, never after.
	ErrConfig = errors.New("config: invalid ConnectConfig")

	// ErrAlreadyConnected is returned when connect is called on a manager
	// that already holds a ready session.
	ErrAlreadyConnected = errors.New("connection: already connected")

	// ErrHandshakeFailed is returned when the broker's handshake response
	// did not include a sessionId.
	ErrHandshakeFailed = errors.New("connection: handshake failed")

	// ErrTransport wraps a network or protocol failure on a single
	// request. Recoverable by retry at the caller layer; never advances
	// a receive cursor.
	ErrTransport = errors.New("transport: request failed")

	// ErrAuthDecrypt is returned when AEAD verification or RSA decryption
	// fails. Logged and the event is dropped; never surfaced to a user
	// handler.
	ErrAuthDecrypt = errors.New("crypto: authentication/decryption failed")

	// ErrProtocolViolation marks a malformed event, e.g. a
	// WEBRTC_SIGNALING envelope without a streamId.
	ErrProtocolViolation = errors.New("protocol: malformed event")

	// ErrStream is emitted to the signaling handler when a peer
	// connection fails.
	ErrStream = errors.New("signaling: stream failed")

	// ErrNotReady is returned by operations that require an active
	// session when none is present.
	ErrNotReady = errors.New("connection: not ready")
)
