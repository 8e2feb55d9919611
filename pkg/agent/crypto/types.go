// Package crypto implements the agent runtime's end-to-end confidentiality
// protocol (spec §4.3): channel-secret derivation, sign-then-encrypt AEAD
// of event payloads, and the RSA key pair an agent uses to receive a
// password-handshake reply. Adapted from the teacher's crypto/keys/rs256.go
// and pkg/agent/session/session.go (ChaCha20-Poly1305 session AEAD), but
// keyed by a shared channel secret rather than a per-session ECDH/HPKE
// exchange — there is no peer identity here, only shared channel material.
package crypto

import "errors"

var (
	// ErrEmptyChannelSecret is returned when an AEAD operation is attempted
	// before a channel secret has been derived or received.
	ErrEmptyChannelSecret = errors.New("crypto: channel secret not yet established")

	// ErrDecrypt covers both AEAD open failures and malformed ciphertext
	// envelopes. Callers outside this package should translate it to
	// errs.ErrAuthDecrypt.
	ErrDecrypt = errors.New("crypto: decrypt failed")

	// ErrInvalidKeySize is returned by DeriveChannelSecret for pathologically
	// short inputs that would make the KDF meaningless.
	ErrInvalidKeySize = errors.New("crypto: invalid key size")
)

// KeyPair is the ephemeral RSA key pair an agent generates at connect time
// (spec §3 Session.keyPair), used only to receive an RSA-OAEP-wrapped
// PASSWORD_REPLY (spec §4.3). It is not a general-purpose signing key.
type KeyPair interface {
	// PublicKeyPEM returns the PKIX/PEM encoding sent in PASSWORD_REQUEST.
	PublicKeyPEM() (string, error)
	// Unwrap RSA-OAEP-decrypts a payload encrypted to this key pair's
	// public key.
	Unwrap(ciphertext []byte) ([]byte, error)
}
