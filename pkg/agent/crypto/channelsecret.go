package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 100_000
	channelSecretLen = 32 // 256-bit symmetric key
)

// channelSaltHKDFInfo binds the HKDF expansion to this protocol so the same
// base key can never be reused by an unrelated derivation.
const channelSaltHKDFInfo = "sage-x-agent/channel-secret/v1"

// DeriveChannelSecret computes the shared symmetric key for a channel from
// its name and password, per spec §4.3: "channelSecret = KDF(channelName ‖
// "|" ‖ channelPassword)". The derivation is deterministic and purely
// client-side — any two agents holding the same (channelName,
// channelPassword) arrive at the same channelSecret without exchanging it.
//
// PBKDF2 over the channel name as salt slows down offline guessing of a
// weak channelPassword; the result is then HKDF-expanded so the key used
// for AEAD is never the raw PBKDF2 output.
func DeriveChannelSecret(channelName, channelPassword string) ([]byte, error) {
	if channelName == "" || channelPassword == "" {
		return nil, fmt.Errorf("%w: channel name and password must be non-empty", ErrInvalidKeySize)
	}

	base := pbkdf2.Key([]byte(channelPassword), []byte(channelName), pbkdf2Iterations, channelSecretLen, sha256.New)

	expander := hkdf.New(sha256.New, base, []byte(channelName), []byte(channelSaltHKDFInfo))
	secret := make([]byte, channelSecretLen)
	if _, err := io.ReadFull(expander, secret); err != nil {
		return nil, fmt.Errorf("crypto: expand channel secret: %w", err)
	}
	return secret, nil
}
