package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Envelope is the wire shape of an encrypted event payload: a random nonce
// and the AEAD ciphertext, base64-encoded for transport inside a JSON
// message body (spec §4.3 "Sign-then-encrypt (symmetric)").
type Envelope struct {
	Nonce      []byte
	Ciphertext []byte
}

// Encrypt seals plaintext under the channel secret. The additional
// authenticated data binds the ciphertext to the event type and routing
// (type‖from‖to), so a ciphertext copied onto a different event type or
// re-addressed to another recipient fails to decrypt instead of silently
// being accepted out of context.
func Encrypt(channelSecret []byte, eventType, from, to string, plaintext []byte) (*Envelope, error) {
	if len(channelSecret) == 0 {
		return nil, ErrEmptyChannelSecret
	}
	aead, err := chacha20poly1305.New(channelSecret)
	if err != nil {
		return nil, fmt.Errorf("crypto: init AEAD: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}

	aad := buildAAD(eventType, from, to)
	ciphertext := aead.Seal(nil, nonce, plaintext, aad)
	return &Envelope{Nonce: nonce, Ciphertext: ciphertext}, nil
}

// Decrypt opens an Envelope sealed by Encrypt. A mismatched channelSecret,
// eventType, from, or to all surface as ErrDecrypt — the caller (receive
// pipeline) translates this to errs.ErrAuthDecrypt and drops the event
// rather than retrying.
func Decrypt(channelSecret []byte, eventType, from, to string, env *Envelope) ([]byte, error) {
	if len(channelSecret) == 0 {
		return nil, ErrEmptyChannelSecret
	}
	aead, err := chacha20poly1305.New(channelSecret)
	if err != nil {
		return nil, fmt.Errorf("crypto: init AEAD: %w", err)
	}
	if len(env.Nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: bad nonce length", ErrDecrypt)
	}

	aad := buildAAD(eventType, from, to)
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}

func buildAAD(eventType, from, to string) []byte {
	aad := make([]byte, 0, len(eventType)+len(from)+len(to)+6)
	aad = appendLenPrefixed(aad, eventType)
	aad = appendLenPrefixed(aad, from)
	aad = appendLenPrefixed(aad, to)
	return aad
}

func appendLenPrefixed(dst []byte, s string) []byte {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(s)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, s...)
}

// EncodeEnvelope serializes an Envelope into a single opaque string
// suitable for a JSON string field: nonce and ciphertext concatenated and
// base64-encoded, nonce length fixed at chacha20poly1305.NonceSize.
func EncodeEnvelope(env *Envelope) string {
	buf := make([]byte, 0, len(env.Nonce)+len(env.Ciphertext))
	buf = append(buf, env.Nonce...)
	buf = append(buf, env.Ciphertext...)
	return base64.StdEncoding.EncodeToString(buf)
}

// DecodeEnvelope parses the string produced by EncodeEnvelope.
func DecodeEnvelope(encoded string) (*Envelope, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: bad base64 envelope: %v", ErrDecrypt, err)
	}
	if len(raw) < chacha20poly1305.NonceSize {
		return nil, fmt.Errorf("%w: envelope too short", ErrDecrypt)
	}
	return &Envelope{
		Nonce:      raw[:chacha20poly1305.NonceSize],
		Ciphertext: raw[chacha20poly1305.NonceSize:],
	}, nil
}
