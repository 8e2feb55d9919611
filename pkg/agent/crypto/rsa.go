package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

const rsaKeyBits = 2048

// rsaKeyPair implements KeyPair for the password-handshake RSA key,
// grounded on the teacher's crypto/keys/rs256.go generation/PEM shape.
type rsaKeyPair struct {
	private *rsa.PrivateKey
}

// GenerateRSAKeyPair creates a fresh ≥2048-bit RSA key pair for one
// connection, per spec §4.1 "Generate a fresh RSA key pair (≥2048 bits)
// for this session."
func GenerateRSAKeyPair() (KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate RSA key: %w", err)
	}
	return &rsaKeyPair{private: priv}, nil
}

// PublicKeyPEM encodes the public key as a PKIX PEM block, the format
// carried in a PASSWORD_REQUEST's publicKeyPem field (spec §6).
func (kp *rsaKeyPair) PublicKeyPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(&kp.private.PublicKey)
	if err != nil {
		return "", fmt.Errorf("crypto: marshal public key: %w", err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// Unwrap RSA-OAEP-decrypts data previously wrapped with WrapForPublicKeyPEM
// using this key pair's public key.
func (kp *rsaKeyPair) Unwrap(ciphertext []byte) ([]byte, error) {
	plaintext, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, kp.private, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}

// ParsePublicKeyPEM parses a PKIX PEM-encoded RSA public key, as received
// in a PASSWORD_REQUEST's publicKeyPem field.
func ParsePublicKeyPEM(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("crypto: no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("crypto: public key is not RSA")
	}
	return rsaPub, nil
}

// WrapForPublicKeyPEM RSA-OAEP-encrypts plaintext to the given PEM-encoded
// RSA public key. Used by a credential holder to reply to a
// PASSWORD_REQUEST: the {channelName, channelPassword} JSON payload is
// wrapped to the requester's public key (spec §4.3).
func WrapForPublicKeyPEM(pemStr string, plaintext []byte) ([]byte, error) {
	pub, err := ParsePublicKeyPEM(pemStr)
	if err != nil {
		return nil, err
	}
	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: RSA-OAEP encrypt: %w", err)
	}
	return ciphertext, nil
}
