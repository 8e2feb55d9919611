package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveChannelSecretDeterministic(t *testing.T) {
	s1, err := DeriveChannelSecret("room-42", "correct-horse")
	require.NoError(t, err)
	s2, err := DeriveChannelSecret("room-42", "correct-horse")
	require.NoError(t, err)
	require.Equal(t, s1, s2)
	require.Len(t, s1, channelSecretLen)

	s3, err := DeriveChannelSecret("room-42", "wrong-horse")
	require.NoError(t, err)
	require.NotEqual(t, s1, s3)
}

func TestDeriveChannelSecretRejectsEmpty(t *testing.T) {
	_, err := DeriveChannelSecret("", "pw")
	require.ErrorIs(t, err, ErrInvalidKeySize)

	_, err = DeriveChannelSecret("room", "")
	require.ErrorIs(t, err, ErrInvalidKeySize)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	secret, err := DeriveChannelSecret("room-42", "correct-horse")
	require.NoError(t, err)

	plaintext := []byte(`{"hello":"world"}`)
	env, err := Encrypt(secret, "chat.message", "agent-a", "agent-b", plaintext)
	require.NoError(t, err)

	got, err := Decrypt(secret, "chat.message", "agent-a", "agent-b", env)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestDecryptFailsWithDifferentSecret(t *testing.T) {
	secretA, err := DeriveChannelSecret("room-42", "correct-horse")
	require.NoError(t, err)
	secretB, err := DeriveChannelSecret("room-42", "different-horse")
	require.NoError(t, err)

	env, err := Encrypt(secretA, "chat.message", "agent-a", "agent-b", []byte("hi"))
	require.NoError(t, err)

	_, err = Decrypt(secretB, "chat.message", "agent-a", "agent-b", env)
	require.ErrorIs(t, err, ErrDecrypt)
}

func TestDecryptFailsWithMismatchedAAD(t *testing.T) {
	secret, err := DeriveChannelSecret("room-42", "correct-horse")
	require.NoError(t, err)

	env, err := Encrypt(secret, "chat.message", "agent-a", "agent-b", []byte("hi"))
	require.NoError(t, err)

	_, err = Decrypt(secret, "chat.message", "agent-a", "agent-c", env)
	require.ErrorIs(t, err, ErrDecrypt)
}

func TestEnvelopeEncodeDecodeRoundTrip(t *testing.T) {
	secret, err := DeriveChannelSecret("room-42", "correct-horse")
	require.NoError(t, err)

	env, err := Encrypt(secret, "chat.message", "agent-a", "agent-b", []byte("payload"))
	require.NoError(t, err)

	encoded := EncodeEnvelope(env)
	decoded, err := DecodeEnvelope(encoded)
	require.NoError(t, err)

	plaintext, err := Decrypt(secret, "chat.message", "agent-a", "agent-b", decoded)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), plaintext)
}

func TestDecodeEnvelopeRejectsShortInput(t *testing.T) {
	_, err := DecodeEnvelope("dG9vc2hvcnQ=") // "tooshort", far under nonce size
	require.ErrorIs(t, err, ErrDecrypt)
}

func FuzzEncryptDecryptRoundTrip(f *testing.F) {
	f.Add("room-1", "pw-1", "type.a", "from-a", "to-b", []byte("seed"))
	secretCache := map[string][]byte{}

	f.Fuzz(func(t *testing.T, channelName, channelPassword, eventType, from, to string, plaintext []byte) {
		if channelName == "" || channelPassword == "" {
			return
		}
		key := channelName + "|" + channelPassword
		secret, ok := secretCache[key]
		if !ok {
			var err error
			secret, err = DeriveChannelSecret(channelName, channelPassword)
			if err != nil {
				t.Fatalf("derive: %v", err)
			}
			secretCache[key] = secret
		}

		env, err := Encrypt(secret, eventType, from, to, plaintext)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		got, err := Decrypt(secret, eventType, from, to, env)
		if err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		if string(got) != string(plaintext) {
			t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
		}
	})
}
