package handshake

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	agentcrypto "github.com/sage-x-project/chanagent/pkg/agent/crypto"
	"github.com/sage-x-project/chanagent/pkg/agent/core/message"
	"github.com/sage-x-project/chanagent/pkg/agent/session"
)

func newConnectedSession(t *testing.T, agentName string, connectionTime int64) *session.Session {
	t.Helper()
	kp, err := agentcrypto.GenerateRSAKeyPair()
	require.NoError(t, err)
	sess := session.New("S-"+agentName, "C1", agentName, connectionTime)
	sess.SetKeyPair(kp)
	return sess
}

// TestHandshakeCompleteness mirrors spec example: Agent A holds credentials,
// Agent B knows only the channelId. B broadcasts PASSWORD_REQUEST, A
// replies, B derives the same channelSecret as A, and B's subsequent
// encrypted traffic round-trips at A.
func TestHandshakeCompleteness(t *testing.T) {
	sessA := newConnectedSession(t, "A", 500)
	secretA, err := agentcrypto.DeriveChannelSecret("r", "p")
	require.NoError(t, err)
	sessA.SetChannelCredentials("r", "p", secretA)

	sessB := newConnectedSession(t, "B", 700)

	var requestSentToA message.EventMessage
	requester := NewRequester()
	ok, err := requester.RequestPassword(context.Background(), sessB, 0, func(evt message.EventMessage) error {
		requestSentToA = evt
		return nil
	})
	require.NoError(t, err)
	require.False(t, ok) // fire-and-forget: zero timeout never waits

	require.Equal(t, message.TypePasswordRequest, requestSentToA.Type)
	require.Equal(t, message.BroadcastTo, requestSentToA.To)

	responder := NewResponder(nil)
	var replyToB message.EventMessage
	err = responder.HandleRequest(sessA, requestSentToA, func(evt message.EventMessage) error {
		replyToB = evt
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, message.TypePasswordReply, replyToB.Type)
	require.Equal(t, "B", replyToB.To)
	require.False(t, replyToB.Encrypted)

	err = ConsumeReply(sessB, replyToB, nil)
	require.NoError(t, err)
	require.True(t, sessB.HasChannelSecret())
	require.Equal(t, secretA, sessB.ChannelSecret())

	plaintext := []byte("hello from B")
	env, err := agentcrypto.Encrypt(sessB.ChannelSecret(), "chat.message", "B", "A", plaintext)
	require.NoError(t, err)
	got, err := agentcrypto.Decrypt(sessA.ChannelSecret(), "chat.message", "B", "A", env)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestResponderDeclinesWithoutCredentials(t *testing.T) {
	sessA := newConnectedSession(t, "A", 500) // no credentials set
	sessB := newConnectedSession(t, "B", 700)

	requester := NewRequester()
	var req message.EventMessage
	_, err := requester.RequestPassword(context.Background(), sessB, 0, func(evt message.EventMessage) error {
		req = evt
		return nil
	})
	require.NoError(t, err)

	sent := false
	responder := NewResponder(nil)
	err = responder.HandleRequest(sessA, req, func(message.EventMessage) error {
		sent = true
		return nil
	})
	require.NoError(t, err)
	require.False(t, sent)
}

func TestResponderPolicyCanDecline(t *testing.T) {
	sessA := newConnectedSession(t, "A", 500)
	secret, err := agentcrypto.DeriveChannelSecret("r", "p")
	require.NoError(t, err)
	sessA.SetChannelCredentials("r", "p", secret)
	sessB := newConnectedSession(t, "B", 700)

	requester := NewRequester()
	var req message.EventMessage
	_, err = requester.RequestPassword(context.Background(), sessB, 0, func(evt message.EventMessage) error {
		req = evt
		return nil
	})
	require.NoError(t, err)

	responder := NewResponder(func(channelID, requesterAgentName, requesterPublicKeyPEM string) bool {
		return false
	})
	sent := false
	err = responder.HandleRequest(sessA, req, func(message.EventMessage) error {
		sent = true
		return nil
	})
	require.NoError(t, err)
	require.False(t, sent)
}

func TestRequestPasswordBlocksUntilNotified(t *testing.T) {
	sessB := newConnectedSession(t, "B", 700)
	requester := NewRequester()

	resultCh := make(chan bool, 1)
	go func() {
		ok, err := requester.RequestPassword(context.Background(), sessB, time.Second, func(message.EventMessage) error {
			return nil
		})
		require.NoError(t, err)
		resultCh <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	requester.NotifyReplyConsumed(sessB.ChannelID)

	select {
	case ok := <-resultCh:
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("RequestPassword did not return after notify")
	}
}

func TestRequestPasswordTimesOut(t *testing.T) {
	sessB := newConnectedSession(t, "B", 700)
	requester := NewRequester()

	ok, err := requester.RequestPassword(context.Background(), sessB, 20*time.Millisecond, func(message.EventMessage) error {
		return nil
	})
	require.NoError(t, err)
	require.False(t, ok)
}
