package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	agentcrypto "github.com/sage-x-project/chanagent/pkg/agent/crypto"
)

func TestNewSessionFields(t *testing.T) {
	s := New("S1", "C1", "alice", 1000)
	require.Equal(t, "S1", s.SessionID)
	require.Equal(t, "C1", s.ChannelID)
	require.Equal(t, "alice", s.AgentName)
	require.Equal(t, int64(1000), s.ConnectionTime)
	require.False(t, s.HasChannelSecret())
	require.Empty(t, s.ChannelName())
}

func TestSetChannelCredentialsPublishesAtomically(t *testing.T) {
	s := New("S1", "C1", "alice", 1000)
	secret, err := agentcrypto.DeriveChannelSecret("room-1", "pw")
	require.NoError(t, err)

	s.SetChannelCredentials("room-1", "pw", secret)

	require.True(t, s.HasChannelSecret())
	require.Equal(t, "room-1", s.ChannelName())
	require.Equal(t, "pw", s.ChannelPassword())
	require.Equal(t, secret, s.ChannelSecret())
}

func TestSetChannelCredentialsConcurrentReadersSeeConsistentSnapshot(t *testing.T) {
	s := New("S1", "C1", "alice", 1000)
	secret, err := agentcrypto.DeriveChannelSecret("room-1", "pw")
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.SetChannelCredentials("room-1", "pw", secret)
	}()

	// A concurrent reader that already sees the secret must also see the
	// name and password: SetChannelCredentials stores the secret last.
	torn := false
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			if s.HasChannelSecret() && (s.ChannelName() != "room-1" || s.ChannelPassword() != "pw") {
				torn = true
			}
		}
	}()
	wg.Wait()
	require.False(t, torn)
	require.True(t, s.HasChannelSecret())
}

func TestSetKeyPair(t *testing.T) {
	s := New("S1", "C1", "alice", 1000)
	require.Nil(t, s.KeyPair())

	kp, err := agentcrypto.GenerateRSAKeyPair()
	require.NoError(t, err)
	s.SetKeyPair(kp)

	require.Same(t, kp, s.KeyPair())
}

func TestIsEventEligible(t *testing.T) {
	s := New("S1", "C1", "alice", 1000)
	require.False(t, s.IsEventEligible(1000))
	require.False(t, s.IsEventEligible(999))
	require.True(t, s.IsEventEligible(1001))
}
