package connection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/chanagent/pkg/agent/core/message"
	"github.com/sage-x-project/chanagent/pkg/agent/session"
	"github.com/sage-x-project/chanagent/pkg/agent/transport"
)

func TestConnectRejectsInvalidConfig(t *testing.T) {
	tr := &transport.MockTransport{}
	m := New(tr, t.TempDir())

	ok, err := m.Connect(t.Context(), ConnectConfig{})
	require.False(t, ok)
	require.Error(t, err)
}

func handshakeFixture(req transport.HandshakeRequest) (*transport.HandshakeResponse, error) {
	return &transport.HandshakeResponse{
		SessionID:      "S1",
		ChannelID:      "C1",
		ConnectionTime: 1000,
		State: transport.HandshakeState{
			GlobalOffset:         40,
			LocalOffset:          4,
			OriginalGlobalOffset: 36,
		},
	}, nil
}

func TestConnectSucceedsAndDerivesChannelSecret(t *testing.T) {
	tr := &transport.MockTransport{
		HandshakeFunc: func(ctx context.Context, req transport.HandshakeRequest) (*transport.HandshakeResponse, error) {
			return handshakeFixture(req)
		},
	}
	m := New(tr, t.TempDir())

	ok, err := m.Connect(t.Context(), ConnectConfig{
		ChannelName:     "room-1",
		ChannelPassword: "pw",
		AgentName:       "alice",
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, m.IsReady())
	require.Equal(t, uint64(36), m.InitialReceiveConfig().GlobalOffset)
	require.True(t, m.sess.HasChannelSecret())

	_, err = m.Connect(t.Context(), ConnectConfig{ChannelName: "room-1", ChannelPassword: "pw", AgentName: "alice"})
	require.ErrorContains(t, err, "already connected")

	ok, err = m.Disconnect(t.Context(), false)
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, m.IsReady())
	require.True(t, tr.Disconnected)
}

// TestDisconnectClearsPersistedSession confirms a disconnected-then-
// reconnected agent doesn't resume a stale sessionId: Disconnect must clear
// the session store entry it created at Connect time.
func TestDisconnectClearsPersistedSession(t *testing.T) {
	dir := t.TempDir()
	tr := &transport.MockTransport{
		HandshakeFunc: func(ctx context.Context, req transport.HandshakeRequest) (*transport.HandshakeResponse, error) {
			return handshakeFixture(req)
		},
	}
	m := New(tr, dir)

	_, err := m.Connect(t.Context(), ConnectConfig{ChannelID: "C1", AgentName: "alice"})
	require.NoError(t, err)

	store := session.NewStore(dir)
	persisted, err := store.Load("C1")
	require.NoError(t, err)
	require.Equal(t, "S1", persisted)

	_, err = m.Disconnect(t.Context(), false)
	require.NoError(t, err)

	persisted, err = store.Load("C1")
	require.NoError(t, err)
	require.Empty(t, persisted)
}

func TestConnectWithOnlyChannelIDBroadcastsPasswordRequest(t *testing.T) {
	tr := &transport.MockTransport{
		HandshakeFunc: func(ctx context.Context, req transport.HandshakeRequest) (*transport.HandshakeResponse, error) {
			require.Equal(t, "C1", req.ChannelID)
			return handshakeFixture(req)
		},
	}
	m := New(tr, t.TempDir())

	ok, err := m.Connect(t.Context(), ConnectConfig{ChannelID: "C1", AgentName: "bob"})
	require.NoError(t, err)
	require.True(t, ok)

	deadline := time.Now().Add(2 * time.Second)
	for tr.LastSentEvent() == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	sent := tr.LastSentEvent()
	require.NotNil(t, sent)
	require.Equal(t, message.TypePasswordRequest, sent.Type)

	_, _ = m.Disconnect(t.Context(), false)
}

func TestHostElectionMinimumConnectionTimeWithLexicographicTiebreak(t *testing.T) {
	tr := &transport.MockTransport{
		HandshakeFunc: func(ctx context.Context, req transport.HandshakeRequest) (*transport.HandshakeResponse, error) {
			return handshakeFixture(req)
		},
	}
	m := New(tr, t.TempDir())
	_, err := m.Connect(t.Context(), ConnectConfig{ChannelName: "room-1", ChannelPassword: "pw", AgentName: "alice"})
	require.NoError(t, err)
	defer m.Disconnect(t.Context(), false)

	tr.ActiveAgentsList = []message.AgentInfo{
		{AgentName: "alice", ConnectionTime: 500},
		{AgentName: "bob", ConnectionTime: 500},
		{AgentName: "carol", ConnectionTime: 300},
	}
	_, err = m.ActiveAgents(t.Context())
	require.NoError(t, err)

	require.True(t, m.IsHostAgentNamed("carol"))
	require.False(t, m.IsHostAgentNamed("alice"))
	require.False(t, m.IsHostAgentNamed("bob"))
}

func TestIsHostAgentDefaultsTrueWithEmptyActiveSet(t *testing.T) {
	tr := &transport.MockTransport{
		HandshakeFunc: func(ctx context.Context, req transport.HandshakeRequest) (*transport.HandshakeResponse, error) {
			return handshakeFixture(req)
		},
	}
	m := New(tr, t.TempDir())
	_, err := m.Connect(t.Context(), ConnectConfig{ChannelName: "room-1", ChannelPassword: "pw", AgentName: "alice"})
	require.NoError(t, err)
	defer m.Disconnect(t.Context(), false)

	require.True(t, m.IsHostAgent())
}
