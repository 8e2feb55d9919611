package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/chanagent/pkg/agent/core/message"
)

func TestSelectorRegisterAndSelectByURL(t *testing.T) {
	s := NewSelector()
	called := false
	s.RegisterFactory(KindHTTP, func(endpoint string) (ControlTransport, error) {
		called = true
		return &MockTransport{}, nil
	})

	tr, err := s.SelectByURL("http://broker.example.test")
	require.NoError(t, err)
	require.NotNil(t, tr)
	require.True(t, called)
}

func TestSelectorUnregisteredKindErrors(t *testing.T) {
	s := NewSelector()
	_, err := s.SelectByURL("ws://broker.example.test")
	require.Error(t, err)
}

func TestSelectorUnsupportedSchemeErrors(t *testing.T) {
	s := NewSelector()
	_, err := s.SelectByURL("ftp://broker.example.test")
	require.Error(t, err)
}

func TestMockTransportCapturesSentEvents(t *testing.T) {
	m := &MockTransport{}
	resp, err := m.Handshake(context.Background(), HandshakeRequest{ChannelID: "C1", AgentName: "alice"})
	require.NoError(t, err)
	require.Equal(t, "C1", resp.ChannelID)

	require.Nil(t, m.LastSentEvent())

	require.NoError(t, m.Send(context.Background(), resp.SessionID, message.EventMessage{ID: "e1"}))
	require.NotNil(t, m.LastSentEvent())
	require.Equal(t, "e1", m.LastSentEvent().ID)
}
