package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/chanagent/pkg/agent/core/message"
	"github.com/sage-x-project/chanagent/pkg/agent/transport"
)

func TestHTTPTransportHandshake(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/handshake", r.URL.Path)
		var req transport.HandshakeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "alice", req.AgentName)

		resp := transport.HandshakeResponse{
			SessionID:      "S1",
			ChannelID:      "C1",
			ConnectionTime: 1000,
			State:          transport.HandshakeState{GlobalOffset: 40, LocalOffset: 4, OriginalGlobalOffset: 36},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	tr := NewHTTPTransport(server.URL)
	resp, err := tr.Handshake(t.Context(), transport.HandshakeRequest{AgentName: "alice", ChannelID: "C1"})
	require.NoError(t, err)
	require.Equal(t, "S1", resp.SessionID)
	require.Equal(t, uint64(36), resp.State.OriginalGlobalOffset)
}

func TestHTTPTransportReceive(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/receive", r.URL.Path)
		result := message.EventMessageResult{
			Events:           []message.EventMessage{{ID: "e1", Type: message.TypeChatText}},
			NextGlobalOffset: 41,
			NextLocalOffset:  5,
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(result))
	}))
	defer server.Close()

	tr := NewHTTPTransport(server.URL)
	result, err := tr.Receive(t.Context(), "S1", message.ReceiveConfig{GlobalOffset: 40, LocalOffset: 4, Limit: 20})
	require.NoError(t, err)
	require.Len(t, result.Events, 1)
	require.Equal(t, uint64(41), result.NextGlobalOffset)
}

func TestHTTPTransportSignsPrivateScopeBearerToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(transport.HandshakeResponse{SessionID: "S1"}))
	}))
	defer server.Close()

	tr := NewHTTPTransport(server.URL).WithAPIKeySecret([]byte("shh"))
	_, err := tr.Handshake(t.Context(), transport.HandshakeRequest{AgentName: "alice", APIKeyScope: transport.ScopePrivate})
	require.NoError(t, err)
	require.NotEmpty(t, gotAuth)
	require.Contains(t, gotAuth, "Bearer ")
}

func TestHTTPTransportOmitsBearerTokenForPublicScope(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(transport.HandshakeResponse{SessionID: "S1"}))
	}))
	defer server.Close()

	tr := NewHTTPTransport(server.URL).WithAPIKeySecret([]byte("shh"))
	_, err := tr.Handshake(t.Context(), transport.HandshakeRequest{AgentName: "alice", APIKeyScope: transport.ScopePublic})
	require.NoError(t, err)
	require.Empty(t, gotAuth)
}

func TestHTTPTransportPropagatesServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer server.Close()

	tr := NewHTTPTransport(server.URL)
	_, err := tr.Handshake(t.Context(), transport.HandshakeRequest{AgentName: "alice"})
	require.Error(t, err)
}
