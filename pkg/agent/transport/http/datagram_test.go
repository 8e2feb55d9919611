package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/chanagent/pkg/agent/core/message"
)

func TestDatagramTransportPushPull(t *testing.T) {
	var lastPush udpPushRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/udp-push":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&lastPush))
			w.WriteHeader(http.StatusOK)
		case "/udp-pull":
			result := message.EventMessageResult{NextGlobalOffset: 99}
			w.Header().Set("Content-Type", "application/json")
			require.NoError(t, json.NewEncoder(w).Encode(result))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	d := NewDatagramTransport(server.URL)
	require.NoError(t, d.Push(t.Context(), "S1", "bob", []byte("hi")))
	require.Equal(t, "bob", lastPush.Destination)

	result, err := d.Pull(t.Context(), "S1", message.ReceiveConfig{GlobalOffset: 10})
	require.NoError(t, err)
	require.Equal(t, uint64(99), result.NextGlobalOffset)
}
