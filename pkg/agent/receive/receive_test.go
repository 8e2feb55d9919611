// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package receive

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/chanagent/pkg/agent/core/message"
	"github.com/sage-x-project/chanagent/pkg/agent/handshake"
	"github.com/sage-x-project/chanagent/pkg/agent/session"
)

func newTestSession(t *testing.T, connectionTime int64) *session.Session {
	t.Helper()
	sess := session.New("sess-1", "chan-1", "alice", connectionTime)
	sess.SetChannelCredentials("room", "pw", []byte("0123456789abcdef0123456789abcdef"))
	return sess
}

func noopSend(message.EventMessage) error { return nil }

// TestPullAdvancesCursorFromServerOffsets confirms the cursor only ever
// takes the server-reported NextGlobalOffset/NextLocalOffset, never a
// caller-computed value (spec §8 item 1).
func TestPullAdvancesCursorFromServerOffsets(t *testing.T) {
	sess := newTestSession(t, 0)
	pull := func(ctx context.Context, sessionID string, cfg message.ReceiveConfig) (*message.EventMessageResult, error) {
		require.Equal(t, uint64(0), cfg.GlobalOffset)
		return &message.EventMessageResult{NextGlobalOffset: 42, NextLocalOffset: 7}, nil
	}
	p := New(sess, pull, handshake.NewResponder(nil), handshake.NewRequester(), nil, message.ReceiveConfig{Limit: 20}, nil)

	require.NoError(t, p.Pull(context.Background(), noopSend, func(message.EventMessage) {}))
	require.Equal(t, message.ReceiveConfig{GlobalOffset: 42, LocalOffset: 7, Limit: 20}, p.Cursor())
}

// TestPullCursorMonotonicAcrossBatches drives two pulls and asserts the
// cursor only ever moves to what the server reports, batch over batch.
func TestPullCursorMonotonicAcrossBatches(t *testing.T) {
	sess := newTestSession(t, 0)
	calls := 0
	pull := func(ctx context.Context, sessionID string, cfg message.ReceiveConfig) (*message.EventMessageResult, error) {
		calls++
		if calls == 1 {
			require.Equal(t, uint64(0), cfg.GlobalOffset)
			return &message.EventMessageResult{NextGlobalOffset: 10, NextLocalOffset: 1}, nil
		}
		require.Equal(t, uint64(10), cfg.GlobalOffset)
		require.Equal(t, uint64(1), cfg.LocalOffset)
		return &message.EventMessageResult{NextGlobalOffset: 25, NextLocalOffset: 3}, nil
	}
	p := New(sess, pull, handshake.NewResponder(nil), handshake.NewRequester(), nil, message.ReceiveConfig{Limit: 20}, nil)

	require.NoError(t, p.Pull(context.Background(), noopSend, func(message.EventMessage) {}))
	require.NoError(t, p.Pull(context.Background(), noopSend, func(message.EventMessage) {}))
	require.Equal(t, message.ReceiveConfig{GlobalOffset: 25, LocalOffset: 3, Limit: 20}, p.Cursor())
}

// TestPullDeliversEphemeralBeforeDurable asserts within-batch ordering
// (spec §3/§5): ephemeral events reach the handler before durable ones,
// regardless of slice order in the result.
func TestPullDeliversEphemeralBeforeDurable(t *testing.T) {
	sess := newTestSession(t, 0)
	durable := message.EventMessage{ID: "durable-1", Type: message.TypeCustom, Date: 100}
	ephemeral := message.EventMessage{ID: "ephemeral-1", Type: message.TypeCustom, Date: 100}
	pull := func(ctx context.Context, sessionID string, cfg message.ReceiveConfig) (*message.EventMessageResult, error) {
		return &message.EventMessageResult{
			Events:          []message.EventMessage{durable},
			EphemeralEvents: []message.EventMessage{ephemeral},
		}, nil
	}
	p := New(sess, pull, handshake.NewResponder(nil), handshake.NewRequester(), nil, message.ReceiveConfig{Limit: 20}, nil)

	var order []string
	require.NoError(t, p.Pull(context.Background(), noopSend, func(evt message.EventMessage) {
		order = append(order, evt.ID)
	}))
	require.Equal(t, []string{"ephemeral-1", "durable-1"}, order)
}

// TestPullSkipsAutoRoutingForReplayedEvents exercises the auto-event
// filter (spec §8 item 3): a PASSWORD_REQUEST dated before the session's
// ConnectionTime is replayed history and must reach the handler as-is
// rather than trigger the responder's side-effectful reply.
func TestPullSkipsAutoRoutingForReplayedEvents(t *testing.T) {
	sess := newTestSession(t, 1000)

	replayed := message.EventMessage{
		ID: "replayed-request", Type: message.TypePasswordRequest, From: "bob", Date: 500,
		Content: []byte(`{"publicKeyPem":"x"}`),
	}
	live := message.EventMessage{
		ID: "live-request", Type: message.TypePasswordRequest, From: "bob", Date: 1500,
		Content: []byte(`{"publicKeyPem":"x"}`),
	}
	pull := func(ctx context.Context, sessionID string, cfg message.ReceiveConfig) (*message.EventMessageResult, error) {
		return &message.EventMessageResult{Events: []message.EventMessage{replayed, live}}, nil
	}

	var sent []string
	send := func(evt message.EventMessage) error {
		sent = append(sent, evt.To)
		return nil
	}
	var handled []string
	p := New(sess, pull, handshake.NewResponder(handshake.AllowAll), handshake.NewRequester(), nil, message.ReceiveConfig{Limit: 20}, nil)

	require.NoError(t, p.Pull(context.Background(), send, func(evt message.EventMessage) {
		handled = append(handled, evt.ID)
	}))

	// the replayed event is ineligible for auto-routing and must be handed
	// to the caller's handler instead of triggering a PASSWORD_REPLY send.
	require.Equal(t, []string{"replayed-request"}, handled)
	// the live event is eligible and auto-routed: it reaches the responder,
	// which (PublicKeyPEM being a bogus PEM) fails to wrap and never sends.
	require.Empty(t, sent)
}

// TestPullDropsUndecryptableEvent confirms an encrypted event that fails
// to decrypt is dropped rather than delivered with stale ciphertext.
func TestPullDropsUndecryptableEvent(t *testing.T) {
	sess := session.New("sess-1", "chan-1", "alice", 0) // no channel secret yet
	bad := message.EventMessage{ID: "enc-1", Type: message.TypeCustom, Date: 100, Encrypted: true, Content: []byte("not-an-envelope")}
	pull := func(ctx context.Context, sessionID string, cfg message.ReceiveConfig) (*message.EventMessageResult, error) {
		return &message.EventMessageResult{Events: []message.EventMessage{bad}}, nil
	}
	p := New(sess, pull, handshake.NewResponder(nil), handshake.NewRequester(), nil, message.ReceiveConfig{Limit: 20}, nil)

	var handled []string
	require.NoError(t, p.Pull(context.Background(), noopSend, func(evt message.EventMessage) {
		handled = append(handled, evt.ID)
	}))
	require.Empty(t, handled)
}
