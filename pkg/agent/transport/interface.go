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

// Package transport provides the control-path abstraction the connection
// manager drives: handshake, disconnect, send, receive, and activeAgents
// (spec §4.5 "Control/session"). Concrete implementations (HTTP long-poll,
// WebSocket) convert these calls to their wire format; the manager stays
// transport-agnostic, mirroring the teacher's MessageTransport split.
package transport

import (
	"context"

	"github.com/sage-x-project/chanagent/pkg/agent/core/message"
)

// APIKeyScope is the developer API key scope submitted on handshake.
type APIKeyScope string

const (
	ScopePublic  APIKeyScope = "public"
	ScopePrivate APIKeyScope = "private"
)

// HandshakeRequest carries the fields submitted on connect (spec §6).
type HandshakeRequest struct {
	ChannelName       string
	ChannelPassword   string
	ChannelID         string
	AgentName         string
	SessionID         string // resume, optional
	EnableWebRTCRelay bool
	APIKeyScope       APIKeyScope
}

// HandshakeState is the dual-offset cursor state returned at handshake
// (spec §6: "state.{globalOffset, localOffset, originalGlobalOffset}").
type HandshakeState struct {
	GlobalOffset         uint64
	LocalOffset          uint64
	OriginalGlobalOffset uint64
}

// HandshakeResponse is the server's reply to a HandshakeRequest.
type HandshakeResponse struct {
	SessionID      string
	ChannelID      string
	ConnectionTime int64 // "date" in spec §6, epoch ms
	State          HandshakeState
}

// ControlTransport is the request-response control path: handshake,
// disconnect, send, receive (long-poll batch), activeAgents. Every request
// after the handshake carries the opaque sessionId (spec §4.5).
type ControlTransport interface {
	// Handshake submits a HandshakeRequest and returns the server's
	// assigned session state.
	Handshake(ctx context.Context, req HandshakeRequest) (*HandshakeResponse, error)

	// Disconnect issues a server-side disconnect for sessionID. beacon
	// requests a best-effort, fire-and-forget variant suitable for process
	// shutdown, where the transport supports it (spec §4.1).
	Disconnect(ctx context.Context, sessionID string, beacon bool) error

	// Send delivers one EventMessage on behalf of sessionID.
	Send(ctx context.Context, sessionID string, evt message.EventMessage) error

	// Receive performs one long-poll pull at cfg and returns the batch.
	Receive(ctx context.Context, sessionID string, cfg message.ReceiveConfig) (*message.EventMessageResult, error)

	// ActiveAgents lists the channel's current participants.
	ActiveAgents(ctx context.Context, sessionID string) ([]message.AgentInfo, error)

	// Close releases any transport-level resources (sockets, goroutines).
	Close() error
}

// DatagramTransport is the optional low-latency push/pull path used when
// enableWebrtcRelay or a low-latency path is desired (spec §4.5). Push is
// fire-and-forget; pull is shaped like Receive.
type DatagramTransport interface {
	Push(ctx context.Context, sessionID, destination string, content []byte) error
	Pull(ctx context.Context, sessionID string, cfg message.ReceiveConfig) (*message.EventMessageResult, error)
	Close() error
}
