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

package transport

import (
	"context"
	"sync"

	"github.com/sage-x-project/chanagent/pkg/agent/core/message"
)

// MockTransport is an in-memory ControlTransport double for connection
// manager and receive pipeline tests, avoiding a real broker dependency.
type MockTransport struct {
	HandshakeFunc func(ctx context.Context, req HandshakeRequest) (*HandshakeResponse, error)
	ReceiveFunc   func(ctx context.Context, sessionID string, cfg message.ReceiveConfig) (*message.EventMessageResult, error)

	mu             sync.Mutex
	SentEvents     []message.EventMessage
	ActiveAgentsList []message.AgentInfo
	Disconnected   bool
	closed         bool
}

func (m *MockTransport) Handshake(ctx context.Context, req HandshakeRequest) (*HandshakeResponse, error) {
	if m.HandshakeFunc != nil {
		return m.HandshakeFunc(ctx, req)
	}
	return &HandshakeResponse{SessionID: "mock-session", ChannelID: req.ChannelID, ConnectionTime: 1000}, nil
}

func (m *MockTransport) Disconnect(ctx context.Context, sessionID string, beacon bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Disconnected = true
	return nil
}

func (m *MockTransport) Send(ctx context.Context, sessionID string, evt message.EventMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SentEvents = append(m.SentEvents, evt)
	return nil
}

func (m *MockTransport) Receive(ctx context.Context, sessionID string, cfg message.ReceiveConfig) (*message.EventMessageResult, error) {
	if m.ReceiveFunc != nil {
		return m.ReceiveFunc(ctx, sessionID, cfg)
	}
	return &message.EventMessageResult{NextGlobalOffset: cfg.GlobalOffset, NextLocalOffset: cfg.LocalOffset}, nil
}

func (m *MockTransport) ActiveAgents(ctx context.Context, sessionID string) ([]message.AgentInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ActiveAgentsList, nil
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// LastSentEvent returns the most recently sent event, or nil if none.
func (m *MockTransport) LastSentEvent() *message.EventMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.SentEvents) == 0 {
		return nil
	}
	return &m.SentEvents[len(m.SentEvents)-1]
}
