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

// Package websocket implements transport.ControlTransport over a persistent
// WebSocket connection: every control call is a framed request correlated
// to its response by a request ID, the same pending-response-channel
// pattern the teacher's WS transport uses for SecureMessage/Response.
package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sage-x-project/chanagent/pkg/agent/core/message"
	"github.com/sage-x-project/chanagent/pkg/agent/transport"
)

// WSTransport implements transport.ControlTransport using a WebSocket.
type WSTransport struct {
	url          string
	conn         *websocket.Conn
	mu           sync.Mutex
	dialTimeout  time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	pendingResponses map[string]chan *wireFrame
	pendingMu        sync.RWMutex

	connected bool
	connMu    sync.RWMutex
}

// NewWSTransport creates a WebSocket transport client for url, with
// default timeouts.
func NewWSTransport(url string) *WSTransport {
	return &WSTransport{
		url:              url,
		dialTimeout:      30 * time.Second,
		readTimeout:      60 * time.Second,
		writeTimeout:     30 * time.Second,
		pendingResponses: make(map[string]chan *wireFrame),
	}
}

// wireFrame is the envelope for every control-path call and its reply,
// correlated by RequestID.
type wireFrame struct {
	RequestID string              `json:"requestId"`
	Kind      string              `json:"kind"` // handshake, disconnect, send, receive, activeAgents
	SessionID string              `json:"sessionId,omitempty"`

	// request payloads
	Handshake *transport.HandshakeRequest `json:"handshake,omitempty"`
	Beacon    bool                        `json:"beacon,omitempty"`
	Event     *message.EventMessage       `json:"event,omitempty"`
	Receive   *message.ReceiveConfig      `json:"receive,omitempty"`

	// response payloads
	HandshakeResp *transport.HandshakeResponse   `json:"handshakeResp,omitempty"`
	ReceiveResult *message.EventMessageResult    `json:"receiveResult,omitempty"`
	Agents        []message.AgentInfo            `json:"agents,omitempty"`
	Error         string                          `json:"error,omitempty"`
}

func (t *WSTransport) connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return nil
	}
	dialer := &websocket.Dialer{HandshakeTimeout: t.dialTimeout}
	conn, resp, err := dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("transport: websocket dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("transport: websocket dial failed: %w", err)
	}
	t.conn = conn
	t.setConnected(true)
	go t.readFrames()
	return nil
}

func (t *WSTransport) ensureConnected(ctx context.Context) error {
	if t.isConnected() {
		return nil
	}
	return t.connect(ctx)
}

func (t *WSTransport) call(ctx context.Context, req *wireFrame) (*wireFrame, error) {
	if err := t.ensureConnected(ctx); err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	req.RequestID = uuid.NewString()

	respCh := make(chan *wireFrame, 1)
	t.pendingMu.Lock()
	t.pendingResponses[req.RequestID] = respCh
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pendingResponses, req.RequestID)
		t.pendingMu.Unlock()
	}()

	if err := t.writeFrame(req); err != nil {
		return nil, fmt.Errorf("transport: send %s: %w", req.Kind, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp := <-respCh:
		if resp.Error != "" {
			return nil, fmt.Errorf("transport: %s: %s", req.Kind, resp.Error)
		}
		return resp, nil
	case <-time.After(t.readTimeout):
		return nil, fmt.Errorf("transport: %s: response timeout", req.Kind)
	}
}

func (t *WSTransport) writeFrame(f *wireFrame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return fmt.Errorf("not connected")
	}
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := t.conn.WriteJSON(f); err != nil {
		t.setConnected(false)
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (t *WSTransport) readFrames() {
	defer t.setConnected(false)
	for {
		if !t.isConnected() {
			return
		}
		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()
		if conn == nil {
			return
		}
		if err := conn.SetReadDeadline(time.Now().Add(t.readTimeout)); err != nil {
			return
		}
		var frame wireFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		t.pendingMu.RLock()
		if ch, ok := t.pendingResponses[frame.RequestID]; ok {
			select {
			case ch <- &frame:
			default:
			}
		}
		t.pendingMu.RUnlock()
	}
}

// Handshake implements transport.ControlTransport.
func (t *WSTransport) Handshake(ctx context.Context, req transport.HandshakeRequest) (*transport.HandshakeResponse, error) {
	resp, err := t.call(ctx, &wireFrame{Kind: "handshake", Handshake: &req})
	if err != nil {
		return nil, err
	}
	if resp.HandshakeResp == nil {
		return nil, fmt.Errorf("transport: handshake response missing body")
	}
	return resp.HandshakeResp, nil
}

// Disconnect implements transport.ControlTransport.
func (t *WSTransport) Disconnect(ctx context.Context, sessionID string, beacon bool) error {
	_, err := t.call(ctx, &wireFrame{Kind: "disconnect", SessionID: sessionID, Beacon: beacon})
	return err
}

// Send implements transport.ControlTransport.
func (t *WSTransport) Send(ctx context.Context, sessionID string, evt message.EventMessage) error {
	_, err := t.call(ctx, &wireFrame{Kind: "send", SessionID: sessionID, Event: &evt})
	return err
}

// Receive implements transport.ControlTransport.
func (t *WSTransport) Receive(ctx context.Context, sessionID string, cfg message.ReceiveConfig) (*message.EventMessageResult, error) {
	resp, err := t.call(ctx, &wireFrame{Kind: "receive", SessionID: sessionID, Receive: &cfg})
	if err != nil {
		return nil, err
	}
	if resp.ReceiveResult == nil {
		return nil, fmt.Errorf("transport: receive response missing body")
	}
	return resp.ReceiveResult, nil
}

// ActiveAgents implements transport.ControlTransport.
func (t *WSTransport) ActiveAgents(ctx context.Context, sessionID string) ([]message.AgentInfo, error) {
	resp, err := t.call(ctx, &wireFrame{Kind: "activeAgents", SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	return resp.Agents, nil
}

// Close closes the underlying WebSocket connection.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	_ = t.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := t.conn.Close()
	t.conn = nil
	t.setConnected(false)
	return err
}

func (t *WSTransport) isConnected() bool {
	t.connMu.RLock()
	defer t.connMu.RUnlock()
	return t.connected
}

func (t *WSTransport) setConnected(v bool) {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	t.connected = v
}
