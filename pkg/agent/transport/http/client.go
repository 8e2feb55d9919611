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

// Package http implements transport.ControlTransport as plain HTTP/REST
// request-response calls, one POST per control operation. Receive is a
// long-poll: the server is expected to hold the connection open until
// events are available or its own poll interval elapses (spec §4.5).
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sage-x-project/chanagent/pkg/agent/core/message"
	"github.com/sage-x-project/chanagent/pkg/agent/transport"
)

// HTTPTransport implements transport.ControlTransport over HTTP/REST.
type HTTPTransport struct {
	baseURL    string
	httpClient *http.Client
	apiKey     []byte
}

// NewHTTPTransport returns a transport posting to {baseURL}/{handshake,
// disconnect, send, receive, active-agents} with a 30s default timeout.
func NewHTTPTransport(baseURL string) *HTTPTransport {
	return &HTTPTransport{baseURL: baseURL, httpClient: &http.Client{Timeout: 30 * time.Second}}
}

// WithAPIKeySecret configures the HMAC secret used to sign the bearer token
// a private-scope handshake carries (spec §6). Public-scope handshakes are
// unaffected.
func (t *HTTPTransport) WithAPIKeySecret(secret []byte) *HTTPTransport {
	t.apiKey = secret
	return t
}

// NewHTTPTransportWithClient allows overriding timeout/TLS/transport.
func NewHTTPTransportWithClient(baseURL string, httpClient *http.Client) *HTTPTransport {
	return &HTTPTransport{baseURL: baseURL, httpClient: httpClient}
}

func (t *HTTPTransport) post(ctx context.Context, path string, body, out any) error {
	return t.postWithAuth(ctx, path, "", body, out)
}

func (t *HTTPTransport) postWithAuth(ctx context.Context, path, bearer string, body, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("transport: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("transport: %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("transport: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("transport: %s: HTTP %d: %s", path, resp.StatusCode, string(respBody))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("transport: parse response: %w", err)
	}
	return nil
}

// Handshake implements transport.ControlTransport. A private-scope request
// carries a short-lived bearer token signed with the configured API key
// secret; public-scope requests carry none.
func (t *HTTPTransport) Handshake(ctx context.Context, req transport.HandshakeRequest) (*transport.HandshakeResponse, error) {
	var bearer string
	if req.APIKeyScope == transport.ScopePrivate && len(t.apiKey) > 0 {
		signed, err := signAPIKey(t.apiKey, req.APIKeyScope, req.AgentName, 5*time.Minute)
		if err != nil {
			return nil, err
		}
		bearer = signed
	}
	var resp transport.HandshakeResponse
	if err := t.postWithAuth(ctx, "/handshake", bearer, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Disconnect implements transport.ControlTransport.
func (t *HTTPTransport) Disconnect(ctx context.Context, sessionID string, beacon bool) error {
	return t.post(ctx, "/disconnect", disconnectRequest{SessionID: sessionID, Beacon: beacon}, nil)
}

// Send implements transport.ControlTransport.
func (t *HTTPTransport) Send(ctx context.Context, sessionID string, evt message.EventMessage) error {
	return t.post(ctx, "/send", sendRequest{SessionID: sessionID, Event: evt}, nil)
}

// Receive implements transport.ControlTransport. The underlying HTTP call
// is expected to long-poll server-side; this client applies no extra delay.
func (t *HTTPTransport) Receive(ctx context.Context, sessionID string, cfg message.ReceiveConfig) (*message.EventMessageResult, error) {
	var result message.EventMessageResult
	if err := t.post(ctx, "/receive", receiveRequest{SessionID: sessionID, Config: cfg}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ActiveAgents implements transport.ControlTransport.
func (t *HTTPTransport) ActiveAgents(ctx context.Context, sessionID string) ([]message.AgentInfo, error) {
	var resp activeAgentsResponse
	if err := t.post(ctx, "/active-agents", activeAgentsRequest{SessionID: sessionID}, &resp); err != nil {
		return nil, err
	}
	return resp.Agents, nil
}

// Close is a no-op: the HTTP transport holds no persistent connection.
func (t *HTTPTransport) Close() error { return nil }

type disconnectRequest struct {
	SessionID string `json:"sessionId"`
	Beacon    bool   `json:"beacon"`
}

type sendRequest struct {
	SessionID string                `json:"sessionId"`
	Event     message.EventMessage  `json:"event"`
}

type receiveRequest struct {
	SessionID string                `json:"sessionId"`
	Config    message.ReceiveConfig `json:"config"`
}

type activeAgentsRequest struct {
	SessionID string `json:"sessionId"`
}

type activeAgentsResponse struct {
	Agents []message.AgentInfo `json:"agents"`
}
