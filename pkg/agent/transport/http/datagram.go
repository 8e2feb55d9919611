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

package http

import (
	"context"

	"github.com/sage-x-project/chanagent/pkg/agent/core/message"
)

// DatagramTransport implements transport.DatagramTransport (spec §4.5) over
// the same request/response HTTP primitive as HTTPTransport. push is
// fire-and-forget from the caller's perspective: the server may still
// reject it, but the client never retries.
type DatagramTransport struct {
	http *HTTPTransport
}

// NewDatagramTransport wraps an HTTPTransport's /udp-push and /udp-pull
// endpoints.
func NewDatagramTransport(baseURL string) *DatagramTransport {
	return &DatagramTransport{http: NewHTTPTransport(baseURL)}
}

// Push implements transport.DatagramTransport.
func (d *DatagramTransport) Push(ctx context.Context, sessionID, destination string, content []byte) error {
	return d.http.post(ctx, "/udp-push", udpPushRequest{SessionID: sessionID, Destination: destination, Content: content}, nil)
}

// Pull implements transport.DatagramTransport. In shape it is identical to
// the control path's Receive (spec §4.5: "pull... equivalent in shape to
// the control receive").
func (d *DatagramTransport) Pull(ctx context.Context, sessionID string, cfg message.ReceiveConfig) (*message.EventMessageResult, error) {
	var result message.EventMessageResult
	if err := d.http.post(ctx, "/udp-pull", receiveRequest{SessionID: sessionID, Config: cfg}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Close implements transport.DatagramTransport.
func (d *DatagramTransport) Close() error { return d.http.Close() }

type udpPushRequest struct {
	SessionID   string `json:"sessionId"`
	Destination string `json:"destination"`
	Content     []byte `json:"content"`
}
