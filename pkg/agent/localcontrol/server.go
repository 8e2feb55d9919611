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

// Package localcontrol implements the line-delimited JSON control surface
// (spec §4.6): one request object per line, one response object per line,
// letting a non-native host embed the agent runtime as a sidecar over a
// loopback listener. The endpoint shares one connection.Manager across
// every accepted client; each client runs on its own worker goroutine.
package localcontrol

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sage-x-project/chanagent/internal/logging"
	"github.com/sage-x-project/chanagent/pkg/agent/connection"
	"github.com/sage-x-project/chanagent/pkg/agent/core/message"
)

// Op is the request discriminator.
type Op string

const (
	OpConnect    Op = "connect"
	OpDisconnect Op = "disconnect"
	OpUDPPush    Op = "udpPush"
	OpUDPPull    Op = "udpPull"

	// The following ops extend spec §4.6's literal four: the suspension
	// points it names in §5 (connect, receive, send, udpPull,
	// requestPassword) otherwise have no control-path surface at all.
	OpSend            Op = "send"
	OpReceive         Op = "receive"
	OpRequestPassword Op = "requestPassword"
)

// Request is one line of the control protocol's input stream.
type Request struct {
	Op               Op                    `json:"op"`
	ChannelName      string                `json:"channelName,omitempty"`
	ChannelPassword  string                `json:"channelPassword,omitempty"`
	ChannelID        string                `json:"channelId,omitempty"`
	AgentName        string                `json:"agentName,omitempty"`
	SessionID        string                `json:"sessionId,omitempty"`
	EnableWebRTC     bool                  `json:"enableWebrtcRelay,omitempty"`
	CheckLastSession bool                  `json:"checkLastSession,omitempty"`
	Beacon           bool                  `json:"beacon,omitempty"`
	Destination      string                `json:"destination,omitempty"`
	Content          []byte                `json:"content,omitempty"`
	EventType        string                `json:"eventType,omitempty"`
	Cursor           message.ReceiveConfig `json:"cursor,omitempty"`
	TimeoutMs        int64                 `json:"timeoutMs,omitempty"`
}

// defaultSuspendTimeout bounds receive/requestPassword when the caller
// doesn't set TimeoutMs.
const defaultSuspendTimeout = 10 * time.Second

// Status is the outcome discriminator of a Response.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Response is one line of the control protocol's output stream.
type Response struct {
	Status  Status `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// Server accepts connections on a net.Listener and drives each one against
// a shared connection.Manager.
type Server struct {
	manager *connection.Manager
	logger  logging.Logger
	udp     DatagramBridge

	mu       sync.Mutex
	wg       sync.WaitGroup
	listener net.Listener
	closed   bool
}

// DatagramBridge backs udpPush/udpPull when the embedding host wants the
// low-latency datagram path (spec §4.5) rather than the control-path
// receive pipeline.
type DatagramBridge interface {
	Push(ctx context.Context, sessionID, destination string, content []byte) error
	Pull(ctx context.Context, sessionID string, cfg message.ReceiveConfig) (*message.EventMessageResult, error)
}

// NewServer constructs a Server driving manager, optionally backed by a
// DatagramBridge for udpPush/udpPull (nil disables those two ops).
func NewServer(manager *connection.Manager, udp DatagramBridge, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.Default()
	}
	return &Server{manager: manager, udp: udp, logger: logger}
}

// Serve accepts connections on l until Close is called or l.Accept fails.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	for {
		conn, err := l.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleClient(conn)
		}()
	}
}

// Close stops accepting new clients and waits for in-flight ones to finish
// their current line.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	l := s.listener
	s.mu.Unlock()
	if l != nil {
		l.Close()
	}
	s.wg.Wait()
	return nil
}

func (s *Server) handleClient(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			encoder.Encode(Response{Status: StatusError, Message: "malformed request: " + err.Error()})
			continue
		}
		resp := s.dispatch(&req)
		if err := encoder.Encode(resp); err != nil {
			s.logger.Warn("local control write failed", logging.Err(err))
			return
		}
	}
}

func (s *Server) dispatch(req *Request) Response {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch req.Op {
	case OpConnect:
		return s.handleConnect(ctx, req)
	case OpDisconnect:
		return s.handleDisconnect(ctx, req)
	case OpUDPPush:
		return s.handleUDPPush(ctx, req)
	case OpUDPPull:
		return s.handleUDPPull(ctx, req)
	case OpSend:
		return s.handleSend(ctx, req)
	case OpReceive:
		return s.handleReceive(ctx, req)
	case OpRequestPassword:
		return s.handleRequestPassword(ctx, req)
	default:
		return Response{Status: StatusError, Message: "unknown op: " + string(req.Op)}
	}
}

func (s *Server) handleConnect(ctx context.Context, req *Request) Response {
	ok, err := s.manager.Connect(ctx, connection.ConnectConfig{
		ChannelName:       req.ChannelName,
		ChannelPassword:   req.ChannelPassword,
		ChannelID:         req.ChannelID,
		AgentName:         req.AgentName,
		SessionID:         req.SessionID,
		EnableWebRTCRelay: req.EnableWebRTC,
		CheckLastSession:  req.CheckLastSession,
	})
	if err != nil {
		return Response{Status: StatusError, Message: err.Error()}
	}
	return Response{Status: StatusOK, Data: map[string]bool{"connected": ok}}
}

func (s *Server) handleDisconnect(ctx context.Context, req *Request) Response {
	ok, err := s.manager.Disconnect(ctx, req.Beacon)
	if err != nil {
		return Response{Status: StatusError, Message: err.Error()}
	}
	return Response{Status: StatusOK, Data: map[string]bool{"disconnected": ok}}
}

func (s *Server) handleUDPPush(ctx context.Context, req *Request) Response {
	if s.udp == nil {
		return Response{Status: StatusError, Message: "udp datagram bridge not configured"}
	}
	if err := s.udp.Push(ctx, req.SessionID, req.Destination, req.Content); err != nil {
		return Response{Status: StatusError, Message: err.Error()}
	}
	return Response{Status: StatusOK}
}

func (s *Server) handleUDPPull(ctx context.Context, req *Request) Response {
	if s.udp == nil {
		return Response{Status: StatusError, Message: "udp datagram bridge not configured"}
	}
	result, err := s.udp.Pull(ctx, req.SessionID, req.Cursor)
	if err != nil {
		return Response{Status: StatusError, Message: err.Error()}
	}
	return Response{Status: StatusOK, Data: result}
}

func (s *Server) handleSend(ctx context.Context, req *Request) Response {
	evtType := message.TypeCustom
	if req.EventType != "" {
		evtType = message.Type(req.EventType)
	}
	evt := message.EventMessage{
		ID:      uuid.NewString(),
		Type:    evtType,
		From:    req.AgentName,
		To:      req.Destination,
		Date:    time.Now().UnixMilli(),
		Content: req.Content,
	}
	if req.Destination == "" {
		evt.To = message.BroadcastTo
	}
	if err := s.manager.Send(ctx, evt); err != nil {
		return Response{Status: StatusError, Message: err.Error()}
	}
	return Response{Status: StatusOK, Data: map[string]string{"id": evt.ID}}
}

func (s *Server) handleReceive(ctx context.Context, req *Request) Response {
	ctx, cancel := context.WithTimeout(ctx, ctxBound(req))
	defer cancel()
	events, err := s.manager.Receive(ctx)
	if err != nil {
		return Response{Status: StatusError, Message: err.Error()}
	}
	return Response{Status: StatusOK, Data: map[string]any{"events": events}}
}

func (s *Server) handleRequestPassword(ctx context.Context, req *Request) Response {
	ctx, cancel := context.WithTimeout(ctx, ctxBound(req))
	defer cancel()
	ok, err := s.manager.RequestPassword(ctx, timeoutOf(req))
	if err != nil {
		return Response{Status: StatusError, Message: err.Error()}
	}
	return Response{Status: StatusOK, Data: map[string]bool{"received": ok}}
}

// timeoutOf passes req.TimeoutMs through unmodified: a value <= 0 preserves
// RequestPassword's fire-and-forget contract (spec §4.3 "a zero or negative
// timeout returns false immediately after the broadcast is sent") rather
// than being coerced into a blocking wait.
func timeoutOf(req *Request) time.Duration {
	return time.Duration(req.TimeoutMs) * time.Millisecond
}

// ctxBound bounds the handler's own context independent of the
// business-level timeout semantics timeoutOf carries: a non-positive
// TimeoutMs still needs a sane ctx deadline for handleReceive's blocking
// pull, and leaves headroom under dispatch's own 30s context deadline.
func ctxBound(req *Request) time.Duration {
	if req.TimeoutMs <= 0 {
		return defaultSuspendTimeout
	}
	t := time.Duration(req.TimeoutMs) * time.Millisecond
	if t > 25*time.Second {
		t = 25 * time.Second
	}
	return t
}
