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

package handshake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/sage-x-project/chanagent/internal/metrics"
	"github.com/sage-x-project/chanagent/pkg/agent/core/message"
	"github.com/sage-x-project/chanagent/pkg/agent/session"
)

// Sender delivers an EventMessage to the channel; supplied by the
// connection manager so this package stays transport-agnostic.
type Sender func(message.EventMessage) error

// Requester issues PASSWORD_REQUEST broadcasts and lets a caller wait for
// the resulting PASSWORD_REPLY to be consumed. §9 Open Questions resolves
// requestPassword(0) as fire-and-forget: the broadcast is always sent, and
// a zero or already-elapsed timeout returns false immediately without
// waiting.
type Requester struct {
	mu      sync.Mutex
	waiters map[string][]chan struct{} // channelID -> subscribers notified on Consume

	// sf dedupes ConsumeReply's unwrap-and-derive work when the background
	// receive worker and a local-control client's synchronous Receive call
	// both process the same PASSWORD_REPLY concurrently.
	sf singleflight.Group
}

// NewRequester returns an empty Requester.
func NewRequester() *Requester {
	return &Requester{waiters: make(map[string][]chan struct{})}
}

// RequestPassword broadcasts PASSWORD_REQUEST for sess's channel and, if
// timeout > 0, blocks until either a reply is consumed (returns true) or
// the timeout/ctx elapses (returns false). A zero or negative timeout
// returns false immediately after the broadcast is sent.
func (r *Requester) RequestPassword(ctx context.Context, sess *session.Session, timeout time.Duration, send Sender) (bool, error) {
	kp := sess.KeyPair()
	if kp == nil {
		return false, fmt.Errorf("handshake: session has no key pair to request credentials with")
	}
	pubPEM, err := kp.PublicKeyPEM()
	if err != nil {
		return false, fmt.Errorf("handshake: encode public key: %w", err)
	}
	content, err := marshalPasswordRequest(PasswordRequestContent{PublicKeyPEM: pubPEM})
	if err != nil {
		return false, fmt.Errorf("handshake: marshal request: %w", err)
	}

	req := message.EventMessage{
		ID:        uuid.NewString(),
		Type:      message.TypePasswordRequest,
		From:      sess.AgentName,
		To:        message.BroadcastTo,
		Date:      session.NowMs(),
		Content:   content,
		Encrypted: false,
	}

	var notify chan struct{}
	if timeout > 0 {
		notify = make(chan struct{})
		r.addWaiter(sess.ChannelID, notify)
	}

	if err := send(req); err != nil {
		if notify != nil {
			r.removeWaiter(sess.ChannelID, notify)
		}
		return false, fmt.Errorf("handshake: send request: %w", err)
	}
	metrics.HandshakeRequestsTotal.Inc()

	if timeout <= 0 {
		return false, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-notify:
		return true, nil
	case <-timer.C:
		r.removeWaiter(sess.ChannelID, notify)
		return false, nil
	case <-ctx.Done():
		r.removeWaiter(sess.ChannelID, notify)
		return false, nil
	}
}

// NotifyReplyConsumed wakes any RequestPassword callers waiting on
// channelID. Called by the server side once ConsumeReply has populated the
// session's channel secret.
func (r *Requester) NotifyReplyConsumed(channelID string) {
	r.mu.Lock()
	waiters := r.waiters[channelID]
	delete(r.waiters, channelID)
	r.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
}

func (r *Requester) addWaiter(channelID string, ch chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waiters[channelID] = append(r.waiters[channelID], ch)
}

func (r *Requester) removeWaiter(channelID string, ch chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.waiters[channelID]
	for i, c := range list {
		if c == ch {
			r.waiters[channelID] = append(list[:i], list[i+1:]...)
			break
		}
	}
}
