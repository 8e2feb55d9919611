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

// Package receive implements the dual-offset receive pipeline (spec §4.2):
// a single pull advances (globalOffset, localOffset) monotonically,
// decrypts encrypted events via the crypto layer, routes handshake and
// WebRTC-signaling events automatically, and delivers the rest (ephemeral
// first) to the caller's handler.
package receive

import (
	"context"
	"fmt"
	"sync"

	"github.com/sage-x-project/chanagent/internal/logging"
	"github.com/sage-x-project/chanagent/internal/metrics"
	agentcrypto "github.com/sage-x-project/chanagent/pkg/agent/crypto"
	"github.com/sage-x-project/chanagent/pkg/agent/core/message"
	"github.com/sage-x-project/chanagent/pkg/agent/errs"
	"github.com/sage-x-project/chanagent/pkg/agent/handshake"
	"github.com/sage-x-project/chanagent/pkg/agent/session"
	"github.com/sage-x-project/chanagent/pkg/agent/signaling"
)

// Puller performs one long-poll pull; satisfied by transport.ControlTransport
// (and by the HTTP datagram bridge's Pull), kept narrow here to avoid an
// import cycle with the transport package.
type Puller func(ctx context.Context, sessionID string, cfg message.ReceiveConfig) (*message.EventMessageResult, error)

// Handler is the user callback for non-auto-routed events.
type Handler func(evt message.EventMessage)

// Pipeline drives the dual-offset cursor for one session: every Pull
// advances the cursor using the server's reported NextGlobalOffset/
// NextLocalOffset (never the caller's own arithmetic), satisfying the
// cursor-monotonicity invariant (spec §8 item 1) by construction — the
// cursor only ever takes values the server itself returned.
type Pipeline struct {
	session  *session.Session
	pull     Puller
	responder *handshake.Responder
	requester *handshake.Requester
	router   *signaling.Router
	logger   logging.Logger

	mu     sync.Mutex
	cursor message.ReceiveConfig
}

// New constructs a Pipeline seeded at start (typically currentReceiveConfig
// or initialReceiveConfig from the handshake response, spec §4.1).
func New(sess *session.Session, pull Puller, responder *handshake.Responder, requester *handshake.Requester, router *signaling.Router, start message.ReceiveConfig, logger logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.Default()
	}
	return &Pipeline{
		session:   sess,
		pull:      pull,
		responder: responder,
		requester: requester,
		router:    router,
		logger:    logger,
		cursor:    start,
	}
}

// Cursor returns the pipeline's current ReceiveConfig.
func (p *Pipeline) Cursor() message.ReceiveConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// Pull performs one batch: fetches events at the current cursor, advances
// the cursor from the server's response, decrypts and auto-routes eligible
// events, and delivers the rest to handler. Ephemeral events are delivered
// before durable events within the batch (spec §3/§5).
func (p *Pipeline) Pull(ctx context.Context, send handshake.Sender, handler Handler) error {
	p.mu.Lock()
	cfg := p.cursor
	p.mu.Unlock()

	result, err := p.pull(ctx, p.session.SessionID, cfg)
	if err != nil {
		metrics.ReceiveBatchesTotal.WithLabelValues("transport_error").Inc()
		return fmt.Errorf("%w: pull: %v", errs.ErrTransport, err)
	}

	p.mu.Lock()
	p.cursor = result.Cursor(cfg.Limit)
	p.mu.Unlock()
	metrics.ReceiveCursorGlobal.Set(float64(p.cursor.GlobalOffset))
	metrics.ReceiveBatchesTotal.WithLabelValues("success").Inc()

	for _, evt := range result.EphemeralEvents {
		metrics.ReceiveEventsTotal.WithLabelValues("ephemeral").Inc()
		p.dispatch(ctx, evt, send, handler)
	}
	for _, evt := range result.Events {
		metrics.ReceiveEventsTotal.WithLabelValues("durable").Inc()
		p.dispatch(ctx, evt, send, handler)
	}
	return nil
}

// dispatch applies the decrypt-then-auto-route-then-deliver pipeline to a
// single event (spec §4.2).
func (p *Pipeline) dispatch(ctx context.Context, evt message.EventMessage, send handshake.Sender, handler Handler) {
	if evt.Encrypted {
		plaintext, err := p.decrypt(evt)
		if err != nil {
			metrics.CryptoDecryptFailuresTotal.Inc()
			p.logger.Warn("drop undecryptable event", logging.String("eventId", evt.ID), logging.Err(err))
			return
		}
		evt.Content = plaintext
	}

	// Auto-event filter (spec §8 item 3): replayed history never triggers
	// side-effectful auto-routing, regardless of event type.
	if !p.session.IsEventEligible(evt.Date) {
		handler(evt)
		return
	}

	switch evt.Type {
	case message.TypePasswordRequest:
		if evt.From == p.session.AgentName {
			return // our own broadcast, echoed back
		}
		if p.responder != nil {
			if err := p.responder.HandleRequest(p.session, evt, send); err != nil {
				p.logger.Warn("password request handling failed", logging.Err(err))
			}
		}
		return
	case message.TypePasswordReply:
		if err := handshake.ConsumeReply(p.session, evt, p.requester); err != nil {
			p.logger.Warn("password reply consumption failed", logging.Err(err))
		}
		return
	case message.TypeWebRTCSignaling:
		if evt.From == p.session.AgentName {
			return
		}
		if p.router != nil {
			if err := p.router.HandleEnvelope(ctx, evt, send); err != nil {
				p.logger.Warn("signaling envelope handling failed", logging.Err(err))
			}
		}
		return
	}

	handler(evt)
}

func (p *Pipeline) decrypt(evt message.EventMessage) ([]byte, error) {
	if !p.session.HasChannelSecret() {
		return nil, errs.ErrAuthDecrypt
	}
	env, err := agentcrypto.DecodeEnvelope(string(evt.Content))
	if err != nil {
		return nil, err
	}
	return agentcrypto.Decrypt(p.session.ChannelSecret(), string(evt.Type), evt.From, evt.To, env)
}
