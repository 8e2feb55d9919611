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

// Package signaling routes WEBRTC_SIGNALING envelopes onto a table of
// StreamSessions and a PeerConnectionFactory abstraction (spec §4.4). It
// never parses SDP itself — that is the factory's job — so this package
// has no dependency on a concrete WebRTC peer connection implementation.
package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/sage-x-project/chanagent/internal/metrics"
	"github.com/sage-x-project/chanagent/pkg/agent/core/message"
	"github.com/sage-x-project/chanagent/pkg/agent/errs"
	"github.com/sage-x-project/chanagent/pkg/agent/handshake"
)

// Role is a stream's side of the offer/answer exchange.
type Role string

const (
	RoleOfferer  Role = "offerer"
	RoleAnswerer Role = "answerer"
)

// State is a StreamSession's lifecycle state.
type State string

const (
	StateNew       State = "new"
	StateOffered   State = "offered"
	StateAnswered  State = "answered"
	StateConnected State = "connected"
	StateFailed    State = "failed"
	StateClosed    State = "closed"
)

// maxPendingCandidates bounds the ICE-before-offer/answer buffer; once full,
// the oldest candidate is dropped to make room for the newest (spec §4.4
// buffers trickle ICE only for the brief window before negotiation
// completes, not indefinitely).
const maxPendingCandidates = 32

// StreamSession tracks one WebRTC stream's signaling state (spec §3).
type StreamSession struct {
	StreamID          string
	RemoteAgent       string
	Role              Role
	State             State
	PendingCandidates []webrtc.ICECandidateInit
}

// buffering reports whether sess is still in the window where trickled ICE
// candidates must be held back because the local side has no peer
// connection to add them to yet (spec §4.4).
func (s *StreamSession) buffering() bool {
	return s.State == StateNew || s.State == StateOffered
}

// envelopeKind mirrors the "kind" discriminator of a WEBRTC_SIGNALING
// event's content (spec §6).
type envelopeKind string

const (
	kindOffer  envelopeKind = "offer"
	kindAnswer envelopeKind = "answer"
	kindICE    envelopeKind = "ice"
)

// envelope is the JSON shape of a WEBRTC_SIGNALING event's content.
type envelope struct {
	Kind          envelopeKind              `json:"kind"`
	StreamID      string                    `json:"streamId"`
	SDP           *webrtc.SessionDescription `json:"sdp,omitempty"`
	ICECandidate  *webrtc.ICECandidateInit   `json:"iceCandidate,omitempty"`
}

// PeerConnectionFactory abstracts the actual WebRTC peer connection
// construction, which is explicitly out of scope for this package (spec
// §4.4: "The router does not parse SDP").
type PeerConnectionFactory interface {
	CreateAnswerForOffer(ctx context.Context, streamID string, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	CreateOfferForStream(ctx context.Context, streamID string) (webrtc.SessionDescription, error)
	HandleRemoteAnswer(ctx context.Context, streamID string, answer webrtc.SessionDescription) error
	AddICECandidate(ctx context.Context, streamID string, candidate webrtc.ICECandidateInit) error
	ClosePeerConnection(ctx context.Context, streamID string) error
}

// Router demultiplexes WEBRTC_SIGNALING events onto a StreamSession table
// and a PeerConnectionFactory (spec §4.4).
type Router struct {
	localAgent string
	factory    PeerConnectionFactory

	mu       sync.Mutex
	sessions map[string]*StreamSession
}

// NewRouter returns a Router for localAgent backed by factory.
func NewRouter(localAgent string, factory PeerConnectionFactory) *Router {
	return &Router{
		localAgent: localAgent,
		factory:    factory,
		sessions:   make(map[string]*StreamSession),
	}
}

// StreamSession returns the tracked session for streamID, or nil.
func (r *Router) StreamSession(streamID string) *StreamSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[streamID]
}

// InitiateOffer starts a new stream as offerer and sends the OFFER to
// remoteAgent. Callers (the connection manager) invoke this only when this
// agent is the elected host for the stream (spec §4.4/§8 item 6: "No OFFER
// is emitted by" a non-host).
//
// The session is tracked as StateNew from the moment it's registered, before
// the OFFER has even been built: trickle ICE from a prior negotiation
// attempt with the same peer (or a misordered retransmit) arriving in this
// window is buffered rather than rejected, matching handleOffer's side of
// the same race.
func (r *Router) InitiateOffer(ctx context.Context, streamID, remoteAgent string, send handshake.Sender) error {
	r.mu.Lock()
	r.sessions[streamID] = &StreamSession{StreamID: streamID, RemoteAgent: remoteAgent, Role: RoleOfferer, State: StateNew}
	r.mu.Unlock()
	metrics.SignalingStreamsGauge.WithLabelValues(string(StateNew)).Inc()

	offer, err := r.factory.CreateOfferForStream(ctx, streamID)
	if err != nil {
		r.transition(ctx, streamID, StateFailed)
		return fmt.Errorf("signaling: create offer: %w", err)
	}

	if err := r.sendEnvelope(send, remoteAgent, envelope{Kind: kindOffer, StreamID: streamID, SDP: &offer}); err != nil {
		r.transition(ctx, streamID, StateFailed)
		return err
	}
	return r.transition(ctx, streamID, StateOffered)
}

// HandleEnvelope processes one inbound WEBRTC_SIGNALING event (spec §4.4).
func (r *Router) HandleEnvelope(ctx context.Context, evt message.EventMessage, send handshake.Sender) error {
	var env envelope
	if err := json.Unmarshal(evt.Content, &env); err != nil {
		return fmt.Errorf("%w: malformed WEBRTC_SIGNALING content: %v", errs.ErrProtocolViolation, err)
	}
	if env.StreamID == "" {
		return fmt.Errorf("%w: WEBRTC_SIGNALING without streamId", errs.ErrProtocolViolation)
	}

	switch env.Kind {
	case kindOffer:
		return r.handleOffer(ctx, evt.From, env, send)
	case kindAnswer:
		return r.handleAnswer(ctx, env)
	case kindICE:
		return r.handleICE(ctx, env)
	default:
		return fmt.Errorf("%w: unknown signaling kind %q", errs.ErrProtocolViolation, env.Kind)
	}
}

func (r *Router) handleOffer(ctx context.Context, remoteAgent string, env envelope, send handshake.Sender) error {
	if env.SDP == nil {
		return fmt.Errorf("%w: OFFER without sdp", errs.ErrProtocolViolation)
	}

	r.mu.Lock()
	existing := r.sessions[env.StreamID]
	if existing == nil {
		r.sessions[env.StreamID] = &StreamSession{StreamID: env.StreamID, RemoteAgent: remoteAgent, Role: RoleAnswerer, State: StateNew}
	}
	r.mu.Unlock()
	if existing != nil {
		return nil // stream already known; ignore a stray re-offer
	}
	metrics.SignalingStreamsGauge.WithLabelValues(string(StateNew)).Inc()

	// The session sits in StateNew for the duration of this factory call, so
	// ICE for this stream that arrives while the answer is being built is
	// buffered by handleICE. ICE for a streamId that has no session yet
	// (delivered ahead of its OFFER) is rejected as unknown-stream.
	answer, err := r.factory.CreateAnswerForOffer(ctx, env.StreamID, *env.SDP)
	if err != nil {
		r.transition(ctx, env.StreamID, StateFailed)
		return fmt.Errorf("signaling: create answer: %w", err)
	}

	if err := r.sendEnvelope(send, remoteAgent, envelope{Kind: kindAnswer, StreamID: env.StreamID, SDP: &answer}); err != nil {
		r.transition(ctx, env.StreamID, StateFailed)
		return err
	}
	return r.transition(ctx, env.StreamID, StateAnswered)
}

func (r *Router) handleAnswer(ctx context.Context, env envelope) error {
	if env.SDP == nil {
		return fmt.Errorf("%w: ANSWER without sdp", errs.ErrProtocolViolation)
	}
	sess := r.StreamSession(env.StreamID)
	if sess == nil {
		return fmt.Errorf("%w: ANSWER for unknown streamId %q", errs.ErrProtocolViolation, env.StreamID)
	}
	if err := r.factory.HandleRemoteAnswer(ctx, env.StreamID, *env.SDP); err != nil {
		r.transition(ctx, env.StreamID, StateFailed)
		return fmt.Errorf("signaling: handle remote answer: %w", err)
	}
	return r.transition(ctx, env.StreamID, StateAnswered)
}

func (r *Router) handleICE(ctx context.Context, env envelope) error {
	if env.ICECandidate == nil {
		return fmt.Errorf("%w: ICE envelope without iceCandidate", errs.ErrProtocolViolation)
	}
	r.mu.Lock()
	sess, ok := r.sessions[env.StreamID]
	if ok && sess.buffering() {
		sess.PendingCandidates = append(sess.PendingCandidates, *env.ICECandidate)
		if len(sess.PendingCandidates) > maxPendingCandidates {
			sess.PendingCandidates = sess.PendingCandidates[len(sess.PendingCandidates)-maxPendingCandidates:]
		}
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: ICE for unknown streamId %q", errs.ErrProtocolViolation, env.StreamID)
	}
	return r.factory.AddICECandidate(ctx, env.StreamID, *env.ICECandidate)
}

// Close tears down streamID's peer connection and removes it from the
// table.
func (r *Router) Close(ctx context.Context, streamID string) error {
	r.mu.Lock()
	delete(r.sessions, streamID)
	r.mu.Unlock()
	return r.factory.ClosePeerConnection(ctx, streamID)
}

// transition moves streamID to state and, once the session has left the
// ICE-buffering window (any state other than StateNew or StateOffered), flushes
// any candidates buffered while negotiation was in flight.
func (r *Router) transition(ctx context.Context, streamID string, state State) error {
	r.mu.Lock()
	sess, ok := r.sessions[streamID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	sess.State = state
	var pending []webrtc.ICECandidateInit
	if !sess.buffering() && len(sess.PendingCandidates) > 0 {
		pending = sess.PendingCandidates
		sess.PendingCandidates = nil
	}
	r.mu.Unlock()
	metrics.SignalingStreamsGauge.WithLabelValues(string(state)).Inc()

	for _, c := range pending {
		if err := r.factory.AddICECandidate(ctx, streamID, c); err != nil {
			return fmt.Errorf("signaling: flush buffered ICE candidate: %w", err)
		}
	}
	return nil
}

// MissingPeers returns the subset of activeAgents this router has no live
// (non-failed, non-closed) stream session with.
func (r *Router) MissingPeers(activeAgents []string) []string {
	r.mu.Lock()
	live := make(map[string]bool, len(r.sessions))
	for _, sess := range r.sessions {
		if sess.State != StateFailed && sess.State != StateClosed {
			live[sess.RemoteAgent] = true
		}
	}
	r.mu.Unlock()

	var missing []string
	for _, agent := range activeAgents {
		if agent != r.localAgent && !live[agent] {
			missing = append(missing, agent)
		}
	}
	return missing
}

// TriggerHostMigration re-establishes streams to every peer this router
// doesn't already have a live one with, by offering each a fresh stream
// (spec §4.4 "Host-migration hook"). The connection manager calls this once
// it determines, from a refreshed activeAgents set, that the local agent
// has newly become host.
func (r *Router) TriggerHostMigration(ctx context.Context, activeAgents []string, send handshake.Sender) error {
	for _, peer := range r.MissingPeers(activeAgents) {
		if err := r.InitiateOffer(ctx, uuid.NewString(), peer, send); err != nil {
			return fmt.Errorf("signaling: host migration offer to %s: %w", peer, err)
		}
	}
	return nil
}

func (r *Router) sendEnvelope(send handshake.Sender, to string, env envelope) error {
	content, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("signaling: marshal envelope: %w", err)
	}
	evt := message.EventMessage{
		ID:        uuid.NewString(),
		Type:      message.TypeWebRTCSignaling,
		From:      r.localAgent,
		To:        to,
		Content:   content,
		Encrypted: false,
	}
	if err := send(evt); err != nil {
		return fmt.Errorf("signaling: send %s: %w", env.Kind, err)
	}
	return nil
}
