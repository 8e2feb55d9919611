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

// Package session holds the per-agent mutable state created by a successful
// handshake: sessionId, channelId, agentName, connectionTime, and the
// late-initialized channel secret and RSA key pair (§3). channelSecret and
// keyPair are written once — at connect time, or later when a
// PASSWORD_REPLY is consumed — and read many times by the crypto and
// receive layers concurrently, so both are held behind atomic.Pointer
// publication rather than a plain field plus mutex.
package session

import (
	"sync/atomic"
	"time"

	"github.com/sage-x-project/chanagent/pkg/agent/crypto"
)

const GeneralPrefix = "session"

// Session is the live state of one connected agent. Every exported field
// read is either immutable after construction (SessionID, ChannelID,
// AgentName, ConnectionTime) or published atomically (ChannelSecret,
// ChannelName, ChannelPassword, KeyPair).
type Session struct {
	// SessionID is opaque and server-issued; never interpreted by the client.
	SessionID string
	// ChannelID identifies the channel instance; stable for the connection's
	// lifetime.
	ChannelID string
	// AgentName is this agent's identity within the channel.
	AgentName string
	// ConnectionTime is the epoch-ms timestamp the server recorded for this
	// agent's connect; authoritative for host election (spec §4.4) and for
	// the auto-event-filter invariant (only events with date >
	// ConnectionTime are eligible for side-effectful routing).
	ConnectionTime int64

	channelName     atomic.Pointer[string]
	channelPassword atomic.Pointer[string]
	channelSecret   atomic.Pointer[[]byte]
	keyPair         atomic.Pointer[crypto.KeyPair]
}

// New constructs a Session from a successful handshake response. channelName
// and channelPassword may be empty (joined by channelId only, pending the
// password handshake).
func New(sessionID, channelID, agentName string, connectionTime int64) *Session {
	return &Session{
		SessionID:      sessionID,
		ChannelID:      channelID,
		AgentName:      agentName,
		ConnectionTime: connectionTime,
	}
}

// SetChannelCredentials publishes channelName, channelPassword and the
// derived channelSecret, each through its own atomic pointer and in that
// order, so a reader that sees the secret also sees the name and password.
// The three stores are not one atomic step. Called either at connect time (when
// credentials were supplied directly) or after a PASSWORD_REPLY is
// RSA-decrypted (spec §4.3).
func (s *Session) SetChannelCredentials(channelName, channelPassword string, channelSecret []byte) {
	s.channelName.Store(&channelName)
	s.channelPassword.Store(&channelPassword)
	secretCopy := append([]byte(nil), channelSecret...)
	s.channelSecret.Store(&secretCopy)
}

// ChannelName returns the channel name, or "" if not yet known.
func (s *Session) ChannelName() string {
	if p := s.channelName.Load(); p != nil {
		return *p
	}
	return ""
}

// ChannelPassword returns the channel password, or "" if not yet known.
func (s *Session) ChannelPassword() string {
	if p := s.channelPassword.Load(); p != nil {
		return *p
	}
	return ""
}

// ChannelSecret returns the derived symmetric key, or nil if not yet
// established.
func (s *Session) ChannelSecret() []byte {
	if p := s.channelSecret.Load(); p != nil {
		return *p
	}
	return nil
}

// HasChannelSecret is the single authoritative predicate for "can this
// session encrypt/decrypt right now" (spec Design Notes §9: the source
// branches inconsistently on channelSecret vs channelPassword presence;
// this implementation always tests channelSecret).
func (s *Session) HasChannelSecret() bool {
	return len(s.ChannelSecret()) > 0
}

// SetKeyPair publishes the ephemeral RSA key pair generated at connect time.
func (s *Session) SetKeyPair(kp crypto.KeyPair) {
	s.keyPair.Store(&kp)
}

// KeyPair returns the session's RSA key pair, or nil if not yet generated.
func (s *Session) KeyPair() crypto.KeyPair {
	if p := s.keyPair.Load(); p != nil {
		return *p
	}
	return nil
}

// IsEventEligible reports whether an event with the given epoch-ms date is
// eligible for auto-routing side effects (spec §4.2/§8 item 3): only events
// strictly newer than the session's connection time qualify, so replayed
// history never re-triggers handshake/signaling routing.
func (s *Session) IsEventEligible(eventDateMs int64) bool {
	return eventDateMs > s.ConnectionTime
}

// NowMs returns the current time as epoch milliseconds, the unit
// ConnectionTime and EventMessage.date are both expressed in.
func NowMs() int64 {
	return time.Now().UnixMilli()
}
