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

// Package message defines the wire types shared by the transport, receive,
// handshake, and signaling layers: EventMessage, the dual-offset
// ReceiveConfig cursor, and EventMessageResult (§3, §4.2).
package message

// Type enumerates the recognized EventMessage.Type values.
type Type string

const (
	TypeChatText        Type = "CHAT_TEXT"
	TypeCustom          Type = "CUSTOM"
	TypePasswordRequest Type = "PASSWORD_REQUEST"
	TypePasswordReply   Type = "PASSWORD_REPLY"
	TypeWebRTCSignaling Type = "WEBRTC_SIGNALING"
)

// BroadcastTo is the "to" value meaning "every agent in the channel".
const BroadcastTo = "*"

// EventMessage is the unit of exchange on a channel (spec §3).
type EventMessage struct {
	ID         string `json:"id"`
	Type       Type   `json:"type"`
	From       string `json:"from"`
	To         string `json:"to"` // agentName, or BroadcastTo
	Date       int64  `json:"date"` // epoch ms
	Content    []byte `json:"content"`
	Encrypted  bool   `json:"encrypted"`
	CustomType string `json:"customType,omitempty"`
}

// ReceiveConfig is the dual-offset cursor used to request and report a
// pull's position (spec §3): (globalOffset, localOffset, limit).
type ReceiveConfig struct {
	GlobalOffset uint64
	LocalOffset  uint64
	Limit        uint32
}

// EventMessageResult is returned by each pull (spec §3). Ephemeral events
// are never persisted by the server and are delivered strictly before
// durable Events in the same batch (§5).
type EventMessageResult struct {
	Events          []EventMessage
	EphemeralEvents []EventMessage
	NextGlobalOffset uint64
	NextLocalOffset  uint64
}

// Cursor returns the ReceiveConfig a caller should use for its next pull,
// preserving the limit from the request that produced this result.
func (r EventMessageResult) Cursor(limit uint32) ReceiveConfig {
	return ReceiveConfig{GlobalOffset: r.NextGlobalOffset, LocalOffset: r.NextLocalOffset, Limit: limit}
}

// Capability enumerates the fixed set of participant capabilities carried
// in AgentInfo (spec §3).
type Capability string

const (
	CapabilityChat       Capability = "chat"
	CapabilityWebRTC     Capability = "webrtc"
	CapabilityCustomData Capability = "custom_data"
)

// AgentInfo describes one active channel participant (spec §3). Within one
// channel instance, ConnectionTime is unique per agent for the session's
// duration — it is the host-election tiebreaker key.
type AgentInfo struct {
	AgentName      string
	ConnectionTime int64
	Capabilities   []Capability
}
