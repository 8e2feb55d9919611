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

// Package handshake implements the in-band password handshake (spec §4.3):
// a joining agent that knows only a channelId broadcasts PASSWORD_REQUEST,
// and any credentialed peer may reply with an RSA-wrapped PASSWORD_REPLY
// carrying (channelName, channelPassword).
package handshake

import "encoding/json"

// PasswordRequestContent is the unencrypted content of a PASSWORD_REQUEST
// event (spec §4.3): "broadcasts PASSWORD_REQUEST to '*' with content =
// { publicKeyPem }. The message is not encrypted."
type PasswordRequestContent struct {
	PublicKeyPEM string `json:"publicKeyPem"`
}

// PasswordReplyPlaintext is the JSON payload RSA-wrapped inside a
// PASSWORD_REPLY's content (spec §4.3).
type PasswordReplyPlaintext struct {
	ChannelName     string `json:"channelName"`
	ChannelPassword string `json:"channelPassword"`
}

// RequestPolicy is the implementation-supplied predicate deciding whether
// this agent should answer an incoming PASSWORD_REQUEST (spec §4.3):
// "onPasswordRequest(channelId, requesterAgentName, requesterPublicKey) →
// bool. If no predicate is installed, the default is to reply."
type RequestPolicy func(channelID, requesterAgentName, requesterPublicKeyPEM string) bool

// AllowAll is the default RequestPolicy: reply whenever this agent holds
// credentials, regardless of who is asking.
func AllowAll(string, string, string) bool { return true }

// marshalPasswordRequest and marshalPasswordReplyPlaintext centralize the
// JSON encoding used by both Requester and Responder so the wire shape
// stays in one place.

func marshalPasswordRequest(c PasswordRequestContent) ([]byte, error) {
	return json.Marshal(c)
}

func marshalPasswordReplyPlaintext(p PasswordReplyPlaintext) ([]byte, error) {
	return json.Marshal(p)
}
