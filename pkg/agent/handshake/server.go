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
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/sage-x-project/chanagent/internal/metrics"
	agentcrypto "github.com/sage-x-project/chanagent/pkg/agent/crypto"
	"github.com/sage-x-project/chanagent/pkg/agent/core/message"
	"github.com/sage-x-project/chanagent/pkg/agent/errs"
	"github.com/sage-x-project/chanagent/pkg/agent/session"
)

// Responder answers PASSWORD_REQUEST broadcasts on behalf of a credentialed
// session, gated by a RequestPolicy (spec §4.3). The background receive
// worker and a local-control client's synchronous Manager.Receive call can
// both be pulling the same session concurrently (spec §4.6), so the same
// PASSWORD_REQUEST can reach HandleRequest from two goroutines at once; sf
// dedupes the RSA-wrap work across them the way the teacher's
// pkg/agent/handshake/server.go dedupes its cache-check-and-resolve path.
type Responder struct {
	policy RequestPolicy
	sf     singleflight.Group
}

// NewResponder returns a Responder. A nil policy defaults to AllowAll, per
// spec §4.3: "If no predicate is installed, the default is to reply."
func NewResponder(policy RequestPolicy) *Responder {
	if policy == nil {
		policy = AllowAll
	}
	return &Responder{policy: policy}
}

// HandleRequest inspects a PASSWORD_REQUEST event and, if sess holds
// credentials and the policy allows it, sends a PASSWORD_REPLY addressed
// to the requester. A no-op (nil error, no send) is not a failure: most
// requests are answered by at most one peer, and every other credentialed
// peer's policy may legitimately decline.
func (r *Responder) HandleRequest(sess *session.Session, evt message.EventMessage, send Sender) error {
	if evt.Type != message.TypePasswordRequest {
		return fmt.Errorf("%w: HandleRequest called with type %q", errs.ErrProtocolViolation, evt.Type)
	}
	if !sess.HasChannelSecret() {
		return nil // we have nothing to share
	}

	var content PasswordRequestContent
	if err := json.Unmarshal(evt.Content, &content); err != nil {
		return fmt.Errorf("%w: malformed PASSWORD_REQUEST content: %v", errs.ErrProtocolViolation, err)
	}
	if content.PublicKeyPEM == "" {
		return fmt.Errorf("%w: PASSWORD_REQUEST missing publicKeyPem", errs.ErrProtocolViolation)
	}

	if !r.policy(sess.ChannelID, evt.From, content.PublicKeyPEM) {
		return nil
	}

	key := sess.ChannelID + ":" + evt.From + ":" + content.PublicKeyPEM
	v, err, _ := r.sf.Do(key, func() (any, error) {
		plaintext, err := marshalPasswordReplyPlaintext(PasswordReplyPlaintext{
			ChannelName:     sess.ChannelName(),
			ChannelPassword: sess.ChannelPassword(),
		})
		if err != nil {
			return nil, fmt.Errorf("handshake: marshal reply plaintext: %w", err)
		}
		return agentcrypto.WrapForPublicKeyPEM(content.PublicKeyPEM, plaintext)
	})
	if err != nil {
		return fmt.Errorf("handshake: wrap reply: %w", err)
	}
	wrapped := v.([]byte)

	reply := message.EventMessage{
		ID:        uuid.NewString(),
		Type:      message.TypePasswordReply,
		From:      sess.AgentName,
		To:        evt.From,
		Date:      session.NowMs(),
		Content:   wrapped,
		Encrypted: false, // already end-to-end encrypted to the requester's RSA key
	}
	if err := send(reply); err != nil {
		return fmt.Errorf("handshake: send reply: %w", err)
	}
	metrics.HandshakeRepliesTotal.WithLabelValues("sent").Inc()
	return nil
}

// ConsumeReply RSA-decrypts a PASSWORD_REPLY addressed to sess.AgentName,
// populates channelName/channelPassword if still empty, and derives
// channelSecret (spec §4.3). notifier, if non-nil, is woken so any blocked
// RequestPassword caller observes the new credentials.
func ConsumeReply(sess *session.Session, evt message.EventMessage, notifier *Requester) error {
	if evt.Type != message.TypePasswordReply {
		return fmt.Errorf("%w: ConsumeReply called with type %q", errs.ErrProtocolViolation, evt.Type)
	}
	if evt.To != sess.AgentName {
		return nil // not addressed to us
	}
	if sess.HasChannelSecret() {
		return nil // already have credentials; ignore stray/duplicate replies
	}

	kp := sess.KeyPair()
	if kp == nil {
		return fmt.Errorf("%w: session has no key pair to decrypt PASSWORD_REPLY", errs.ErrProtocolViolation)
	}

	type resolved struct {
		payload PasswordReplyPlaintext
		secret  []byte
	}
	unwrapAndDerive := func() (any, error) {
		plaintext, err := kp.Unwrap(evt.Content)
		if err != nil {
			return nil, fmt.Errorf("%w: unwrap PASSWORD_REPLY: %v", errs.ErrAuthDecrypt, err)
		}

		var payload PasswordReplyPlaintext
		if err := json.Unmarshal(plaintext, &payload); err != nil {
			return nil, fmt.Errorf("%w: malformed PASSWORD_REPLY payload: %v", errs.ErrProtocolViolation, err)
		}

		secret, err := agentcrypto.DeriveChannelSecret(payload.ChannelName, payload.ChannelPassword)
		if err != nil {
			return nil, fmt.Errorf("handshake: derive channel secret: %w", err)
		}
		return resolved{payload: payload, secret: secret}, nil
	}

	var v any
	var err error
	if notifier != nil {
		v, err, _ = notifier.sf.Do(sess.ChannelID, unwrapAndDerive)
	} else {
		v, err = unwrapAndDerive()
	}
	if err != nil {
		return err
	}
	if sess.HasChannelSecret() {
		return nil // a concurrent dedup'd call already set credentials
	}
	r := v.(resolved)
	sess.SetChannelCredentials(r.payload.ChannelName, r.payload.ChannelPassword, r.secret)
	metrics.HandshakeRepliesTotal.WithLabelValues("consumed").Inc()

	if notifier != nil {
		notifier.NotifyReplyConsumed(sess.ChannelID)
	}
	return nil
}
