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

// Package connection implements the Connection Manager (spec §4.1): the
// single entry point that wires crypto, session, handshake, transport,
// receive, and signaling together behind connect/disconnect/isReady/
// activeAgents/isHostAgent.
package connection

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/sage-x-project/chanagent/internal/logging"
	"github.com/sage-x-project/chanagent/internal/metrics"
	agentcrypto "github.com/sage-x-project/chanagent/pkg/agent/crypto"
	"github.com/sage-x-project/chanagent/pkg/agent/core/message"
	"github.com/sage-x-project/chanagent/pkg/agent/errs"
	"github.com/sage-x-project/chanagent/pkg/agent/handshake"
	"github.com/sage-x-project/chanagent/pkg/agent/receive"
	"github.com/sage-x-project/chanagent/pkg/agent/session"
	"github.com/sage-x-project/chanagent/pkg/agent/signaling"
	"github.com/sage-x-project/chanagent/pkg/agent/transport"
)

const (
	workerBackoffInitial = 500 * time.Millisecond
	workerBackoffMax     = 30 * time.Second
	workerBackoffFactor  = 2.0
	workerJitterFraction = 0.2
)

// ConnectConfig is the immutable request passed to Connect (spec §3).
type ConnectConfig struct {
	ChannelName       string
	ChannelPassword   string
	ChannelID         string
	AgentName         string
	SessionID         string
	APIKeyScope       transport.APIKeyScope
	EnableWebRTCRelay bool
	CheckLastSession  bool
}

func (c ConnectConfig) validate() error {
	if c.AgentName == "" {
		return fmt.Errorf("%w: agentName is required", errs.ErrConfig)
	}
	if c.ChannelID == "" && (c.ChannelName == "" || c.ChannelPassword == "") {
		return fmt.Errorf("%w: either channelId or (channelName, channelPassword) must be supplied", errs.ErrConfig)
	}
	return nil
}

// Manager is the Connection Manager for one local agent. A Manager holds
// at most one active session at a time.
type Manager struct {
	transport   transport.ControlTransport
	sessionDir  string
	peerFactory signaling.PeerConnectionFactory
	logger      logging.Logger

	mu          sync.RWMutex
	sess        *session.Session
	ready       bool
	store       *session.Store
	responder   *handshake.Responder
	requester   *handshake.Requester
	router      *signaling.Router
	pipeline    *receive.Pipeline
	workerStop  chan struct{}
	workerDone  chan struct{}
	activeCache []message.AgentInfo
	cacheMu     sync.RWMutex
	initialCfg   message.ReceiveConfig
	handler      func(message.EventMessage)
	receiveLimit uint32
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithLogger overrides the default logger.
func WithLogger(logger logging.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithPasswordPolicy overrides the default allow-all password request policy.
func WithPasswordPolicy(policy handshake.RequestPolicy) Option {
	return func(m *Manager) { m.responder = handshake.NewResponder(policy) }
}

// WithPeerConnectionFactory supplies the WebRTC peer-connection factory
// used by the signaling router (spec §4.4). Required only when
// ConnectConfig.EnableWebRTCRelay is used.
func WithPeerConnectionFactory(factory signaling.PeerConnectionFactory) Option {
	return func(m *Manager) { m.peerFactory = factory }
}

// WithReceiveLimit overrides the per-pull event cap (config's
// receive.default_limit) used to seed both the initial and the
// steady-state receive cursor at Connect time. A zero limit leaves the
// package default in place.
func WithReceiveLimit(limit uint32) Option {
	return func(m *Manager) {
		if limit > 0 {
			m.receiveLimit = limit
		}
	}
}

// New constructs a Manager bound to tr for session persistence under
// sessionDir (empty defaults to the user's home directory, spec §6).
func New(tr transport.ControlTransport, sessionDir string, opts ...Option) *Manager {
	m := &Manager{
		transport:    tr,
		store:        session.NewStore(sessionDir),
		responder:    handshake.NewResponder(nil),
		requester:    handshake.NewRequester(),
		logger:       logging.Default(),
		receiveLimit: defaultReceiveLimit,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect performs the handshake and transitions the Manager to ready
// (spec §4.1 connect contract).
func (m *Manager) Connect(ctx context.Context, cfg ConnectConfig) (bool, error) {
	if err := cfg.validate(); err != nil {
		metrics.ConnectsTotal.WithLabelValues("config_error").Inc()
		return false, err
	}

	m.mu.Lock()
	if m.ready {
		m.mu.Unlock()
		metrics.ConnectsTotal.WithLabelValues("already_connected").Inc()
		return false, errs.ErrAlreadyConnected
	}
	m.mu.Unlock()

	sessionID := cfg.SessionID
	if cfg.CheckLastSession && sessionID == "" {
		key := cfg.ChannelID
		if key == "" {
			key = cfg.ChannelName
		}
		loaded, err := m.store.Load(key)
		if err != nil {
			m.logger.Warn("failed to load persisted session", logging.Err(err))
		} else {
			sessionID = loaded
		}
	}

	keyPair, err := agentcrypto.GenerateRSAKeyPair()
	if err != nil {
		metrics.ConnectsTotal.WithLabelValues("transport_error").Inc()
		return false, fmt.Errorf("connection: generate key pair: %w", err)
	}

	resp, err := m.transport.Handshake(ctx, transport.HandshakeRequest{
		ChannelName:       cfg.ChannelName,
		ChannelPassword:   cfg.ChannelPassword,
		ChannelID:         cfg.ChannelID,
		AgentName:         cfg.AgentName,
		SessionID:         sessionID,
		EnableWebRTCRelay: cfg.EnableWebRTCRelay,
		APIKeyScope:       cfg.APIKeyScope,
	})
	if err != nil {
		metrics.ConnectsTotal.WithLabelValues("transport_error").Inc()
		return false, fmt.Errorf("%w: %v", errs.ErrTransport, err)
	}
	if resp.SessionID == "" {
		metrics.ConnectsTotal.WithLabelValues("handshake_failed").Inc()
		return false, errs.ErrHandshakeFailed
	}

	sess := session.New(resp.SessionID, resp.ChannelID, cfg.AgentName, resp.ConnectionTime)
	sess.SetKeyPair(keyPair)

	if cfg.ChannelName != "" && cfg.ChannelPassword != "" {
		secret, err := agentcrypto.DeriveChannelSecret(cfg.ChannelName, cfg.ChannelPassword)
		if err != nil {
			return false, fmt.Errorf("connection: derive channel secret: %w", err)
		}
		sess.SetChannelCredentials(cfg.ChannelName, cfg.ChannelPassword, secret)
	}

	initialGlobal := resp.State.OriginalGlobalOffset
	initialCfg := message.ReceiveConfig{GlobalOffset: initialGlobal, LocalOffset: 0, Limit: m.receiveLimit}
	currentCfg := message.ReceiveConfig{
		GlobalOffset: resp.State.GlobalOffset,
		LocalOffset:  resp.State.LocalOffset,
		Limit:        m.receiveLimit,
	}
	var router *signaling.Router
	if cfg.EnableWebRTCRelay && m.peerFactory != nil {
		router = signaling.NewRouter(cfg.AgentName, m.peerFactory)
	}

	m.mu.Lock()
	m.sess = sess
	m.router = router
	m.pipeline = receive.New(sess, m.transport.Receive, m.responder, m.requester, router, currentCfg, m.logger)
	m.initialCfg = initialCfg
	m.ready = true
	m.workerStop = make(chan struct{})
	m.workerDone = make(chan struct{})
	m.mu.Unlock()

	if !sess.HasChannelSecret() {
		if _, err := m.requester.RequestPassword(ctx, sess, 0, m.send); err != nil {
			m.logger.Warn("password request broadcast failed", logging.Err(err))
		}
	}

	if key := resp.ChannelID; key != "" {
		if err := m.store.Save(key, resp.SessionID); err != nil {
			m.logger.Warn("failed to persist session", logging.Err(err))
		}
	}

	go m.runReceiveWorker()

	metrics.ConnectsTotal.WithLabelValues("success").Inc()
	return true, nil
}

const defaultReceiveLimit = 20

// InitialReceiveConfig returns the cursor computed from originalGlobalOffset
// at connect time (spec §4.1). Valid only once Connect has succeeded.
func (m *Manager) InitialReceiveConfig() message.ReceiveConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialCfg
}

// Disconnect idempotently tears down the active session (spec §4.1
// disconnect contract). beacon requests the transport's best-effort
// shutdown-time variant where supported.
func (m *Manager) Disconnect(ctx context.Context, beacon bool) (bool, error) {
	m.mu.Lock()
	if !m.ready || m.sess == nil {
		m.mu.Unlock()
		return true, nil
	}
	sess := m.sess
	stop := m.workerStop
	done := m.workerDone
	m.ready = false
	m.sess = nil
	m.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	metrics.DisconnectsTotal.Inc()
	if err := m.transport.Disconnect(ctx, sess.SessionID, beacon); err != nil {
		m.logger.Warn("server-side disconnect failed", logging.Err(err))
		return false, fmt.Errorf("%w: %v", errs.ErrTransport, err)
	}

	// Disconnect clears ready and sessionId; the persisted sessionId is
	// cleared too unless a caller has explicitly requested otherwise (spec
	// §4.1 disconnect contract) — this Manager exposes no such opt-out yet,
	// so the default (clear) always applies.
	if sess.ChannelID != "" {
		if err := m.store.Clear(sess.ChannelID); err != nil {
			m.logger.Warn("failed to clear persisted session", logging.Err(err))
		}
	}
	return true, nil
}

// IsReady reports whether the Manager currently holds an active session.
func (m *Manager) IsReady() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready
}

// ActiveAgents returns the last fetched active-agent set for the current
// session (spec §4.1). When the refreshed set shows the local agent newly
// became host, it triggers the signaling router's host-migration hook
// (spec §4.4 "Host-migration hook").
func (m *Manager) ActiveAgents(ctx context.Context) ([]message.AgentInfo, error) {
	m.mu.RLock()
	sess := m.sess
	router := m.router
	m.mu.RUnlock()
	if sess == nil {
		return nil, errs.ErrNotReady
	}

	agents, err := m.transport.ActiveAgents(ctx, sess.SessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrTransport, err)
	}

	wasHost := m.IsHostAgentNamed(sess.AgentName)
	m.cacheMu.Lock()
	m.activeCache = agents
	m.cacheMu.Unlock()
	metrics.ActiveAgentsGauge.Set(float64(len(agents)))
	isHost := m.IsHostAgentNamed(sess.AgentName)

	if router != nil && isHost && !wasHost {
		names := make([]string, 0, len(agents))
		for _, a := range agents {
			names = append(names, a.AgentName)
		}
		if err := router.TriggerHostMigration(ctx, names, m.send); err != nil {
			m.logger.Warn("host migration failed", logging.Err(err))
		}
	}

	return agents, nil
}

// cachedActiveAgents returns the last fetched set without a network call;
// used by IsHostAgent so host checks stay non-blocking (spec §4.6
// "Suspension points").
func (m *Manager) cachedActiveAgents() []message.AgentInfo {
	m.cacheMu.RLock()
	defer m.cacheMu.RUnlock()
	return m.activeCache
}

// IsHostAgent reports whether the local agent is the elected host.
func (m *Manager) IsHostAgent() bool {
	m.mu.RLock()
	sess := m.sess
	m.mu.RUnlock()
	if sess == nil {
		return true
	}
	return m.IsHostAgentNamed(sess.AgentName)
}

// IsHostAgentNamed reports whether name is the elected host among the
// cached active-agent set (spec §4.1 host election: minimum connectionTime,
// ties broken by agentName lexicographic order).
func (m *Manager) IsHostAgentNamed(name string) bool {
	agents := m.cachedActiveAgents()
	if len(agents) == 0 {
		return true
	}
	host := electHost(agents)
	return host == name
}

func electHost(agents []message.AgentInfo) string {
	sorted := make([]message.AgentInfo, len(agents))
	copy(sorted, agents)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].ConnectionTime != sorted[j].ConnectionTime {
			return sorted[i].ConnectionTime < sorted[j].ConnectionTime
		}
		return sorted[i].AgentName < sorted[j].AgentName
	})
	return sorted[0].AgentName
}

// Send encrypts (if a channel secret is present) and transmits evt.
func (m *Manager) Send(ctx context.Context, evt message.EventMessage) error {
	m.mu.RLock()
	sess := m.sess
	m.mu.RUnlock()
	if sess == nil {
		return errs.ErrNotReady
	}

	if !evt.Encrypted && sess.HasChannelSecret() && evt.Type != message.TypePasswordRequest && evt.Type != message.TypePasswordReply {
		env, err := agentcrypto.Encrypt(sess.ChannelSecret(), string(evt.Type), evt.From, evt.To, evt.Content)
		if err != nil {
			return fmt.Errorf("connection: encrypt outbound event: %w", err)
		}
		evt.Content = []byte(agentcrypto.EncodeEnvelope(env))
		evt.Encrypted = true
	}

	return m.send(evt)
}

// send is the raw transport sender passed to the handshake and signaling
// layers, which manage their own encryption decisions.
func (m *Manager) send(evt message.EventMessage) error {
	m.mu.RLock()
	sess := m.sess
	m.mu.RUnlock()
	if sess == nil {
		return errs.ErrNotReady
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.transport.Send(ctx, sess.SessionID, evt); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrTransport, err)
	}
	return nil
}

// InitiateStream requests a WebRTC stream with remoteAgent under streamID,
// but only emits an OFFER when the local agent is host relative to
// remoteAgent (spec §4.4 "Who initiates", no-glare invariant).
func (m *Manager) InitiateStream(ctx context.Context, streamID, remoteAgent string) error {
	m.mu.RLock()
	router := m.router
	sess := m.sess
	m.mu.RUnlock()
	if router == nil {
		return fmt.Errorf("connection: webrtc relay not enabled")
	}
	if sess == nil {
		return errs.ErrNotReady
	}
	if !m.isHostRelativeTo(remoteAgent) {
		return nil // non-host side waits for an inbound OFFER
	}
	return router.InitiateOffer(ctx, streamID, remoteAgent, m.send)
}

func (m *Manager) isHostRelativeTo(remoteAgent string) bool {
	m.mu.RLock()
	sess := m.sess
	m.mu.RUnlock()
	if sess == nil {
		return false
	}
	var pair []message.AgentInfo
	for _, a := range m.cachedActiveAgents() {
		if a.AgentName == sess.AgentName || a.AgentName == remoteAgent {
			pair = append(pair, a)
		}
	}
	if len(pair) == 0 {
		return true
	}
	return electHost(pair) == sess.AgentName
}

// RequestPassword broadcasts a PASSWORD_REQUEST and blocks up to timeout
// for a matching PASSWORD_REPLY to be consumed (spec §4.3).
func (m *Manager) RequestPassword(ctx context.Context, timeout time.Duration) (bool, error) {
	m.mu.RLock()
	sess := m.sess
	m.mu.RUnlock()
	if sess == nil {
		return false, errs.ErrNotReady
	}
	return m.requester.RequestPassword(ctx, sess, timeout, m.send)
}

// Receive performs one synchronous receive-pipeline pull outside of the
// background worker's loop, for callers (the local control surface) that
// need to block on a single pull rather than register a handler. Events are
// still routed to any handler registered via RegisterHandler.
func (m *Manager) Receive(ctx context.Context) ([]message.EventMessage, error) {
	m.mu.RLock()
	pipeline := m.pipeline
	m.mu.RUnlock()
	if pipeline == nil {
		return nil, errs.ErrNotReady
	}

	var collected []message.EventMessage
	err := pipeline.Pull(ctx, m.send, func(evt message.EventMessage) {
		collected = append(collected, evt)
		m.deliver(evt)
	})
	if err != nil {
		return nil, fmt.Errorf("connection: receive: %w", err)
	}
	return collected, nil
}

// runReceiveWorker drives the receive pipeline in a background loop with
// exponential backoff + jitter on transport errors, mirroring the
// reconnect-loop shape used elsewhere in the corpus for long-lived
// client connections.
func (m *Manager) runReceiveWorker() {
	defer close(m.workerDone)

	backoff := workerBackoffInitial
	for {
		select {
		case <-m.workerStop:
			return
		default:
		}

		m.mu.RLock()
		pipeline := m.pipeline
		m.mu.RUnlock()
		if pipeline == nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := pipeline.Pull(ctx, m.send, m.deliver)
		cancel()
		if err != nil {
			m.logger.Warn("receive pull failed", logging.Err(err))
			select {
			case <-m.workerStop:
				return
			case <-time.After(jittered(backoff)):
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = workerBackoffInitial
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := time.Duration(float64(cur) * workerBackoffFactor)
	if next > workerBackoffMax {
		next = workerBackoffMax
	}
	return next
}

func jittered(d time.Duration) time.Duration {
	jitter := float64(d) * workerJitterFraction * (2*rand.Float64() - 1)
	return d + time.Duration(jitter)
}

// deliver is the handler passed to the receive pipeline by both the
// background worker and Receive; it forwards each event to the handler set
// by RegisterHandler and drops the event when none is registered.
func (m *Manager) deliver(evt message.EventMessage) {
	m.mu.RLock()
	handler := m.handler
	m.mu.RUnlock()
	if handler != nil {
		handler(evt)
	}
}

// RegisterHandler sets the callback invoked for events the receive
// pipeline does not auto-route (spec §4.2). Only one handler may be
// registered at a time; a later call replaces the previous one.
func (m *Manager) RegisterHandler(handler func(message.EventMessage)) {
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
}
