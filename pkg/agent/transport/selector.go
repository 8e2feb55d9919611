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

package transport

import (
	"fmt"
	"net/url"
	"strings"
)

// Kind identifies the transport protocol to use.
type Kind string

const (
	KindHTTP      Kind = "http"
	KindHTTPS     Kind = "https"
	KindWebSocket Kind = "ws"
	KindWebSocketSecure Kind = "wss"
)

// Factory creates a ControlTransport for an endpoint.
type Factory func(endpoint string) (ControlTransport, error)

// Selector manages transport selection and creation by URL scheme.
type Selector struct {
	factories map[Kind]Factory
}

// NewSelector returns an empty Selector; concrete transports register
// themselves via RegisterFactory in their package init().
func NewSelector() *Selector {
	return &Selector{factories: make(map[Kind]Factory)}
}

// RegisterFactory registers a transport factory for a specific kind.
func (s *Selector) RegisterFactory(kind Kind, factory Factory) {
	s.factories[kind] = factory
}

// SelectByURL creates a transport based on the endpoint URL's scheme:
// http(s):// selects the long-poll HTTP transport, ws(s):// selects the
// WebSocket transport.
func (s *Selector) SelectByURL(endpoint string) (ControlTransport, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid URL %q: %w", endpoint, err)
	}

	var kind Kind
	switch strings.ToLower(parsed.Scheme) {
	case "http":
		kind = KindHTTP
	case "https":
		kind = KindHTTPS
	case "ws":
		kind = KindWebSocket
	case "wss":
		kind = KindWebSocketSecure
	default:
		return nil, fmt.Errorf("transport: unsupported URL scheme %q", parsed.Scheme)
	}
	return s.Select(kind, endpoint)
}

// Select creates a transport of the given kind.
func (s *Selector) Select(kind Kind, endpoint string) (ControlTransport, error) {
	factory, ok := s.factories[kind]
	if !ok {
		return nil, fmt.Errorf("transport: kind %q not registered (missing import?)", kind)
	}
	t, err := factory(endpoint)
	if err != nil {
		return nil, fmt.Errorf("transport: create %s transport: %w", kind, err)
	}
	return t, nil
}

// IsRegistered reports whether a transport kind has a registered factory.
func (s *Selector) IsRegistered(kind Kind) bool {
	_, ok := s.factories[kind]
	return ok
}

// DefaultSelector is the package-level selector concrete transports
// register themselves against from their init() functions.
var DefaultSelector = NewSelector()

// SelectByURL is a convenience wrapper around DefaultSelector.SelectByURL.
func SelectByURL(endpoint string) (ControlTransport, error) {
	return DefaultSelector.SelectByURL(endpoint)
}
