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

package http

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sage-x-project/chanagent/pkg/agent/transport"
)

// apiKeyClaims is the bearer token the broker expects on the private-scope
// handshake path (spec §6 "developer API key").
type apiKeyClaims struct {
	Scope     transport.APIKeyScope `json:"scope"`
	AgentName string                 `json:"agentName"`
	jwt.RegisteredClaims
}

// signAPIKey issues a short-lived HS256 bearer token for a private-scope
// handshake. Public-scope handshakes carry no token.
func signAPIKey(secret []byte, scope transport.APIKeyScope, agentName string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := apiKeyClaims{
		Scope:     scope,
		AgentName: agentName,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("transport: sign api key: %w", err)
	}
	return signed, nil
}
