// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"crypto/ed25519"
	"fmt"

	"github.com/bureau-foundation/streamguard/lib/clock"
	"github.com/bureau-foundation/streamguard/lib/codec"
	"github.com/bureau-foundation/streamguard/lib/viewertoken"
)

// AuthConfig configures viewer token verification for HandleAuth
// actions.
type AuthConfig struct {
	// PublicKey is the identity provider's Ed25519 key.
	PublicKey ed25519.PublicKey

	// Audience tokens must be scoped to.
	Audience string

	// Blacklist of revoked token IDs. May be nil.
	Blacklist *viewertoken.Blacklist

	Clock clock.Clock
}

// authenticate extracts and verifies the "token" field of a request.
func (a *AuthConfig) authenticate(raw []byte) (*viewertoken.Token, error) {
	var envelope struct {
		Token []byte `cbor:"token"`
	}
	if err := codec.Unmarshal(raw, &envelope); err != nil {
		return nil, Errorf(CodeInvalidRequest, "invalid request: %v", err)
	}
	if len(envelope.Token) == 0 {
		return nil, Errorf(CodeUnauthenticated, "missing required field: token")
	}

	token, err := viewertoken.VerifyForServiceAt(a.PublicKey, envelope.Token, a.Audience, a.Clock.Now())
	if err != nil {
		return nil, WrapError(CodeUnauthenticated, fmt.Errorf("authentication failed: %w", err))
	}
	if a.Blacklist != nil && a.Blacklist.IsRevoked(token.ID) {
		return nil, WrapError(CodeUnauthenticated, fmt.Errorf("authentication failed: %w", viewertoken.ErrTokenRevoked))
	}
	return token, nil
}
