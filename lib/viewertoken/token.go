// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package viewertoken

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/streamguard/lib/codec"
)

const signatureSize = ed25519.SignatureSize

// Token is the signed payload of a viewer identity token. Integer keys
// keep the encoding small; tokens travel with every request.
type Token struct {
	// Subject is the viewer's user ID as the identity provider knows
	// it. Sessions and licenses are bound to this value.
	Subject string `cbor:"1,keyasint"`

	// Audience is the service the token is scoped to.
	Audience string `cbor:"2,keyasint"`

	// Entitlements are glob patterns over video IDs.
	Entitlements []string `cbor:"3,keyasint,omitempty"`

	// ID is unique per token, for revocation.
	ID string `cbor:"4,keyasint"`

	// IssuedAt and ExpiresAt are Unix seconds.
	IssuedAt  int64 `cbor:"5,keyasint"`
	ExpiresAt int64 `cbor:"6,keyasint"`
}

var (
	ErrTokenTooShort    = errors.New("viewertoken: token too short for signature")
	ErrInvalidSignature = errors.New("viewertoken: invalid Ed25519 signature")
	ErrTokenExpired     = errors.New("viewertoken: token has expired")
	ErrAudienceMismatch = errors.New("viewertoken: audience does not match")
	ErrTokenRevoked     = errors.New("viewertoken: token has been revoked")
	ErrMissingSubject   = errors.New("viewertoken: token has no subject")
)

// Entitled reports whether the token grants playback of videoID.
func (t *Token) Entitled(videoID string) bool {
	for _, pattern := range t.Entitlements {
		if matched, err := path.Match(pattern, videoID); err == nil && matched {
			return true
		}
	}
	return false
}

// Mint signs token and returns payload || signature. An empty ID is
// filled with a fresh UUID.
func Mint(privateKey ed25519.PrivateKey, token *Token) ([]byte, error) {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	payload, err := codec.Marshal(token)
	if err != nil {
		return nil, fmt.Errorf("viewertoken: encoding token payload: %w", err)
	}

	signature := ed25519.Sign(privateKey, payload)
	result := make([]byte, 0, len(payload)+signatureSize)
	result = append(result, payload...)
	return append(result, signature...), nil
}

// VerifyAt checks the signature, decodes the payload, and checks the
// token has a subject and has not expired at now.
func VerifyAt(publicKey ed25519.PublicKey, tokenBytes []byte, now time.Time) (*Token, error) {
	if len(tokenBytes) <= signatureSize {
		return nil, ErrTokenTooShort
	}

	splitPoint := len(tokenBytes) - signatureSize
	payload := tokenBytes[:splitPoint]
	signature := tokenBytes[splitPoint:]

	if !ed25519.Verify(publicKey, payload, signature) {
		return nil, ErrInvalidSignature
	}

	var token Token
	if err := codec.Unmarshal(payload, &token); err != nil {
		return nil, fmt.Errorf("viewertoken: decoding token payload: %w", err)
	}
	if token.Subject == "" {
		return nil, ErrMissingSubject
	}
	if now.Unix() >= token.ExpiresAt {
		return nil, ErrTokenExpired
	}
	return &token, nil
}

// VerifyForServiceAt is VerifyAt plus an audience check.
func VerifyForServiceAt(publicKey ed25519.PublicKey, tokenBytes []byte, expectedAudience string, now time.Time) (*Token, error) {
	token, err := VerifyAt(publicKey, tokenBytes, now)
	if err != nil {
		return nil, err
	}
	if token.Audience != expectedAudience {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrAudienceMismatch, token.Audience, expectedAudience)
	}
	return token, nil
}
