// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package license

import (
	"crypto/hmac"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/bureau-foundation/streamguard/lib/clock"
	"github.com/bureau-foundation/streamguard/lib/secret"
)

// TimeLayout is the ISO-8601 form used for license timestamps: UTC
// with millisecond precision.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// DefaultValidity is how long an offline license lasts.
const DefaultValidity = 7 * 24 * time.Hour

var (
	// ErrInvalidSignature means the license body does not match its
	// signature.
	ErrInvalidSignature = errors.New("license signature invalid")

	// ErrLicenseExpired means the license's expiry has passed.
	ErrLicenseExpired = errors.New("license expired")
)

// Policy is the playback policy embedded in an offline license.
type Policy struct {
	MaxDevices         int  `json:"maxDevices"`
	AllowScreenCapture bool `json:"allowScreenCapture"`
}

// OfflineLicense is the response to an offline download request.
// OfflineDerivedKey is base64.
type OfflineLicense struct {
	VideoID           string `json:"videoId"`
	UserID            string `json:"userId"`
	DeviceID          string `json:"deviceId"`
	IssuedAt          string `json:"issuedAt"`
	ExpiresAt         string `json:"expiresAt"`
	KeyID             string `json:"keyId"`
	KEKVersion        int    `json:"kekVersion"`
	Policy            Policy `json:"policy"`
	Signature         string `json:"signature"`
	OfflineDerivedKey string `json:"offlineDerivedKey"`
	Scope             Scope  `json:"scope"`
}

// Payload returns the signed portion of the license.
func (l *OfflineLicense) Payload() Payload {
	return Payload{
		VideoID:    l.VideoID,
		UserID:     l.UserID,
		DeviceID:   l.DeviceID,
		IssuedAt:   l.IssuedAt,
		ExpiresAt:  l.ExpiresAt,
		KeyID:      l.KeyID,
		KEKVersion: l.KEKVersion,
		Policy:     l.Policy,
	}
}

// Key decodes the offline derived key.
func (l *OfflineLicense) Key() ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(l.OfflineDerivedKey)
	if err != nil {
		return nil, fmt.Errorf("decoding offline license key: %w", err)
	}
	return key, nil
}

// IssuerConfig configures an Issuer.
type IssuerConfig struct {
	// Clock defaults to the real clock.
	Clock clock.Clock

	// Policy is embedded in every offline license.
	Policy Policy

	// Validity defaults to DefaultValidity.
	Validity time.Duration
}

// Issuer mints online session keys and offline licenses.
type Issuer struct {
	clock    clock.Clock
	policy   Policy
	validity time.Duration
}

// NewIssuer returns an Issuer.
func NewIssuer(cfg IssuerConfig) *Issuer {
	issuer := &Issuer{clock: cfg.Clock, policy: cfg.Policy, validity: cfg.Validity}
	if issuer.clock == nil {
		issuer.clock = clock.Real()
	}
	if issuer.validity <= 0 {
		issuer.validity = DefaultValidity
	}
	return issuer
}

// IssueOnline derives the session key for deviceID. The master key is
// borrowed and not closed.
func (i *Issuer) IssueOnline(masterKey *secret.Buffer, deviceID string) OnlineSessionKey {
	return DeriveOnlineKey(masterKey.Bytes(), deviceID)
}

// OfflineRequest identifies what an offline license is for and which
// key material mints it.
type OfflineRequest struct {
	VideoID  string
	UserID   string
	DeviceID string

	KeyID      string
	KEKVersion int
	Salt       string

	// MasterKey and SigningKey are borrowed and not closed.
	MasterKey  *secret.Buffer
	SigningKey *secret.Buffer
}

// IssueOffline mints a signed offline license valid from now for the
// issuer's validity period.
func (i *Issuer) IssueOffline(request OfflineRequest) (*OfflineLicense, error) {
	if request.UserID == "" || request.DeviceID == "" || request.VideoID == "" {
		return nil, errors.New("offline license needs video, user and device IDs")
	}
	now := i.clock.Now().UTC()
	issuedAt := now.Format(TimeLayout)
	expiresAt := now.Add(i.validity).Format(TimeLayout)

	derivedKey, err := DeriveOfflineKey(request.MasterKey.Bytes(), []byte(request.Salt),
		request.UserID, request.DeviceID, expiresAt)
	if err != nil {
		return nil, err
	}

	license := &OfflineLicense{
		VideoID:           request.VideoID,
		UserID:            request.UserID,
		DeviceID:          request.DeviceID,
		IssuedAt:          issuedAt,
		ExpiresAt:         expiresAt,
		KeyID:             request.KeyID,
		KEKVersion:        request.KEKVersion,
		Policy:            i.policy,
		OfflineDerivedKey: base64.StdEncoding.EncodeToString(derivedKey),
		Scope:             ScopeOfflinePlayback,
	}
	secret.Zero(derivedKey)

	license.Signature, err = SignLicense(license.Payload(), request.SigningKey.Bytes())
	if err != nil {
		return nil, err
	}
	return license, nil
}

// Verify checks scope, signature and expiry. It does not consult any
// revocation state; none exists.
func (i *Issuer) Verify(license *OfflineLicense, signingKey []byte) error {
	if err := license.Scope.Require(ScopeOfflinePlayback); err != nil {
		return err
	}

	expected, err := SignLicense(license.Payload(), signingKey)
	if err != nil {
		return err
	}
	given, err := hex.DecodeString(license.Signature)
	if err != nil {
		return fmt.Errorf("%w: signature is not hex", ErrInvalidSignature)
	}
	want, _ := hex.DecodeString(expected)
	if !hmac.Equal(given, want) {
		return ErrInvalidSignature
	}

	expiresAt, err := time.Parse(TimeLayout, license.ExpiresAt)
	if err != nil {
		return fmt.Errorf("%w: unparseable expiry %q", ErrInvalidSignature, license.ExpiresAt)
	}
	if !i.clock.Now().Before(expiresAt) {
		return fmt.Errorf("%w: expired at %s", ErrLicenseExpired, license.ExpiresAt)
	}
	return nil
}
