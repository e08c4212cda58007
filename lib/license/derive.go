// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package license

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DerivedKeySize is the size of every key this package derives.
const DerivedKeySize = 32

// offlineInfoTag prefixes the HKDF info for offline keys. Changing it
// invalidates every offline license in the field.
const offlineInfoTag = "streamguard-offline-license-v1"

// OnlineSessionKey is the key returned to a client for one streaming
// session.
type OnlineSessionKey struct {
	Scope         Scope  `json:"scope"`
	DerivedKeyB64 string `json:"derivedKeyB64"`
}

// Key decodes the derived key.
func (k OnlineSessionKey) Key() ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(k.DerivedKeyB64)
	if err != nil {
		return nil, fmt.Errorf("decoding online session key: %w", err)
	}
	return key, nil
}

// DeriveOnlineKey computes HMAC-SHA256(masterKey, deviceID).
func DeriveOnlineKey(masterKey []byte, deviceID string) OnlineSessionKey {
	mac := hmac.New(sha256.New, masterKey)
	mac.Write([]byte(deviceID))
	return OnlineSessionKey{
		Scope:         ScopeOnlineStreamOnly,
		DerivedKeyB64: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
	}
}

// DeriveOfflineKey computes HKDF-SHA256 over masterKey with the
// given salt and info = tag‖userID‖deviceID‖expiresAtISO. The expiry
// string enters the derivation byte for byte, so it must be the exact
// string placed in the license.
func DeriveOfflineKey(masterKey, salt []byte, userID, deviceID, expiresAtISO string) ([]byte, error) {
	info := make([]byte, 0, len(offlineInfoTag)+len(userID)+len(deviceID)+len(expiresAtISO))
	info = append(info, offlineInfoTag...)
	info = append(info, userID...)
	info = append(info, deviceID...)
	info = append(info, expiresAtISO...)

	reader := hkdf.New(sha256.New, masterKey, salt, info)
	key := make([]byte, DerivedKeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("deriving offline key: %w", err)
	}
	return key, nil
}
