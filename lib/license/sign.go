// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package license

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Payload is the signed portion of an offline license. Signature,
// derived key and scope are not part of it.
type Payload struct {
	VideoID    string `json:"videoId"`
	UserID     string `json:"userId"`
	DeviceID   string `json:"deviceId"`
	IssuedAt   string `json:"issuedAt"`
	ExpiresAt  string `json:"expiresAt"`
	KeyID      string `json:"keyId"`
	KEKVersion int    `json:"kekVersion"`
	Policy     Policy `json:"policy"`
}

// CanonicalJSON renders p with object keys sorted and no whitespace.
func CanonicalJSON(p Payload) ([]byte, error) {
	// encoding/json sorts map keys at every level.
	canonical := map[string]any{
		"videoId":    p.VideoID,
		"userId":     p.UserID,
		"deviceId":   p.DeviceID,
		"issuedAt":   p.IssuedAt,
		"expiresAt":  p.ExpiresAt,
		"keyId":      p.KeyID,
		"kekVersion": p.KEKVersion,
		"policy": map[string]any{
			"maxDevices":         p.Policy.MaxDevices,
			"allowScreenCapture": p.Policy.AllowScreenCapture,
		},
	}
	data, err := json.Marshal(canonical)
	if err != nil {
		return nil, fmt.Errorf("encoding license payload: %w", err)
	}
	return data, nil
}

// SignLicense returns hex(HMAC-SHA256(signingKey, CanonicalJSON(p))).
func SignLicense(p Payload, signingKey []byte) (string, error) {
	data, err := CanonicalJSON(p)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, signingKey)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil)), nil
}
