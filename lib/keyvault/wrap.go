// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package keyvault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/bureau-foundation/streamguard/lib/secret"
)

const (
	wrapIVSize  = 12
	wrapTagSize = 16
)

// ErrKeyUnwrap means a wrapped master key could not be recovered:
// wrong KEK, KEK version mismatch, or corrupted storage. Fatal and
// never retried.
var ErrKeyUnwrap = errors.New("master key unwrap failed")

// Wrap encrypts masterKey under kek and returns IV‖ciphertext‖tag.
// The kek is borrowed and not closed.
func Wrap(masterKey []byte, kek *secret.Buffer) ([]byte, error) {
	aead, err := newWrapAEAD(kek)
	if err != nil {
		return nil, err
	}
	var iv [wrapIVSize]byte
	if _, err := rand.Read(iv[:]); err != nil {
		return nil, fmt.Errorf("generating wrap IV: %w", err)
	}
	blob := make([]byte, wrapIVSize, wrapIVSize+len(masterKey)+wrapTagSize)
	copy(blob, iv[:])
	return aead.Seal(blob, iv[:], masterKey, nil), nil
}

// Unwrap reverses Wrap. The master key is returned in guarded memory;
// the caller must close it.
func Unwrap(blob []byte, kek *secret.Buffer) (*secret.Buffer, error) {
	if len(blob) < wrapIVSize+wrapTagSize {
		return nil, fmt.Errorf("%w: wrapped key is %d bytes, minimum is %d",
			ErrKeyUnwrap, len(blob), wrapIVSize+wrapTagSize)
	}
	aead, err := newWrapAEAD(kek)
	if err != nil {
		return nil, err
	}
	iv := blob[:wrapIVSize]
	sealed := blob[wrapIVSize:]

	masterKey, err := aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed (wrong KEK or corrupted record)", ErrKeyUnwrap)
	}
	return secret.NewFromBytes(masterKey)
}

// UnwrapRecord decodes record and unwraps its master key with the
// context's KEK. A record wrapped under another KEK version is
// rejected before any decryption is attempted.
func UnwrapRecord(record VideoKeyRecord, kek *KekContext) (*secret.Buffer, error) {
	if record.KEKVersion != kek.Version() {
		return nil, fmt.Errorf("%w: key %s wrapped under KEK version %d, have version %d",
			ErrKeyUnwrap, record.KeyID, record.KEKVersion, kek.Version())
	}
	blob, err := base64.StdEncoding.DecodeString(record.EncryptedMasterKey)
	if err != nil {
		return nil, fmt.Errorf("%w: key %s: decoding base64: %v", ErrKeyUnwrap, record.KeyID, err)
	}
	key, err := kek.Key()
	if err != nil {
		return nil, err
	}
	masterKey, err := Unwrap(blob, key)
	if err != nil {
		return nil, fmt.Errorf("key %s: %w", record.KeyID, err)
	}
	return masterKey, nil
}

// WrapRecord wraps masterKey into a record under the context's KEK.
// The packaging side uses this; the license service never writes
// records.
func WrapRecord(keyID string, masterKey []byte, salt string, kek *KekContext) (VideoKeyRecord, error) {
	key, err := kek.Key()
	if err != nil {
		return VideoKeyRecord{}, err
	}
	blob, err := Wrap(masterKey, key)
	if err != nil {
		return VideoKeyRecord{}, err
	}
	return VideoKeyRecord{
		KeyID:              keyID,
		EncryptedMasterKey: base64.StdEncoding.EncodeToString(blob),
		KEKVersion:         kek.Version(),
		Salt:               salt,
	}, nil
}

func newWrapAEAD(kek *secret.Buffer) (cipher.AEAD, error) {
	if kek.Len() != KEKSize {
		return nil, fmt.Errorf("%w: KEK is %d bytes, want %d", ErrConfiguration, kek.Len(), KEKSize)
	}
	block, err := aes.NewCipher(kek.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return aead, nil
}
