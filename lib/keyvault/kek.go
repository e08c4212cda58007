// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package keyvault

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/scrypt"

	"github.com/bureau-foundation/streamguard/lib/secret"
)

// KEKSize is the size of the derived key-encryption key.
const KEKSize = 32

// scrypt cost parameters. Changing any of them changes the KEK and
// strands every wrapped key.
const (
	scryptN = 16384
	scryptR = 8
	scryptP = 1
)

var fingerprintDomain = []byte("streamguard.kek.fingerprint.v1")

// ErrConfiguration means the KEK cannot be derived: the server secret
// or salt is missing. Never retried.
var ErrConfiguration = errors.New("key vault configuration error")

// KekContext holds the server secret and the KEK derived from it.
// Safe for concurrent use.
type KekContext struct {
	serverSecret *secret.Buffer
	salt         []byte
	version      int

	once   sync.Once
	kek    *secret.Buffer
	err    error
	closed bool
	mu     sync.Mutex
}

// NewKekContext takes ownership of serverSecret; Close releases it.
// The KEK itself is derived on the first call to Key.
func NewKekContext(serverSecret *secret.Buffer, salt string, version int) (*KekContext, error) {
	if serverSecret == nil || serverSecret.Len() == 0 {
		return nil, fmt.Errorf("%w: KEK server secret is not set", ErrConfiguration)
	}
	if salt == "" {
		return nil, fmt.Errorf("%w: KEK salt is not set", ErrConfiguration)
	}
	if version < 1 {
		return nil, fmt.Errorf("%w: KEK version must be >= 1, got %d", ErrConfiguration, version)
	}
	return &KekContext{
		serverSecret: serverSecret,
		salt:         []byte(salt),
		version:      version,
	}, nil
}

// Version is the KEK version recorded alongside wrapped keys.
func (k *KekContext) Version() int { return k.version }

// Key returns the KEK, deriving it on first call. The buffer is owned
// by the context and must not be closed by the caller.
func (k *KekContext) Key() (*secret.Buffer, error) {
	k.mu.Lock()
	closed := k.closed
	k.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("%w: KEK context is closed", ErrConfiguration)
	}

	k.once.Do(func() {
		derived, err := scrypt.Key(k.serverSecret.Bytes(), k.salt, scryptN, scryptR, scryptP, KEKSize)
		if err != nil {
			k.err = fmt.Errorf("%w: deriving KEK: %v", ErrConfiguration, err)
			return
		}
		k.kek, k.err = secret.NewFromBytes(derived)
	})
	return k.kek, k.err
}

// Fingerprint identifies the KEK without revealing it: a BLAKE3 keyed
// hash of a fixed domain tag under the KEK, hex-encoded. Two processes
// report the same fingerprint only if they hold the same KEK.
func (k *KekContext) Fingerprint() (string, error) {
	kek, err := k.Key()
	if err != nil {
		return "", err
	}
	hasher, err := blake3.NewKeyed(kek.Bytes())
	if err != nil {
		return "", fmt.Errorf("creating keyed hasher: %w", err)
	}
	hasher.Write(fingerprintDomain)
	return hex.EncodeToString(hasher.Sum(nil)[:16]), nil
}

// Close releases the server secret and the derived KEK. Idempotent.
func (k *KekContext) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true

	// Block a derivation that has not started yet from touching the
	// closed secret.
	k.once.Do(func() {})

	var errs []error
	if k.kek != nil {
		errs = append(errs, k.kek.Close())
	}
	errs = append(errs, k.serverSecret.Close())
	return errors.Join(errs...)
}
