// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package license

import (
	"errors"
	"fmt"
)

// Scope limits what a derived key may be used for.
type Scope string

const (
	ScopeOnlineStreamOnly Scope = "ONLINE_STREAM_ONLY"
	ScopeOfflinePlayback  Scope = "OFFLINE_PLAYBACK"
)

// ErrScopeMismatch means a key was presented for an operation its
// scope does not cover.
var ErrScopeMismatch = errors.New("key scope mismatch")

// Require returns ErrScopeMismatch unless s is want.
func (s Scope) Require(want Scope) error {
	if s != want {
		return fmt.Errorf("%w: have %q, need %q", ErrScopeMismatch, s, want)
	}
	return nil
}
