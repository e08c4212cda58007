// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package viewertoken

import (
	"sync"
	"time"
)

// Blacklist is a concurrency-safe set of revoked token IDs. Entries
// are kept until the token would have expired anyway.
type Blacklist struct {
	mu      sync.RWMutex
	entries map[string]time.Time
}

func NewBlacklist() *Blacklist {
	return &Blacklist{entries: make(map[string]time.Time)}
}

// Revoke blacklists tokenID until tokenExpiresAt.
func (b *Blacklist) Revoke(tokenID string, tokenExpiresAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[tokenID] = tokenExpiresAt
}

func (b *Blacklist) IsRevoked(tokenID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, exists := b.entries[tokenID]
	return exists
}

// Cleanup drops entries whose token has expired and returns how many
// were removed.
func (b *Blacklist) Cleanup(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for tokenID, expiresAt := range b.entries {
		if !now.Before(expiresAt) {
			delete(b.entries, tokenID)
			removed++
		}
	}
	return removed
}

func (b *Blacklist) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}
