// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds key material in guarded memory.
//
// A [Buffer] is backed by an anonymous mmap region outside the Go heap.
// The region is locked into RAM (mlock) and excluded from core dumps
// (MADV_DONTDUMP). Close zeroes, unlocks, and unmaps it; any later read
// panics. The garbage collector never sees the region, so it cannot
// leave stray copies of a key behind.
//
// streamguard keeps three kinds of material here: the server secret the
// key-encryption key is stretched from, the KEK itself, and each video's
// master key for the short window between unwrap and derivation.
//
// Constructors:
//
//   - [New] -- zero-filled buffer of a given size
//   - [NewFromBytes] -- copy into guarded memory, zero the source
//   - [NewFromReader] -- read exactly n bytes from an io.Reader
//   - [ReadFromPath] -- whitespace-trimmed file contents, or stdin for "-"
//
// Depends on golang.org/x/sys/unix only.
package secret
