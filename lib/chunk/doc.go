// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package chunk implements the encrypted video chunk format.
//
// An encrypted video is a sequence of frames, one per chunk:
//
//	[bodyLength: u32 big-endian] [IV: ivLength bytes] [ciphertext || tag]
//
// where bodyLength counts the IV, ciphertext and tag. Frames carry no
// index; a chunk's position comes from the [OffsetMap] and is bound
// into the AES-256-GCM authentication tag through the associated data
// "chunk-index:<decimal index>". Decrypting a frame under any other
// index fails authentication, so reordered or substituted frames are
// detected rather than played.
//
// IV and tag lengths are per-video parameters ([Params]), not
// constants of the format.
//
// [BuildOffsetMap] scans frame headers from the start of a byte
// prefix. Only the prefix is examined: frames starting beyond it do
// not appear in the map. Callers that fetch a bounded prefix should
// check [OffsetMap.ScannedBytes] against what they fetched.
package chunk
