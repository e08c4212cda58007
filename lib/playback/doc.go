// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package playback decrypts encrypted video chunk by chunk.
//
// A [Decryptor] turns a scoped key and an encrypted source into a
// [Session]. Initialization checks the key's scope, reads the source's
// frame headers (a bounded range fetch for a remote URL, the whole
// buffer for an offline download) and builds the offset map. After
// that, [Session.DecryptChunk] fetches one frame and opens it with the
// chunk's index as associated data. Sessions move through
//
//	IDLE -> MAPPING -> READY -> DECRYPTING(n) -> READY | ABORTED
//
// Failures come in two weights. Initialization errors, an out-of-range
// index and a cancelled stream are fatal: the stream cannot continue.
// A frame that fails to fetch, parse or authenticate is a
// [*ChunkError]: the caller retries that index and the rest of the
// stream is unaffected. Retry policy belongs to the caller.
//
// [Worker] runs decryptors behind a message protocol (INIT_*,
// DECRYPT_CHUNK, ABORT) so a player can drive many streams from one
// goroutine, in-process or over a pipe with CBOR framing. Each stream
// ID carries a generation; results computed for an aborted or replaced
// stream are dropped rather than delivered.
package playback
