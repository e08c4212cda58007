// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is streamguard's shared CBOR configuration.
//
// Two formats cross process boundaries:
//
//   - JSON for anything a browser or a third-party player sees: signed
//     offline licenses and CLI --json output.
//   - CBOR for internal protocols: the license service socket, viewer
//     identity tokens, and the messages between a player and its
//     playback worker.
//
// Use `cbor` struct tags on types that are only ever CBOR and `json`
// tags on types that are both; fxamacker/cbor falls back to `json`
// tags when no `cbor` tag is present. Never put both on one field.
package codec
