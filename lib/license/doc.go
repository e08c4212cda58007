// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package license derives scope-limited playback keys from a video's
// master key.
//
// Two scopes exist. An online session key ([ScopeOnlineStreamOnly])
// is HMAC-SHA256(masterKey, deviceID); it has no expiry of its own and
// lives as long as the playback session that requested it. An offline
// license ([ScopeOfflinePlayback]) carries a key derived with
// HKDF-SHA256 whose info string embeds the user, the device and the
// expiry timestamp, so editing any of them on the client yields a
// different key. The license body is signed with HMAC-SHA256 over its
// canonical JSON form.
//
// Consumers check scope before using any key: [Scope.Require] returns
// [ErrScopeMismatch] for a key presented for the wrong operation.
//
// Offline licenses are not revocable; a leaked key stays valid until
// its expiry.
package license
