// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Streamguard-license-service admits playback sessions and issues
// playback keys. It serves the CBOR action protocol of [service] on a
// local Unix socket; every action except "status" requires a viewer
// token minted by the identity provider.
//
// # Startup
//
// The service reads the YAML file named by --config (or
// STREAMGUARD_CONFIG), loads the key-encryption server secret from a
// plain file or an age-sealed bundle, and opens the SQLite database
// holding wrapped video keys and playback sessions. The KEK is derived
// once, on startup, and its fingerprint is logged so operators can
// confirm two replicas hold the same key.
//
// # Socket API
//
//	play             {videoId, deviceId} -> {sessionId, derivedKeyB64, scope}
//	heartbeat        {sessionId}
//	end              {sessionId}
//	offline-license  {videoId, deviceId} -> signed license JSON fields
//	logout           revokes the presenting token
//	status           -> {kekVersion, kekFingerprint, activeSessions, ...}
//
// "play" admits a session before any key material is touched; if the
// key cannot be produced the admission is released again. "heartbeat"
// and "end" only act on sessions owned by the token's subject.
package main
