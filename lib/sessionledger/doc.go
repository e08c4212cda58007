// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sessionledger enforces the per-user cap on concurrent
// playback sessions.
//
// A session is active while now - lastHeartbeat < HeartbeatTTL. [Ledger.Admit]
// runs as one SQLite IMMEDIATE transaction: it takes the database's
// reserved lock before reading, deletes the user's expired sessions,
// counts the rest, and either inserts the new session or rolls back
// with [ErrSessionLimitExceeded]. Concurrent admissions serialize on
// that lock (busy_timeout makes them wait rather than fail), so no
// interleaving can leave a user with more active sessions than the
// cap.
//
// Admission is not atomic with the steps that follow it (key unwrap,
// license derivation). [Admission.Release] is the compensating action:
// callers defer it and cancel the release once the whole play request
// has succeeded.
package sessionledger
