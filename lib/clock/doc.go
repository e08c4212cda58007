// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// License expiry, session heartbeat TTLs, and the playback client's
// retry loop all depend on wall-clock time. Taking a [Clock] instead of
// calling time.Now directly lets tests move time forward by exactly the
// amount a scenario needs:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	ledger := sessionledger.New(pool, sessionledger.Config{Clock: fake})
//	fake.Advance(91 * time.Second) // the session's heartbeat is now stale
//
// Goroutines that block on After or a Ticker register a pending waiter.
// Call [FakeClock.WaitForTimers] before Advance so the test does not
// race the goroutine's registration.
package clock
