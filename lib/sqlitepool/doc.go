// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens the license service's SQLite database.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool with fixed pragmas
// (WAL, NORMAL synchronous, a five second busy timeout, foreign keys on)
// and an optional idempotent schema script applied to every connection.
// The wrapped video key table and the playback session ledger both
// live in one database file.
//
// There is no query builder. Callers write SQL, execute it with
// sqlitex.Execute, and take write locks up front with
// sqlitex.ImmediateTransaction when a read decides a later write:
//
//	err := pool.With(ctx, func(conn *sqlite.Conn) (err error) {
//	    endTransaction, err := sqlitex.ImmediateTransaction(conn)
//	    if err != nil {
//	        return err
//	    }
//	    defer endTransaction(&err)
//	    // count, then insert
//	})
package sqlitepool
