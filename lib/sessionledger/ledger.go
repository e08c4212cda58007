// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sessionledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/streamguard/lib/clock"
	"github.com/bureau-foundation/streamguard/lib/sqlitepool"
)

// Schema creates the playback_sessions table. Timestamps are Unix
// milliseconds. Idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS playback_sessions (
	session_id     TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	video_id       TEXT NOT NULL,
	device_id      TEXT NOT NULL,
	started_at     INTEGER NOT NULL,
	last_heartbeat INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS playback_sessions_user ON playback_sessions (user_id);
`

const (
	DefaultMaxSessionsPerUser = 2
	DefaultHeartbeatTTL       = 90 * time.Second
)

var (
	// ErrSessionLimitExceeded means the user already has the maximum
	// number of active sessions.
	ErrSessionLimitExceeded = errors.New("concurrent session limit exceeded")

	// ErrSessionNotFound means the session does not exist or has
	// expired.
	ErrSessionNotFound = errors.New("playback session not found")
)

// SessionRecord is one playback session.
type SessionRecord struct {
	SessionID     string    `json:"sessionId"`
	UserID        string    `json:"userId"`
	VideoID       string    `json:"videoId"`
	DeviceID      string    `json:"deviceId"`
	StartedAt     time.Time `json:"startedAt"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}

// Config configures a Ledger. Pool is required and its schema must
// include Schema.
type Config struct {
	Pool               *sqlitepool.Pool
	Clock              clock.Clock
	Logger             *slog.Logger
	MaxSessionsPerUser int
	HeartbeatTTL       time.Duration
}

// Ledger admits, refreshes and ends playback sessions.
type Ledger struct {
	pool        *sqlitepool.Pool
	clock       clock.Clock
	logger      *slog.Logger
	maxSessions int
	ttl         time.Duration
}

// New returns a Ledger. Zero limits take the defaults.
func New(cfg Config) (*Ledger, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("sessionledger: Pool is required")
	}
	ledger := &Ledger{
		pool:        cfg.Pool,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		maxSessions: cfg.MaxSessionsPerUser,
		ttl:         cfg.HeartbeatTTL,
	}
	if ledger.clock == nil {
		ledger.clock = clock.Real()
	}
	if ledger.logger == nil {
		ledger.logger = slog.New(slog.DiscardHandler)
	}
	if ledger.maxSessions <= 0 {
		ledger.maxSessions = DefaultMaxSessionsPerUser
	}
	if ledger.ttl <= 0 {
		ledger.ttl = DefaultHeartbeatTTL
	}
	return ledger, nil
}

// Admission is a successful Admit. Release deletes the session again.
type Admission struct {
	Record SessionRecord
	ledger *Ledger
}

// Release ends the admitted session. Idempotent; use it to undo an
// admission when a later step of the request fails.
func (a *Admission) Release(ctx context.Context) error {
	return a.ledger.End(ctx, a.Record.SessionID)
}

// Admit creates a session for userID unless the user is at the cap.
// Expired sessions for the user are deleted in the same transaction
// before counting.
func (l *Ledger) Admit(ctx context.Context, userID, videoID, deviceID string) (admission *Admission, err error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer l.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, fmt.Errorf("admit: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	now := l.clock.Now()
	cutoff := now.Add(-l.ttl).UnixMilli()

	err = sqlitex.Execute(conn,
		`DELETE FROM playback_sessions WHERE user_id = ? AND last_heartbeat <= ?`,
		&sqlitex.ExecOptions{Args: []any{userID, cutoff}})
	if err != nil {
		return nil, fmt.Errorf("admit: sweeping expired sessions: %w", err)
	}
	reaped := conn.Changes()

	var active int
	err = sqlitex.Execute(conn,
		`SELECT COUNT(*) FROM playback_sessions WHERE user_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{userID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				active = stmt.ColumnInt(0)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("admit: counting sessions: %w", err)
	}
	if active >= l.maxSessions {
		l.logger.Info("session admission rejected",
			"user_id", userID,
			"video_id", videoID,
			"active_sessions", active,
			"limit", l.maxSessions,
		)
		return nil, fmt.Errorf("%w: user %s has %d active sessions (limit %d)",
			ErrSessionLimitExceeded, userID, active, l.maxSessions)
	}

	record := SessionRecord{
		SessionID:     uuid.NewString(),
		UserID:        userID,
		VideoID:       videoID,
		DeviceID:      deviceID,
		StartedAt:     now,
		LastHeartbeat: now,
	}
	err = sqlitex.Execute(conn,
		`INSERT INTO playback_sessions
		 (session_id, user_id, video_id, device_id, started_at, last_heartbeat)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			record.SessionID, userID, videoID, deviceID, now.UnixMilli(), now.UnixMilli(),
		}})
	if err != nil {
		return nil, fmt.Errorf("admit: inserting session: %w", err)
	}

	l.logger.Info("session admitted",
		"session_id", record.SessionID,
		"user_id", userID,
		"video_id", videoID,
		"device_id", deviceID,
		"reaped_sessions", reaped,
	)
	return &Admission{Record: record, ledger: l}, nil
}

// Heartbeat refreshes an active session. An expired session is not
// revived: it returns ErrSessionNotFound like an unknown one.
func (l *Ledger) Heartbeat(ctx context.Context, sessionID string) error {
	now := l.clock.Now()
	cutoff := now.Add(-l.ttl).UnixMilli()

	var changed int
	err := l.pool.With(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			`UPDATE playback_sessions SET last_heartbeat = ?
			 WHERE session_id = ? AND last_heartbeat > ?`,
			&sqlitex.ExecOptions{Args: []any{now.UnixMilli(), sessionID, cutoff}})
		changed = conn.Changes()
		return err
	})
	if err != nil {
		return fmt.Errorf("heartbeat %s: %w", sessionID, err)
	}
	if changed == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil
}

// End deletes a session. Ending an unknown session is not an error.
func (l *Ledger) End(ctx context.Context, sessionID string) error {
	err := l.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`DELETE FROM playback_sessions WHERE session_id = ?`,
			&sqlitex.ExecOptions{Args: []any{sessionID}})
	})
	if err != nil {
		return fmt.Errorf("ending session %s: %w", sessionID, err)
	}
	return nil
}

// Lookup returns an active session.
func (l *Ledger) Lookup(ctx context.Context, sessionID string) (SessionRecord, error) {
	cutoff := l.clock.Now().Add(-l.ttl).UnixMilli()

	var (
		record SessionRecord
		found  bool
	)
	err := l.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT session_id, user_id, video_id, device_id, started_at, last_heartbeat
			 FROM playback_sessions WHERE session_id = ? AND last_heartbeat > ?`,
			&sqlitex.ExecOptions{
				Args: []any{sessionID, cutoff},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					record = SessionRecord{
						SessionID:     stmt.ColumnText(0),
						UserID:        stmt.ColumnText(1),
						VideoID:       stmt.ColumnText(2),
						DeviceID:      stmt.ColumnText(3),
						StartedAt:     time.UnixMilli(stmt.ColumnInt64(4)),
						LastHeartbeat: time.UnixMilli(stmt.ColumnInt64(5)),
					}
					found = true
					return nil
				},
			})
	})
	if err != nil {
		return SessionRecord{}, fmt.Errorf("looking up session %s: %w", sessionID, err)
	}
	if !found {
		return SessionRecord{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return record, nil
}

// ActiveCount returns the number of active sessions across all users.
func (l *Ledger) ActiveCount(ctx context.Context) (int, error) {
	cutoff := l.clock.Now().Add(-l.ttl).UnixMilli()
	var count int
	err := l.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT COUNT(*) FROM playback_sessions WHERE last_heartbeat > ?`,
			&sqlitex.ExecOptions{
				Args: []any{cutoff},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					count = stmt.ColumnInt(0)
					return nil
				},
			})
	})
	if err != nil {
		return 0, fmt.Errorf("counting active sessions: %w", err)
	}
	return count, nil
}

// Sweep deletes expired sessions for every user and returns how many
// it removed. Admit already sweeps per user; Sweep keeps rows of users
// who never come back from accumulating.
func (l *Ledger) Sweep(ctx context.Context) (int, error) {
	cutoff := l.clock.Now().Add(-l.ttl).UnixMilli()
	var removed int
	err := l.pool.With(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			`DELETE FROM playback_sessions WHERE last_heartbeat <= ?`,
			&sqlitex.ExecOptions{Args: []any{cutoff}})
		removed = conn.Changes()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("sweeping expired sessions: %w", err)
	}
	if removed > 0 {
		l.logger.Info("expired sessions swept", "count", removed)
	}
	return removed, nil
}

// RunSweeper calls Sweep every interval until ctx is done.
func (l *Ledger) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := l.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := l.Sweep(ctx); err != nil && ctx.Err() == nil {
				l.logger.Error("session sweep failed", "error", err)
			}
		}
	}
}
