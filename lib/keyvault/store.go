// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package keyvault

import (
	"context"
	"errors"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/streamguard/lib/sqlitepool"
)

// Schema creates the video_keys table. Idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS video_keys (
	video_id             TEXT PRIMARY KEY,
	key_id               TEXT NOT NULL,
	encrypted_master_key TEXT NOT NULL,
	kek_version          INTEGER NOT NULL,
	salt                 TEXT NOT NULL
);
`

var (
	// ErrVideoKeyNotFound means no record exists for the video.
	ErrVideoKeyNotFound = errors.New("video key not found")

	// ErrVideoKeyExists means Put was called for a video that already
	// has a record. Records are immutable.
	ErrVideoKeyExists = errors.New("video key already exists")
)

// VideoKeyRecord is a video's wrapped master key. EncryptedMasterKey
// is base64(IV‖ciphertext‖tag); Salt is the HKDF salt for offline
// license keys.
type VideoKeyRecord struct {
	KeyID              string `json:"keyId"`
	EncryptedMasterKey string `json:"encryptedMasterKey"`
	KEKVersion         int    `json:"kekVersion"`
	Salt               string `json:"salt"`
}

// Store reads and writes VideoKeyRecords.
type Store struct {
	pool *sqlitepool.Pool
}

// NewStore returns a Store over pool. The pool's schema must include
// Schema.
func NewStore(pool *sqlitepool.Pool) *Store {
	return &Store{pool: pool}
}

// Get returns the record for videoID.
func (s *Store) Get(ctx context.Context, videoID string) (VideoKeyRecord, error) {
	var (
		record VideoKeyRecord
		found  bool
	)
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT key_id, encrypted_master_key, kek_version, salt
			 FROM video_keys WHERE video_id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{videoID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					record = VideoKeyRecord{
						KeyID:              stmt.ColumnText(0),
						EncryptedMasterKey: stmt.ColumnText(1),
						KEKVersion:         stmt.ColumnInt(2),
						Salt:               stmt.ColumnText(3),
					}
					found = true
					return nil
				},
			})
	})
	if err != nil {
		return VideoKeyRecord{}, fmt.Errorf("reading video key %s: %w", videoID, err)
	}
	if !found {
		return VideoKeyRecord{}, fmt.Errorf("%w: video %s", ErrVideoKeyNotFound, videoID)
	}
	return record, nil
}

// Put inserts the record for videoID.
func (s *Store) Put(ctx context.Context, videoID string, record VideoKeyRecord) error {
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`INSERT INTO video_keys (video_id, key_id, encrypted_master_key, kek_version, salt)
			 VALUES (?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{videoID, record.KeyID, record.EncryptedMasterKey, record.KEKVersion, record.Salt},
			})
	})
	if sqlite.ErrCode(err).ToPrimary() == sqlite.ResultConstraint {
		return fmt.Errorf("%w: video %s", ErrVideoKeyExists, videoID)
	}
	if err != nil {
		return fmt.Errorf("writing video key %s: %w", videoID, err)
	}
	return nil
}
