// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/streamguard/lib/chunk"
	"github.com/bureau-foundation/streamguard/lib/license"
	"github.com/bureau-foundation/streamguard/lib/netutil"
	"github.com/bureau-foundation/streamguard/lib/secret"
)

// DefaultHeaderScanLimit is how much of a remote source is fetched to
// build the offset map.
const DefaultHeaderScanLimit int64 = 10 << 20

// Config configures a Decryptor.
type Config struct {
	// Fetcher defaults to an HTTPFetcher with no timeout.
	Fetcher Fetcher

	// HeaderScanLimit defaults to DefaultHeaderScanLimit. Frames that
	// start past it are not in the offset map.
	HeaderScanLimit int64

	// Logger defaults to a discarding logger.
	Logger *slog.Logger
}

// Decryptor creates sessions. It holds no per-stream state; each
// Session is independent.
type Decryptor struct {
	fetcher         Fetcher
	headerScanLimit int64
	logger          *slog.Logger
}

// New returns a Decryptor.
func New(cfg Config) *Decryptor {
	d := &Decryptor{
		fetcher:         cfg.Fetcher,
		headerScanLimit: cfg.HeaderScanLimit,
		logger:          cfg.Logger,
	}
	if d.fetcher == nil {
		d.fetcher = &HTTPFetcher{}
	}
	if d.headerScanLimit <= 0 {
		d.headerScanLimit = DefaultHeaderScanLimit
	}
	if d.logger == nil {
		d.logger = slog.New(slog.DiscardHandler)
	}
	return d
}

// InitOnlineStream maps a remote encrypted video. The key must be an
// online session key. Cancelling ctx aborts the header fetch; the
// returned session is independent of ctx.
func (d *Decryptor) InitOnlineStream(ctx context.Context, streamID, signedURL string, params chunk.Params, key license.OnlineSessionKey) (*Session, error) {
	if err := key.Scope.Require(license.ScopeOnlineStreamOnly); err != nil {
		return nil, err
	}
	rawKey, err := key.Key()
	if err != nil {
		return nil, err
	}
	cipher, err := newCipher(rawKey, params)
	if err != nil {
		return nil, err
	}

	header, err := d.fetcher.FetchRange(ctx, signedURL, netutil.ByteRange{Start: 0, End: d.headerScanLimit - 1})
	if err != nil && !errors.Is(err, ErrRangeNotSatisfiable) {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrAborted, ctx.Err())
		}
		return nil, fmt.Errorf("%w: fetching header: %w", ErrOffsetMap, err)
	}

	offsets, err := chunk.BuildOffsetMap(header)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOffsetMap, err)
	}
	if int64(len(header)) >= d.headerScanLimit {
		offsets.MayBeTruncated = true
		d.logger.Warn("offset map may be truncated",
			"stream_id", streamID,
			"header_scan_limit", d.headerScanLimit,
			"chunks", offsets.Len(),
		)
	}

	d.logger.Info("online stream initialized",
		"stream_id", streamID,
		"chunks", offsets.Len(),
		"scanned_bytes", offsets.ScannedBytes,
	)
	return newSession(streamID, offsets, cipher, &remoteSource{fetcher: d.fetcher, url: signedURL}, d.logger), nil
}

// InitOfflinePlayback maps an encrypted video held in memory. The
// license must carry offline scope. The buffer is retained, not
// copied.
func (d *Decryptor) InitOfflinePlayback(streamID string, buffer []byte, params chunk.Params, offline *license.OfflineLicense) (*Session, error) {
	if offline == nil {
		return nil, fmt.Errorf("%w: no license", license.ErrScopeMismatch)
	}
	if err := offline.Scope.Require(license.ScopeOfflinePlayback); err != nil {
		return nil, err
	}
	rawKey, err := offline.Key()
	if err != nil {
		return nil, err
	}
	cipher, err := newCipher(rawKey, params)
	if err != nil {
		return nil, err
	}

	offsets, err := chunk.BuildOffsetMap(buffer)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOffsetMap, err)
	}

	d.logger.Info("offline playback initialized",
		"stream_id", streamID,
		"chunks", offsets.Len(),
	)
	return newSession(streamID, offsets, cipher, &bufferSource{data: buffer}, d.logger), nil
}

// newCipher builds the chunk cipher and scrubs the raw key.
func newCipher(rawKey []byte, params chunk.Params) (*chunk.Cipher, error) {
	defer secret.Zero(rawKey)
	return chunk.NewCipher(rawKey, params)
}
