// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package playback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/streamguard/lib/chunk"
	"github.com/bureau-foundation/streamguard/lib/netutil"
)

// State is a session's position in the playback state machine.
type State int

const (
	StateIdle State = iota
	StateMapping
	StateReady
	StateDecrypting
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateMapping:
		return "MAPPING"
	case StateReady:
		return "READY"
	case StateDecrypting:
		return "DECRYPTING"
	case StateAborted:
		return "ABORTED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// source yields the raw bytes of one frame.
type source interface {
	read(ctx context.Context, byteRange chunk.Range) ([]byte, error)
}

type remoteSource struct {
	fetcher Fetcher
	url     string
}

func (r *remoteSource) read(ctx context.Context, byteRange chunk.Range) ([]byte, error) {
	return r.fetcher.FetchRange(ctx, r.url, netutil.ByteRange{Start: byteRange.ByteStart, End: byteRange.ByteEnd})
}

type bufferSource struct {
	data []byte
}

// read slices the buffer. A range running past the end yields the
// bytes that exist; frame parsing then reports the shortfall.
func (b *bufferSource) read(_ context.Context, byteRange chunk.Range) ([]byte, error) {
	size := int64(len(b.data))
	if byteRange.ByteStart >= size {
		return nil, nil
	}
	end := min(byteRange.ByteEnd+1, size)
	return b.data[byteRange.ByteStart:end], nil
}

// Session is one initialized stream. DecryptChunk may be called
// concurrently, in any index order.
type Session struct {
	streamID string
	offsets  chunk.OffsetMap
	cipher   *chunk.Cipher
	source   source
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	inFlight int
}

func newSession(streamID string, offsets chunk.OffsetMap, cipher *chunk.Cipher, src source, logger *slog.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		streamID: streamID,
		offsets:  offsets,
		cipher:   cipher,
		source:   src,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// StreamID returns the caller-supplied stream identifier.
func (s *Session) StreamID() string { return s.streamID }

// OffsetMap returns the stream's chunk ranges.
func (s *Session) OffsetMap() chunk.OffsetMap { return s.offsets }

// State returns READY, DECRYPTING while any chunk is in flight, or
// ABORTED.
func (s *Session) State() State {
	if s.ctx.Err() != nil {
		return StateAborted
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight > 0 {
		return StateDecrypting
	}
	return StateReady
}

// Done is closed when the session is aborted.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// Abort cancels in-flight fetches and fails every later call with
// ErrAborted. Idempotent.
func (s *Session) Abort() {
	s.cancel()
}

// DecryptChunk fetches and decrypts chunk index. It returns
// ErrChunkOutOfRange or ErrAborted for fatal conditions and a
// *ChunkError for failures worth retrying.
func (s *Session) DecryptChunk(ctx context.Context, index int) ([]byte, error) {
	if s.ctx.Err() != nil {
		return nil, ErrAborted
	}
	byteRange, ok := s.offsets.Lookup(index)
	if !ok {
		return nil, fmt.Errorf("%w: index %d, stream has %d chunks", ErrChunkOutOfRange, index, s.offsets.Len())
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	s.mu.Lock()
	s.inFlight++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	frame, err := s.source.read(ctx, byteRange)
	if s.ctx.Err() != nil {
		return nil, ErrAborted
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrAborted, ctx.Err())
		}
		return nil, &ChunkError{Index: index, Err: err}
	}

	plaintext, err := s.cipher.Open(index, frame)
	if err != nil {
		s.logger.Debug("chunk decryption failed",
			"stream_id", s.streamID,
			"chunk_index", index,
			"error", err,
		)
		return nil, &ChunkError{Index: index, Err: err}
	}
	if s.ctx.Err() != nil {
		return nil, ErrAborted
	}
	return plaintext, nil
}
