// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package playback

import (
	"errors"
	"fmt"
)

var (
	// ErrOffsetMap means the source's frame headers could not be
	// mapped. Wraps the chunk package error that caused it.
	ErrOffsetMap = errors.New("cannot build offset map")

	// ErrChunkOutOfRange means a chunk index is not in the offset map.
	ErrChunkOutOfRange = errors.New("chunk index out of range")

	// ErrAborted means the stream was aborted. Callers drop the result
	// silently.
	ErrAborted = errors.New("stream aborted")

	// ErrStreamActive means INIT named a stream ID that is still
	// active. Abort it first.
	ErrStreamActive = errors.New("stream already active")

	// ErrNoStream means a request named a stream that does not exist
	// or has not finished initializing.
	ErrNoStream = errors.New("no such stream")
)

// ChunkError is a recoverable failure of one chunk: fetch error,
// length mismatch, or authentication failure. Retry the index.
type ChunkError struct {
	Index int
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d: %v", e.Index, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// IsRecoverable reports whether err is a per-chunk failure.
func IsRecoverable(err error) bool {
	var chunkErr *ChunkError
	return errors.As(err, &chunkErr)
}
