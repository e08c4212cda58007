// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/bureau-foundation/streamguard/lib/clock"
	"github.com/bureau-foundation/streamguard/lib/playback"
)

const (
	defaultWindow      = 4
	defaultMaxAttempts = 4
	defaultBackoff     = 250 * time.Millisecond
	maxBackoff         = 5 * time.Second
)

// errWorkerStopped means the worker closed its response channel while
// the player still expected output.
var errWorkerStopped = errors.New("playback worker stopped")

// playerConfig configures a player. Worker is required and must
// already be running.
type playerConfig struct {
	Worker *playback.Worker
	Clock  clock.Clock
	Logger *slog.Logger

	// Window is how many DECRYPT_CHUNK requests may be outstanding.
	// It must not exceed the worker's response buffer.
	Window int

	// MaxAttempts bounds tries per chunk on RECOVERABLE_ERROR.
	MaxAttempts int

	// Backoff is the wait before the first retry; it doubles per
	// attempt up to maxBackoff.
	Backoff time.Duration
}

// player drives one stream through the worker and writes decrypted
// chunks in index order.
type player struct {
	worker      *playback.Worker
	clock       clock.Clock
	logger      *slog.Logger
	window      int
	maxAttempts int
	backoff     time.Duration
}

func newPlayer(cfg playerConfig) *player {
	p := &player{
		worker:      cfg.Worker,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		window:      cfg.Window,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
	}
	if p.clock == nil {
		p.clock = clock.Real()
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	if p.window <= 0 {
		p.window = defaultWindow
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = defaultMaxAttempts
	}
	if p.backoff <= 0 {
		p.backoff = defaultBackoff
	}
	return p
}

// playStats summarizes a finished stream.
type playStats struct {
	Chunks  int
	Bytes   int64
	Retries int
}

// play initializes the stream described by init, decrypts every chunk
// in its offset map and writes the plaintext to out. The stream is
// aborted on return.
func (p *player) play(ctx context.Context, init playback.Request, out io.Writer) (playStats, error) {
	var stats playStats
	streamID := init.StreamID

	if err := p.worker.Send(ctx, init); err != nil {
		return stats, err
	}
	defer p.worker.Send(context.WithoutCancel(ctx), playback.Request{
		Type:     playback.MessageAbort,
		StreamID: streamID,
	})

	response, err := p.await(ctx, streamID)
	if err != nil {
		return stats, err
	}
	switch response.Type {
	case playback.MessageInitSuccess:
	case playback.MessageFatalError:
		return stats, fmt.Errorf("initializing stream: %s", response.Error)
	default:
		return stats, fmt.Errorf("initializing stream: unexpected %s", response.Type)
	}
	if response.OffsetMap.MayBeTruncated {
		p.logger.Warn("offset map may be truncated; trailing chunks may be missing",
			"stream_id", streamID,
			"chunks", response.OffsetMap.Len(),
		)
	}

	total := response.OffsetMap.Len()
	pending := make(map[int][]byte)
	attempts := make(map[int]int)
	next, written, inFlight := 0, 0, 0

	for written < total {
		for inFlight < p.window && next < total {
			if err := p.requestChunk(ctx, streamID, next); err != nil {
				return stats, err
			}
			attempts[next] = 1
			next++
			inFlight++
		}

		response, err := p.await(ctx, streamID)
		if err != nil {
			return stats, err
		}
		index := response.ChunkIndex

		switch response.Type {
		case playback.MessageDecryptSuccess:
			inFlight--
			pending[index] = response.Plaintext
			for {
				plaintext, ready := pending[written]
				if !ready {
					break
				}
				if _, err := out.Write(plaintext); err != nil {
					return stats, fmt.Errorf("writing chunk %d: %w", written, err)
				}
				delete(pending, written)
				stats.Chunks++
				stats.Bytes += int64(len(plaintext))
				written++
			}

		case playback.MessageRecoverableError:
			if attempts[index] >= p.maxAttempts {
				return stats, fmt.Errorf("chunk %d failed after %d attempts: %s", index, attempts[index], response.Error)
			}
			delay := p.retryDelay(attempts[index])
			p.logger.Warn("chunk failed, retrying",
				"stream_id", streamID,
				"chunk_index", index,
				"attempt", attempts[index],
				"delay", delay,
				"error", response.Error,
			)
			select {
			case <-p.clock.After(delay):
			case <-ctx.Done():
				return stats, ctx.Err()
			}
			attempts[index]++
			stats.Retries++
			if err := p.requestChunk(ctx, streamID, index); err != nil {
				return stats, err
			}

		case playback.MessageFatalError:
			return stats, fmt.Errorf("chunk %d: %s", index, response.Error)

		default:
			return stats, fmt.Errorf("chunk %d: unexpected %s", index, response.Type)
		}
	}
	return stats, nil
}

func (p *player) requestChunk(ctx context.Context, streamID string, index int) error {
	return p.worker.Send(ctx, playback.Request{
		Type:       playback.MessageDecryptChunk,
		StreamID:   streamID,
		ChunkIndex: index,
	})
}

// await returns the next response for streamID.
func (p *player) await(ctx context.Context, streamID string) (playback.Response, error) {
	for {
		select {
		case response, ok := <-p.worker.Responses():
			if !ok {
				return playback.Response{}, errWorkerStopped
			}
			if response.StreamID != streamID {
				p.logger.Debug("ignoring response for another stream", "stream_id", response.StreamID)
				continue
			}
			return response, nil
		case <-ctx.Done():
			return playback.Response{}, ctx.Err()
		}
	}
}

func (p *player) retryDelay(attempt int) time.Duration {
	delay := p.backoff << (attempt - 1)
	if delay <= 0 || delay > maxBackoff {
		return maxBackoff
	}
	return delay
}
