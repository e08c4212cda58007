// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/streamguard/lib/chunk"
	"github.com/bureau-foundation/streamguard/lib/codec"
	"github.com/bureau-foundation/streamguard/lib/license"
)

// MessageType tags worker requests and responses.
type MessageType string

// Requests.
const (
	MessageInitOnlineStream    MessageType = "INIT_ONLINE_STREAM"
	MessageInitOfflinePlayback MessageType = "INIT_OFFLINE_PLAYBACK"
	MessageDecryptChunk        MessageType = "DECRYPT_CHUNK"
	MessageAbort               MessageType = "ABORT"
)

// Responses.
const (
	MessageInitSuccess      MessageType = "INIT_SUCCESS"
	MessageDecryptSuccess   MessageType = "DECRYPT_SUCCESS"
	MessageRecoverableError MessageType = "RECOVERABLE_ERROR"
	MessageFatalError       MessageType = "FATAL_ERROR"
)

// Request is a message to the worker. Which fields apply depends on
// Type.
type Request struct {
	Type     MessageType `cbor:"type"`
	StreamID string      `cbor:"streamId"`

	// INIT_ONLINE_STREAM.
	SignedURL string                    `cbor:"signedUrl,omitempty"`
	OnlineKey *license.OnlineSessionKey `cbor:"onlineKey,omitempty"`

	// INIT_OFFLINE_PLAYBACK.
	Buffer  []byte                  `cbor:"buffer,omitempty"`
	License *license.OfflineLicense `cbor:"license,omitempty"`

	// Both INIT messages.
	Params chunk.Params `cbor:"encryptionParams"`

	// DECRYPT_CHUNK.
	ChunkIndex int `cbor:"chunkIndex"`
}

// Response is a message from the worker.
type Response struct {
	Type       MessageType      `cbor:"type"`
	StreamID   string           `cbor:"streamId"`
	ChunkIndex int              `cbor:"chunkIndex"`
	OffsetMap  *chunk.OffsetMap `cbor:"offsetMap,omitempty"`
	Plaintext  []byte           `cbor:"plaintext,omitempty"`
	Error      string           `cbor:"error,omitempty"`
}

// stream is the worker's record of one stream ID. session is nil while
// the stream is still mapping.
type stream struct {
	generation uint64
	session    *Session
	cancel     context.CancelFunc
}

// ResponseBuffer is the capacity of the worker's response channel. A
// caller that keeps more requests outstanding than this must drain
// Responses concurrently.
const ResponseBuffer = 16

// Worker serves the decryptor message protocol. Requests are accepted
// in order; INIT and DECRYPT_CHUNK run as independent tasks, so
// responses arrive in completion order.
type Worker struct {
	decryptor *Decryptor
	logger    *slog.Logger

	requests  chan Request
	responses chan Response
	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}

	mu             sync.Mutex
	streams        map[string]*stream
	nextGeneration uint64
	tasks          sync.WaitGroup
}

// NewWorker returns a Worker. Start it with Run.
func NewWorker(decryptor *Decryptor, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Worker{
		decryptor: decryptor,
		logger:    logger,
		requests:  make(chan Request),
		responses: make(chan Response, ResponseBuffer),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
		streams:   make(map[string]*stream),
	}
}

// Send queues a request. It fails once the worker has stopped.
func (w *Worker) Send(ctx context.Context, request Request) error {
	select {
	case w.requests <- request:
		return nil
	case <-w.done:
		return errors.New("playback worker stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Responses delivers worker output. Closed when Run returns.
func (w *Worker) Responses() <-chan Response { return w.responses }

// Close stops accepting requests. Run lets in-flight tasks deliver
// their responses, then returns.
func (w *Worker) Close() {
	w.closeOnce.Do(func() { close(w.closing) })
}

// Run processes requests until ctx is cancelled or Close is called.
// Cancellation aborts every stream at once; Close drains first. Either
// way Responses is closed when Run returns.
func (w *Worker) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	graceful := false
	defer func() {
		close(w.done)
		if !graceful {
			cancel()
		}
		w.tasks.Wait()
		w.mu.Lock()
		for id, entry := range w.streams {
			w.stopLocked(id, entry)
		}
		w.mu.Unlock()
		cancel()
		close(w.responses)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.closing:
			graceful = true
			return
		case request := <-w.requests:
			w.handle(ctx, request)
		}
	}
}

func (w *Worker) handle(ctx context.Context, request Request) {
	switch request.Type {
	case MessageInitOnlineStream, MessageInitOfflinePlayback:
		w.handleInit(ctx, request)
	case MessageDecryptChunk:
		w.handleDecrypt(ctx, request)
	case MessageAbort:
		w.handleAbort(request.StreamID)
	default:
		w.send(ctx, Response{
			Type:     MessageFatalError,
			StreamID: request.StreamID,
			Error:    fmt.Sprintf("unknown message type %q", request.Type),
		})
	}
}

func (w *Worker) handleInit(ctx context.Context, request Request) {
	w.mu.Lock()
	if _, exists := w.streams[request.StreamID]; exists {
		w.mu.Unlock()
		w.send(ctx, Response{
			Type:     MessageFatalError,
			StreamID: request.StreamID,
			Error:    fmt.Sprintf("%v: %s", ErrStreamActive, request.StreamID),
		})
		return
	}
	w.nextGeneration++
	generation := w.nextGeneration
	initCtx, cancel := context.WithCancel(ctx)
	w.streams[request.StreamID] = &stream{generation: generation, cancel: cancel}
	w.tasks.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.tasks.Done()
		session, err := w.initSession(initCtx, request)

		w.mu.Lock()
		entry, current := w.streams[request.StreamID]
		current = current && entry.generation == generation
		switch {
		case !current:
			// Aborted while mapping.
			if session != nil {
				session.Abort()
			}
			w.mu.Unlock()
			w.logger.Debug("dropping init result for aborted stream", "stream_id", request.StreamID)
			return
		case err != nil:
			delete(w.streams, request.StreamID)
			cancel()
		default:
			entry.session = session
		}
		w.mu.Unlock()

		if err != nil {
			w.send(ctx, Response{Type: MessageFatalError, StreamID: request.StreamID, Error: err.Error()})
			return
		}
		offsets := session.OffsetMap()
		w.deliver(ctx, generation, Response{
			Type:      MessageInitSuccess,
			StreamID:  request.StreamID,
			OffsetMap: &offsets,
		})
	}()
}

func (w *Worker) initSession(ctx context.Context, request Request) (*Session, error) {
	if request.Type == MessageInitOnlineStream {
		if request.OnlineKey == nil {
			return nil, fmt.Errorf("%w: no online key", license.ErrScopeMismatch)
		}
		return w.decryptor.InitOnlineStream(ctx, request.StreamID, request.SignedURL, request.Params, *request.OnlineKey)
	}
	return w.decryptor.InitOfflinePlayback(request.StreamID, request.Buffer, request.Params, request.License)
}

func (w *Worker) handleDecrypt(ctx context.Context, request Request) {
	w.mu.Lock()
	entry, exists := w.streams[request.StreamID]
	if !exists || entry.session == nil {
		w.mu.Unlock()
		w.send(ctx, Response{
			Type:       MessageFatalError,
			StreamID:   request.StreamID,
			ChunkIndex: request.ChunkIndex,
			Error:      fmt.Sprintf("%v: %s", ErrNoStream, request.StreamID),
		})
		return
	}
	session, generation := entry.session, entry.generation
	w.tasks.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.tasks.Done()
		plaintext, err := session.DecryptChunk(ctx, request.ChunkIndex)
		switch {
		case err == nil:
			w.deliver(ctx, generation, Response{
				Type:       MessageDecryptSuccess,
				StreamID:   request.StreamID,
				ChunkIndex: request.ChunkIndex,
				Plaintext:  plaintext,
			})
		case errors.Is(err, ErrAborted):
			w.logger.Debug("dropping result for aborted stream",
				"stream_id", request.StreamID,
				"chunk_index", request.ChunkIndex,
			)
		case IsRecoverable(err):
			w.deliver(ctx, generation, Response{
				Type:       MessageRecoverableError,
				StreamID:   request.StreamID,
				ChunkIndex: request.ChunkIndex,
				Error:      err.Error(),
			})
		default:
			// Fatal for the whole stream: tear it down before reporting
			// so no later request sees it.
			if w.abortGeneration(request.StreamID, generation) {
				w.send(ctx, Response{
					Type:       MessageFatalError,
					StreamID:   request.StreamID,
					ChunkIndex: request.ChunkIndex,
					Error:      err.Error(),
				})
			}
		}
	}()
}

func (w *Worker) handleAbort(streamID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if entry, exists := w.streams[streamID]; exists {
		w.stopLocked(streamID, entry)
		w.logger.Info("stream aborted", "stream_id", streamID)
	}
}

// abortGeneration stops the stream if generation is still current and
// reports whether it was.
func (w *Worker) abortGeneration(streamID string, generation uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	entry, exists := w.streams[streamID]
	if !exists || entry.generation != generation {
		return false
	}
	w.stopLocked(streamID, entry)
	return true
}

func (w *Worker) stopLocked(streamID string, entry *stream) {
	entry.cancel()
	if entry.session != nil {
		entry.session.Abort()
	}
	delete(w.streams, streamID)
}

// deliver sends response only if generation is still the stream's
// current one. It reports whether the response was sent.
func (w *Worker) deliver(ctx context.Context, generation uint64, response Response) bool {
	w.mu.Lock()
	entry, exists := w.streams[response.StreamID]
	current := exists && entry.generation == generation
	w.mu.Unlock()
	if !current {
		w.logger.Debug("dropping stale result",
			"stream_id", response.StreamID,
			"type", string(response.Type),
		)
		return false
	}
	return w.send(ctx, response)
}

func (w *Worker) send(ctx context.Context, response Response) bool {
	select {
	case w.responses <- response:
		return true
	case <-ctx.Done():
		return false
	}
}

// ServeStream runs the worker over a byte stream: CBOR-encoded
// Requests are read from r and Responses written to wr. When r ends,
// in-flight requests finish before ServeStream returns; cancelling ctx
// stops at once.
func ServeStream(ctx context.Context, worker *Worker, r io.Reader, wr io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go worker.Run(ctx)

	readErr := make(chan error, 1)
	go func() {
		decoder := codec.NewDecoder(r)
		for {
			var request Request
			if err := decoder.Decode(&request); err != nil {
				if errors.Is(err, io.EOF) {
					worker.Close()
					readErr <- nil
					return
				}
				readErr <- err
				cancel()
				return
			}
			if err := worker.Send(ctx, request); err != nil {
				readErr <- nil
				return
			}
		}
	}()

	encoder := codec.NewEncoder(wr)
	var writeErr error
	for response := range worker.Responses() {
		if writeErr != nil {
			continue
		}
		if err := encoder.Encode(response); err != nil {
			writeErr = fmt.Errorf("writing response: %w", err)
			cancel()
		}
	}

	select {
	case err := <-readErr:
		if err != nil {
			return fmt.Errorf("reading request: %w", err)
		}
	default:
	}
	return writeErr
}
