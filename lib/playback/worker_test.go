// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package playback

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/streamguard/lib/chunk"
	"github.com/bureau-foundation/streamguard/lib/codec"
	"github.com/bureau-foundation/streamguard/lib/testutil"
)

const responseTimeout = 5 * time.Second

func startWorker(t *testing.T, decryptor *Decryptor) *Worker {
	t.Helper()
	worker := NewWorker(decryptor, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return worker
}

func send(t *testing.T, worker *Worker, request Request) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), responseTimeout)
	defer cancel()
	if err := worker.Send(ctx, request); err != nil {
		t.Fatalf("Send(%s): %v", request.Type, err)
	}
}

func receive(t *testing.T, worker *Worker) Response {
	t.Helper()
	return testutil.RequireReceive(t, worker.Responses(), responseTimeout, "waiting for worker response")
}

func expect(t *testing.T, response Response, want MessageType) {
	t.Helper()
	if response.Type != want {
		t.Fatalf("response = %s (%s), want %s", response.Type, response.Error, want)
	}
}

func TestWorker_OfflineStream(t *testing.T) {
	offline, raw := offlineLicense(t)
	video := encryptVideo(t, raw, chunk.DefaultParams, 3)
	worker := startWorker(t, New(Config{}))

	send(t, worker, Request{
		Type:     MessageInitOfflinePlayback,
		StreamID: "s1",
		Buffer:   video,
		Params:   chunk.DefaultParams,
		License:  offline,
	})
	response := receive(t, worker)
	expect(t, response, MessageInitSuccess)
	if response.OffsetMap == nil || response.OffsetMap.Len() != 3 {
		t.Fatalf("INIT_SUCCESS offset map = %+v", response.OffsetMap)
	}

	send(t, worker, Request{Type: MessageDecryptChunk, StreamID: "s1", ChunkIndex: 2})
	response = receive(t, worker)
	expect(t, response, MessageDecryptSuccess)
	if response.ChunkIndex != 2 || !bytes.Equal(response.Plaintext, chunkPlaintext(2)) {
		t.Errorf("DECRYPT_SUCCESS index %d plaintext %q", response.ChunkIndex, response.Plaintext)
	}
}

func TestWorker_OnlineStream(t *testing.T) {
	key, raw := onlineKey(t)
	url := serveVideo(t, encryptVideo(t, raw, chunk.DefaultParams, 4))
	worker := startWorker(t, New(Config{}))

	send(t, worker, Request{
		Type:      MessageInitOnlineStream,
		StreamID:  "s1",
		SignedURL: url,
		Params:    chunk.DefaultParams,
		OnlineKey: &key,
	})
	expect(t, receive(t, worker), MessageInitSuccess)

	for _, index := range []int{3, 1, 0, 2} {
		send(t, worker, Request{Type: MessageDecryptChunk, StreamID: "s1", ChunkIndex: index})
	}
	seen := make(map[int]bool)
	for range 4 {
		response := receive(t, worker)
		expect(t, response, MessageDecryptSuccess)
		if !bytes.Equal(response.Plaintext, chunkPlaintext(response.ChunkIndex)) {
			t.Errorf("chunk %d plaintext %q", response.ChunkIndex, response.Plaintext)
		}
		seen[response.ChunkIndex] = true
	}
	if len(seen) != 4 {
		t.Errorf("saw chunks %v, want all four", seen)
	}
}

func TestWorker_ErrorKinds(t *testing.T) {
	offline, raw := offlineLicense(t)
	video := encryptVideo(t, raw, chunk.DefaultParams, 2)
	video[20] ^= 0xFF
	worker := startWorker(t, New(Config{}))

	send(t, worker, Request{Type: MessageInitOfflinePlayback, StreamID: "s1", Buffer: video, Params: chunk.DefaultParams, License: offline})
	expect(t, receive(t, worker), MessageInitSuccess)

	send(t, worker, Request{Type: MessageDecryptChunk, StreamID: "s1", ChunkIndex: 0})
	response := receive(t, worker)
	expect(t, response, MessageRecoverableError)
	if response.ChunkIndex != 0 {
		t.Errorf("RECOVERABLE_ERROR index = %d", response.ChunkIndex)
	}

	send(t, worker, Request{Type: MessageDecryptChunk, StreamID: "s1", ChunkIndex: 1})
	expect(t, receive(t, worker), MessageDecryptSuccess)

	// Out of range is fatal and ends the stream.
	send(t, worker, Request{Type: MessageDecryptChunk, StreamID: "s1", ChunkIndex: 9})
	expect(t, receive(t, worker), MessageFatalError)
	send(t, worker, Request{Type: MessageDecryptChunk, StreamID: "s1", ChunkIndex: 1})
	response = receive(t, worker)
	expect(t, response, MessageFatalError)
	if !strings.Contains(response.Error, ErrNoStream.Error()) {
		t.Errorf("error = %q, want no such stream", response.Error)
	}
}

func TestWorker_InitFailures(t *testing.T) {
	offline, raw := offlineLicense(t)
	worker := startWorker(t, New(Config{}))

	tests := []struct {
		name    string
		request Request
	}{
		{"online init without key", Request{Type: MessageInitOnlineStream, StreamID: "a", SignedURL: "http://unused", Params: chunk.DefaultParams}},
		{"offline license missing", Request{Type: MessageInitOfflinePlayback, StreamID: "b", Params: chunk.DefaultParams}},
		{"empty buffer", Request{Type: MessageInitOfflinePlayback, StreamID: "c", Params: chunk.DefaultParams, License: offline}},
		{"unknown type", Request{Type: "PLAY", StreamID: "d"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			send(t, worker, test.request)
			response := receive(t, worker)
			expect(t, response, MessageFatalError)
			if response.StreamID != test.request.StreamID {
				t.Errorf("StreamID = %q", response.StreamID)
			}
		})
	}

	// A failed INIT leaves the stream ID free.
	send(t, worker, Request{Type: MessageInitOfflinePlayback, StreamID: "c", Buffer: encryptVideo(t, raw, chunk.DefaultParams, 1), Params: chunk.DefaultParams, License: offline})
	expect(t, receive(t, worker), MessageInitSuccess)
}

func TestWorker_DuplicateInitRejected(t *testing.T) {
	offline, raw := offlineLicense(t)
	video := encryptVideo(t, raw, chunk.DefaultParams, 2)
	worker := startWorker(t, New(Config{}))
	initRequest := Request{Type: MessageInitOfflinePlayback, StreamID: "s1", Buffer: video, Params: chunk.DefaultParams, License: offline}

	send(t, worker, initRequest)
	expect(t, receive(t, worker), MessageInitSuccess)

	send(t, worker, initRequest)
	response := receive(t, worker)
	expect(t, response, MessageFatalError)
	if !strings.Contains(response.Error, ErrStreamActive.Error()) {
		t.Errorf("error = %q, want stream already active", response.Error)
	}

	// The original stream still works.
	send(t, worker, Request{Type: MessageDecryptChunk, StreamID: "s1", ChunkIndex: 1})
	expect(t, receive(t, worker), MessageDecryptSuccess)

	// After ABORT the ID can be reused.
	send(t, worker, Request{Type: MessageAbort, StreamID: "s1"})
	send(t, worker, initRequest)
	expect(t, receive(t, worker), MessageInitSuccess)
}

func TestWorker_AbortDropsLateResults(t *testing.T) {
	key, raw := onlineKey(t)
	offline, offlineRaw := offlineLicense(t)
	fetcher := newGatedFetcher(encryptVideo(t, raw, chunk.DefaultParams, 2))
	worker := startWorker(t, New(Config{Fetcher: fetcher}))

	send(t, worker, Request{Type: MessageInitOnlineStream, StreamID: "s1", SignedURL: "http://unused", Params: chunk.DefaultParams, OnlineKey: &key})
	expect(t, receive(t, worker), MessageInitSuccess)

	send(t, worker, Request{Type: MessageDecryptChunk, StreamID: "s1", ChunkIndex: 0})
	testutil.RequireReceive(t, fetcher.started, responseTimeout, "chunk fetch did not start")

	// Abort, then reuse the stream ID for a different source. The
	// held fetch completes only after the replacement is ready.
	send(t, worker, Request{Type: MessageAbort, StreamID: "s1"})
	send(t, worker, Request{Type: MessageInitOfflinePlayback, StreamID: "s1", Buffer: encryptVideo(t, offlineRaw, chunk.DefaultParams, 1), Params: chunk.DefaultParams, License: offline})
	expect(t, receive(t, worker), MessageInitSuccess)

	close(fetcher.gate)
	testutil.RequireReceive(t, fetcher.returned, responseTimeout, "held fetch did not return")

	send(t, worker, Request{Type: MessageDecryptChunk, StreamID: "s1", ChunkIndex: 0})

	// Close drains in-flight tasks, so every response that will ever be
	// sent is in the channel once it closes.
	worker.Close()
	var successes int
	for response := range worker.Responses() {
		if response.Type == MessageDecryptSuccess {
			successes++
			if !bytes.Equal(response.Plaintext, chunkPlaintext(0)) {
				t.Errorf("plaintext %q", response.Plaintext)
			}
		} else {
			t.Errorf("unexpected %s: %s", response.Type, response.Error)
		}
	}
	if successes != 1 {
		t.Errorf("%d DECRYPT_SUCCESS responses, want 1 (the aborted stream's result must be dropped)", successes)
	}
}

func TestWorker_AbortDuringMapping(t *testing.T) {
	key, _ := onlineKey(t)
	fetcher := &headerGate{started: make(chan struct{}, 1)}
	worker := startWorker(t, New(Config{Fetcher: fetcher}))

	send(t, worker, Request{Type: MessageInitOnlineStream, StreamID: "s1", SignedURL: "http://unused", Params: chunk.DefaultParams, OnlineKey: &key})
	testutil.RequireReceive(t, fetcher.started, responseTimeout, "header fetch did not start")
	send(t, worker, Request{Type: MessageAbort, StreamID: "s1"})

	worker.Close()
	for response := range worker.Responses() {
		t.Errorf("unexpected %s for a stream aborted while mapping", response.Type)
	}
}

func TestServeStream(t *testing.T) {
	offline, raw := offlineLicense(t)
	video := encryptVideo(t, raw, chunk.DefaultParams, 2)

	requestReader, requestWriter := io.Pipe()
	var output bytes.Buffer
	served := make(chan error, 1)
	go func() {
		served <- ServeStream(context.Background(), NewWorker(New(Config{}), nil), requestReader, &output)
	}()

	encoder := codec.NewEncoder(requestWriter)
	for _, request := range []Request{
		{Type: MessageInitOfflinePlayback, StreamID: "s1", Buffer: video, Params: chunk.DefaultParams, License: offline},
	} {
		if err := encoder.Encode(request); err != nil {
			t.Fatal(err)
		}
	}
	// DECRYPT_CHUNK only after INIT_SUCCESS would be the normal flow;
	// here the stream is closed right after INIT, and the worker must
	// still deliver INIT's response before ServeStream returns.
	requestWriter.Close()

	if err := testutil.RequireReceive(t, served, responseTimeout, "ServeStream did not return"); err != nil {
		t.Fatalf("ServeStream: %v", err)
	}
	decoder := codec.NewDecoder(&output)
	var response Response
	if err := decoder.Decode(&response); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	expect(t, response, MessageInitSuccess)
	if response.OffsetMap == nil || response.OffsetMap.Len() != 2 {
		t.Errorf("offset map = %+v", response.OffsetMap)
	}
}
