// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package playback

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bureau-foundation/streamguard/lib/chunk"
	"github.com/bureau-foundation/streamguard/lib/clock"
	"github.com/bureau-foundation/streamguard/lib/license"
	"github.com/bureau-foundation/streamguard/lib/netutil"
	"github.com/bureau-foundation/streamguard/lib/secret"
)

var testMasterKey = bytes.Repeat([]byte{0x7C}, 32)

// chunkPlaintext returns distinct, fixed-size content for chunk i.
func chunkPlaintext(i int) []byte {
	return []byte(fmt.Sprintf("segment-%02d-payload!", i))
}

// encryptVideo seals count chunks under key and concatenates them.
func encryptVideo(t *testing.T, key []byte, params chunk.Params, count int) []byte {
	t.Helper()
	cipher, err := chunk.NewCipher(key, params)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	var video []byte
	for i := range count {
		frame, err := cipher.Seal(i, chunkPlaintext(i))
		if err != nil {
			t.Fatalf("Seal(%d): %v", i, err)
		}
		video = append(video, frame...)
	}
	return video
}

func onlineKey(t *testing.T) (license.OnlineSessionKey, []byte) {
	t.Helper()
	key := license.DeriveOnlineKey(testMasterKey, "device-1")
	raw, err := key.Key()
	if err != nil {
		t.Fatal(err)
	}
	return key, raw
}

func offlineLicense(t *testing.T) (*license.OfflineLicense, []byte) {
	t.Helper()
	masterKey, err := secret.NewFromBytes(bytes.Clone(testMasterKey))
	if err != nil {
		t.Fatal(err)
	}
	defer masterKey.Close()
	signingKey, err := secret.NewFromBytes([]byte("signing-key"))
	if err != nil {
		t.Fatal(err)
	}
	defer signingKey.Close()

	issuer := license.NewIssuer(license.IssuerConfig{
		Clock: clock.Fake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
	})
	offline, err := issuer.IssueOffline(license.OfflineRequest{
		VideoID:    "video-1",
		UserID:     "user-1",
		DeviceID:   "device-1",
		KeyID:      "key-1",
		KEKVersion: 1,
		Salt:       "video-salt",
		MasterKey:  masterKey,
		SigningKey: signingKey,
	})
	if err != nil {
		t.Fatalf("IssueOffline: %v", err)
	}
	raw, err := offline.Key()
	if err != nil {
		t.Fatal(err)
	}
	return offline, raw
}

// serveVideo serves video with Range support at /video.
func serveVideo(t *testing.T, video []byte) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "video.enc", time.Time{}, bytes.NewReader(video))
	}))
	t.Cleanup(server.Close)
	return server.URL + "/video"
}

// gatedFetcher serves ranges from memory. Header fetches return at
// once; chunk fetches block until gate is closed, ignoring ctx, so
// tests can hold a result until after the stream is aborted.
type gatedFetcher struct {
	data            []byte
	headerScanLimit int64
	started         chan struct{}
	gate            chan struct{}
	returned        chan struct{}
}

func newGatedFetcher(data []byte) *gatedFetcher {
	return &gatedFetcher{
		data:            data,
		headerScanLimit: DefaultHeaderScanLimit,
		started:         make(chan struct{}, 8),
		gate:            make(chan struct{}),
		returned:        make(chan struct{}, 8),
	}
}

func (g *gatedFetcher) FetchRange(_ context.Context, _ string, byteRange netutil.ByteRange) ([]byte, error) {
	if byteRange.End != g.headerScanLimit-1 {
		g.started <- struct{}{}
		<-g.gate
		defer func() { g.returned <- struct{}{} }()
	}
	source := bufferSource{data: g.data}
	return source.read(context.Background(), chunk.Range{ByteStart: byteRange.Start, ByteEnd: byteRange.End})
}

// blockingFetcher returns header bytes at once and blocks chunk
// fetches until ctx is cancelled.
type blockingFetcher struct {
	data    []byte
	started chan struct{}
}

func (b *blockingFetcher) FetchRange(ctx context.Context, _ string, byteRange netutil.ByteRange) ([]byte, error) {
	if byteRange.End == DefaultHeaderScanLimit-1 {
		return b.data, nil
	}
	b.started <- struct{}{}
	<-ctx.Done()
	return nil, ctx.Err()
}

// headerGate blocks the header fetch until ctx is cancelled.
type headerGate struct {
	started chan struct{}
}

func (h *headerGate) FetchRange(ctx context.Context, _ string, _ netutil.ByteRange) ([]byte, error) {
	h.started <- struct{}{}
	<-ctx.Done()
	return nil, ctx.Err()
}
