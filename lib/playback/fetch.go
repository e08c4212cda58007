// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bureau-foundation/streamguard/lib/netutil"
)

// ErrRangeNotSatisfiable means the requested range starts past the end
// of the object.
var ErrRangeNotSatisfiable = errors.New("range not satisfiable")

// Fetcher reads a byte range of a remote object. Implementations must
// return promptly once ctx is cancelled.
type Fetcher interface {
	FetchRange(ctx context.Context, url string, byteRange netutil.ByteRange) ([]byte, error)
}

// HTTPFetcher fetches ranges with HTTP Range requests. The zero value
// uses http.DefaultClient and no per-request timeout.
type HTTPFetcher struct {
	Client *http.Client

	// Timeout bounds each request, including reading the body.
	Timeout time.Duration
}

// FetchRange requests byteRange from url. A 206 response must start at
// the requested offset. A server that ignores Range and answers 200 is
// tolerated: the body is skipped up to the range start and truncated
// at its end. The returned slice is shorter than the range when the
// object ends inside it.
//
// Signed URLs are credentials; errors never include the URL.
func (f *HTTPFetcher) FetchRange(ctx context.Context, url string, byteRange netutil.ByteRange) ([]byte, error) {
	if err := byteRange.Validate(); err != nil {
		return nil, err
	}
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building range request: %w", err)
	}
	request.Header.Set("Range", byteRange.Header())

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	response, err := client.Do(request)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("fetching bytes %d-%d: %w", byteRange.Start, byteRange.End, err)
	}
	defer response.Body.Close()

	switch response.StatusCode {
	case http.StatusPartialContent:
		served, _, err := netutil.ParseContentRange(response.Header.Get("Content-Range"))
		if err != nil {
			return nil, err
		}
		if served.Start != byteRange.Start {
			return nil, fmt.Errorf("requested bytes %d-%d, server sent %d-%d",
				byteRange.Start, byteRange.End, served.Start, served.End)
		}
		return readBody(ctx, response.Body, byteRange.Len())

	case http.StatusOK:
		if byteRange.Start > 0 {
			if _, err := io.CopyN(io.Discard, response.Body, byteRange.Start); err != nil {
				if errors.Is(err, io.EOF) {
					return nil, nil
				}
				return nil, fmt.Errorf("skipping to byte %d: %w", byteRange.Start, err)
			}
		}
		return readBody(ctx, response.Body, byteRange.Len())

	case http.StatusRequestedRangeNotSatisfiable:
		return nil, fmt.Errorf("%w: bytes %d-%d", ErrRangeNotSatisfiable, byteRange.Start, byteRange.End)

	default:
		return nil, fmt.Errorf("fetching bytes %d-%d: HTTP %d: %s",
			byteRange.Start, byteRange.End, response.StatusCode, netutil.ErrorBody(response.Body))
	}
}

func readBody(ctx context.Context, body io.Reader, limit int64) ([]byte, error) {
	data, err := netutil.ReadAtMost(body, limit)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("reading range body: %w", err)
	}
	return data, nil
}
