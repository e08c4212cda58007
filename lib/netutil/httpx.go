// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds HTTP and connection helpers shared by the
// playback fetcher and the socket service.
//
// Every HTTP body read in streamguard is bounded. Segment reads are
// bounded by the requested byte range; error bodies by
// MaxErrorBodySize. [ByteRange] and [ParseContentRange] cover the
// subset of RFC 9110 range requests the fetcher uses: a single closed
// range per request.
package netutil

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// MaxErrorBodySize bounds how much of an error response is kept for
// diagnostics.
const MaxErrorBodySize int64 = 4 << 10

// ByteRange is an inclusive byte range [Start, End].
type ByteRange struct {
	Start int64
	End   int64
}

// Len returns the number of bytes the range covers.
func (r ByteRange) Len() int64 { return r.End - r.Start + 1 }

// Header formats the range for a Range request header.
func (r ByteRange) Header() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// Validate rejects negative and inverted ranges.
func (r ByteRange) Validate() error {
	if r.Start < 0 || r.End < r.Start {
		return fmt.Errorf("invalid byte range %d-%d", r.Start, r.End)
	}
	return nil
}

var ErrMalformedContentRange = errors.New("malformed Content-Range header")

// ParseContentRange parses "bytes start-end/total". total is -1 when
// the server sends "*".
func ParseContentRange(header string) (ByteRange, int64, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes ")
	if !ok {
		return ByteRange{}, 0, fmt.Errorf("%w: %q", ErrMalformedContentRange, header)
	}
	span, totalText, ok := strings.Cut(rest, "/")
	if !ok {
		return ByteRange{}, 0, fmt.Errorf("%w: %q", ErrMalformedContentRange, header)
	}
	startText, endText, ok := strings.Cut(span, "-")
	if !ok {
		return ByteRange{}, 0, fmt.Errorf("%w: %q", ErrMalformedContentRange, header)
	}

	start, startErr := strconv.ParseInt(startText, 10, 64)
	end, endErr := strconv.ParseInt(endText, 10, 64)
	if startErr != nil || endErr != nil {
		return ByteRange{}, 0, fmt.Errorf("%w: %q", ErrMalformedContentRange, header)
	}
	parsed := ByteRange{Start: start, End: end}
	if err := parsed.Validate(); err != nil {
		return ByteRange{}, 0, fmt.Errorf("%w: %v", ErrMalformedContentRange, err)
	}

	total := int64(-1)
	if totalText != "*" {
		var err error
		total, err = strconv.ParseInt(totalText, 10, 64)
		if err != nil || total <= end {
			return ByteRange{}, 0, fmt.Errorf("%w: %q", ErrMalformedContentRange, header)
		}
	}
	return parsed, total, nil
}

// ReadAtMost reads up to limit bytes from body. A body longer than
// limit is truncated without error.
func ReadAtMost(body io.Reader, limit int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, limit))
}

// ErrorBody returns up to MaxErrorBodySize bytes of an error response
// for use in an error message. Read errors yield whatever was read.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, MaxErrorBodySize))
	return strings.TrimSpace(string(data))
}
