// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chunk

import (
	"encoding/binary"
	"fmt"
)

// Range is the inclusive byte range of one frame, length prefix
// included. ByteEnd is ByteStart + 4 + bodyLength - 1.
type Range struct {
	ByteStart int64 `cbor:"byteStart" json:"byteStart"`
	ByteEnd   int64 `cbor:"byteEnd" json:"byteEnd"`
}

// Len is the number of bytes in the range.
func (r Range) Len() int64 { return r.ByteEnd - r.ByteStart + 1 }

// OffsetMap lists frame ranges in stream order; the chunk index is the
// position in Ranges.
type OffsetMap struct {
	Ranges []Range `cbor:"ranges" json:"ranges"`

	// ScannedBytes is the offset at which the scan stopped. When it
	// reaches the end of a bounded prefix, frames past the prefix may
	// exist that the map does not list.
	ScannedBytes int64 `cbor:"scannedBytes" json:"scannedBytes"`

	// MayBeTruncated is set by callers that scanned a bounded prefix
	// and filled it completely.
	MayBeTruncated bool `cbor:"mayBeTruncated" json:"mayBeTruncated"`
}

// Len is the number of chunks in the map.
func (m *OffsetMap) Len() int { return len(m.Ranges) }

// Lookup returns the range of chunk index.
func (m *OffsetMap) Lookup(index int) (Range, bool) {
	if index < 0 || index >= len(m.Ranges) {
		return Range{}, false
	}
	return m.Ranges[index], true
}

// BuildOffsetMap scans frame length prefixes starting at offset 0 and
// records the byte range of each frame. The scan stops when fewer
// than four bytes remain. A frame whose body extends past the end of
// header is still recorded; reading it is the caller's concern.
func BuildOffsetMap(header []byte) (OffsetMap, error) {
	var ranges []Range
	offset := int64(0)
	size := int64(len(header))

	for size-offset >= LengthPrefixSize {
		bodyLength := int64(binary.BigEndian.Uint32(header[offset:]))
		if bodyLength == 0 {
			return OffsetMap{}, fmt.Errorf("%w: chunk %d at byte %d", ErrEmptyChunk, len(ranges), offset)
		}
		frameEnd := offset + LengthPrefixSize + bodyLength - 1
		ranges = append(ranges, Range{ByteStart: offset, ByteEnd: frameEnd})
		offset = frameEnd + 1
	}

	if len(ranges) == 0 {
		return OffsetMap{}, fmt.Errorf("%w: scanned %d bytes", ErrNoChunksParsed, size)
	}
	return OffsetMap{Ranges: ranges, ScannedBytes: offset}, nil
}
