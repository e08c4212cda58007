// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chunk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// LengthPrefixSize is the size of the big-endian body length that
// starts every frame.
const LengthPrefixSize = 4

var (
	// ErrFrameIntegrity means a frame's declared body length does not
	// match the bytes present, or the body cannot hold its IV.
	ErrFrameIntegrity = errors.New("chunk frame integrity check failed")

	// ErrEmptyChunk means the offset scan found a frame with a zero
	// body length. The stream is treated as corrupt.
	ErrEmptyChunk = errors.New("chunk frame has empty body")

	// ErrNoChunksParsed means the offset scan found no frames at all.
	ErrNoChunksParsed = errors.New("no chunk frames parsed")
)

// Frame is a decoded chunk frame. Sealed is the ciphertext with the
// authentication tag appended.
type Frame struct {
	IV     []byte
	Sealed []byte
}

// BodyLength is the value the frame's length prefix carries.
func (f Frame) BodyLength() int {
	return len(f.IV) + len(f.Sealed)
}

// EncodeFrame writes the length prefix followed by iv and sealed.
// It panics if the body does not fit a u32; chunk sizes are bounded
// far below that by the packager.
func EncodeFrame(iv, sealed []byte) []byte {
	bodyLength := len(iv) + len(sealed)
	if uint64(bodyLength) > math.MaxUint32 {
		panic(fmt.Sprintf("chunk: frame body of %d bytes exceeds u32 length prefix", bodyLength))
	}
	frame := make([]byte, LengthPrefixSize, LengthPrefixSize+bodyLength)
	binary.BigEndian.PutUint32(frame, uint32(bodyLength))
	frame = append(frame, iv...)
	frame = append(frame, sealed...)
	return frame
}

// ParseFrame decodes exactly one frame. The declared body length must
// equal the bytes following the prefix. The returned slices alias
// frame.
func ParseFrame(frame []byte, ivLength int) (Frame, error) {
	if len(frame) < LengthPrefixSize {
		return Frame{}, fmt.Errorf("%w: %d bytes is shorter than the length prefix", ErrFrameIntegrity, len(frame))
	}
	declared := int64(binary.BigEndian.Uint32(frame))
	actual := int64(len(frame) - LengthPrefixSize)
	if declared != actual {
		return Frame{}, fmt.Errorf("%w: declared body length %d, have %d bytes", ErrFrameIntegrity, declared, actual)
	}
	if ivLength < 0 || actual < int64(ivLength) {
		return Frame{}, fmt.Errorf("%w: body of %d bytes cannot hold a %d-byte IV", ErrFrameIntegrity, actual, ivLength)
	}
	body := frame[LengthPrefixSize:]
	return Frame{
		IV:     body[:ivLength:ivLength],
		Sealed: body[ivLength:],
	}, nil
}
