// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chunk

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeParseFrame(t *testing.T) {
	tests := []struct {
		name   string
		iv     []byte
		sealed []byte
	}{
		{"standard", bytes.Repeat([]byte{0x01}, 12), bytes.Repeat([]byte{0xAB}, 40)},
		{"tag only", bytes.Repeat([]byte{0x02}, 12), bytes.Repeat([]byte{0xCD}, 16)},
		{"long iv", bytes.Repeat([]byte{0x03}, 16), []byte("ciphertext and tag bytes")},
		{"empty sealed", bytes.Repeat([]byte{0x04}, 12), nil},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			frame := EncodeFrame(test.iv, test.sealed)
			if len(frame) != LengthPrefixSize+len(test.iv)+len(test.sealed) {
				t.Fatalf("frame length = %d", len(frame))
			}
			parsed, err := ParseFrame(frame, len(test.iv))
			if err != nil {
				t.Fatalf("ParseFrame: %v", err)
			}
			if !bytes.Equal(parsed.IV, test.iv) {
				t.Errorf("IV = %x, want %x", parsed.IV, test.iv)
			}
			if !bytes.Equal(parsed.Sealed, test.sealed) {
				t.Errorf("Sealed = %x, want %x", parsed.Sealed, test.sealed)
			}
			if parsed.BodyLength() != len(test.iv)+len(test.sealed) {
				t.Errorf("BodyLength = %d", parsed.BodyLength())
			}
		})
	}
}

func TestEncodeFrame_LengthPrefixIsBigEndian(t *testing.T) {
	frame := EncodeFrame(make([]byte, 12), make([]byte, 0x0104-12))
	if !bytes.Equal(frame[:4], []byte{0x00, 0x00, 0x01, 0x04}) {
		t.Errorf("prefix = %x, want 00000104", frame[:4])
	}
}

func TestParseFrame_Integrity(t *testing.T) {
	valid := EncodeFrame(make([]byte, 12), make([]byte, 20))

	tests := []struct {
		name     string
		frame    []byte
		ivLength int
	}{
		{"shorter than prefix", []byte{0x00, 0x01}, 12},
		{"truncated body", valid[:len(valid)-1], 12},
		{"trailing bytes", append(append([]byte{}, valid...), 0xFF), 12},
		{"body shorter than iv", EncodeFrame(make([]byte, 4), nil), 12},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := ParseFrame(test.frame, test.ivLength)
			if !errors.Is(err, ErrFrameIntegrity) {
				t.Fatalf("ParseFrame error = %v, want ErrFrameIntegrity", err)
			}
		})
	}
}
