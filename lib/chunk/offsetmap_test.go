// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chunk

import (
	"errors"
	"slices"
	"testing"
)

// frames concatenates frames whose bodies have the given lengths.
func frames(bodyLengths ...int) []byte {
	var out []byte
	for _, length := range bodyLengths {
		out = append(out, EncodeFrame(make([]byte, 12), make([]byte, length-12))...)
	}
	return out
}

func TestBuildOffsetMap_ThreeEqualFrames(t *testing.T) {
	offsets, err := BuildOffsetMap(frames(28, 28, 28))
	if err != nil {
		t.Fatalf("BuildOffsetMap: %v", err)
	}
	want := []Range{{0, 31}, {32, 63}, {64, 95}}
	if !slices.Equal(offsets.Ranges, want) {
		t.Errorf("Ranges = %v, want %v", offsets.Ranges, want)
	}
	if offsets.ScannedBytes != 96 {
		t.Errorf("ScannedBytes = %d, want 96", offsets.ScannedBytes)
	}
	if offsets.Len() != 3 {
		t.Errorf("Len = %d, want 3", offsets.Len())
	}
}

func TestBuildOffsetMap(t *testing.T) {
	tests := []struct {
		name    string
		header  []byte
		want    []Range
		scanned int64
	}{
		{
			name:    "varied lengths",
			header:  frames(28, 100, 13),
			want:    []Range{{0, 31}, {32, 135}, {136, 152}},
			scanned: 153,
		},
		{
			name:    "trailing partial prefix ignored",
			header:  append(frames(28), 0x00, 0x00, 0x01),
			want:    []Range{{0, 31}},
			scanned: 32,
		},
		{
			// A bounded prefix can cut the last frame; its range is
			// still recorded from the declared length.
			name:    "last frame extends past prefix",
			header:  frames(28, 100)[:40],
			want:    []Range{{0, 31}, {32, 135}},
			scanned: 136,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			offsets, err := BuildOffsetMap(test.header)
			if err != nil {
				t.Fatalf("BuildOffsetMap: %v", err)
			}
			if !slices.Equal(offsets.Ranges, test.want) {
				t.Errorf("Ranges = %v, want %v", offsets.Ranges, test.want)
			}
			if offsets.ScannedBytes != test.scanned {
				t.Errorf("ScannedBytes = %d, want %d", offsets.ScannedBytes, test.scanned)
			}
		})
	}
}

func TestBuildOffsetMap_Errors(t *testing.T) {
	tests := []struct {
		name   string
		header []byte
		want   error
	}{
		{"empty header", nil, ErrNoChunksParsed},
		{"three bytes", []byte{0, 0, 0}, ErrNoChunksParsed},
		{"zero body first", []byte{0, 0, 0, 0, 1, 2, 3}, ErrEmptyChunk},
		{"zero body later", append(frames(28), 0, 0, 0, 0), ErrEmptyChunk},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := BuildOffsetMap(test.header)
			if !errors.Is(err, test.want) {
				t.Fatalf("BuildOffsetMap error = %v, want %v", err, test.want)
			}
		})
	}
}

func TestOffsetMapLookup(t *testing.T) {
	offsets, err := BuildOffsetMap(frames(28, 28))
	if err != nil {
		t.Fatal(err)
	}
	if r, ok := offsets.Lookup(1); !ok || r != (Range{32, 63}) {
		t.Errorf("Lookup(1) = %v, %v", r, ok)
	}
	for _, index := range []int{-1, 2} {
		if _, ok := offsets.Lookup(index); ok {
			t.Errorf("Lookup(%d) succeeded", index)
		}
	}
	if got := (Range{32, 63}).Len(); got != 32 {
		t.Errorf("Range.Len = %d, want 32", got)
	}
}
