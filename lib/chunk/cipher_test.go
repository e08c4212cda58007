// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chunk

import (
	"bytes"
	"errors"
	"testing"
)

func testKey() []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func newTestCipher(t *testing.T, params Params) *Cipher {
	t.Helper()
	c, err := NewCipher(testKey(), params)
	if err != nil {
		t.Fatalf("NewCipher(%+v): %v", params, err)
	}
	return c
}

func TestChunkAAD(t *testing.T) {
	for index, want := range map[int]string{0: "chunk-index:0", 2: "chunk-index:2", 1234: "chunk-index:1234"} {
		if got := string(ChunkAAD(index)); got != want {
			t.Errorf("ChunkAAD(%d) = %q, want %q", index, got, want)
		}
	}
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		params Params
		ok     bool
	}{
		{Params{12, 16}, true},
		{Params{12, 12}, true},
		{Params{12, 14}, true},
		{Params{16, 16}, true},
		{Params{8, 16}, true},
		{Params{12, 11}, false},
		{Params{12, 17}, false},
		{Params{16, 12}, false},
		{Params{0, 16}, false},
		{Params{0, 0}, false},
	}
	for _, test := range tests {
		err := test.params.Validate()
		if test.ok && err != nil {
			t.Errorf("%+v: unexpected error %v", test.params, err)
		}
		if !test.ok && !errors.Is(err, ErrUnsupportedParams) {
			t.Errorf("%+v: error = %v, want ErrUnsupportedParams", test.params, err)
		}
	}
}

func TestNewCipher_Rejects(t *testing.T) {
	if _, err := NewCipher(testKey(), Params{16, 12}); !errors.Is(err, ErrUnsupportedParams) {
		t.Errorf("unsupported params: error = %v", err)
	}
	if _, err := NewCipher(make([]byte, 16), DefaultParams); err == nil {
		t.Error("AES-128 key accepted")
	}
}

func TestSealOpen(t *testing.T) {
	for _, params := range []Params{{12, 16}, {12, 12}, {16, 16}} {
		c := newTestCipher(t, params)
		plaintext := []byte("segment payload bytes")
		frame, err := c.Seal(5, plaintext)
		if err != nil {
			t.Fatalf("%+v: Seal: %v", params, err)
		}
		wantLength := LengthPrefixSize + params.IVLength + len(plaintext) + params.TagLength
		if len(frame) != wantLength {
			t.Errorf("%+v: frame length = %d, want %d", params, len(frame), wantLength)
		}
		got, err := c.Open(5, frame)
		if err != nil {
			t.Fatalf("%+v: Open: %v", params, err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Errorf("%+v: Open = %q", params, got)
		}
	}
}

func TestOpen_WrongIndexFailsAuthentication(t *testing.T) {
	c := newTestCipher(t, DefaultParams)
	frame, err := c.Seal(2, []byte("chunk two"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Open(2, frame); err != nil {
		t.Fatalf("Open(2): %v", err)
	}
	if _, err := c.Open(3, frame); !errors.Is(err, ErrChunkAuthentication) {
		t.Fatalf("Open(3) error = %v, want ErrChunkAuthentication", err)
	}
}

func TestOpen_SwappedFramesFail(t *testing.T) {
	c := newTestCipher(t, DefaultParams)
	first, _ := c.Seal(0, []byte("first"))
	second, _ := c.Seal(1, []byte("second"))
	if _, err := c.Open(0, second); !errors.Is(err, ErrChunkAuthentication) {
		t.Errorf("frame 1 at index 0: error = %v", err)
	}
	if _, err := c.Open(1, first); !errors.Is(err, ErrChunkAuthentication) {
		t.Errorf("frame 0 at index 1: error = %v", err)
	}
}

func TestOpen_Tampered(t *testing.T) {
	c := newTestCipher(t, DefaultParams)
	frame, _ := c.Seal(0, []byte("tamper target"))
	frame[len(frame)-1] ^= 0x01
	if _, err := c.Open(0, frame); !errors.Is(err, ErrChunkAuthentication) {
		t.Fatalf("error = %v, want ErrChunkAuthentication", err)
	}

	other, err := NewCipher(bytes.Repeat([]byte{0xEE}, KeySize), DefaultParams)
	if err != nil {
		t.Fatal(err)
	}
	frame, _ = c.Seal(0, []byte("wrong key"))
	if _, err := other.Open(0, frame); !errors.Is(err, ErrChunkAuthentication) {
		t.Fatalf("wrong key: error = %v", err)
	}
}

func TestOpen_ShortBody(t *testing.T) {
	c := newTestCipher(t, DefaultParams)
	frame := EncodeFrame(make([]byte, 12), make([]byte, 8))
	if _, err := c.Open(0, frame); !errors.Is(err, ErrFrameIntegrity) {
		t.Fatalf("error = %v, want ErrFrameIntegrity", err)
	}
}
