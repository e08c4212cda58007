// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chunk

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"strconv"
)

// KeySize is the AES-256 key size.
const KeySize = 32

const aadPrefix = "chunk-index:"

var (
	// ErrUnsupportedParams means the IV and tag lengths are not a GCM
	// configuration this package accepts.
	ErrUnsupportedParams = errors.New("unsupported chunk encryption parameters")

	// ErrChunkAuthentication means AES-GCM rejected the frame: wrong
	// key, tampered bytes, or the frame belongs to another index.
	ErrChunkAuthentication = errors.New("chunk authentication failed")
)

// Params are a video's encryption parameters.
type Params struct {
	IVLength  int `cbor:"ivLength" json:"ivLength"`
	TagLength int `cbor:"tagLength" json:"tagLength"`
}

// DefaultParams is the standard GCM configuration.
var DefaultParams = Params{IVLength: 12, TagLength: 16}

// Validate reports whether p is a supported GCM configuration: a
// 12-byte IV with a 12 to 16 byte tag, or any positive IV length with
// a 16-byte tag.
func (p Params) Validate() error {
	switch {
	case p.IVLength == 12 && p.TagLength >= 12 && p.TagLength <= 16:
		return nil
	case p.IVLength > 0 && p.TagLength == 16:
		return nil
	}
	return fmt.Errorf("%w: iv_length=%d tag_length=%d", ErrUnsupportedParams, p.IVLength, p.TagLength)
}

// ChunkAAD returns the associated data binding a frame to index.
func ChunkAAD(index int) []byte {
	return strconv.AppendInt([]byte(aadPrefix), int64(index), 10)
}

// Cipher seals and opens frames with AES-256-GCM under one key.
// Safe for concurrent use.
type Cipher struct {
	aead   cipher.AEAD
	params Params
}

// NewCipher creates a Cipher. The key is copied into the AES key
// schedule; the caller keeps ownership of key.
func NewCipher(key []byte, params Params) (*Cipher, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("chunk key is %d bytes, want %d", len(key), KeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}

	var aead cipher.AEAD
	if params.IVLength == 12 {
		aead, err = cipher.NewGCMWithTagSize(block, params.TagLength)
	} else {
		aead, err = cipher.NewGCMWithNonceSize(block, params.IVLength)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedParams, err)
	}
	return &Cipher{aead: aead, params: params}, nil
}

// Params returns the parameters the cipher was built with.
func (c *Cipher) Params() Params { return c.params }

// Seal encrypts plaintext as chunk index under a random IV and
// returns the complete frame.
func (c *Cipher) Seal(index int, plaintext []byte) ([]byte, error) {
	iv := make([]byte, c.params.IVLength)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generating chunk IV: %w", err)
	}
	sealed := c.aead.Seal(nil, iv, plaintext, ChunkAAD(index))
	return EncodeFrame(iv, sealed), nil
}

// Open parses frame and decrypts it as chunk index. Structural
// problems return ErrFrameIntegrity; authentication failures return
// ErrChunkAuthentication.
func (c *Cipher) Open(index int, frame []byte) ([]byte, error) {
	parsed, err := ParseFrame(frame, c.params.IVLength)
	if err != nil {
		return nil, err
	}
	if len(parsed.Sealed) < c.params.TagLength {
		return nil, fmt.Errorf("%w: %d sealed bytes cannot hold a %d-byte tag",
			ErrFrameIntegrity, len(parsed.Sealed), c.params.TagLength)
	}
	plaintext, err := c.aead.Open(nil, parsed.IV, parsed.Sealed, ChunkAAD(index))
	if err != nil {
		return nil, fmt.Errorf("%w: chunk %d", ErrChunkAuthentication, index)
	}
	return plaintext, nil
}
