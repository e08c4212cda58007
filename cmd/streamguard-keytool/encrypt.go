// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/streamguard/lib/chunk"
	"github.com/bureau-foundation/streamguard/lib/license"
	"github.com/bureau-foundation/streamguard/lib/secret"
)

const defaultChunkSize = 1 << 20

// runEncrypt frames a plaintext video under the key a player will
// hold: the online key for --device, or the key in an offline license.
func runEncrypt(args []string) error {
	var (
		inPath        string
		outPath       string
		masterKeyPath string
		deviceID      string
		licensePath   string
		chunkSize     int
		ivLength      int
		tagLength     int
	)
	flagSet := pflag.NewFlagSet("encrypt", pflag.ContinueOnError)
	flagSet.StringVar(&inPath, "in", "", "plaintext video")
	flagSet.StringVar(&outPath, "out", "", "encrypted output")
	flagSet.StringVar(&masterKeyPath, "master-key-file", "", "hex-encoded master key (online encryption)")
	flagSet.StringVar(&deviceID, "device", "", "device the online key is bound to")
	flagSet.StringVar(&licensePath, "license", "", "offline license JSON (offline encryption)")
	flagSet.IntVar(&chunkSize, "chunk-size", defaultChunkSize, "plaintext bytes per chunk")
	flagSet.IntVar(&ivLength, "iv-length", chunk.DefaultParams.IVLength, "AES-GCM IV length")
	flagSet.IntVar(&tagLength, "tag-length", chunk.DefaultParams.TagLength, "AES-GCM tag length")
	if err := parseFlags(flagSet, args); err != nil {
		return err
	}
	if err := required(map[string]string{"in": inPath, "out": outPath}); err != nil {
		return err
	}
	if chunkSize <= 0 {
		return errors.New("--chunk-size must be positive")
	}

	key, err := encryptionKey(masterKeyPath, deviceID, licensePath)
	if err != nil {
		return err
	}
	cipher, err := chunk.NewCipher(key, chunk.Params{IVLength: ivLength, TagLength: tagLength})
	secret.Zero(key)
	if err != nil {
		return err
	}

	in, err := os.Open(inPath)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	writer := bufio.NewWriter(out)
	count, err := encryptStream(in, writer, cipher, chunkSize)
	if err == nil {
		err = writer.Flush()
	}
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	fmt.Printf("wrote %d chunks to %s\n", count, outPath)
	return nil
}

// encryptionKey returns the raw chunk key. The caller zeroes it.
func encryptionKey(masterKeyPath, deviceID, licensePath string) ([]byte, error) {
	switch {
	case licensePath != "" && masterKeyPath != "":
		return nil, errors.New("--license and --master-key-file are mutually exclusive")
	case licensePath != "":
		data, err := os.ReadFile(licensePath)
		if err != nil {
			return nil, err
		}
		var offline license.OfflineLicense
		if err := json.Unmarshal(data, &offline); err != nil {
			return nil, fmt.Errorf("parsing license %s: %w", licensePath, err)
		}
		return offline.Key()
	case masterKeyPath != "":
		if deviceID == "" {
			return nil, errors.New("--device is required with --master-key-file")
		}
		masterKey, err := readMasterKey(masterKeyPath)
		if err != nil {
			return nil, err
		}
		defer masterKey.Close()
		return license.DeriveOnlineKey(masterKey.Bytes(), deviceID).Key()
	default:
		return nil, errors.New("one of --master-key-file or --license is required")
	}
}

// encryptStream seals r in chunkSize pieces and writes the frames to
// w. It returns the number of chunks written. Empty input is an error:
// a video with no chunks cannot be mapped.
func encryptStream(r io.Reader, w io.Writer, cipher *chunk.Cipher, chunkSize int) (int, error) {
	buffer := make([]byte, chunkSize)
	count := 0
	for {
		n, readErr := io.ReadFull(r, buffer)
		if n > 0 {
			frame, err := cipher.Seal(count, buffer[:n])
			if err != nil {
				return count, err
			}
			if _, err := w.Write(frame); err != nil {
				return count, fmt.Errorf("writing chunk %d: %w", count, err)
			}
			count++
		}
		switch {
		case readErr == nil:
		case errors.Is(readErr, io.EOF), errors.Is(readErr, io.ErrUnexpectedEOF):
			if count == 0 {
				return 0, chunk.ErrEmptyChunk
			}
			return count, nil
		default:
			return count, fmt.Errorf("reading chunk %d: %w", count, readErr)
		}
	}
}
