// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/streamguard/lib/secret"
	"github.com/bureau-foundation/streamguard/lib/viewertoken"
)

// runTokenKeygen creates a keypair standing in for the identity
// provider. The public half goes in identity.public_key_file.
func runTokenKeygen(args []string) error {
	var privatePath, publicPath string
	flagSet := pflag.NewFlagSet("token-keygen", pflag.ContinueOnError)
	flagSet.StringVar(&privatePath, "private-out", "", "file for the base64 private key (must not exist)")
	flagSet.StringVar(&publicPath, "public-out", "", "file for the base64 public key (must not exist)")
	if err := parseFlags(flagSet, args); err != nil {
		return err
	}
	if err := required(map[string]string{"private-out": privatePath, "public-out": publicPath}); err != nil {
		return err
	}

	public, private, err := viewertoken.GenerateKeypair()
	if err != nil {
		return err
	}
	encoded := []byte(base64.StdEncoding.EncodeToString(private) + "\n")
	secret.Zero(private)
	err = writeSecretFile(privatePath, encoded)
	secret.Zero(encoded)
	if err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	if err := writeSecretFile(publicPath, []byte(base64.StdEncoding.EncodeToString(public)+"\n")); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	return nil
}

// runMintToken signs a viewer token and writes its raw bytes to --out.
func runMintToken(args []string) error {
	var (
		privatePath  string
		outPath      string
		subject      string
		audience     string
		entitlements []string
		ttl          time.Duration
	)
	flagSet := pflag.NewFlagSet("mint-token", pflag.ContinueOnError)
	flagSet.StringVar(&privatePath, "private-key-file", "", "base64 Ed25519 private key from token-keygen")
	flagSet.StringVar(&outPath, "out", "", "file for the token (must not exist)")
	flagSet.StringVar(&subject, "subject", "", "viewer user ID")
	flagSet.StringVar(&audience, "audience", "streamguard", "service the token is for")
	flagSet.StringArrayVar(&entitlements, "entitle", nil, "video ID glob the viewer may play (repeatable)")
	flagSet.DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	if err := parseFlags(flagSet, args); err != nil {
		return err
	}
	if err := required(map[string]string{
		"private-key-file": privatePath,
		"out":              outPath,
		"subject":          subject,
	}); err != nil {
		return err
	}
	if ttl <= 0 {
		return fmt.Errorf("--ttl must be positive")
	}

	data, err := readKeyFile(privatePath)
	if err != nil {
		return err
	}
	privateKey, err := parsePrivateKey(data)
	secret.Zero(data)
	if err != nil {
		return fmt.Errorf("%s: %w", privatePath, err)
	}
	defer secret.Zero(privateKey)

	tokenBytes, err := mintToken(privateKey, subject, audience, entitlements, time.Now(), ttl)
	if err != nil {
		return err
	}
	return writeSecretFile(outPath, tokenBytes)
}

func mintToken(privateKey ed25519.PrivateKey, subject, audience string, entitlements []string, now time.Time, ttl time.Duration) ([]byte, error) {
	return viewertoken.Mint(privateKey, &viewertoken.Token{
		Subject:      subject,
		Audience:     audience,
		Entitlements: entitlements,
		IssuedAt:     now.Unix(),
		ExpiresAt:    now.Add(ttl).Unix(),
	})
}

func parsePrivateKey(data []byte) (ed25519.PrivateKey, error) {
	decoded, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(data)))
	if err != nil {
		return nil, fmt.Errorf("private key is not base64: %w", err)
	}
	if len(decoded) != ed25519.PrivateKeySize {
		secret.Zero(decoded)
		return nil, fmt.Errorf("private key has %d bytes, want %d", len(decoded), ed25519.PrivateKeySize)
	}
	return ed25519.PrivateKey(decoded), nil
}
