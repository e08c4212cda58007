// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/streamguard/lib/keyvault"
	"github.com/bureau-foundation/streamguard/lib/sealed"
	"github.com/bureau-foundation/streamguard/lib/secret"
	"github.com/bureau-foundation/streamguard/lib/sqlitepool"
	"github.com/bureau-foundation/streamguard/lib/viewertoken"
)

func TestKeygenAndSeal(t *testing.T) {
	directory := t.TempDir()
	keyPath := filepath.Join(directory, "machine.key")
	if err := run([]string{"keygen", "--out", keyPath}); err != nil {
		t.Fatalf("keygen: %v", err)
	}

	contents, err := os.ReadFile(keyPath)
	if err != nil {
		t.Fatal(err)
	}
	firstLine, _, _ := strings.Cut(string(contents), "\n")
	publicKey, ok := strings.CutPrefix(firstLine, "# public key: ")
	if !ok {
		t.Fatalf("machine key file does not start with the public key comment: %q", firstLine)
	}

	serverSecret, err := secret.NewFromBytes([]byte("kek-server-secret"))
	if err != nil {
		t.Fatal(err)
	}
	defer serverSecret.Close()

	sealedPath := filepath.Join(directory, "kek.age")
	if err := sealSecret(serverSecret, []string{publicKey}, sealedPath); err != nil {
		t.Fatalf("sealSecret: %v", err)
	}
	opened, err := sealed.OpenFile(sealedPath, keyPath)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer opened.Close()
	if !opened.Equal([]byte("kek-server-secret")) {
		t.Error("opened secret differs from the sealed one")
	}

	if err := sealSecret(serverSecret, []string{"not-a-key"}, filepath.Join(directory, "bad.age")); err == nil {
		t.Error("sealSecret accepted an invalid recipient")
	}
	if err := run([]string{"keygen", "--out", keyPath}); err == nil {
		t.Error("keygen overwrote an existing key")
	}
}

func TestPutKey(t *testing.T) {
	directory := t.TempDir()
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   filepath.Join(directory, "keys.db"),
		Schema: keyvault.Schema,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pool.Close() })

	serverSecret, err := secret.NewFromBytes([]byte("kek-server-secret"))
	if err != nil {
		t.Fatal(err)
	}
	kek, err := keyvault.NewKekContext(serverSecret, "kek-salt", 3)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { kek.Close() })

	masterKeyPath := filepath.Join(directory, "video-1.key")
	if err := generateMasterKey(masterKeyPath); err != nil {
		t.Fatalf("generateMasterKey: %v", err)
	}
	masterKey, err := readMasterKey(masterKeyPath)
	if err != nil {
		t.Fatalf("readMasterKey: %v", err)
	}
	defer masterKey.Close()

	store := keyvault.NewStore(pool)
	ctx := context.Background()
	if _, err := putKey(ctx, store, kek, "video-1", "key-1", masterKey, "record-salt"); err != nil {
		t.Fatalf("putKey: %v", err)
	}

	record, err := store.Get(ctx, "video-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if record.KeyID != "key-1" || record.KEKVersion != 3 || record.Salt != "record-salt" {
		t.Errorf("record = %+v", record)
	}
	unwrapped, err := keyvault.UnwrapRecord(record, kek)
	if err != nil {
		t.Fatalf("UnwrapRecord: %v", err)
	}
	defer unwrapped.Close()
	if !unwrapped.Equal(masterKey.Bytes()) {
		t.Error("unwrapped key differs from the master key file")
	}

	_, err = putKey(ctx, store, kek, "video-1", "key-1", masterKey, "record-salt")
	if !errors.Is(err, keyvault.ErrVideoKeyExists) {
		t.Errorf("second putKey = %v, want ErrVideoKeyExists", err)
	}
}

func TestReadMasterKey_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		contents string
		want     string
	}{
		{"not hex", strings.Repeat("zz", 32), "not hex"},
		{"too short", strings.Repeat("ab", 16), "want 32"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "master.key")
			if err := os.WriteFile(path, []byte(test.contents), 0o600); err != nil {
				t.Fatal(err)
			}
			_, err := readMasterKey(path)
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Fatalf("readMasterKey = %v, want error containing %q", err, test.want)
			}
		})
	}
}

func TestMintToken(t *testing.T) {
	public, private, err := viewertoken.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := parsePrivateKey([]byte(base64.StdEncoding.EncodeToString(private) + "\n"))
	if err != nil {
		t.Fatalf("parsePrivateKey: %v", err)
	}
	if !bytes.Equal(parsed, private) {
		t.Fatal("parsed private key differs")
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tokenBytes, err := mintToken(parsed, "user-1", "streamguard", []string{"video-*"}, now, time.Hour)
	if err != nil {
		t.Fatalf("mintToken: %v", err)
	}
	token, err := viewertoken.VerifyForServiceAt(public, tokenBytes, "streamguard", now.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("VerifyForServiceAt: %v", err)
	}
	if token.Subject != "user-1" || !token.Entitled("video-9") || token.Entitled("other") {
		t.Errorf("token = %+v", token)
	}
	if _, err := viewertoken.VerifyForServiceAt(public, tokenBytes, "streamguard", now.Add(time.Hour)); !errors.Is(err, viewertoken.ErrTokenExpired) {
		t.Errorf("verify at expiry = %v, want ErrTokenExpired", err)
	}

	if _, err := parsePrivateKey([]byte(base64.StdEncoding.EncodeToString(public))); err == nil {
		t.Error("parsePrivateKey accepted a public key")
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	if err := run([]string{"frobnicate"}); err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("run = %v, want unknown command", err)
	}
	if err := run([]string{"put-key", "--help"}); err != nil {
		t.Fatalf("run --help = %v, want nil", err)
	}
}
