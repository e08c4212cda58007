// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/streamguard/lib/chunk"
	"github.com/bureau-foundation/streamguard/lib/config"
	"github.com/bureau-foundation/streamguard/lib/keyvault"
	"github.com/bureau-foundation/streamguard/lib/sealed"
	"github.com/bureau-foundation/streamguard/lib/secret"
	"github.com/bureau-foundation/streamguard/lib/sessionledger"
	"github.com/bureau-foundation/streamguard/lib/sqlitepool"
)

// runPutKey wraps a video's master key under the configured KEK and
// stores the record. With --generate a fresh master key is created
// and written hex-encoded to --master-key-file first.
func runPutKey(args []string) error {
	var (
		configPath    string
		videoID       string
		keyID         string
		masterKeyPath string
		salt          string
		generate      bool
	)
	flagSet := pflag.NewFlagSet("put-key", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", os.Getenv("STREAMGUARD_CONFIG"), "streamguard.yaml")
	flagSet.StringVar(&videoID, "video", "", "video ID")
	flagSet.StringVar(&keyID, "key-id", "", "key ID recorded with the wrapped key (default: the video ID)")
	flagSet.StringVar(&masterKeyPath, "master-key-file", "", "hex-encoded 32-byte master key")
	flagSet.StringVar(&salt, "salt", "", "offline license salt (default: random)")
	flagSet.BoolVar(&generate, "generate", false, "create --master-key-file with a new random key")
	if err := parseFlags(flagSet, args); err != nil {
		return err
	}
	if err := required(map[string]string{
		"config":          configPath,
		"video":           videoID,
		"master-key-file": masterKeyPath,
	}); err != nil {
		return err
	}
	if keyID == "" {
		keyID = videoID
	}
	if salt == "" {
		var raw [16]byte
		if _, err := rand.Read(raw[:]); err != nil {
			return err
		}
		salt = hex.EncodeToString(raw[:])
	}

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if generate {
		if err := generateMasterKey(masterKeyPath); err != nil {
			return err
		}
	}
	masterKey, err := readMasterKey(masterKeyPath)
	if err != nil {
		return err
	}
	defer masterKey.Close()

	kek, err := openKEK(cfg.Keys)
	if err != nil {
		return err
	}
	defer kek.Close()

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Database.Path,
		PoolSize: 1,
		Schema:   keyvault.Schema + sessionledger.Schema,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	record, err := putKey(context.Background(), keyvault.NewStore(pool), kek, videoID, keyID, masterKey, salt)
	if err != nil {
		return err
	}
	fingerprint, err := kek.Fingerprint()
	if err != nil {
		return err
	}
	fmt.Printf("stored %s (key %s, kek version %d, kek %s)\n", videoID, record.KeyID, record.KEKVersion, fingerprint)
	return nil
}

func putKey(ctx context.Context, store *keyvault.Store, kek *keyvault.KekContext, videoID, keyID string, masterKey *secret.Buffer, salt string) (keyvault.VideoKeyRecord, error) {
	if masterKey.Len() != chunk.KeySize {
		return keyvault.VideoKeyRecord{}, fmt.Errorf("master key is %d bytes, want %d", masterKey.Len(), chunk.KeySize)
	}
	record, err := keyvault.WrapRecord(keyID, masterKey.Bytes(), salt, kek)
	if err != nil {
		return keyvault.VideoKeyRecord{}, err
	}
	if err := store.Put(ctx, videoID, record); err != nil {
		return keyvault.VideoKeyRecord{}, err
	}
	return record, nil
}

// openKEK builds the KEK context from the config's key section.
func openKEK(keys config.KeysConfig) (*keyvault.KekContext, error) {
	var (
		serverSecret *secret.Buffer
		err          error
	)
	switch {
	case keys.KEKSecretSealedFile != "":
		serverSecret, err = sealed.OpenFile(keys.KEKSecretSealedFile, keys.MachineKeyFile)
	case keys.KEKSecretFile != "":
		serverSecret, err = secret.ReadFromPath(keys.KEKSecretFile)
	default:
		return nil, fmt.Errorf("%w: config names no KEK server secret", keyvault.ErrConfiguration)
	}
	if err != nil {
		return nil, fmt.Errorf("loading KEK server secret: %w", err)
	}
	kek, err := keyvault.NewKekContext(serverSecret, keys.KEKSalt, keys.KEKVersion)
	if err != nil {
		serverSecret.Close()
		return nil, err
	}
	return kek, nil
}

func generateMasterKey(path string) error {
	raw, err := secret.New(chunk.KeySize)
	if err != nil {
		return err
	}
	defer raw.Close()
	if _, err := rand.Read(raw.Bytes()); err != nil {
		return err
	}
	encoded := []byte(hex.EncodeToString(raw.Bytes()) + "\n")
	err = writeSecretFile(path, encoded)
	secret.Zero(encoded)
	if err != nil {
		return fmt.Errorf("writing master key: %w", err)
	}
	return nil
}

// readMasterKey reads a hex-encoded master key into guarded memory.
func readMasterKey(path string) (*secret.Buffer, error) {
	encoded, err := secret.ReadFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("reading master key: %w", err)
	}
	defer encoded.Close()

	masterKey, err := secret.New(hex.DecodedLen(encoded.Len()))
	if err != nil {
		return nil, err
	}
	if _, err := hex.Decode(masterKey.Bytes(), encoded.Bytes()); err != nil {
		masterKey.Close()
		return nil, fmt.Errorf("master key %s is not hex: %w", path, err)
	}
	if masterKey.Len() != chunk.KeySize {
		length := masterKey.Len()
		masterKey.Close()
		return nil, fmt.Errorf("master key %s is %d bytes, want %d", path, length, chunk.KeySize)
	}
	return masterKey, nil
}
