// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"filippo.io/age"
	"filippo.io/age/armor"

	"github.com/bureau-foundation/streamguard/lib/secret"
)

// Keypair is an age x25519 machine key. PrivateKey holds the
// AGE-SECRET-KEY-1... string; PublicKey is the age1... recipient.
type Keypair struct {
	PrivateKey *secret.Buffer
	PublicKey  string
}

// Close releases the private key. Idempotent.
func (k *Keypair) Close() error {
	if k.PrivateKey != nil {
		return k.PrivateKey.Close()
	}
	return nil
}

// GenerateKeypair creates a new machine key.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age keypair: %w", err)
	}

	// The identity's string form stays on the heap until collected;
	// age offers no way around that.
	privateKey, err := secret.NewFromBytes([]byte(identity.String()))
	if err != nil {
		return nil, fmt.Errorf("protecting private key: %w", err)
	}
	return &Keypair{
		PrivateKey: privateKey,
		PublicKey:  identity.Recipient().String(),
	}, nil
}

// ValidateRecipient checks that key is an age x25519 public key.
func ValidateRecipient(key string) error {
	if _, err := age.ParseX25519Recipient(key); err != nil {
		return fmt.Errorf("invalid age public key: %w", err)
	}
	return nil
}

// Seal encrypts plaintext to every recipient and returns armored
// ciphertext.
func Seal(plaintext []byte, recipientKeys []string) ([]byte, error) {
	if len(recipientKeys) == 0 {
		return nil, errors.New("at least one recipient is required")
	}

	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	var output bytes.Buffer
	armorWriter := armor.NewWriter(&output)
	writer, err := age.Encrypt(armorWriter, recipients...)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	if err := armorWriter.Close(); err != nil {
		return nil, fmt.Errorf("finalizing armor: %w", err)
	}
	return output.Bytes(), nil
}

// Open decrypts ciphertext (armored or binary) with the identities in
// privateKey, which may be a bare key or an age identity file with
// comments. The plaintext is returned in guarded memory with
// surrounding whitespace removed; empty plaintext is an error.
func Open(ciphertext []byte, privateKey *secret.Buffer) (*secret.Buffer, error) {
	identities, err := age.ParseIdentities(bytes.NewReader(privateKey.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("parsing machine key: %w", err)
	}

	var source io.Reader = bytes.NewReader(ciphertext)
	if bytes.HasPrefix(bytes.TrimSpace(ciphertext), []byte(armor.Header)) {
		source = armor.NewReader(bytes.NewReader(bytes.TrimSpace(ciphertext)))
	}

	reader, err := age.Decrypt(source, identities...)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("reading decrypted plaintext: %w", err)
	}

	trimmed := bytes.TrimSpace(plaintext)
	if len(trimmed) == 0 {
		secret.Zero(plaintext)
		return nil, errors.New("sealed secret is empty")
	}
	buffer, err := secret.NewFromBytes(trimmed)
	secret.Zero(plaintext)
	if err != nil {
		return nil, fmt.Errorf("protecting decrypted plaintext: %w", err)
	}
	return buffer, nil
}

// OpenFile opens the sealed file at sealedPath with the machine key
// stored at machineKeyPath.
func OpenFile(sealedPath, machineKeyPath string) (*secret.Buffer, error) {
	ciphertext, err := os.ReadFile(sealedPath)
	if err != nil {
		return nil, fmt.Errorf("reading sealed secret: %w", err)
	}
	machineKey, err := secret.ReadFromPath(machineKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading machine key %s: %w", machineKeyPath, err)
	}
	defer machineKey.Close()

	plaintext, err := Open(ciphertext, machineKey)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", sealedPath, err)
	}
	return plaintext, nil
}
