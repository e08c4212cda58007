// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/streamguard/lib/sealed"
	"github.com/bureau-foundation/streamguard/lib/secret"
)

// runKeygen writes a new age identity to --out and prints its public
// key, which is what "seal --recipient" takes.
func runKeygen(args []string) error {
	var outPath string
	flagSet := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
	flagSet.StringVar(&outPath, "out", "", "file to write the private key to (must not exist)")
	if err := parseFlags(flagSet, args); err != nil {
		return err
	}
	if err := required(map[string]string{"out": outPath}); err != nil {
		return err
	}

	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		return err
	}
	defer keypair.Close()

	contents := append([]byte("# public key: "+keypair.PublicKey+"\n"), keypair.PrivateKey.Bytes()...)
	contents = append(contents, '\n')
	err = writeSecretFile(outPath, contents)
	secret.Zero(contents)
	if err != nil {
		return fmt.Errorf("writing machine key: %w", err)
	}

	fmt.Println(keypair.PublicKey)
	return nil
}

// runSeal encrypts the KEK server secret for one or more machines.
func runSeal(args []string) error {
	var (
		recipients []string
		inPath     string
		outPath    string
	)
	flagSet := pflag.NewFlagSet("seal", pflag.ContinueOnError)
	flagSet.StringArrayVar(&recipients, "recipient", nil, "age public key allowed to open the secret (repeatable)")
	flagSet.StringVar(&inPath, "in", "-", "server secret to seal; - for stdin")
	flagSet.StringVar(&outPath, "out", "", "sealed output file (must not exist)")
	if err := parseFlags(flagSet, args); err != nil {
		return err
	}
	if err := required(map[string]string{"out": outPath}); err != nil {
		return err
	}
	if len(recipients) == 0 {
		return fmt.Errorf("at least one --recipient is required")
	}

	serverSecret, err := secret.ReadFromPath(inPath)
	if err != nil {
		return fmt.Errorf("reading server secret: %w", err)
	}
	defer serverSecret.Close()

	return sealSecret(serverSecret, recipients, outPath)
}

func sealSecret(serverSecret *secret.Buffer, recipients []string, outPath string) error {
	for _, recipient := range recipients {
		if err := sealed.ValidateRecipient(recipient); err != nil {
			return fmt.Errorf("--recipient %q: %w", recipient, err)
		}
	}
	ciphertext, err := sealed.Seal(serverSecret.Bytes(), recipients)
	if err != nil {
		return err
	}
	if err := writeSecretFile(outPath, ciphertext); err != nil {
		return fmt.Errorf("writing sealed secret: %w", err)
	}
	return nil
}

// readKeyFile reads a small key file, or stdin for "-".
func readKeyFile(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(io.LimitReader(os.Stdin, 1<<20))
	}
	return os.ReadFile(path)
}
