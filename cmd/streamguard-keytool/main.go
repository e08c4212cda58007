// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// streamguard-keytool is the operator tool for streamguard key
// material: the age machine key that seals the KEK server secret,
// wrapped per-video master keys, encrypted video files, and viewer
// tokens for testing.
package main

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/streamguard/lib/version"
)

// command is one keytool subcommand. run receives the arguments after
// the subcommand name.
type command struct {
	summary string
	run     func(args []string) error
}

var commands = map[string]command{
	"keygen":       {"generate an age machine key for sealing the KEK secret", runKeygen},
	"seal":         {"encrypt a KEK server secret to machine keys", runSeal},
	"put-key":      {"wrap a video master key under the KEK and store it", runPutKey},
	"encrypt":      {"encrypt a video file into framed chunks", runEncrypt},
	"token-keygen": {"generate an Ed25519 keypair for viewer tokens", runTokenKeygen},
	"mint-token":   {"mint a viewer token", runMintToken},
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage()
		return nil
	}
	if args[0] == "--version" {
		fmt.Printf("streamguard-keytool %s\n", version.Info())
		return nil
	}
	cmd, ok := commands[args[0]]
	if !ok {
		printUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
	if err := cmd.run(args[1:]); err != nil && !errors.Is(err, errHelpShown) {
		return err
	}
	return nil
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: streamguard-keytool <command> [flags]")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Commands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-13s %s\n", name, commands[name].summary)
	}
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Run 'streamguard-keytool <command> --help' for a command's flags.")
}

// parseFlags parses args into flagSet. A help request returns
// errHelpShown so the caller exits without running.
func parseFlags(flagSet *pflag.FlagSet, args []string) error {
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return errHelpShown
		}
		return err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return nil
}

var errHelpShown = errors.New("help shown")

// required reports every named flag left empty.
func required(flags map[string]string) error {
	var errs []error
	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if flags[name] == "" {
			errs = append(errs, fmt.Errorf("--%s is required", name))
		}
	}
	return errors.Join(errs...)
}

// writeSecretFile creates path with owner-only permissions, refusing
// to overwrite.
func writeSecretFile(path string, data []byte) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
