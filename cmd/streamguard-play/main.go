// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// streamguard-play decrypts a protected video to a file or pipe.
//
// Online mode (--url) asks the license service for a playback session
// and a device-bound key, streams the encrypted video from the signed
// URL with HTTP range requests, and keeps the session alive with
// heartbeats until it finishes. Offline mode (--license) decrypts a
// downloaded copy with the key carried in an offline license.
//
// Decryption runs through the playback worker. Chunks that fail to
// fetch or authenticate are retried with backoff; anything fatal stops
// playback.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/streamguard/lib/chunk"
	"github.com/bureau-foundation/streamguard/lib/clock"
	"github.com/bureau-foundation/streamguard/lib/config"
	"github.com/bureau-foundation/streamguard/lib/license"
	"github.com/bureau-foundation/streamguard/lib/playback"
	"github.com/bureau-foundation/streamguard/lib/service"
	"github.com/bureau-foundation/streamguard/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string

	// Online.
	socketPath        string
	tokenPath         string
	videoID           string
	deviceID          string
	signedURL         string
	heartbeatInterval time.Duration

	// Offline.
	licensePath string
	inputPath   string

	outputPath      string
	force           bool
	ivLength        int
	tagLength       int
	headerScanLimit int64
	fetchTimeout    time.Duration
	window          int
	maxAttempts     int
	verbose         bool
}

func run() error {
	var opts options

	flagSet := pflag.NewFlagSet("streamguard-play", pflag.ContinueOnError)
	flagSet.StringVar(&opts.configPath, "config", "", "streamguard.yaml supplying socket and playback defaults")
	flagSet.StringVar(&opts.socketPath, "socket", "", "license service socket (default: paths.socket from --config)")
	flagSet.StringVar(&opts.tokenPath, "token-file", "", "file holding the viewer token")
	flagSet.StringVar(&opts.videoID, "video", "", "video ID to play")
	flagSet.StringVar(&opts.deviceID, "device", "", "device ID the key is bound to")
	flagSet.StringVar(&opts.signedURL, "url", "", "signed URL of the encrypted video (online mode)")
	flagSet.DurationVar(&opts.heartbeatInterval, "heartbeat-interval", 30*time.Second, "session heartbeat interval")
	flagSet.StringVar(&opts.licensePath, "license", "", "offline license JSON file (offline mode)")
	flagSet.StringVar(&opts.inputPath, "input", "", "downloaded encrypted video (offline mode)")
	flagSet.StringVarP(&opts.outputPath, "output", "o", "-", "where to write decrypted video; - for stdout")
	flagSet.BoolVar(&opts.force, "force", false, "write decrypted video to a terminal")
	flagSet.IntVar(&opts.ivLength, "iv-length", chunk.DefaultParams.IVLength, "AES-GCM IV length in bytes")
	flagSet.IntVar(&opts.tagLength, "tag-length", chunk.DefaultParams.TagLength, "AES-GCM tag length in bytes")
	flagSet.Int64Var(&opts.headerScanLimit, "header-scan-limit", 0, "bytes fetched to map frames (default: config or 10 MiB)")
	flagSet.DurationVar(&opts.fetchTimeout, "fetch-timeout", 0, "timeout per range request (default: config or 30s)")
	flagSet.IntVar(&opts.window, "window", defaultWindow, "chunks decrypted ahead of output")
	flagSet.IntVar(&opts.maxAttempts, "attempts", defaultMaxAttempts, "tries per chunk before giving up")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "log progress to stderr")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("streamguard-play %s\n", version.Info())
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	if err := opts.applyConfig(); err != nil {
		return err
	}
	if err := opts.validate(); err != nil {
		return err
	}

	out, closeOutput, err := openOutput(opts.outputPath, opts.force)
	if err != nil {
		return err
	}
	defer closeOutput()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelInfo
	}
	logger := newCommandLogger(level)

	if opts.signedURL != "" {
		return playOnline(ctx, &opts, out, logger)
	}
	return playOffline(ctx, &opts, out, logger)
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `streamguard-play decrypts a protected video.

Usage:
  streamguard-play --url URL --video ID --device ID --token-file PATH [flags]
  streamguard-play --license LICENSE.json --input VIDEO.enc [flags]

Examples:
  # Stream and pipe into a player
  streamguard-play --config streamguard.yaml --token-file ~/.streamguard/token \
      --video trailer-42 --device laptop --url "$SIGNED_URL" | mpv -

  # Decrypt a downloaded copy
  streamguard-play --license trailer-42.license.json --input trailer-42.enc -o trailer-42.mp4

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}

// applyConfig fills unset options from the config file, when one is
// named. The client only reads the socket and playback sections, so
// the file is not validated as a server config.
func (o *options) applyConfig() error {
	if o.configPath == "" {
		return nil
	}
	cfg, err := config.LoadFile(o.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if o.socketPath == "" {
		o.socketPath = cfg.Paths.Socket
	}
	if o.headerScanLimit == 0 {
		o.headerScanLimit = cfg.Playback.HeaderScanLimit
	}
	if o.fetchTimeout == 0 {
		o.fetchTimeout = cfg.Playback.FetchTimeout
	}
	return nil
}

func (o *options) validate() error {
	online, offline := o.signedURL != "", o.licensePath != ""
	switch {
	case online && offline:
		return errors.New("--url and --license are mutually exclusive")
	case !online && !offline:
		return errors.New("one of --url (online) or --license (offline) is required")
	case online:
		var errs []error
		for _, required := range []struct{ value, flag string }{
			{o.socketPath, "--socket"},
			{o.tokenPath, "--token-file"},
			{o.videoID, "--video"},
			{o.deviceID, "--device"},
		} {
			if required.value == "" {
				errs = append(errs, fmt.Errorf("%s is required with --url", required.flag))
			}
		}
		if o.heartbeatInterval <= 0 {
			errs = append(errs, errors.New("--heartbeat-interval must be positive"))
		}
		if err := errors.Join(errs...); err != nil {
			return err
		}
	case offline:
		if o.inputPath == "" {
			return errors.New("--input is required with --license")
		}
	}
	if o.window < 1 || o.window > playback.ResponseBuffer {
		return fmt.Errorf("--window must be between 1 and %d", playback.ResponseBuffer)
	}
	return o.params().Validate()
}

func (o *options) params() chunk.Params {
	return chunk.Params{IVLength: o.ivLength, TagLength: o.tagLength}
}

// openOutput refuses to write decrypted video to a terminal unless
// forced.
func openOutput(path string, force bool) (io.Writer, func(), error) {
	if path == "-" {
		if !force && term.IsTerminal(int(os.Stdout.Fd())) {
			return nil, nil, errors.New("refusing to write decrypted video to a terminal; use -o FILE, a pipe, or --force")
		}
		return os.Stdout, func() {}, nil
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, nil, err
	}
	return file, func() { file.Close() }, nil
}

func newCommandLogger(level slog.Level) *slog.Logger {
	var handler slog.Handler
	options := &slog.HandlerOptions{Level: level}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}

func newWorker(opts *options, logger *slog.Logger) *playback.Worker {
	decryptor := playback.New(playback.Config{
		Fetcher:         &playback.HTTPFetcher{Timeout: opts.fetchTimeout},
		HeaderScanLimit: opts.headerScanLimit,
		Logger:          logger,
	})
	return playback.NewWorker(decryptor, logger)
}

func playOnline(ctx context.Context, opts *options, out io.Writer, logger *slog.Logger) error {
	client, err := service.NewServiceClient(opts.socketPath, opts.tokenPath)
	if err != nil {
		return err
	}
	realClock := clock.Real()

	session, err := acquireLease(ctx, client, realClock, logger, opts.videoID, opts.deviceID)
	if err != nil {
		return err
	}
	defer session.release(context.WithoutCancel(ctx))
	logger.Info("playback session admitted", "session_id", session.sessionID, "video_id", opts.videoID)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go func() {
		if err := session.keepAlive(ctx, opts.heartbeatInterval); err != nil {
			cancel(err)
		}
	}()

	worker := newWorker(opts, logger)
	go worker.Run(ctx)
	defer worker.Close()

	key := session.key
	stats, err := newPlayer(playerConfig{
		Worker:      worker,
		Clock:       realClock,
		Logger:      logger,
		Window:      opts.window,
		MaxAttempts: opts.maxAttempts,
	}).play(ctx, playback.Request{
		Type:      playback.MessageInitOnlineStream,
		StreamID:  uuid.NewString(),
		SignedURL: opts.signedURL,
		OnlineKey: &key,
		Params:    opts.params(),
	}, out)
	if err != nil {
		if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
			return cause
		}
		return err
	}
	logger.Info("playback finished", "chunks", stats.Chunks, "bytes", stats.Bytes, "retries", stats.Retries)
	return nil
}

func playOffline(ctx context.Context, opts *options, out io.Writer, logger *slog.Logger) error {
	offline, err := readLicense(opts.licensePath, clock.Real())
	if err != nil {
		return err
	}
	buffer, err := os.ReadFile(opts.inputPath)
	if err != nil {
		return err
	}

	worker := newWorker(opts, logger)
	go worker.Run(ctx)
	defer worker.Close()

	stats, err := newPlayer(playerConfig{
		Worker:      worker,
		Logger:      logger,
		Window:      opts.window,
		MaxAttempts: opts.maxAttempts,
	}).play(ctx, playback.Request{
		Type:     playback.MessageInitOfflinePlayback,
		StreamID: uuid.NewString(),
		Buffer:   buffer,
		License:  offline,
		Params:   opts.params(),
	}, out)
	if err != nil {
		return err
	}
	logger.Info("playback finished", "chunks", stats.Chunks, "bytes", stats.Bytes)
	return nil
}

// readLicense loads an offline license and rejects it once expired.
// The signature can only be checked by the service that holds the
// signing secret.
func readLicense(path string, clk clock.Clock) (*license.OfflineLicense, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var offline license.OfflineLicense
	if err := json.Unmarshal(data, &offline); err != nil {
		return nil, fmt.Errorf("parsing license %s: %w", path, err)
	}
	expiresAt, err := time.Parse(license.TimeLayout, offline.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("license %s: invalid expiresAt %q", path, offline.ExpiresAt)
	}
	if !clk.Now().Before(expiresAt) {
		return nil, fmt.Errorf("%w: %s expired at %s", license.ErrLicenseExpired, path, offline.ExpiresAt)
	}
	return &offline, nil
}
