// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/bureau-foundation/streamguard/lib/clock"
	"github.com/bureau-foundation/streamguard/lib/config"
	"github.com/bureau-foundation/streamguard/lib/keyvault"
	"github.com/bureau-foundation/streamguard/lib/license"
	"github.com/bureau-foundation/streamguard/lib/process"
	"github.com/bureau-foundation/streamguard/lib/sealed"
	"github.com/bureau-foundation/streamguard/lib/secret"
	"github.com/bureau-foundation/streamguard/lib/service"
	"github.com/bureau-foundation/streamguard/lib/sessionledger"
	"github.com/bureau-foundation/streamguard/lib/sqlitepool"
	"github.com/bureau-foundation/streamguard/lib/version"
	"github.com/bureau-foundation/streamguard/lib/viewertoken"
)

// sweepInterval is how often expired sessions are purged outside of
// admission. Admission sweeps the admitting user on its own.
const sweepInterval = time.Minute

// blacklistCleanupInterval bounds how long revoked-token entries
// outlive the tokens they name.
const blacklistCleanupInterval = 5 * time.Minute

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "path to streamguard.yaml (default: $STREAMGUARD_CONFIG)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("streamguard-license-service %s\n", version.Full())
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := service.NewLogger()
	realClock := clock.Real()

	serverSecret, err := loadKEKSecret(cfg.Keys)
	if err != nil {
		return fmt.Errorf("loading KEK server secret: %w", err)
	}
	kek, err := keyvault.NewKekContext(serverSecret, cfg.Keys.KEKSalt, cfg.Keys.KEKVersion)
	if err != nil {
		serverSecret.Close()
		return err
	}
	defer kek.Close()

	// Derive now: a bad secret should fail startup, not the first play.
	fingerprint, err := kek.Fingerprint()
	if err != nil {
		return err
	}

	var signingKey *secret.Buffer
	if cfg.License.SigningSecretFile != "" {
		signingKey, err = secret.ReadFromPath(cfg.License.SigningSecretFile)
		if err != nil {
			return fmt.Errorf("loading license signing secret: %w", err)
		}
		defer signingKey.Close()
	} else {
		logger.Warn("license.signing_secret_file not set, offline licenses are signed with the KEK",
			"environment", cfg.Environment)
	}

	publicKey, err := viewertoken.LoadPublicKey(cfg.Identity.PublicKeyFile)
	if err != nil {
		return err
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Database.Path,
		PoolSize: cfg.Database.PoolSize,
		Logger:   logger,
		Schema:   keyvault.Schema + sessionledger.Schema,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	ledger, err := sessionledger.New(sessionledger.Config{
		Pool:               pool,
		Clock:              realClock,
		Logger:             logger,
		MaxSessionsPerUser: cfg.Sessions.MaxPerUser,
		HeartbeatTTL:       cfg.Sessions.HeartbeatTTL,
	})
	if err != nil {
		return err
	}

	blacklist := viewertoken.NewBlacklist()
	licenseService := &LicenseService{
		ledger: ledger,
		keys:   keyvault.NewStore(pool),
		kek:    kek,
		issuer: license.NewIssuer(license.IssuerConfig{
			Clock: realClock,
			Policy: license.Policy{
				MaxDevices:         cfg.License.MaxDevices,
				AllowScreenCapture: cfg.License.AllowScreenCapture,
			},
			Validity: cfg.License.OfflineValidity,
		}),
		signingKey:         signingKey,
		blacklist:          blacklist,
		maxSessionsPerUser: cfg.Sessions.MaxPerUser,
		clock:              realClock,
		logger:             logger,
		startedAt:          realClock.Now(),
	}

	socketServer := service.NewSocketServer(cfg.Paths.Socket, logger, &service.AuthConfig{
		PublicKey: publicKey,
		Audience:  cfg.Identity.Audience,
		Blacklist: blacklist,
		Clock:     realClock,
	})
	licenseService.registerActions(socketServer)

	go ledger.RunSweeper(ctx, sweepInterval)
	go cleanupBlacklist(ctx, realClock, blacklist)

	socketDone := make(chan error, 1)
	go func() {
		socketDone <- socketServer.Serve(ctx)
	}()

	logger.Info("license service running",
		"socket", cfg.Paths.Socket,
		"environment", cfg.Environment,
		"kek_version", kek.Version(),
		"kek_fingerprint", fingerprint,
	)

	<-ctx.Done()
	logger.Info("shutting down")

	if err := <-socketDone; err != nil {
		logger.Error("socket server error", "error", err)
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadKEKSecret reads the server secret from whichever source the
// config names. Validate guarantees exactly one is set.
func loadKEKSecret(keys config.KeysConfig) (*secret.Buffer, error) {
	if keys.KEKSecretSealedFile != "" {
		return sealed.OpenFile(keys.KEKSecretSealedFile, keys.MachineKeyFile)
	}
	return secret.ReadFromPath(keys.KEKSecretFile)
}

func cleanupBlacklist(ctx context.Context, clk clock.Clock, blacklist *viewertoken.Blacklist) {
	ticker := clk.NewTicker(blacklistCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			blacklist.Cleanup(now)
		}
	}
}
