// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "streamguard.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

// validBase is the smallest file that passes Validate in development.
const validBase = `
environment: development
paths:
  root: /srv/streamguard
keys:
  kek_secret_file: /etc/streamguard/kek-secret
  kek_salt: streamguard-kek-salt
identity:
  public_key_file: /etc/streamguard/idp.pub
`

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Environment != Development {
		t.Errorf("Environment = %s, want development", cfg.Environment)
	}
	if cfg.Sessions.MaxPerUser != 2 {
		t.Errorf("Sessions.MaxPerUser = %d, want 2", cfg.Sessions.MaxPerUser)
	}
	if cfg.Sessions.HeartbeatTTL != 90*time.Second {
		t.Errorf("Sessions.HeartbeatTTL = %s, want 90s", cfg.Sessions.HeartbeatTTL)
	}
	if cfg.License.OfflineValidity != 7*24*time.Hour {
		t.Errorf("License.OfflineValidity = %s, want 168h", cfg.License.OfflineValidity)
	}
	if cfg.License.MaxDevices != 1 || cfg.License.AllowScreenCapture {
		t.Errorf("License policy = %+v, want maxDevices=1 allowScreenCapture=false", cfg.License)
	}
	if cfg.Playback.HeaderScanLimit != 10*1024*1024 {
		t.Errorf("Playback.HeaderScanLimit = %d, want 10 MiB", cfg.Playback.HeaderScanLimit)
	}
}

func TestLoad_RequiresStreamguardConfig(t *testing.T) {
	t.Setenv("STREAMGUARD_CONFIG", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when STREAMGUARD_CONFIG is unset")
	}
	if !strings.HasPrefix(err.Error(), "STREAMGUARD_CONFIG environment variable not set") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_WithStreamguardConfig(t *testing.T) {
	t.Setenv("STREAMGUARD_CONFIG", writeConfig(t, validBase))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Paths.Root != "/srv/streamguard" {
		t.Errorf("Paths.Root = %q", cfg.Paths.Root)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFile_DerivedPathsFollowRoot(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, validBase))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Paths.Socket != "/srv/streamguard/license.sock" {
		t.Errorf("Paths.Socket = %q, want it under the configured root", cfg.Paths.Socket)
	}
	if cfg.Database.Path != "/srv/streamguard/streamguard.db" {
		t.Errorf("Database.Path = %q, want it under the configured root", cfg.Database.Path)
	}
}

func TestLoadFile_Durations(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, validBase+`
sessions:
  max_per_user: 3
  heartbeat_ttl: 2m
license:
  offline_validity: 72h
playback:
  header_scan_limit: 1048576
`))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Sessions.MaxPerUser != 3 {
		t.Errorf("MaxPerUser = %d, want 3", cfg.Sessions.MaxPerUser)
	}
	if cfg.Sessions.HeartbeatTTL != 2*time.Minute {
		t.Errorf("HeartbeatTTL = %s, want 2m", cfg.Sessions.HeartbeatTTL)
	}
	if cfg.License.OfflineValidity != 72*time.Hour {
		t.Errorf("OfflineValidity = %s, want 72h", cfg.License.OfflineValidity)
	}
	if cfg.Playback.HeaderScanLimit != 1<<20 {
		t.Errorf("HeaderScanLimit = %d, want 1 MiB", cfg.Playback.HeaderScanLimit)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	content := `
environment: production
paths:
  root: /srv/streamguard
keys:
  kek_secret_file: /etc/streamguard/kek-secret
  kek_salt: base-salt
identity:
  public_key_file: /etc/streamguard/idp.pub
development:
  sessions:
    max_per_user: 10
production:
  keys:
    kek_salt: production-salt
    kek_version: 3
  license:
    signing_secret_file: /etc/streamguard/license-signing
`
	cfg, err := LoadFile(writeConfig(t, content))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Keys.KEKSalt != "production-salt" {
		t.Errorf("KEKSalt = %q, want production override", cfg.Keys.KEKSalt)
	}
	if cfg.Keys.KEKVersion != 3 {
		t.Errorf("KEKVersion = %d, want 3", cfg.Keys.KEKVersion)
	}
	if cfg.Keys.KEKSecretFile != "/etc/streamguard/kek-secret" {
		t.Errorf("KEKSecretFile = %q, base value should survive", cfg.Keys.KEKSecretFile)
	}
	if cfg.Sessions.MaxPerUser != 2 {
		t.Errorf("MaxPerUser = %d, development block must not apply in production", cfg.Sessions.MaxPerUser)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestEnvVarsDoNotOverride(t *testing.T) {
	t.Setenv("STREAMGUARD_KEK_SALT", "from-environment")

	cfg, err := LoadFile(writeConfig(t, validBase))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Keys.KEKSalt != "streamguard-kek-salt" {
		t.Errorf("KEKSalt = %q, environment must not override file values", cfg.Keys.KEKSalt)
	}
}

func TestExpandVars(t *testing.T) {
	t.Setenv("STREAMGUARD_TEST_DIR", "/from/env")

	tests := []struct {
		input string
		vars  map[string]string
		want  string
	}{
		{"${STREAMGUARD_ROOT}/db", map[string]string{"STREAMGUARD_ROOT": "/root"}, "/root/db"},
		{"${STREAMGUARD_TEST_DIR}/x", nil, "/from/env/x"},
		{"${STREAMGUARD_UNSET:-/fallback}/x", nil, "/fallback/x"},
		{"/plain/path", nil, "/plain/path"},
	}
	for _, test := range tests {
		if got := expandVars(test.input, test.vars); got != test.want {
			t.Errorf("expandVars(%q) = %q, want %q", test.input, got, test.want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad environment",
			mutate:  func(c *Config) { c.Environment = "qa" },
			wantErr: "invalid environment",
		},
		{
			name:    "no kek source",
			mutate:  func(c *Config) { c.Keys.KEKSecretFile = "" },
			wantErr: "kek_secret_file or keys.kek_secret_sealed_file is required",
		},
		{
			name:    "both kek sources",
			mutate:  func(c *Config) { c.Keys.KEKSecretSealedFile = "/x.age" },
			wantErr: "mutually exclusive",
		},
		{
			name: "sealed without machine key",
			mutate: func(c *Config) {
				c.Keys.KEKSecretFile = ""
				c.Keys.KEKSecretSealedFile = "/x.age"
			},
			wantErr: "keys.machine_key_file is required",
		},
		{
			name:    "empty salt",
			mutate:  func(c *Config) { c.Keys.KEKSalt = "" },
			wantErr: "keys.kek_salt is required",
		},
		{
			name:    "zero session cap",
			mutate:  func(c *Config) { c.Sessions.MaxPerUser = 0 },
			wantErr: "sessions.max_per_user",
		},
		{
			name:    "production without signing secret",
			mutate:  func(c *Config) { c.Environment = Production },
			wantErr: "license.signing_secret_file is required in production",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg, err := LoadFile(writeConfig(t, validBase))
			if err != nil {
				t.Fatalf("LoadFile: %v", err)
			}
			test.mutate(cfg)

			err = cfg.Validate()
			if err == nil {
				t.Fatal("Validate succeeded, want error")
			}
			if !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("Validate error = %v, want it to mention %q", err, test.wantErr)
			}
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Environment = "bogus"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate succeeded on an empty config")
	}
	for _, fragment := range []string{"invalid environment", "kek_salt", "identity.public_key_file"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("joined error missing %q: %v", fragment, err)
		}
	}
}

func TestEnsurePaths(t *testing.T) {
	root := filepath.Join(t.TempDir(), "state")
	cfg := Default()
	cfg.Paths.Root = root
	cfg.Paths.Socket = filepath.Join(root, "run", "license.sock")
	cfg.Database.Path = filepath.Join(root, "db", "streamguard.db")

	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths: %v", err)
	}
	for _, dir := range []string{root, filepath.Join(root, "run"), filepath.Join(root, "db")} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Errorf("%s not created: %v", dir, err)
		}
	}
}
