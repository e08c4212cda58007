// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the streamguard configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	Paths    PathsConfig    `yaml:"paths"`
	Database DatabaseConfig `yaml:"database"`
	Keys     KeysConfig     `yaml:"keys"`
	Sessions SessionsConfig `yaml:"sessions"`
	License  LicenseConfig  `yaml:"license"`
	Identity IdentityConfig `yaml:"identity"`
	Playback PlaybackConfig `yaml:"playback"`

	// Per-environment overrides, applied after the base file is read.
	Development *Overrides `yaml:"development,omitempty"`
	Staging     *Overrides `yaml:"staging,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides holds the sections an environment block may replace.
// Only non-zero fields take effect.
type Overrides struct {
	Paths    *PathsConfig    `yaml:"paths,omitempty"`
	Database *DatabaseConfig `yaml:"database,omitempty"`
	Keys     *KeysConfig     `yaml:"keys,omitempty"`
	Sessions *SessionsConfig `yaml:"sessions,omitempty"`
	License  *LicenseConfig  `yaml:"license,omitempty"`
	Playback *PlaybackConfig `yaml:"playback,omitempty"`
}

// PathsConfig configures directory and socket locations.
type PathsConfig struct {
	// Root is the base directory for streamguard state.
	Root string `yaml:"root"`

	// Socket is the license service's Unix socket.
	Socket string `yaml:"socket"`
}

// DatabaseConfig configures the SQLite database holding wrapped video
// keys and playback sessions.
type DatabaseConfig struct {
	Path     string `yaml:"path"`
	PoolSize int    `yaml:"pool_size"`
}

// KeysConfig locates the key-encryption key material. Exactly one of
// KEKSecretFile and KEKSecretSealedFile must be set.
type KeysConfig struct {
	// KEKSecretFile holds the raw server secret the KEK is derived
	// from. "-" reads it from stdin.
	KEKSecretFile string `yaml:"kek_secret_file"`

	// KEKSecretSealedFile is an age-encrypted copy of the server
	// secret, opened with the private key in MachineKeyFile.
	KEKSecretSealedFile string `yaml:"kek_secret_sealed_file"`
	MachineKeyFile      string `yaml:"machine_key_file"`

	// KEKSalt is the scrypt salt. Changing it changes the KEK.
	KEKSalt string `yaml:"kek_salt"`

	// KEKVersion must match the kekVersion stored with each wrapped
	// video key.
	KEKVersion int `yaml:"kek_version"`
}

// SessionsConfig configures admission control.
type SessionsConfig struct {
	MaxPerUser   int           `yaml:"max_per_user"`
	HeartbeatTTL time.Duration `yaml:"heartbeat_ttl"`
}

// LicenseConfig configures offline license issuance.
type LicenseConfig struct {
	OfflineValidity    time.Duration `yaml:"offline_validity"`
	MaxDevices         int           `yaml:"max_devices"`
	AllowScreenCapture bool          `yaml:"allow_screen_capture"`

	// SigningSecretFile, when set, holds a dedicated HMAC secret for
	// license signatures. When empty the KEK signs licenses.
	SigningSecretFile string `yaml:"signing_secret_file"`
}

// IdentityConfig configures viewer token verification.
type IdentityConfig struct {
	// PublicKeyFile holds the identity provider's Ed25519 public key,
	// raw 32 bytes or base64.
	PublicKeyFile string `yaml:"public_key_file"`

	// Audience is the value viewer tokens must name.
	Audience string `yaml:"audience"`
}

// PlaybackConfig configures the decryptor.
type PlaybackConfig struct {
	// HeaderScanLimit bounds the prefix fetched to build the offset
	// map.
	HeaderScanLimit int64 `yaml:"header_scan_limit"`

	// FetchTimeout bounds each HTTP range request.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// Default returns the base configuration the file is merged over. The
// file is still required; these only fill fields it leaves out.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	root := filepath.Join(homeDir, ".cache", "streamguard")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:   root,
			Socket: "${STREAMGUARD_ROOT}/license.sock",
		},
		Database: DatabaseConfig{
			Path:     "${STREAMGUARD_ROOT}/streamguard.db",
			PoolSize: 4,
		},
		Keys: KeysConfig{
			KEKVersion: 1,
		},
		Sessions: SessionsConfig{
			MaxPerUser:   2,
			HeartbeatTTL: 90 * time.Second,
		},
		License: LicenseConfig{
			OfflineValidity:    7 * 24 * time.Hour,
			MaxDevices:         1,
			AllowScreenCapture: false,
		},
		Identity: IdentityConfig{
			Audience: "streamguard",
		},
		Playback: PlaybackConfig{
			HeaderScanLimit: 10 << 20,
			FetchTimeout:    30 * time.Second,
		},
	}
}

// Load reads the file named by STREAMGUARD_CONFIG. There is no other
// discovery: unset means error.
func Load() (*Config, error) {
	configPath := os.Getenv("STREAMGUARD_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("STREAMGUARD_CONFIG environment variable not set; " +
			"set it to the path of your streamguard.yaml, or use --config")
	}
	return LoadFile(configPath)
}

// LoadFile reads configuration from path, applies the section for the
// configured environment, and expands ${VAR} references in paths.
// Environment variables never override values directly.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if o := overrides.Paths; o != nil {
		setString(&c.Paths.Root, o.Root)
		setString(&c.Paths.Socket, o.Socket)
	}
	if o := overrides.Database; o != nil {
		setString(&c.Database.Path, o.Path)
		setInt(&c.Database.PoolSize, o.PoolSize)
	}
	if o := overrides.Keys; o != nil {
		setString(&c.Keys.KEKSecretFile, o.KEKSecretFile)
		setString(&c.Keys.KEKSecretSealedFile, o.KEKSecretSealedFile)
		setString(&c.Keys.MachineKeyFile, o.MachineKeyFile)
		setString(&c.Keys.KEKSalt, o.KEKSalt)
		setInt(&c.Keys.KEKVersion, o.KEKVersion)
	}
	if o := overrides.Sessions; o != nil {
		setInt(&c.Sessions.MaxPerUser, o.MaxPerUser)
		if o.HeartbeatTTL != 0 {
			c.Sessions.HeartbeatTTL = o.HeartbeatTTL
		}
	}
	if o := overrides.License; o != nil {
		if o.OfflineValidity != 0 {
			c.License.OfflineValidity = o.OfflineValidity
		}
		setInt(&c.License.MaxDevices, o.MaxDevices)
		// A bool cannot distinguish "unset" from false; an override
		// block that names the license section decides it.
		c.License.AllowScreenCapture = o.AllowScreenCapture
		setString(&c.License.SigningSecretFile, o.SigningSecretFile)
	}
	if o := overrides.Playback; o != nil {
		if o.HeaderScanLimit != 0 {
			c.Playback.HeaderScanLimit = o.HeaderScanLimit
		}
		if o.FetchTimeout != 0 {
			c.Playback.FetchTimeout = o.FetchTimeout
		}
	}
}

func setString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func setInt(target *int, value int) {
	if value != 0 {
		*target = value
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["STREAMGUARD_ROOT"] = c.Paths.Root

	for _, field := range []*string{
		&c.Paths.Socket,
		&c.Database.Path,
		&c.Keys.KEKSecretFile,
		&c.Keys.KEKSecretSealedFile,
		&c.Keys.MachineKeyFile,
		&c.License.SigningSecretFile,
		&c.Identity.PublicKeyFile,
	} {
		*field = expandVars(*field, vars)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars replaces ${VAR} and ${VAR:-default}. Names in vars win
// over the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Environment {
	case Development, Staging, Production:
	default:
		errs = append(errs, fmt.Errorf("invalid environment: %q", c.Environment))
	}

	if c.Paths.Root == "" {
		errs = append(errs, errors.New("paths.root is required"))
	}
	if c.Paths.Socket == "" {
		errs = append(errs, errors.New("paths.socket is required"))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}

	switch {
	case c.Keys.KEKSecretFile == "" && c.Keys.KEKSecretSealedFile == "":
		errs = append(errs, errors.New("one of keys.kek_secret_file or keys.kek_secret_sealed_file is required"))
	case c.Keys.KEKSecretFile != "" && c.Keys.KEKSecretSealedFile != "":
		errs = append(errs, errors.New("keys.kek_secret_file and keys.kek_secret_sealed_file are mutually exclusive"))
	case c.Keys.KEKSecretSealedFile != "" && c.Keys.MachineKeyFile == "":
		errs = append(errs, errors.New("keys.machine_key_file is required with keys.kek_secret_sealed_file"))
	}
	if c.Keys.KEKSalt == "" {
		errs = append(errs, errors.New("keys.kek_salt is required"))
	}
	if c.Keys.KEKVersion < 1 {
		errs = append(errs, fmt.Errorf("keys.kek_version must be >= 1, got %d", c.Keys.KEKVersion))
	}

	if c.Sessions.MaxPerUser < 1 {
		errs = append(errs, fmt.Errorf("sessions.max_per_user must be >= 1, got %d", c.Sessions.MaxPerUser))
	}
	if c.Sessions.HeartbeatTTL <= 0 {
		errs = append(errs, fmt.Errorf("sessions.heartbeat_ttl must be positive, got %s", c.Sessions.HeartbeatTTL))
	}

	if c.License.OfflineValidity <= 0 {
		errs = append(errs, fmt.Errorf("license.offline_validity must be positive, got %s", c.License.OfflineValidity))
	}
	if c.License.MaxDevices < 1 {
		errs = append(errs, fmt.Errorf("license.max_devices must be >= 1, got %d", c.License.MaxDevices))
	}
	if c.Environment == Production && c.License.SigningSecretFile == "" {
		errs = append(errs, errors.New("license.signing_secret_file is required in production"))
	}

	if c.Identity.PublicKeyFile == "" {
		errs = append(errs, errors.New("identity.public_key_file is required"))
	}
	if c.Identity.Audience == "" {
		errs = append(errs, errors.New("identity.audience is required"))
	}

	if c.Playback.HeaderScanLimit <= 0 {
		errs = append(errs, fmt.Errorf("playback.header_scan_limit must be positive, got %d", c.Playback.HeaderScanLimit))
	}

	return errors.Join(errs...)
}

// EnsurePaths creates the state root and the directories holding the
// socket and database.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{
		c.Paths.Root,
		filepath.Dir(c.Paths.Socket),
		filepath.Dir(c.Database.Path),
	} {
		if path == "" || path == "." {
			continue
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}
