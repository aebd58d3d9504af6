// Package config loads the server configuration from defaults, an optional
// YAML file and ALMOSTOUT_* environment variables, in that order.
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/almostout/almostout/backend/internal/storage/entity"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "ALMOSTOUT_"

// Storage backends.
const (
	BackendMemory    = "memory"
	BackendFirestore = "firestore"
)

// Config is the complete server configuration.
type Config struct {
	// HTTP is the listen address.
	HTTP     string `yaml:"http" env:"HTTP"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`

	// Backend selects the document store: "memory" or "firestore".
	Backend string `yaml:"backend" env:"BACKEND"`
	// DataDir persists the memory backend as JSONL files. Empty keeps
	// everything in RAM.
	DataDir string `yaml:"data_dir" env:"DATA_DIR"`

	Firebase   FirebaseConfig `yaml:"firebase" envPrefix:"FIREBASE_"`
	Auth       AuthConfig     `yaml:"auth" envPrefix:"AUTH_"`
	App        AppConfig      `yaml:"app" envPrefix:"APP_"`
	WebPush    WebPushConfig  `yaml:"web_push" envPrefix:"WEBPUSH_"`
	Sweep      SweepConfig    `yaml:"sweep" envPrefix:"SWEEP_"`
	RateLimits RateLimits     `yaml:"rate_limits" envPrefix:"RATE_"`

	// Metrics exposes /metrics when true.
	Metrics bool `yaml:"metrics" env:"METRICS"`
}

// FirebaseConfig identifies the Firebase project.
type FirebaseConfig struct {
	ProjectID string `yaml:"project_id" env:"PROJECT_ID"`
	// CredentialsFile is a service account JSON key. Empty uses application
	// default credentials.
	CredentialsFile string `yaml:"credentials_file" env:"CREDENTIALS_FILE"`
}

// AuthConfig configures bearer token verification.
//
// With JWTSecret set, tokens are locally signed HS256 JWTs. Otherwise they
// are Firebase ID tokens.
type AuthConfig struct {
	JWTSecret    string `yaml:"jwt_secret" env:"JWT_SECRET"`
	JWTIssuer    string `yaml:"jwt_issuer" env:"JWT_ISSUER"`
	CheckRevoked bool   `yaml:"check_revoked" env:"CHECK_REVOKED"`
}

// AppConfig shapes share links.
type AppConfig struct {
	Domain                string `yaml:"domain" env:"DOMAIN"`
	Scheme                string `yaml:"scheme" env:"SCHEME"`
	DefaultExpirationDays int    `yaml:"default_expiration_days" env:"DEFAULT_EXPIRATION_DAYS"`
}

// WebPushConfig holds the VAPID key pair. Empty keys disable web push.
type WebPushConfig struct {
	PublicKey  string `yaml:"public_key" env:"PUBLIC_KEY"`
	PrivateKey string `yaml:"private_key" env:"PRIVATE_KEY"`
	Subscriber string `yaml:"subscriber" env:"SUBSCRIBER"`
}

// SweepConfig schedules the daily invitation expiry sweep.
type SweepConfig struct {
	Disabled  bool `yaml:"disabled" env:"DISABLED"`
	Hour      int  `yaml:"hour" env:"HOUR"`
	Minute    int  `yaml:"minute" env:"MINUTE"`
	BatchSize int  `yaml:"batch_size" env:"BATCH_SIZE"`
}

// RateLimits defines rate limiting configuration (requests per minute).
type RateLimits struct {
	// ShareCodeRatePerMin limits share code lookups and redemptions per IP.
	// 0 means unlimited.
	ShareCodeRatePerMin int `yaml:"share_code_rate_per_min" env:"SHARE_CODE_PER_MIN"`

	// WriteRatePerMin limits write operations per user.
	// 0 means unlimited.
	WriteRatePerMin int `yaml:"write_rate_per_min" env:"WRITE_PER_MIN"`

	// ReadAuthRatePerMin limits authenticated read operations.
	// 0 means unlimited.
	ReadAuthRatePerMin int `yaml:"read_auth_rate_per_min" env:"READ_AUTH_PER_MIN"`

	// ReadUnauthRatePerMin limits unauthenticated read operations.
	// 0 means unlimited.
	ReadUnauthRatePerMin int `yaml:"read_unauth_rate_per_min" env:"READ_UNAUTH_PER_MIN"`
}

// Validate checks that rate limit values are non-negative.
func (r *RateLimits) Validate() error {
	if r.ShareCodeRatePerMin < 0 {
		return errors.New("share_code_rate_per_min must be non-negative")
	}
	if r.WriteRatePerMin < 0 {
		return errors.New("write_rate_per_min must be non-negative")
	}
	if r.ReadAuthRatePerMin < 0 {
		return errors.New("read_auth_rate_per_min must be non-negative")
	}
	if r.ReadUnauthRatePerMin < 0 {
		return errors.New("read_unauth_rate_per_min must be non-negative")
	}
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTP:     "localhost:8080",
		LogLevel: "info",
		Backend:  BackendMemory,
		App: AppConfig{
			Domain:                "almostout.app",
			Scheme:                "almostout",
			DefaultExpirationDays: 30,
		},
		Sweep: SweepConfig{Hour: 2, BatchSize: 500},
		RateLimits: RateLimits{
			ShareCodeRatePerMin:  20,
			WriteRatePerMin:      120,
			ReadAuthRatePerMin:   30000,
			ReadUnauthRatePerMin: 6000,
		},
		Metrics: true,
	}
}

// Load builds the configuration: defaults, then path when non-empty, then
// the process environment.
func Load(path string) (*Config, error) {
	return load(path, nil)
}

// load is Load with an explicit environment; nil reads os.Environ.
func load(path string, environ map[string]string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	opts := env.Options{Prefix: EnvPrefix, Environment: environ}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.HTTP == "" {
		return errors.New("http address is required")
	}
	switch c.Backend {
	case BackendMemory:
	case BackendFirestore:
		if c.Firebase.ProjectID == "" {
			return errors.New("firebase.project_id is required with the firestore backend")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return errors.New("auth.jwt_secret must be at least 32 bytes")
	}
	if c.Auth.JWTSecret == "" && c.Firebase.ProjectID == "" {
		return errors.New("either auth.jwt_secret or firebase.project_id is required")
	}
	if c.App.Domain == "" || c.App.Scheme == "" {
		return errors.New("app.domain and app.scheme are required")
	}
	if c.App.DefaultExpirationDays < 1 || c.App.DefaultExpirationDays > entity.MaxExpirationDays {
		return fmt.Errorf("app.default_expiration_days must be between 1 and %d", entity.MaxExpirationDays)
	}
	if (c.WebPush.PublicKey == "") != (c.WebPush.PrivateKey == "") {
		return errors.New("web_push needs both public_key and private_key")
	}
	if c.Sweep.Hour < 0 || c.Sweep.Hour > 23 {
		return fmt.Errorf("sweep.hour %d out of range", c.Sweep.Hour)
	}
	if c.Sweep.Minute < 0 || c.Sweep.Minute > 59 {
		return fmt.Errorf("sweep.minute %d out of range", c.Sweep.Minute)
	}
	if c.Sweep.BatchSize < 1 || c.Sweep.BatchSize > 500 {
		return fmt.Errorf("sweep.batch_size %d must be within [1, 500]", c.Sweep.BatchSize)
	}
	return c.RateLimits.Validate()
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// DefaultExpiration returns App.DefaultExpirationDays as a duration.
func (c *Config) DefaultExpiration() time.Duration {
	return time.Duration(c.App.DefaultExpirationDays) * 24 * time.Hour
}

// Resolver returns the plaintext of a secret reference.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// ResolveSecrets replaces every secret reference in c with its value. Fields
// not starting with SecretScheme are left as is.
func (c *Config) ResolveSecrets(ctx context.Context, r Resolver) error {
	for _, f := range c.secretFields() {
		if !strings.HasPrefix(*f.value, SecretScheme) {
			continue
		}
		v, err := r.Resolve(ctx, *f.value)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.value = v
	}
	return nil
}

// HasSecretRefs reports whether any field needs ResolveSecrets.
func (c *Config) HasSecretRefs() bool {
	for _, f := range c.secretFields() {
		if strings.HasPrefix(*f.value, SecretScheme) {
			return true
		}
	}
	return false
}

type secretField struct {
	name  string
	value *string
}

func (c *Config) secretFields() []secretField {
	return []secretField{
		{"auth.jwt_secret", &c.Auth.JWTSecret},
		{"web_push.private_key", &c.WebPush.PrivateKey},
		{"web_push.public_key", &c.WebPush.PublicKey},
	}
}
