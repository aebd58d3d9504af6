package config

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := load("", map[string]string{})
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Backend != BackendMemory || cfg.App.DefaultExpirationDays != 30 || cfg.Sweep.Hour != 2 {
			t.Errorf("unexpected defaults: %+v", cfg)
		}
		if got := cfg.DefaultExpiration(); got != 30*24*time.Hour {
			t.Errorf("DefaultExpiration = %v", got)
		}
	})

	t.Run("yaml then env", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "almostout.yaml")
		body := "http: :9000\nbackend: firestore\nfirebase:\n  project_id: from-yaml\nsweep:\n  hour: 4\n"
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
		cfg, err := load(path, map[string]string{
			"ALMOSTOUT_FIREBASE_PROJECT_ID":     "from-env",
			"ALMOSTOUT_RATE_SHARE_CODE_PER_MIN": "7",
			"ALMOSTOUT_WEBPUSH_SUBSCRIBER":      "ops@example.com",
			"UNRELATED":                         "x",
		})
		if err != nil {
			t.Fatal(err)
		}
		if cfg.HTTP != ":9000" || cfg.Backend != BackendFirestore || cfg.Sweep.Hour != 4 {
			t.Errorf("yaml not applied: %+v", cfg)
		}
		if cfg.Firebase.ProjectID != "from-env" {
			t.Errorf("ProjectID = %q, env must win", cfg.Firebase.ProjectID)
		}
		if cfg.RateLimits.ShareCodeRatePerMin != 7 || cfg.WebPush.Subscriber != "ops@example.com" {
			t.Errorf("env not applied: %+v", cfg)
		}
		if cfg.Sweep.BatchSize != 500 {
			t.Errorf("BatchSize = %d, defaults must survive", cfg.Sweep.BatchSize)
		}
	})

	t.Run("empty file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.yaml")
		if err := os.WriteFile(path, nil, 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := load(path, map[string]string{}); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("unknown field", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		if err := os.WriteFile(path, []byte("htpp: :1\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := load(path, map[string]string{}); err == nil {
			t.Error("expected error for unknown field")
		}
	})

	t.Run("bad env", func(t *testing.T) {
		if _, err := load("", map[string]string{"ALMOSTOUT_SWEEP_HOUR": "two"}); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := load(filepath.Join(t.TempDir(), "nope.yaml"), nil); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("err = %v", err)
		}
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := Default()
		c.Auth.JWTSecret = testSecret
		return c
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"backend", func(c *Config) { c.Backend = "sqlite" }, "unknown backend"},
		{"firestore without project", func(c *Config) { c.Backend = BackendFirestore }, "project_id"},
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "32 bytes"},
		{"no auth", func(c *Config) { c.Auth.JWTSecret = "" }, "either"},
		{"expiration", func(c *Config) { c.App.DefaultExpirationDays = 0 }, "default_expiration_days"},
		{"expiration too long", func(c *Config) { c.App.DefaultExpirationDays = 400 }, "default_expiration_days"},
		{"half vapid", func(c *Config) { c.WebPush.PublicKey = "pub" }, "web_push"},
		{"hour", func(c *Config) { c.Sweep.Hour = 24 }, "sweep.hour"},
		{"minute", func(c *Config) { c.Sweep.Minute = -1 }, "sweep.minute"},
		{"batch", func(c *Config) { c.Sweep.BatchSize = 501 }, "batch_size"},
		{"rate", func(c *Config) { c.RateLimits.WriteRatePerMin = -1 }, "write_rate_per_min"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate = %v, want %q", err, tt.want)
			}
		})
	}

	t.Run("level", func(t *testing.T) {
		c := valid()
		c.LogLevel = "debug"
		if l, err := c.Level(); err != nil || l != slog.LevelDebug {
			t.Errorf("Level = %v, %v", l, err)
		}
	})
}

type fakeAccessor struct {
	secrets map[string]string
	names   []string
}

func (f *fakeAccessor) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.names = append(f.names, req.GetName())
	v, ok := f.secrets[req.GetName()]
	if !ok {
		return nil, errors.New("not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    req.GetName(),
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(v + "\n")},
	}, nil
}

func TestResolveSecrets(t *testing.T) {
	acc := &fakeAccessor{secrets: map[string]string{
		"projects/p/secrets/jwt/versions/latest": testSecret,
		"projects/p/secrets/vapid/versions/3":    "private",
	}}
	r := &SecretManagerResolver{client: acc}

	c := Default()
	c.Auth.JWTSecret = "sm://projects/p/secrets/jwt"
	c.WebPush.PrivateKey = "sm://projects/p/secrets/vapid/versions/3"
	c.WebPush.PublicKey = "plain"
	if !c.HasSecretRefs() {
		t.Fatal("HasSecretRefs = false")
	}
	if err := c.ResolveSecrets(t.Context(), r); err != nil {
		t.Fatal(err)
	}
	if c.Auth.JWTSecret != testSecret || c.WebPush.PrivateKey != "private" || c.WebPush.PublicKey != "plain" {
		t.Errorf("resolved = %+v %+v", c.Auth, c.WebPush)
	}
	if len(acc.names) != 2 {
		t.Errorf("accessed %v", acc.names)
	}
	if c.HasSecretRefs() {
		t.Error("references left after resolution")
	}

	t.Run("failure names the field", func(t *testing.T) {
		c := Default()
		c.Auth.JWTSecret = "sm://projects/p/secrets/missing"
		err := c.ResolveSecrets(t.Context(), r)
		if err == nil || !strings.Contains(err.Error(), "auth.jwt_secret") {
			t.Errorf("err = %v", err)
		}
	})
}

func TestSecretName(t *testing.T) {
	tests := []struct {
		ref  string
		want string
	}{
		{"sm://projects/p/secrets/s", "projects/p/secrets/s/versions/latest"},
		{"sm://projects/p/secrets/s/versions/2", "projects/p/secrets/s/versions/2"},
		{"projects/p/secrets/s", ""},
		{"sm://projects/p/secrets", ""},
		{"sm://projects//secrets/s", ""},
		{"sm://folders/p/secrets/s", ""},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := secretName(tt.ref)
			if tt.want == "" {
				if !errors.Is(err, ErrBadSecretRef) {
					t.Errorf("err = %v", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("secretName = %q, %v", got, err)
			}
		})
	}
}
