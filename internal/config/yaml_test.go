package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.License.HWIDCooldownDays != 30 || cfg.License.PageSize != 100 {
		t.Errorf("license defaults = %+v", cfg.License)
	}
	if cfg.Addr() != "0.0.0.0:8080" {
		t.Errorf("Addr() = %q", cfg.Addr())
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pilot.yaml")
	t.Setenv("PILOT_TEST_REDIS_PASSWORD", "hunter2")

	content := `
server:
  port: 9090
store:
  driver: redis
  timeout: 500ms
redis:
  addr: cache:6379
  password: ${PILOT_TEST_REDIS_PASSWORD}
license:
  reject_paused_signin: true
log:
  format: json
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("host default lost: %q", cfg.Server.Host)
	}
	if cfg.Store.Timeout != 500*time.Millisecond {
		t.Errorf("timeout = %v, want 500ms", cfg.Store.Timeout)
	}
	if cfg.Redis.Password != "hunter2" {
		t.Errorf("password = %q, want expanded env value", cfg.Redis.Password)
	}
	if !cfg.License.RejectPausedSignIn {
		t.Error("reject_paused_signin not applied")
	}
	if cfg.License.HWIDCooldownDays != 30 {
		t.Errorf("cooldown default lost: %d", cfg.License.HWIDCooldownDays)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "parse config file") {
		t.Fatalf("Load error = %v, want parse error", err)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }},
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"zero timeout", func(c *Config) { c.Store.Timeout = 0 }},
		{"zero page size", func(c *Config) { c.License.PageSize = 0 }},
		{"negative cooldown", func(c *Config) { c.License.HWIDCooldownDays = -1 }},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"amqp without url", func(c *Config) { c.Events.Driver = "amqp" }},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres" }},
		{"redis shared db", func(c *Config) {
			c.Store.Driver = "redis"
			c.Redis.CustomerDB = c.Redis.AppDB
		}},
		{"redis without address", func(c *Config) {
			c.Store.Driver = "redis"
			c.Redis.Addr = ""
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("Validate() = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pilot.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault error: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	def := Default()
	if cfg.Store != def.Store || cfg.License != def.License || cfg.Redis != def.Redis {
		t.Errorf("round trip changed values: %+v", cfg)
	}

	if err := WriteDefault(path); err == nil {
		t.Error("WriteDefault should refuse to overwrite")
	}
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.Redis.Password = "hunter2"
	cfg.Redis.URL = "redis://:hunter2@cache:6379/0"
	cfg.SQL.DSN = "postgres://pilot:hunter2@db:5432/pilot?sslmode=disable"
	cfg.Events.URL = "user:hunter2@tcp(mq)/x"

	out := cfg.Redacted()
	data, err := out.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.Contains(string(data), "hunter2") {
		t.Errorf("redacted config leaks a secret:\n%s", data)
	}
	if !strings.HasPrefix(out.SQL.DSN, "postgres://pilot:") || !strings.Contains(out.SQL.DSN, "@db:5432/pilot") {
		t.Errorf("DSN = %q", out.SQL.DSN)
	}
	if out.Events.URL != "****" {
		t.Errorf("Events.URL = %q", out.Events.URL)
	}
	if cfg.Redis.Password != "hunter2" {
		t.Error("Redacted modified the original")
	}
}
