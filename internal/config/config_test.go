package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func validConfig() *Config {
	cfg := Defaults()
	cfg.Webhook.URL = "https://hooks.example.com/in"
	return cfg
}

// clearEnv blanks every known key so the host environment cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for k := range ListPaths(Defaults()) {
		t.Setenv(k, "")
	}
	t.Setenv(KeyMyLID, "")
}

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_MissingWebhookURL(t *testing.T) {
	err := Validate(Defaults())
	if !errors.Is(err, ErrMissingWebhookURL) {
		t.Fatalf("expected ErrMissingWebhookURL, got %v", err)
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"relative webhook", func(c *Config) { c.Webhook.URL = "/in" }, KeyWebhookURL},
		{"ftp webhook", func(c *Config) { c.Webhook.URL = "ftp://x/in" }, KeyWebhookURL},
		{"bad regex", func(c *Config) { c.Filter.TagRegex = "([" }, KeyTagRegex},
		{"empty auth dir", func(c *Config) { c.Session.AuthDir = "" }, KeyAuthDir},
		{"restart mode", func(c *Config) { c.Session.RestartMode = "reboot" }, KeyRestartMode},
		{"zero delay", func(c *Config) { c.Session.ReconnectDelay = 0 }, KeyReconnectDelay},
		{"negative port", func(c *Config) { c.Control.Port = -1 }, KeyPort},
		{"huge port", func(c *Config) { c.Control.Port = 70000 }, KeyPort},
		{"no origins", func(c *Config) { c.Control.AllowOrigins = nil }, KeyCORSOrigin},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, KeyLogLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q should mention %s", err, tt.want)
			}
		})
	}
}

func TestValidate_ReportsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Control.Port = -1
	cfg.LogLevel = "loud"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{KeyWebhookURL, KeyPort, KeyLogLevel} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error should mention %s: %v", key, err)
		}
	}
}

// --- Load ---

func TestLoad_FromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv(KeyWebhookURL, "https://hooks.example.com/in")
	t.Setenv(KeyTextFallback, "false")
	t.Setenv(KeyMyLID, "99887766:3@lid")
	t.Setenv(KeyCORSOrigin, "https://a.example, https://b.example")
	t.Setenv(KeyReconnectDelay, "5s")
	t.Setenv(KeyRestartMode, "exit")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Webhook.URL != "https://hooks.example.com/in" {
		t.Fatalf("webhook url = %q", cfg.Webhook.URL)
	}
	if cfg.Filter.TextFallback {
		t.Fatal("text fallback should be disabled")
	}
	if cfg.Owner.Opaque != "99887766:3@lid" {
		t.Fatalf("MY_LID should fill the opaque owner form, got %q", cfg.Owner.Opaque)
	}
	if len(cfg.Control.AllowOrigins) != 2 || cfg.Control.AllowOrigins[1] != "https://b.example" {
		t.Fatalf("origins = %v", cfg.Control.AllowOrigins)
	}
	if cfg.Session.ReconnectDelay != 5*time.Second {
		t.Fatalf("reconnect delay = %s", cfg.Session.ReconnectDelay)
	}
	if cfg.Session.RestartMode != "exit" {
		t.Fatalf("restart mode = %q", cfg.Session.RestartMode)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv(KeyWebhookURL, "http://localhost:8080/hook")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Control.Port != DefaultPort {
		t.Errorf("port = %d", cfg.Control.Port)
	}
	if cfg.Session.AuthDir != DefaultAuthDir {
		t.Errorf("auth dir = %q", cfg.Session.AuthDir)
	}
	if !cfg.Filter.TextFallback || !cfg.Owner.CrossForm {
		t.Error("text fallback and cross-form matching default to on")
	}
	if cfg.Filter.ExcludeQuoted || cfg.Filter.ForwardAll {
		t.Error("quoted exclusion and forward-all default to off")
	}
	if len(cfg.Control.AllowOrigins) != 1 || cfg.Control.AllowOrigins[0] != "*" {
		t.Errorf("origins = %v", cfg.Control.AllowOrigins)
	}
}

func TestLoad_MissingWebhookURL(t *testing.T) {
	clearEnv(t)
	_, err := Load("")
	if !errors.Is(err, ErrMissingWebhookURL) {
		t.Fatalf("expected ErrMissingWebhookURL, got %v", err)
	}
}

func TestLoad_ConfigFileWithEnvSubstitution(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_RELAY_HOOK", "https://hooks.example.com/from-file")

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "relay.yaml")
	content := "webhook_url: ${TEST_RELAY_HOOK}\nport: 4100\nexclude_quoted: true\ntag_regex: \"urgent|#me\"\n"
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Webhook.URL != "https://hooks.example.com/from-file" {
		t.Fatalf("webhook url = %q", cfg.Webhook.URL)
	}
	if cfg.Control.Port != 4100 || !cfg.Filter.ExcludeQuoted || cfg.Filter.TagRegex != "urgent|#me" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(KeyPort, "5000")

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "relay.json")
	if err := os.WriteFile(cfgFile, []byte(`{"webhook_url":"https://h.example/in","port":4100}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Control.Port != 5000 {
		t.Fatalf("env should win, got port %d", cfg.Control.Port)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestFromViper_PrefersLIDBase(t *testing.T) {
	clearEnv(t)
	v := viper.New()
	v.Set(KeyMyLIDBase, "111")
	v.Set(KeyMyLID, "222:4@lid")
	if got := FromViper(v).Owner.Opaque; got != "111" {
		t.Fatalf("opaque = %q, want MY_LID_BASE value", got)
	}
}

// --- ParseLogLevel ---

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
	if _, err := ParseLogLevel("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
}

// --- Sanitize ---

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Webhook.Secret = "whsec-1234567890abcdef"
	cfg.Control.AdminSecret = "admin-secret-12345678"

	sanitized := Sanitize(cfg)

	if sanitized.Webhook.Secret != "whse****cdef" {
		t.Fatalf("webhook secret = %q", sanitized.Webhook.Secret)
	}
	if sanitized.Control.AdminSecret == cfg.Control.AdminSecret {
		t.Fatal("admin secret should be masked")
	}
	if cfg.Webhook.Secret != "whsec-1234567890abcdef" {
		t.Fatal("original config should not be modified")
	}
}

func TestSanitize_ShortSecret(t *testing.T) {
	cfg := validConfig()
	cfg.Control.AdminSecret = "short"
	if got := Sanitize(cfg).Control.AdminSecret; got != "***" {
		t.Fatalf("short secret should be '***', got %q", got)
	}
}

// --- ListPaths ---

func TestListPaths_CoversKeys(t *testing.T) {
	paths := ListPaths(validConfig())
	for _, key := range []string{KeyWebhookURL, KeyPort, KeyRestartMode, KeyCORSOrigin, KeyLogLevel} {
		if _, ok := paths[key]; !ok {
			t.Errorf("missing key: %s", key)
		}
	}
	if paths[KeyCORSOrigin] != "*" {
		t.Errorf("origins = %v", paths[KeyCORSOrigin])
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("RELAY_TEST_SET", "value")
	t.Setenv("RELAY_TEST_EMPTY", "")

	tests := []struct {
		in, want string
	}{
		{"${RELAY_TEST_SET}", "value"},
		{"${RELAY_TEST_UNSET_XYZ:-fallback}", "fallback"},
		{"${RELAY_TEST_SET:-fallback}", "value"},
		{"${RELAY_TEST_EMPTY:-fallback}", "fallback"},
		{"${RELAY_TEST_UNSET_XYZ}", "${RELAY_TEST_UNSET_XYZ}"},
		{"a=${RELAY_TEST_SET} b=${RELAY_TEST_SET}", "a=value b=value"},
		{"$RELAY_TEST_SET", "$RELAY_TEST_SET"},
	}
	for _, tt := range tests {
		if got := ExpandEnvVars(tt.in); got != tt.want {
			t.Errorf("ExpandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
