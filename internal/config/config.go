package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrMissingWebhookURL is returned when no ingestion endpoint is configured.
var ErrMissingWebhookURL = errors.New("WEBHOOK_URL is required")

// Config is the fully resolved runtime configuration.
type Config struct {
	Webhook  WebhookConfig `json:"webhook"`
	Filter   FilterConfig  `json:"filter"`
	Owner    OwnerConfig   `json:"owner"`
	Session  SessionConfig `json:"session"`
	Control  ControlConfig `json:"control"`
	LogLevel string        `json:"logLevel"`
}

type WebhookConfig struct {
	URL    string `json:"url"`
	Secret string `json:"secret,omitempty"`
	Debug  bool   `json:"debug"`
}

// FilterConfig drives the relevance classifier.
type FilterConfig struct {
	ForwardAll    bool   `json:"forwardAll"`
	TagRegex      string `json:"tagRegex,omitempty"`
	ExcludeQuoted bool   `json:"excludeQuoted"`
	TextFallback  bool   `json:"textMentionFallback"`
}

type OwnerConfig struct {
	Phone       string `json:"phone,omitempty"`
	Opaque      string `json:"lidBase,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	CrossForm   bool   `json:"crossFormMatch"`
	AliasFile   string `json:"aliasFile,omitempty"`
}

type SessionConfig struct {
	AuthDir        string        `json:"authDir"`
	RestartMode    string        `json:"autorestartMode"`
	ReconnectDelay time.Duration `json:"reconnectDelay"`
}

type ControlConfig struct {
	Port         int      `json:"port"`
	AdminSecret  string   `json:"adminSecret,omitempty"`
	AllowOrigins []string `json:"corsOrigin"`
	FrontURL     string   `json:"frontUrl,omitempty"`
}

// Environment keys. Config files use the same names in lower case.
const (
	KeyWebhookURL     = "WEBHOOK_URL"
	KeyWebhookSecret  = "WEBHOOK_SECRET"
	KeyWebhookDebug   = "WEBHOOK_DEBUG"
	KeyForwardAll     = "FORWARD_ALL"
	KeyTagRegex       = "TAG_REGEX"
	KeyExcludeQuoted  = "EXCLUDE_QUOTED"
	KeyTextFallback   = "TEXT_MENTION_FALLBACK"
	KeyMyPhone        = "MY_PHONE"
	KeyMyLIDBase      = "MY_LID_BASE"
	KeyMyLID          = "MY_LID"
	KeyOwnerDisplay   = "OWNER_DISPLAY_NAME"
	KeyCrossForm      = "CROSS_FORM_MATCH"
	KeyAliasFile      = "ALIAS_FILE"
	KeyAuthDir        = "AUTH_DIR"
	KeyPort           = "PORT"
	KeyAdminSecret    = "ADMIN_SECRET"
	KeyCORSOrigin     = "CORS_ORIGIN"
	KeyFrontURL       = "FRONT_URL"
	KeyRestartMode    = "AUTORESTART_MODE"
	KeyReconnectDelay = "RECONNECT_DELAY"
	KeyLogLevel       = "LOG_LEVEL"
)

// Load resolves the configuration from .env, the process environment and an
// optional config file. Environment values win over the file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("cannot load .env: %w", err)
	}

	v := viper.New()
	applyDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		path = ExpandPath(path)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
		}
		v.SetConfigType(configType(path))
		if err := v.ReadConfig(bytes.NewReader([]byte(ExpandEnvVars(string(data))))); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	cfg := FromViper(v)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromViper reads every known key from v without validating.
func FromViper(v *viper.Viper) *Config {
	opaque := strings.TrimSpace(v.GetString(KeyMyLIDBase))
	if opaque == "" {
		opaque = strings.TrimSpace(v.GetString(KeyMyLID))
	}

	return &Config{
		Webhook: WebhookConfig{
			URL:    strings.TrimSpace(v.GetString(KeyWebhookURL)),
			Secret: v.GetString(KeyWebhookSecret),
			Debug:  v.GetBool(KeyWebhookDebug),
		},
		Filter: FilterConfig{
			ForwardAll:    v.GetBool(KeyForwardAll),
			TagRegex:      v.GetString(KeyTagRegex),
			ExcludeQuoted: v.GetBool(KeyExcludeQuoted),
			TextFallback:  v.GetBool(KeyTextFallback),
		},
		Owner: OwnerConfig{
			Phone:       strings.TrimSpace(v.GetString(KeyMyPhone)),
			Opaque:      opaque,
			DisplayName: strings.TrimSpace(v.GetString(KeyOwnerDisplay)),
			CrossForm:   v.GetBool(KeyCrossForm),
			AliasFile:   ExpandPath(strings.TrimSpace(v.GetString(KeyAliasFile))),
		},
		Session: SessionConfig{
			AuthDir:        ExpandPath(strings.TrimSpace(v.GetString(KeyAuthDir))),
			RestartMode:    strings.ToLower(strings.TrimSpace(v.GetString(KeyRestartMode))),
			ReconnectDelay: v.GetDuration(KeyReconnectDelay),
		},
		Control: ControlConfig{
			Port:         v.GetInt(KeyPort),
			AdminSecret:  v.GetString(KeyAdminSecret),
			AllowOrigins: splitList(v.GetString(KeyCORSOrigin)),
			FrontURL:     strings.TrimSpace(v.GetString(KeyFrontURL)),
		},
		LogLevel: strings.ToLower(strings.TrimSpace(v.GetString(KeyLogLevel))),
	}
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	case ".env":
		return "dotenv"
	default:
		return "yaml"
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config files.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		def, hasDefault := "", len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			def = groups[2]
		}
		if val, ok := os.LookupEnv(groups[1]); ok && val != "" {
			return val
		}
		if hasDefault {
			return def
		}
		return match
	})
}

// Validate checks that the config has usable values. All problems are
// reported together.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Webhook.URL == "" {
		errs = append(errs, ErrMissingWebhookURL)
	} else if u, err := url.Parse(cfg.Webhook.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("%s must be an absolute http(s) URL", KeyWebhookURL))
	}

	if cfg.Filter.TagRegex != "" {
		if _, err := regexp.Compile("(?i)" + cfg.Filter.TagRegex); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", KeyTagRegex, err))
		}
	}

	if cfg.Session.AuthDir == "" {
		errs = append(errs, fmt.Errorf("%s must not be empty", KeyAuthDir))
	}
	switch cfg.Session.RestartMode {
	case "inprocess", "exit":
	default:
		errs = append(errs, fmt.Errorf("%s must be one of: inprocess, exit", KeyRestartMode))
	}
	if cfg.Session.ReconnectDelay <= 0 {
		errs = append(errs, fmt.Errorf("%s must be a positive duration such as 2s", KeyReconnectDelay))
	}

	if cfg.Control.Port < 0 || cfg.Control.Port > 65535 {
		errs = append(errs, fmt.Errorf("%s must be between 0 and 65535", KeyPort))
	}
	if len(cfg.Control.AllowOrigins) == 0 {
		errs = append(errs, fmt.Errorf("%s must name at least one origin", KeyCORSOrigin))
	}

	if _, err := ParseLogLevel(cfg.LogLevel); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation: %w", errors.Join(errs...))
	}
	return nil
}

// ParseLogLevel maps LOG_LEVEL onto a slog level. Empty means info.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug", "trace":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "fatal":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("%s: unknown level %q", KeyLogLevel, level)
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
