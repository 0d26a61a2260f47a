package config

import (
	"strings"
)

// Sanitize returns a copy of the config with sensitive values masked.
func Sanitize(cfg *Config) *Config {
	copy := *cfg
	copy.Control.AllowOrigins = append([]string(nil), cfg.Control.AllowOrigins...)

	if copy.Webhook.Secret != "" {
		copy.Webhook.Secret = maskString(copy.Webhook.Secret)
	}
	if copy.Control.AdminSecret != "" {
		copy.Control.AdminSecret = maskString(copy.Control.AdminSecret)
	}
	return &copy
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns every configuration key with its current value, keyed by
// environment variable name.
func ListPaths(cfg *Config) map[string]any {
	return map[string]any{
		KeyWebhookURL:     cfg.Webhook.URL,
		KeyWebhookSecret:  cfg.Webhook.Secret,
		KeyWebhookDebug:   cfg.Webhook.Debug,
		KeyForwardAll:     cfg.Filter.ForwardAll,
		KeyTagRegex:       cfg.Filter.TagRegex,
		KeyExcludeQuoted:  cfg.Filter.ExcludeQuoted,
		KeyTextFallback:   cfg.Filter.TextFallback,
		KeyMyPhone:        cfg.Owner.Phone,
		KeyMyLIDBase:      cfg.Owner.Opaque,
		KeyOwnerDisplay:   cfg.Owner.DisplayName,
		KeyCrossForm:      cfg.Owner.CrossForm,
		KeyAliasFile:      cfg.Owner.AliasFile,
		KeyAuthDir:        cfg.Session.AuthDir,
		KeyRestartMode:    cfg.Session.RestartMode,
		KeyReconnectDelay: cfg.Session.ReconnectDelay.String(),
		KeyPort:           cfg.Control.Port,
		KeyAdminSecret:    cfg.Control.AdminSecret,
		KeyCORSOrigin:     strings.Join(cfg.Control.AllowOrigins, ","),
		KeyFrontURL:       cfg.Control.FrontURL,
		KeyLogLevel:       cfg.LogLevel,
	}
}
