package config

import (
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultAuthDir        = "./auth"
	DefaultPort           = 3000
	DefaultReconnectDelay = 2 * time.Second
)

// Defaults returns a config with every optional key at its default. The
// webhook URL stays empty and must be supplied.
func Defaults() *Config {
	return &Config{
		Filter: FilterConfig{
			TextFallback: true,
		},
		Owner: OwnerConfig{
			CrossForm: true,
		},
		Session: SessionConfig{
			AuthDir:        DefaultAuthDir,
			RestartMode:    "inprocess",
			ReconnectDelay: DefaultReconnectDelay,
		},
		Control: ControlConfig{
			Port:         DefaultPort,
			AllowOrigins: []string{"*"},
		},
		LogLevel: "info",
	}
}

func applyDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault(KeyWebhookDebug, d.Webhook.Debug)
	v.SetDefault(KeyForwardAll, d.Filter.ForwardAll)
	v.SetDefault(KeyExcludeQuoted, d.Filter.ExcludeQuoted)
	v.SetDefault(KeyTextFallback, d.Filter.TextFallback)
	v.SetDefault(KeyCrossForm, d.Owner.CrossForm)
	v.SetDefault(KeyAuthDir, d.Session.AuthDir)
	v.SetDefault(KeyRestartMode, d.Session.RestartMode)
	v.SetDefault(KeyReconnectDelay, d.Session.ReconnectDelay)
	v.SetDefault(KeyPort, d.Control.Port)
	v.SetDefault(KeyCORSOrigin, "*")
	v.SetDefault(KeyLogLevel, d.LogLevel)
}
