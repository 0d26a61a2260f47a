package whatsapp

import (
	"context"
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"
)

var _ waLog.Logger = (*slogAdapter)(nil)

// slogAdapter routes whatsmeow's printf-style logging into slog.
type slogAdapter struct {
	logger *slog.Logger
}

// NewLogger wraps logger as a whatsmeow logger tagged with module.
func NewLogger(logger *slog.Logger, module string) waLog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &slogAdapter{logger: logger.With("module", module)}
}

func (a *slogAdapter) log(level slog.Level, msg string, args []interface{}) {
	if !a.logger.Enabled(context.Background(), level) {
		return
	}
	a.logger.Log(context.Background(), level, fmt.Sprintf(msg, args...))
}

func (a *slogAdapter) Debugf(msg string, args ...interface{}) { a.log(slog.LevelDebug, msg, args) }
func (a *slogAdapter) Infof(msg string, args ...interface{})  { a.log(slog.LevelInfo, msg, args) }
func (a *slogAdapter) Warnf(msg string, args ...interface{})  { a.log(slog.LevelWarn, msg, args) }
func (a *slogAdapter) Errorf(msg string, args ...interface{}) { a.log(slog.LevelError, msg, args) }

func (a *slogAdapter) Sub(module string) waLog.Logger {
	return &slogAdapter{logger: a.logger.With("sub", module)}
}
