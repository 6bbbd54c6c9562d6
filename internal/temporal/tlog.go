package temporal

import (
	tlog "go.temporal.io/sdk/log"

	"github.com/renderfleet/orchestrator/internal/infrastructure/logger"
)

// engineLogger adapts our zerolog wrapper to the Temporal SDK's logging
// interface so workflow and activity logs land in the same sink.
type engineLogger struct {
	log *logger.Logger
}

// NewEngineLogger wraps a logger for the Temporal SDK.
func NewEngineLogger(log *logger.Logger) tlog.Logger {
	if log == nil {
		log = logger.Nop()
	}
	return &engineLogger{log: log}
}

func (l *engineLogger) Debug(msg string, keyvals ...any) { l.log.Debug(msg, keyvals...) }
func (l *engineLogger) Info(msg string, keyvals ...any)  { l.log.Info(msg, keyvals...) }
func (l *engineLogger) Warn(msg string, keyvals ...any)  { l.log.Warn(msg, keyvals...) }
func (l *engineLogger) Error(msg string, keyvals ...any) { l.log.Error(msg, keyvals...) }
