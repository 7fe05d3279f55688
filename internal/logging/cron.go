package logging

import "log/slog"

// CronLogger adapts a slog logger to the logger interface used by robfig/cron.
type CronLogger struct {
	logger *slog.Logger
}

// NewCronLogger wraps logger. Cron's chatty scheduling messages are logged at debug level.
func NewCronLogger(logger *slog.Logger) CronLogger {
	return CronLogger{logger: logger}
}

// Info logs routine scheduler events.
func (l CronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

// Error logs scheduler failures, including recovered panics.
func (l CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
