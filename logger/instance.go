package logger

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Global logger instance
var defaultLogger atomic.Pointer[Logger]

func init() {
	// The console-only default cannot fail
	l, _ := New(DefaultConfig())
	defaultLogger.Store(l)
}

// InitFromConfig replaces the default logger with one built from configuration
func InitFromConfig(level, filePath string, maxSize, maxBackups int, console bool) error {
	logLevel, err := ParseLogLevel(level)
	if err != nil {
		return err
	}

	l, err := New(LoggerConfig{
		Level:      logLevel,
		FilePath:   filePath,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		Console:    console,
	})
	if err != nil {
		return err
	}

	Replace(l)
	return nil
}

// Replace installs l as the default logger and closes the previous one
func Replace(l *Logger) {
	if old := defaultLogger.Swap(l); old != nil && old != l {
		old.Close()
	}
}

// SetLevel changes the level of the default logger
func SetLevel(level string) error {
	logLevel, err := ParseLogLevel(level)
	if err != nil {
		return err
	}
	defaultLogger.Load().SetLevel(logLevel)
	return nil
}

// ParseLogLevel parses log level string
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG", "TRACE":
		return DEBUG, nil
	case "INFO", "":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("unknown log level: %s", level)
	}
}

// Debug logs debug level messages
func Debug(format string, args ...interface{}) {
	defaultLogger.Load().log(2, DEBUG, format, args...)
}

// Info logs info level messages
func Info(format string, args ...interface{}) {
	defaultLogger.Load().log(2, INFO, format, args...)
}

// Warn logs warning level messages
func Warn(format string, args ...interface{}) {
	defaultLogger.Load().log(2, WARN, format, args...)
}

// Error logs error level messages
func Error(format string, args ...interface{}) {
	defaultLogger.Load().log(2, ERROR, format, args...)
}

// Close closes the default logger
func Close() error {
	return defaultLogger.Load().Close()
}
