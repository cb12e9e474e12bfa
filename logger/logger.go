package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the log level
type LogLevel int

const (
	// DEBUG level
	DEBUG LogLevel = iota
	// INFO level
	INFO
	// WARN level
	WARN
	// ERROR level
	ERROR
)

// String representation of log levels
var levelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

var levelColors = map[LogLevel]string{
	DEBUG: "\033[90m", // Gray
	INFO:  "\033[32m", // Green
	WARN:  "\033[33m", // Yellow
	ERROR: "\033[31m", // Red
}

const resetColor = "\033[0m"

// Logger writes leveled lines to the console and optionally to a rotated file
type Logger struct {
	mu          sync.Mutex
	level       LogLevel
	console     io.Writer
	color       bool
	file        *os.File
	filePath    string
	maxSize     int64 // Unit: bytes
	maxBackups  int
	currentSize int64
}

// LoggerConfig represents the configuration for the logger
type LoggerConfig struct {
	// Log level
	Level LogLevel
	// Log file path, empty disables file output
	FilePath string
	// Maximum log file size in megabytes
	MaxSize int
	// Maximum number of backups
	MaxBackups int
	// Whether to log to console
	Console bool
	// Console destination, stderr when nil
	Writer io.Writer
}

// DefaultConfig returns default logger configuration
func DefaultConfig() LoggerConfig {
	return LoggerConfig{
		Level:      INFO,
		MaxSize:    10, // 10MB
		MaxBackups: 5,
		Console:    true,
	}
}

// New creates a new logger
func New(config LoggerConfig) (*Logger, error) {
	l := &Logger{
		level:      config.Level,
		filePath:   config.FilePath,
		maxSize:    int64(config.MaxSize) * 1024 * 1024, // Convert to bytes
		maxBackups: config.MaxBackups,
	}

	if config.Console {
		l.console = config.Writer
		if l.console == nil {
			l.console = os.Stderr
			l.color = isTerminal(os.Stderr)
		}
	}

	if config.FilePath == "" {
		return l, nil
	}

	// Ensure log directory exists
	if err := os.MkdirAll(filepath.Dir(config.FilePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(config.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to get log file info: %w", err)
	}

	l.file = file
	l.currentSize = info.Size()
	return l, nil
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// Level returns the current log level
func (l *Logger) Level() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// line renders one record without colors
func line(ts time.Time, level, file string, lineNo int, msg string) string {
	return fmt.Sprintf("%s [%s] %s:%d: %s\n", ts.Format("2006-01-02 15:04:05.000"), level, file, lineNo, msg)
}

// log writes one record. skip is the number of frames between the caller
// of interest and log.
func (l *Logger) log(skip int, level LogLevel, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	file, lineNo := "unknown", 0
	if _, path, n, ok := runtime.Caller(skip); ok {
		file, lineNo = filepath.Base(path), n
	}
	now := time.Now()
	msg := fmt.Sprintf(format, args...)

	if l.console != nil {
		tag := levelNames[level]
		if l.color {
			tag = levelColors[level] + tag + resetColor
		}
		io.WriteString(l.console, line(now, tag, file, lineNo, msg))
	}

	if l.file == nil {
		return
	}
	n, err := io.WriteString(l.file, line(now, levelNames[level], file, lineNo, msg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to write log: %v\n", err)
		return
	}
	l.currentSize += int64(n)
	if l.maxSize > 0 && l.currentSize >= l.maxSize {
		l.rotate()
	}
}

// backupPattern returns the name stem and extension of the log file; a
// backup is named <stem>.<timestamp><ext>
func (l *Logger) backupPattern() (stem, ext string) {
	ext = filepath.Ext(l.filePath)
	return strings.TrimSuffix(l.filePath, ext), ext
}

// rotate moves the full file aside and starts a new one
func (l *Logger) rotate() {
	l.file.Close()
	l.file = nil

	stem, ext := l.backupPattern()
	backup := stem + "." + time.Now().Format("20060102-150405.000") + ext
	if err := os.Rename(l.filePath, backup); err != nil {
		fmt.Fprintf(os.Stderr, "failed to rotate log file: %v\n", err)
	}
	l.pruneBackups()

	file, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create new log file: %v\n", err)
		return
	}
	l.file = file
	l.currentSize = 0
}

// pruneBackups keeps the newest maxBackups backups
func (l *Logger) pruneBackups() {
	stem, ext := l.backupPattern()
	backups, err := filepath.Glob(stem + ".*" + ext)
	if err != nil || len(backups) <= l.maxBackups {
		return
	}

	// the timestamp suffix sorts chronologically
	sort.Strings(backups)
	for _, old := range backups[:len(backups)-l.maxBackups] {
		os.Remove(old)
	}
}

// Debug logs debug level messages
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(2, DEBUG, format, args...)
}

// Info logs info level messages
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(2, INFO, format, args...)
}

// Warn logs warning level messages
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(2, WARN, format, args...)
}

// Error logs error level messages
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(2, ERROR, format, args...)
}

// Close closes the log file, if any
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
