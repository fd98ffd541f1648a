package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// defaultBackgroundLoggingEnabled is the default value when no config is available.
// The runtime config option logging.background_enabled overrides this default.
const defaultBackgroundLoggingEnabled = true

// Logger provides leveled logging with verbose mode support. Output goes to
// stderr through a zerolog console writer.
type Logger struct {
	mu      sync.RWMutex
	verbose bool
	out     io.Writer
	zl      zerolog.Logger
}

var (
	loggerInstance *Logger
	once           sync.Once
)

// GetLogger returns the singleton logger instance.
func GetLogger() *Logger {
	once.Do(func() {
		loggerInstance = &Logger{out: os.Stderr}
		loggerInstance.rebuild()
	})
	return loggerInstance
}

// SetVerboseMode sets the verbose mode globally.
func SetVerboseMode(verbose bool) {
	GetLogger().SetVerbose(verbose)
}

// SetVerbose sets the verbose mode for this logger instance.
func (l *Logger) SetVerbose(verbose bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.verbose = verbose
	l.rebuild()
}

// SetOutput redirects log output.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = w
	l.rebuild()
}

// rebuild recreates the zerolog logger. l.mu must be held (or l unshared).
func (l *Logger) rebuild() {
	level := zerolog.InfoLevel
	if l.verbose {
		level = zerolog.DebugLevel
	}
	cw := zerolog.ConsoleWriter{Out: l.out, NoColor: true, TimeFormat: "15:04:05"}
	l.zl = zerolog.New(cw).Level(level).With().Timestamp().Logger()
}

// IsVerbose returns whether verbose mode is enabled.
func (l *Logger) IsVerbose() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.verbose
}

// Zerolog returns the structured logger handed to components.
func (l *Logger) Zerolog() zerolog.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.zl
}

// formatMessage formats a message with optional printf-style arguments.
func formatMessage(msgOrFormat string, args ...any) string {
	if len(args) > 0 {
		return fmt.Sprintf(msgOrFormat, args...)
	}
	return msgOrFormat
}

// Debug logs a debug message (only shown when verbose=true).
func (l *Logger) Debug(msgOrFormat string, args ...any) {
	zl := l.Zerolog()
	zl.Debug().Msg(formatMessage(msgOrFormat, args...))
}

// Info logs an info message (always shown).
func (l *Logger) Info(msgOrFormat string, args ...any) {
	zl := l.Zerolog()
	zl.Info().Msg(formatMessage(msgOrFormat, args...))
}

// Warn logs a warning message (always shown).
func (l *Logger) Warn(msgOrFormat string, args ...any) {
	zl := l.Zerolog()
	zl.Warn().Msg(formatMessage(msgOrFormat, args...))
}

// Error logs an error message (always shown).
func (l *Logger) Error(msgOrFormat string, args ...any) {
	zl := l.Zerolog()
	zl.Error().Msg(formatMessage(msgOrFormat, args...))
}

// Debugf logs a debug message using the global logger.
func Debugf(format string, args ...any) {
	GetLogger().Debug(format, args...)
}

// Infof logs an info message using the global logger.
func Infof(format string, args ...any) {
	GetLogger().Info(format, args...)
}

// Warnf logs a warning message using the global logger.
func Warnf(format string, args ...any) {
	GetLogger().Warn(format, args...)
}

// Errorf logs an error message using the global logger.
func Errorf(format string, args ...any) {
	GetLogger().Error(format, args...)
}

// BackgroundLogger writes JSON logs of background processes to a PID-specific file.
type BackgroundLogger struct {
	zl       zerolog.Logger
	logFile  *os.File
	enabled  bool
	filePath string
}

// NewBackgroundLogger creates a background logger with a PID-specific log file.
func NewBackgroundLogger() (*BackgroundLogger, error) {
	return NewBackgroundLoggerWithEnabled(defaultBackgroundLoggingEnabled)
}

// NewBackgroundLoggerWithEnabled creates a background logger with explicit enabled control.
// Pass config.IsBackgroundLoggingEnabled() to honor the logging.background_enabled config.
func NewBackgroundLoggerWithEnabled(enabled bool) (*BackgroundLogger, error) {
	if !enabled {
		return &BackgroundLogger{zl: zerolog.Nop()}, nil
	}
	logPath := filepath.Join(os.TempDir(), fmt.Sprintf("pantryat-%d.log", os.Getpid()))
	return NewBackgroundLoggerWithPath(logPath)
}

// NewBackgroundLoggerWithPath creates a background logger with a custom path.
// On failure it degrades to a disabled logger and returns the error.
func NewBackgroundLoggerWithPath(path string) (*BackgroundLogger, error) {
	bl := &BackgroundLogger{filePath: path, zl: zerolog.Nop()}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return bl, err
	}

	bl.logFile = file
	bl.zl = zerolog.New(file).With().Timestamp().Int("pid", os.Getpid()).Logger()
	bl.enabled = true
	return bl, nil
}

// Zerolog returns the structured logger writing to the log file.
func (bl *BackgroundLogger) Zerolog() zerolog.Logger {
	return bl.zl
}

// Printf logs a formatted message at info level.
func (bl *BackgroundLogger) Printf(format string, args ...any) {
	bl.zl.Info().Msgf(format, args...)
}

// Close closes the log file; later writes are discarded.
func (bl *BackgroundLogger) Close() {
	if bl.logFile != nil {
		_ = bl.logFile.Sync()
		_ = bl.logFile.Close()
		bl.logFile = nil
	}
	bl.zl = zerolog.Nop()
	bl.enabled = false
}

// GetLogPath returns the log file path.
func (bl *BackgroundLogger) GetLogPath() string {
	return bl.filePath
}

// IsEnabled returns whether background logging is enabled.
func (bl *BackgroundLogger) IsEnabled() bool {
	return bl.enabled
}

