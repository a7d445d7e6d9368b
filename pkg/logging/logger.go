/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: logger.go
Description: Structured logging system for the Liora Fuzzer. Provides logrus-based
logging with per-session log files, text and JSON formats, and guidance-specific
helpers for recording saved inputs, unique failures, and cycle summaries.
*/

package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warn"
	LogLevelError   LogLevel = "error"
)

// LogFormat represents the logging format.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

// LoggerConfig holds the configuration for the logger.
type LoggerConfig struct {
	Level     LogLevel  `json:"level"`
	Format    LogFormat `json:"format"`
	OutputDir string    `json:"output_dir"`
	Filename  string    `json:"filename"`
	Truncate  bool      `json:"truncate"`
	Console   bool      `json:"console"`
	Colors    bool      `json:"colors"`
}

// Validate checks the LoggerConfig for invalid or missing values.
func (c *LoggerConfig) Validate() error {
	switch c.Format {
	case LogFormatJSON, LogFormatText:
		// ok
	default:
		return fmt.Errorf("unsupported log format: %s", c.Format)
	}
	switch c.Level {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
		// ok
	default:
		return fmt.Errorf("unsupported log level: %s", c.Level)
	}
	return nil
}

// Logger provides structured logging for the fuzzing engine.
type Logger struct {
	config     *LoggerConfig
	logger     *logrus.Logger
	fileHandle *os.File
	startTime  time.Time
}

// NewLogger creates a new logger instance.
func NewLogger(config *LoggerConfig) (*Logger, error) {
	if config == nil {
		config = &LoggerConfig{
			Level:   LogLevelInfo,
			Format:  LogFormatText,
			Console: true,
			Colors:  true,
		}
	}

	l := &Logger{
		config:    config,
		logger:    logrus.New(),
		startTime: time.Now(),
	}

	if err := l.setup(); err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	return l, nil
}

// setup configures the logger with the given configuration.
func (l *Logger) setup() error {
	level, err := logrus.ParseLevel(string(l.config.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.logger.SetLevel(level)

	switch l.config.Format {
	case LogFormatJSON:
		l.logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	default:
		l.logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
			ForceColors:     l.config.Colors,
			DisableColors:   !l.config.Colors,
		})
	}

	return l.setupOutput()
}

// setupOutput wires file and console writers.
func (l *Logger) setupOutput() error {
	writers := make([]io.Writer, 0, 2)
	if l.config.Console {
		writers = append(writers, os.Stderr)
	}

	if l.config.OutputDir != "" {
		if err := os.MkdirAll(l.config.OutputDir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		name := l.config.Filename
		if name == "" {
			name = "fuzz.log"
		}
		path := filepath.Join(l.config.OutputDir, name)
		flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
		if l.config.Truncate {
			flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		}
		file, err := os.OpenFile(path, flags, 0666)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		l.fileHandle = file
		writers = append(writers, file)
	}

	if len(writers) == 0 {
		l.logger.SetOutput(io.Discard)
		return nil
	}
	l.logger.SetOutput(io.MultiWriter(writers...))
	return nil
}

// Fuzzer-specific logging methods

// LogSavedInput records a corpus save with its reason tags.
func (l *Logger) LogSavedInput(id int, trial int64, size int, totalCoverage int, why string) {
	l.logger.WithFields(logrus.Fields{
		"input_id":       id,
		"trial":          trial,
		"size":           size,
		"total_coverage": totalCoverage,
		"why":            why,
	}).Info("Saved new input")
}

// LogFailure records a newly discovered unique failure.
func (l *Logger) LogFailure(file string, desc string, why string) {
	l.logger.WithFields(logrus.Fields{
		"file": file,
		"how":  desc,
		"why":  why,
	}).Warn("Found unique failure")
}

// LogCycle records a completed corpus cycle.
func (l *Logger) LogCycle(cycle int, favored int, totalCoverage int) {
	l.logger.WithFields(logrus.Fields{
		"cycle":          cycle,
		"favored":        favored,
		"total_coverage": totalCoverage,
	}).Info("Cycle completed")
}

// Infof logs a formatted info message.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.logger.Infof(format, args...)
}

// Debugf logs a formatted debug message.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

// Warnf logs a formatted warning message.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

// Errorf logs a formatted error message.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

// Close closes the logger's file handle, if any.
func (l *Logger) Close() error {
	if l.fileHandle != nil {
		return l.fileHandle.Close()
	}
	return nil
}

// GetLogger returns the underlying logrus logger.
func (l *Logger) GetLogger() *logrus.Logger {
	return l.logger
}
