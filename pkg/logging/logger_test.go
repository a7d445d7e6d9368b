/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: logger_test.go
Description: Unit tests for the logging system. Verifies configuration
validation, log file creation, and the guidance-specific logging helpers.
*/

package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerConfigValidate(t *testing.T) {
	valid := &LoggerConfig{Level: LogLevelInfo, Format: LogFormatText}
	assert.NoError(t, valid.Validate())

	badFormat := &LoggerConfig{Level: LogLevelInfo, Format: "xml"}
	assert.Error(t, badFormat.Validate())

	badLevel := &LoggerConfig{Level: "loud", Format: LogFormatJSON}
	assert.Error(t, badLevel.Validate())
}

func TestLoggerWritesToFile(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(&LoggerConfig{
		Level:     LogLevelDebug,
		Format:    LogFormatText,
		OutputDir: dir,
		Filename:  "fuzz.log",
	})
	require.NoError(t, err)

	logger.LogSavedInput(0, 1, 16, 3, "+cov")
	logger.LogFailure("failures/id_000000", "src:000000,havoc:2", "+crash")
	logger.LogCycle(1, 2, 10)
	logger.Infof("plain %s", "message")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(filepath.Join(dir, "fuzz.log"))
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "Saved new input")
	assert.Contains(t, content, "Found unique failure")
	assert.Contains(t, content, "Cycle completed")
	assert.Contains(t, content, "plain message")
}

func TestLoggerDefaults(t *testing.T) {
	logger, err := NewLogger(nil)
	require.NoError(t, err)
	defer logger.Close()

	assert.NotNil(t, logger.GetLogger())
}

func TestLoggerLevelFiltering(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(&LoggerConfig{
		Level:     LogLevelWarning,
		Format:    LogFormatText,
		OutputDir: dir,
		Filename:  "fuzz.log",
	})
	require.NoError(t, err)

	logger.Debugf("hidden detail")
	logger.Warnf("visible warning")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(filepath.Join(dir, "fuzz.log"))
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(data), "hidden detail"))
	assert.Contains(t, string(data), "visible warning")
}
