package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf)

	event := NewEvent(ActionDecryptFailure, ActorManagement, ResultFailure).
		WithKeyID("key-123").
		WithProvider("ANTHROPIC").
		WithDetail("reason", "authentication_failed")
	require.NoError(t, logger.Log(event))

	second := NewEvent(ActionKeyCreate, ActorCLI, ResultSuccess).WithKeyID("key-456")
	require.NoError(t, logger.Log(second))

	scanner := bufio.NewScanner(&buf)

	require.True(t, scanner.Scan())
	var decoded Event
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &decoded))
	assert.Equal(t, ActionDecryptFailure, decoded.Action)
	assert.Equal(t, "key-123", decoded.KeyID)
	assert.Equal(t, "ANTHROPIC", decoded.Provider)
	assert.Equal(t, ResultFailure, decoded.Result)
	assert.Equal(t, "authentication_failed", decoded.Details["reason"])
	assert.WithinDuration(t, time.Now(), decoded.Timestamp, time.Minute)

	require.True(t, scanner.Scan())
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &decoded))
	assert.Equal(t, ActionKeyCreate, decoded.Action)
}

func TestLogNilEvent(t *testing.T) {
	logger := NewWriterLogger(&bytes.Buffer{})
	assert.Error(t, logger.Log(nil))
}

func TestNilLoggerDiscards(t *testing.T) {
	var logger *Logger
	assert.NoError(t, logger.Log(NewEvent(ActionKeyAccess, ActorSystem, ResultSuccess)))
	assert.NoError(t, logger.Close())
}

func TestNewLoggerCreatesDirAndAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.log")

	logger, err := NewLogger(LoggerConfig{FilePath: path, CreateDir: true})
	require.NoError(t, err)
	require.NoError(t, logger.Log(NewEvent(ActionKeyCreate, ActorCLI, ResultSuccess)))
	require.NoError(t, logger.Close())

	// Reopening appends rather than truncating.
	logger, err = NewLogger(LoggerConfig{FilePath: path})
	require.NoError(t, err)
	require.NoError(t, logger.Log(NewEvent(ActionKeyDeactivate, ActorCLI, ResultSuccess)))
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, bytes.Count(data, []byte("\n")))
}

func TestNewLoggerRequiresPath(t *testing.T) {
	_, err := NewLogger(LoggerConfig{})
	assert.Error(t, err)
}
