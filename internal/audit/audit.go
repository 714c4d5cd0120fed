// Package audit provides append-only logging for security-sensitive events
// around API key handling. Events are written as JSON lines to a dedicated
// sink, separate from application logs, for compliance and investigation.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Action constants for standardized audit event types.
const (
	// ActionKeyCreate is emitted when a new vendor key is stored.
	ActionKeyCreate = "key.create"
	// ActionKeyDeactivate is emitted when a key is retired.
	ActionKeyDeactivate = "key.deactivate"
	// ActionKeyAccess is emitted when a decrypted key is handed to a caller.
	ActionKeyAccess = "key.access"
	// ActionDecryptFailure is emitted when a stored bundle fails to decrypt.
	// Format and authentication failures are distinguished in Details so
	// tampering is separable from corruption during investigations.
	ActionDecryptFailure = "key.decrypt_failure"
)

// Actor types for common audit actors.
const (
	ActorSystem     = "system"
	ActorManagement = "management_api"
	ActorCLI        = "cli"
)

// ResultType represents the outcome of an audited operation.
type ResultType string

const (
	// ResultSuccess indicates the operation completed successfully.
	ResultSuccess ResultType = "success"
	// ResultFailure indicates the operation failed.
	ResultFailure ResultType = "failure"
)

// Event represents a security audit event. Details must never contain key
// material, plaintext or encrypted.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"`
	Actor     string         `json:"actor"`
	KeyID     string         `json:"key_id,omitempty"`
	Provider  string         `json:"provider,omitempty"`
	Result    ResultType     `json:"result"`
	Details   map[string]any `json:"details,omitempty"`
}

// NewEvent creates an audit event with the current UTC timestamp.
func NewEvent(action, actor string, result ResultType) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		Action:    action,
		Actor:     actor,
		Result:    result,
		Details:   make(map[string]any),
	}
}

// WithKeyID sets the affected key's ID.
func (e *Event) WithKeyID(keyID string) *Event {
	e.KeyID = keyID
	return e
}

// WithProvider sets the affected key's provider.
func (e *Event) WithProvider(provider string) *Event {
	e.Provider = provider
	return e
}

// WithDetail adds one detail field.
func (e *Event) WithDetail(key string, value any) *Event {
	e.Details[key] = value
	return e
}

// Logger writes audit events to a file backend with append-only semantics.
// It is safe for concurrent use. A nil *Logger discards events, so callers
// can leave auditing unconfigured without nil checks.
type Logger struct {
	file   *os.File
	writer io.Writer
	mutex  sync.Mutex
	path   string
}

// LoggerConfig holds configuration for the audit logger.
type LoggerConfig struct {
	// FilePath is the path to the audit log file.
	FilePath string
	// CreateDir determines whether to create parent directories.
	CreateDir bool
}

// NewLogger creates an audit logger appending to the configured file.
func NewLogger(config LoggerConfig) (*Logger, error) {
	if config.FilePath == "" {
		return nil, fmt.Errorf("audit log file path cannot be empty")
	}

	if config.CreateDir {
		dir := filepath.Dir(config.FilePath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create audit log directory: %w", err)
		}
	}

	file, err := os.OpenFile(config.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	return &Logger{file: file, writer: file, path: config.FilePath}, nil
}

// NewWriterLogger creates an audit logger over an arbitrary writer.
// Used by tests.
func NewWriterLogger(w io.Writer) *Logger {
	return &Logger{writer: w}
}

// Log writes an audit event as one JSON line.
func (l *Logger) Log(event *Event) error {
	if l == nil {
		return nil
	}
	if event == nil {
		return fmt.Errorf("audit event cannot be nil")
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}

	if syncer, ok := l.writer.(interface{ Sync() error }); ok {
		if err := syncer.Sync(); err != nil {
			return fmt.Errorf("failed to sync audit log: %w", err)
		}
	}

	return nil
}

// Close closes the audit log file. After Close, the logger must not be used.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}
