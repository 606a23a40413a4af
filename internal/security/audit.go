// Package security provides audit logging and input masking for the workflow API.
package security

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

// AuditEventType represents the type of audit event.
type AuditEventType string

const (
	// Authentication events
	AuditAuthFailed  AuditEventType = "AUTH_FAILED"
	AuditRateLimited AuditEventType = "RATE_LIMITED"

	// Risk governor events
	AuditExecutionBlocked AuditEventType = "EXECUTION_BLOCKED"
	AuditAutoAlertBlocked AuditEventType = "AUTO_ALERT_BLOCKED"

	// Operator events
	AuditContextChanged AuditEventType = "OPERATOR_CONTEXT_CHANGED"

	// Validation events
	AuditInputValidation AuditEventType = "INPUT_VALIDATION"
)

// AuditEvent represents a single audit log entry.
type AuditEvent struct {
	Timestamp   time.Time              `json:"timestamp"`
	EventType   AuditEventType         `json:"event_type"`
	WorkspaceID string                 `json:"workspace_id,omitempty"`
	WorkflowID  string                 `json:"workflow_id,omitempty"`
	EventID     string                 `json:"event_id,omitempty"`
	Symbol      string                 `json:"symbol,omitempty"`
	ReasonCode  string                 `json:"reason_code,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Success     bool                   `json:"success"`
	ErrorMsg    string                 `json:"error,omitempty"`
	InstanceID  string                 `json:"instance_id,omitempty"`
	RequestID   string                 `json:"request_id,omitempty"`
}

// RequestIDKey is the context key carrying the request id into audit events.
type RequestIDKey struct{}

// AuditLogger writes audit events as JSON lines.
type AuditLogger struct {
	writer     io.WriteCloser
	mu         sync.Mutex
	instanceID string
	now        func() time.Time
}

// AuditConfig holds audit logger configuration.
type AuditConfig struct {
	LogDir     string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// DefaultAuditConfig returns the default audit configuration.
func DefaultAuditConfig() AuditConfig {
	home, _ := os.UserHomeDir()
	return AuditConfig{
		LogDir:     filepath.Join(home, ".config", "tradeflow", "audit"),
		MaxSize:    50,
		MaxBackups: 30,
		MaxAge:     365, // Keep audit logs for 1 year
		Compress:   true,
	}
}

// NewAuditLogger creates a rotating audit logger under cfg.LogDir.
func NewAuditLogger(cfg AuditConfig) (*AuditLogger, error) {
	// Ensure audit directory exists with restricted permissions
	if err := os.MkdirAll(cfg.LogDir, 0700); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	writer := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDir, "audit.log"),
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	return NewAuditLoggerWithWriter(writer), nil
}

// NewAuditLoggerWithWriter creates an audit logger over any writer.
func NewAuditLoggerWithWriter(w io.WriteCloser) *AuditLogger {
	return &AuditLogger{
		writer:     w,
		instanceID: uuid.NewString(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Log writes an audit event. A nil logger discards it.
func (al *AuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if al == nil {
		return nil
	}
	al.mu.Lock()
	defer al.mu.Unlock()

	event.Timestamp = al.now()
	event.InstanceID = al.instanceID
	if reqID, ok := ctx.Value(RequestIDKey{}).(string); ok {
		event.RequestID = reqID
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("serializing audit event: %w", err)
	}
	if _, err := al.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit event: %w", err)
	}
	return nil
}

// LogExecutionBlocked records a system trade execution rejected by the governor.
func (al *AuditLogger) LogExecutionBlocked(ctx context.Context, workspaceID, workflowID, eventID, symbol, packetID, reasonCode, reason string) error {
	details := map[string]interface{}{"reason": reason}
	if packetID != "" {
		details["decision_packet_id"] = packetID
	}
	return al.Log(ctx, AuditEvent{
		EventType:   AuditExecutionBlocked,
		WorkspaceID: workspaceID,
		WorkflowID:  workflowID,
		EventID:     eventID,
		Symbol:      symbol,
		ReasonCode:  reasonCode,
		Details:     details,
		Success:     false,
		ErrorMsg:    reason,
	})
}

// LogAutoAlertBlocked records an auto-alert suppressed by the governor.
func (al *AuditLogger) LogAutoAlertBlocked(ctx context.Context, workspaceID, workflowID, eventID, symbol, reasonCode string) error {
	return al.Log(ctx, AuditEvent{
		EventType:   AuditAutoAlertBlocked,
		WorkspaceID: workspaceID,
		WorkflowID:  workflowID,
		EventID:     eventID,
		Symbol:      symbol,
		ReasonCode:  reasonCode,
		Success:     false,
	})
}

// LogAuthFailed records a request without a resolvable workspace.
func (al *AuditLogger) LogAuthFailed(ctx context.Context, remoteAddr, authorization string) error {
	return al.Log(ctx, AuditEvent{
		EventType: AuditAuthFailed,
		Success:   false,
		ErrorMsg:  "no workspace session",
		Details: map[string]interface{}{
			"remote_addr":   remoteAddr,
			"authorization": MaskCredential(authorization),
		},
	})
}

// LogRateLimited records a rejected request.
func (al *AuditLogger) LogRateLimited(ctx context.Context, workspaceID string) error {
	return al.Log(ctx, AuditEvent{
		EventType:   AuditRateLimited,
		WorkspaceID: workspaceID,
		Success:     false,
	})
}

// LogContextChanged records an operator context patch.
func (al *AuditLogger) LogContextChanged(ctx context.Context, workspaceID string, keys []string) error {
	return al.Log(ctx, AuditEvent{
		EventType:   AuditContextChanged,
		WorkspaceID: workspaceID,
		Success:     true,
		Details:     map[string]interface{}{"keys": keys},
	})
}

// LogInputValidation logs an input validation failure.
func (al *AuditLogger) LogInputValidation(ctx context.Context, workspaceID, field, value, reason string) error {
	return al.Log(ctx, AuditEvent{
		EventType:   AuditInputValidation,
		WorkspaceID: workspaceID,
		Success:     false,
		ErrorMsg:    reason,
		Details: map[string]interface{}{
			"field": field,
			"value": MaskSensitive(value),
		},
	})
}

// Close closes the audit logger.
func (al *AuditLogger) Close() error {
	if al == nil {
		return nil
	}
	return al.writer.Close()
}
