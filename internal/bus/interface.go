// Package bus publishes case workflow transitions on a Redis stream so other
// workstations and tools can follow an investigation as it progresses.
package bus

import (
	"context"

	"go.uber.org/zap"
)

// WorkflowStream is the Redis stream carrying workflow messages.
const WorkflowStream = "hwid:workflow"

// Message types.
const (
	TypeCaseCreated      = "case_created"
	TypeEvidenceUploaded = "evidence_uploaded"
	TypeSuspectToggled   = "suspect_toggled"
	TypeMatchCompleted   = "match_completed"
	TypeMatchFailed      = "match_failed"
	TypeSessionReset     = "session_reset"
)

// WorkflowMessage is one workflow transition.
type WorkflowMessage struct {
	Type      string            `json:"type"`
	CaseID    string            `json:"case_id"`
	Actor     string            `json:"actor,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// Bus defines the interface for event bus implementations
type Bus interface {
	// Publish appends a message to the workflow stream
	Publish(ctx context.Context, msg WorkflowMessage) error

	// ReadWorkflow consumes the workflow stream as a member of group
	ReadWorkflow(ctx context.Context, group, consumer string, handler func(ctx context.Context, msg WorkflowMessage) error) error

	// GetStats returns basic statistics about the bus
	GetStats(ctx context.Context) (map[string]any, error)

	// HealthCheck performs a health check on the bus connection
	HealthCheck(ctx context.Context) error

	// Reset deletes the workflow stream
	Reset(ctx context.Context) error

	// Close closes the bus connection
	Close() error
}

// NewBus creates a new bus instance based on the Redis URL.
// If redisURL is empty or Redis is unreachable, returns a NullBus.
func NewBus(redisURL string, logger *zap.Logger) Bus {
	if logger == nil {
		logger = zap.NewNop()
	}

	if redisURL == "" {
		return NewNullBus(logger)
	}

	redisBus, err := NewRedisBus(redisURL, logger)
	if err == nil {
		return redisBus
	}

	logger.Warn("redis unavailable, workflow events disabled", zap.Error(err))
	return NewNullBus(logger)
}
