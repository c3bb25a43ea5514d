package bus

import (
	"context"

	"go.uber.org/zap"
)

// NullBus is a no-op implementation of the bus interface for when Redis is disabled
type NullBus struct {
	logger *zap.Logger
}

// NewNullBus creates a new null bus instance
func NewNullBus(logger *zap.Logger) *NullBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NullBus{logger: logger.Named("nullbus")}
}

// Close is a no-op for null bus
func (nb *NullBus) Close() error {
	return nil
}

// Publish logs the message but doesn't actually publish it
func (nb *NullBus) Publish(ctx context.Context, msg WorkflowMessage) error {
	nb.logger.Debug("would publish (redis disabled)", zap.String("type", msg.Type), zap.String("case", msg.CaseID))
	return nil
}

// ReadWorkflow blocks until ctx is cancelled since there is nothing to read
func (nb *NullBus) ReadWorkflow(ctx context.Context, group, consumer string, handler func(ctx context.Context, msg WorkflowMessage) error) error {
	nb.logger.Debug("would read workflow stream (redis disabled)", zap.String("group", group), zap.String("consumer", consumer))
	<-ctx.Done()
	return ctx.Err()
}

// GetStats returns empty stats for null bus
func (nb *NullBus) GetStats(ctx context.Context) (map[string]any, error) {
	return map[string]any{
		"type":   "null",
		"status": "disabled",
	}, nil
}

// HealthCheck always returns nil for null bus
func (nb *NullBus) HealthCheck(ctx context.Context) error {
	return nil
}

// Reset is a no-op for null bus
func (nb *NullBus) Reset(ctx context.Context) error {
	return nil
}
