package bus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// RedisBus provides Redis Streams-based workflow messaging
type RedisBus struct {
	client *redis.Client
	logger *zap.Logger
	stream string
}

// StreamMessage represents a message in a Redis Stream
type StreamMessage struct {
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields"`
}

// StreamHandler is a function that processes stream messages
type StreamHandler func(ctx context.Context, message StreamMessage) error

// NewRedisBus creates a new Redis bus instance
func NewRedisBus(redisURL string, logger *zap.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return newRedisBus(redis.NewClient(opts), logger)
}

func newRedisBus(client *redis.Client, logger *zap.Logger) (*RedisBus, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBus{
		client: client,
		logger: logger.Named("redisbus"),
		stream: WorkflowStream,
	}, nil
}

// Close closes the Redis connection
func (rb *RedisBus) Close() error {
	return rb.client.Close()
}

// Publish publishes a workflow message to the workflow stream
func (rb *RedisBus) Publish(ctx context.Context, msg WorkflowMessage) error {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().Unix()
	}
	dataJSON, err := json.Marshal(msg.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal message data: %w", err)
	}

	fields := map[string]any{
		"type":      msg.Type,
		"case_id":   msg.CaseID,
		"actor":     msg.Actor,
		"data":      string(dataJSON),
		"timestamp": msg.Timestamp,
	}

	if err := rb.client.XAdd(ctx, &redis.XAddArgs{Stream: rb.stream, Values: fields}).Err(); err != nil {
		return fmt.Errorf("failed to publish %s: %w", msg.Type, err)
	}

	rb.logger.Debug("published", zap.String("type", msg.Type), zap.String("case", msg.CaseID))
	return nil
}

// CreateConsumerGroup creates a consumer group for a stream if it doesn't exist
func (rb *RedisBus) CreateConsumerGroup(ctx context.Context, stream, group string) error {
	err := rb.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s for stream %s: %w", group, stream, err)
	}
	rb.logger.Debug("consumer group ready", zap.String("stream", stream), zap.String("group", group))
	return nil
}

// ReadStream reads messages from a stream using consumer groups. Messages whose
// handler fails are left pending.
func (rb *RedisBus) ReadStream(ctx context.Context, stream, group, consumer string, handler StreamHandler) error {
	if err := rb.CreateConsumerGroup(ctx, stream, group); err != nil {
		return err
	}

	rb.logger.Info("stream reader started",
		zap.String("stream", stream), zap.String("group", group), zap.String("consumer", consumer))

	for {
		select {
		case <-ctx.Done():
			rb.logger.Info("stream reader stopping", zap.String("stream", stream))
			return ctx.Err()
		default:
		}

		result := rb.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    10,
			Block:    1 * time.Second,
		})
		if err := result.Err(); err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			rb.logger.Warn("error reading stream", zap.String("stream", stream), zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, xs := range result.Val() {
			for _, message := range xs.Messages {
				streamMsg := StreamMessage{ID: message.ID, Fields: make(map[string]string, len(message.Values))}
				for key, value := range message.Values {
					if strValue, ok := value.(string); ok {
						streamMsg.Fields[key] = strValue
					}
				}

				if err := handler(ctx, streamMsg); err != nil {
					rb.logger.Warn("error processing message", zap.String("id", message.ID), zap.Error(err))
					continue
				}
				if err := rb.client.XAck(ctx, xs.Stream, group, message.ID).Err(); err != nil {
					rb.logger.Warn("error acknowledging message", zap.String("id", message.ID), zap.Error(err))
				}
			}
		}
	}
}

// ReadWorkflow reads from the workflow stream
func (rb *RedisBus) ReadWorkflow(ctx context.Context, group, consumer string, handler func(ctx context.Context, msg WorkflowMessage) error) error {
	return rb.ReadStream(ctx, rb.stream, group, consumer, func(ctx context.Context, message StreamMessage) error {
		return handler(ctx, decodeWorkflow(message))
	})
}

func decodeWorkflow(message StreamMessage) WorkflowMessage {
	msg := WorkflowMessage{
		Type:   message.Fields["type"],
		CaseID: message.Fields["case_id"],
		Actor:  message.Fields["actor"],
	}
	if dataJSON := message.Fields["data"]; dataJSON != "" && dataJSON != "null" {
		var data map[string]string
		if err := json.Unmarshal([]byte(dataJSON), &data); err == nil {
			msg.Data = data
		}
	}
	if ts, err := parseTimestamp(message.Fields["timestamp"]); err == nil {
		msg.Timestamp = ts
	}
	return msg
}

// parseTimestamp parses a timestamp string to epoch seconds
func parseTimestamp(timestamp string) (int64, error) {
	if timestamp == "" {
		return time.Now().Unix(), nil
	}

	if n, err := strconv.ParseInt(timestamp, 10, 64); err == nil {
		// 13+ digits are milliseconds
		if n > 1_000_000_000_000 {
			return n / 1000, nil
		}
		return n, nil
	}

	if ts, err := time.Parse(time.RFC3339Nano, timestamp); err == nil {
		return ts.Unix(), nil
	}

	return time.Now().Unix(), fmt.Errorf("unable to parse timestamp: %s", timestamp)
}

// HealthCheck performs a health check on the Redis connection
func (rb *RedisBus) HealthCheck(ctx context.Context) error {
	return rb.client.Ping(ctx).Err()
}

// Reset deletes the workflow stream and its consumer groups
func (rb *RedisBus) Reset(ctx context.Context) error {
	if err := rb.client.Del(ctx, rb.stream).Err(); err != nil {
		return fmt.Errorf("failed to delete stream %s: %w", rb.stream, err)
	}
	return nil
}

// CleanupOldMessages trims the workflow stream to maxLen entries
func (rb *RedisBus) CleanupOldMessages(ctx context.Context, maxLen int64) error {
	if err := rb.client.XTrimMaxLen(ctx, rb.stream, maxLen).Err(); err != nil {
		return fmt.Errorf("failed to trim stream %s: %w", rb.stream, err)
	}
	rb.logger.Info("trimmed stream", zap.String("stream", rb.stream), zap.Int64("max_len", maxLen))
	return nil
}

// GetStats returns basic statistics about the workflow stream
func (rb *RedisBus) GetStats(ctx context.Context) (map[string]any, error) {
	stats := map[string]any{"type": "redis", "stream": rb.stream}

	if info, err := rb.client.XInfoStream(ctx, rb.stream).Result(); err == nil {
		stats["length"] = info.Length
		stats["first_entry_id"] = info.FirstEntry.ID
		stats["last_entry_id"] = info.LastEntry.ID
	}
	if groups, err := rb.client.XInfoGroups(ctx, rb.stream).Result(); err == nil {
		stats["consumer_groups"] = len(groups)
	}
	return stats, nil
}
