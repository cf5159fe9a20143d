package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const (
	// KindCardPayment indicates a settled card tap payment.
	KindCardPayment = "card_payment"
)

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	Body        string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		slog.String("kind", message.Kind),
		slog.String("destination", message.Destination),
		slog.String("body", message.Body),
	)
	return nil
}

// RedisNotifier publishes messages as JSON on a per-destination channel so
// connected clients can push them to the owner.
type RedisNotifier struct {
	cache  *redis.Client
	prefix string
}

// NewRedisNotifier builds a pub/sub notifier. Channels are prefix+destination.
func NewRedisNotifier(cache *redis.Client, prefix string) *RedisNotifier {
	if prefix == "" {
		prefix = "boltcard:notifications:"
	}
	return &RedisNotifier{cache: cache, prefix: prefix}
}

// Channel returns the channel messages for destination are published on.
func (n *RedisNotifier) Channel(destination string) string {
	return n.prefix + destination
}

// Send publishes the message.
func (n *RedisNotifier) Send(ctx context.Context, message Message) error {
	payload, err := json.Marshal(struct {
		Kind string `json:"kind"`
		Body string `json:"body"`
	}{message.Kind, message.Body})
	if err != nil {
		return err
	}
	if err := n.cache.Publish(ctx, n.Channel(message.Destination), payload).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
