package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultChannel carries every occurrence change message.
const DefaultChannel = "gigboard.occurrences"

const (
	SignupCreated   = "signup.created"
	SignupCancelled = "signup.cancelled"
	SignupPromoted  = "signup.promoted"
	OverrideSaved   = "override.saved"
	OverrideDeleted = "override.deleted"
	EventDeleted    = "event.deleted"
)

// Message is the envelope published for each change.
type Message struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, eventType string, payload interface{}) error
}

// Emit publishes and logs failures instead of returning them. Notifications
// follow a committed write and must not undo it.
func Emit(ctx context.Context, p Publisher, eventType string, payload interface{}) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, eventType, payload); err != nil {
		zap.L().Error("publish failed", zap.String("type", eventType), zap.Error(err))
	}
}

// RedisPublisher sends messages over Redis pub/sub to the email and digest
// workers.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(ctx context.Context, url, channel string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, eventType string, payload interface{}) error {
	data, err := json.Marshal(newMessage(eventType, payload))
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// LogPublisher is used when no Redis is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, eventType string, payload interface{}) error {
	msg := newMessage(eventType, payload)
	zap.L().Debug("occurrence change", zap.String("id", msg.ID), zap.String("type", msg.Type), zap.Any("payload", msg.Payload))
	return nil
}

func newMessage(eventType string, payload interface{}) Message {
	return Message{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}
