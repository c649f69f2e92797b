package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisSink publishes events as JSON onto a Redis Pub/Sub topic consumed by
// the admin console. Publish failures are logged and swallowed: the
// broadcast is best-effort and must never fail the triggering operation.
type RedisSink struct {
	client *redis.Client
	topic  string
}

// NewRedisSink creates a RedisSink publishing to the given topic.
func NewRedisSink(client *redis.Client, topic string) *RedisSink {
	if topic == "" {
		topic = "stepauth:events"
	}
	return &RedisSink{client: client, topic: topic}
}

// Emit implements Sink.
func (s *RedisSink) Emit(ctx context.Context, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("type", string(event.Type)).Msg("Failed to marshal lifecycle event")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.client.Publish(ctx, s.topic, payload).Err(); err != nil {
		log.Warn().Err(err).Str("topic", s.topic).Msg("Failed to publish lifecycle event to Redis")
	}
}

// Subscribe opens a subscription on the sink's topic. The caller owns the
// returned PubSub and must close it.
func (s *RedisSink) Subscribe(ctx context.Context) *redis.PubSub {
	return s.client.Subscribe(ctx, s.topic)
}

var _ Sink = (*RedisSink)(nil)
