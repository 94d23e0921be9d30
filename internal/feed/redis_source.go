// Package feed holds live update sources other than Kafka.
package feed

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	pkgkafka "OhlcvAPI/pkg/kafka"
	applogger "OhlcvAPI/pkg/logger"
)

// RedisSource subscribes to Redis pub/sub channels and hands every payload to a handler.
// Each API replica runs its own source, so updates published once reach every replica's clients.
type RedisSource struct {
	client   redis.UniversalClient
	channels []string
	handler  pkgkafka.MessageHandler
	log      *applogger.Logger
}

// NewRedisSource reuses the Kafka handler contract so the same live handler serves both sources.
func NewRedisSource(client redis.UniversalClient, channels []string, handler pkgkafka.MessageHandler, l *applogger.Logger) *RedisSource {
	if l == nil {
		l = applogger.Nop()
	}
	return &RedisSource{
		client:   client,
		channels: channels,
		handler:  handler,
		log:      l.With(applogger.String("component", "redis_source")),
	}
}

// Run blocks until ctx is cancelled or the subscription fails.
func (s *RedisSource) Run(ctx context.Context) error {
	if len(s.channels) == 0 {
		return errors.New("redis source: no channels")
	}
	sub := s.client.PSubscribe(ctx, s.channels...)
	defer sub.Close()

	// Receive blocks until the server confirms the subscription.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	s.log.Info("subscribed", applogger.Strings("channels", s.channels))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis source: channel closed")
			}
			if err := s.handler.Handle(ctx, []byte(msg.Payload)); err != nil {
				s.log.Warn("live update rejected",
					applogger.String("channel", msg.Channel),
					applogger.Error(err),
				)
			}
		}
	}
}
