package sinks

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/imtaco/stream-liveness/internal/log"
	"github.com/imtaco/stream-liveness/internal/retry"
	streamredis "github.com/imtaco/stream-liveness/internal/stream/redis"
	"github.com/imtaco/stream-liveness/liveness"
)

// RedisSink appends every event to a redis stream and keeps the current
// state of each stream in a hash, so renderers outside this process can read
// the live flag with a single HGETALL.
type RedisSink struct {
	client    redis.UniversalClient
	producer  streamredis.Producer
	keyPrefix string
	retry     retry.Retry
	logger    *log.Logger
}

func NewRedisSink(client redis.UniversalClient, cfg RedisConfig, logger *log.Logger) (*RedisSink, error) {
	producer, err := streamredis.NewProducer(client, cfg.Stream, cfg.MaxLen, logger)
	if err != nil {
		return nil, err
	}

	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	return &RedisSink{
		client:    client,
		producer:  producer,
		keyPrefix: cfg.StateKeyPrefix,
		retry: retry.New(logger, retry.Config{
			InitialInterval: interval,
			MaxInterval:     4 * interval,
			MaxAttempts:     cfg.RetryAttempts,
		}),
		logger: logger,
	}, nil
}

func (s *RedisSink) stateKey(streamID string) string {
	return s.keyPrefix + streamID
}

func (s *RedisSink) Handle(ctx context.Context, ev liveness.Event) error {
	ts := ev.Timestamp.UTC().Format(time.RFC3339Nano)

	// the state hash first: a retried XADD may duplicate an entry, the hash
	// write is idempotent
	err := s.retry.Do(ctx, func() error {
		return s.client.HSet(ctx, s.stateKey(ev.StreamID),
			"state", ev.Current.String(),
			"changed_at", ts,
			"event_id", ev.ID,
		).Err()
	})
	if err == nil {
		err = s.retry.Do(ctx, func() error {
			_, err := s.producer.Add(ctx, map[string]interface{}{
				"id":        ev.ID,
				"stream_id": ev.StreamID,
				"previous":  ev.Previous.String(),
				"current":   ev.Current.String(),
				"ts":        ts,
			})
			return err
		})
	}
	if err != nil {
		redisWriteFailures.Add(ctx, 1)
		return err
	}

	redisWrites.Add(ctx, 1)
	s.logger.Debug("Event written to redis",
		log.StreamID(ev.StreamID),
		log.String("stream", s.producer.Stream()))
	return nil
}
