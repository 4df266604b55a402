package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/imtaco/stream-liveness/internal/log"
)

// Producer appends entries to a single redis stream.
type Producer interface {
	Add(ctx context.Context, values map[string]interface{}) (string, error)
	Stream() string
}

type producerImpl struct {
	client redis.UniversalClient
	stream string
	maxLen int64
	logger *log.Logger
}

// NewProducer creates a producer for stream. A positive maxLen keeps the
// stream approximately capped at that many entries (XADD MAXLEN ~).
func NewProducer(
	client redis.UniversalClient,
	stream string,
	maxLen int64,
	logger *log.Logger,
) (Producer, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if stream == "" {
		return nil, fmt.Errorf("stream name is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &producerImpl{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: logger,
	}, nil
}

func (sp *producerImpl) Stream() string {
	return sp.stream
}

func (sp *producerImpl) Add(ctx context.Context, values map[string]interface{}) (string, error) {
	args := &redis.XAddArgs{
		Stream: sp.stream,
		Values: values,
	}
	if sp.maxLen > 0 {
		args.MaxLen = sp.maxLen
		args.Approx = true
	}

	id, err := sp.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("failed to add message to stream: %w", err)
	}

	sp.logger.Debug("Added message to stream",
		log.String("stream", sp.stream),
		log.String("id", id))

	return id, nil
}
