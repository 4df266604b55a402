package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/imtaco/stream-liveness/internal/log"
)

func fastConfig(attempts uint64) Config {
	return Config{
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		MaxElapsedTime:  time.Second,
		MaxAttempts:     attempts,
	}
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	r := New(log.NewTest(t), fastConfig(5))
	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsAtMaxAttempts(t *testing.T) {
	r := New(log.NewNop(), fastConfig(3))
	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return errors.New("down")
	})
	assert.EqualError(t, err, "down")
	assert.Equal(t, 3, calls)
}

func TestDoPermanent(t *testing.T) {
	r := New(log.NewNop(), fastConfig(5))
	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return Permanent(errors.New("bad request"))
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := New(log.NewNop(), Config{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond})
	err := r.Do(ctx, func() error { return errors.New("down") })
	assert.Error(t, err)
}
