package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/imtaco/stream-liveness/internal/log"
	"github.com/imtaco/stream-liveness/liveness"
)

func TestWSClientDropsWhenFull(t *testing.T) {
	client := newWSClient(nil, 2, log.NewTest(t))
	ts := time.Now()

	for range 5 {
		ev := liveness.NewEvent("cam-1", liveness.StateOffline, liveness.StateLive, ts)
		require.NoError(t, client.enqueue(context.Background(), ev))
	}

	require.Len(t, client.buf, 2)
	require.Equal(t, int64(3), client.dropped.Load())
}
