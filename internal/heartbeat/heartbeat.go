package heartbeat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/imtaco/stream-liveness/internal/errors"
	"github.com/imtaco/stream-liveness/internal/etcd"
	"github.com/imtaco/stream-liveness/internal/log"
	"github.com/imtaco/stream-liveness/internal/retry"
)

const (
	ErrLease errors.Code = "lease_error"
)

// Heartbeat keeps a JSON value at key for as long as the process runs. The
// key is bound to a lease, so it disappears about one TTL after the process
// dies. A lost lease is recreated with backoff.
type Heartbeat[T any] struct {
	client etcd.LeaseKV
	key    string
	data   T
	ttl    time.Duration
	retry  retry.Config

	// leaseID and keepAliveCh are owned by the monitor goroutine once Start
	// returned
	leaseID     clientv3.LeaseID
	keepAliveCh <-chan *clientv3.LeaseKeepAliveResponse

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	logger *log.Logger
}

func New[T any](client etcd.LeaseKV, key string, data T, ttl time.Duration, logger *log.Logger) *Heartbeat[T] {
	if ttl < time.Second {
		panic("TTL must be at least one second")
	}
	return &Heartbeat[T]{
		client: client,
		key:    key,
		data:   data,
		ttl:    ttl,
		retry: retry.Config{
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     10 * time.Second,
		},
		logger: logger,
	}
}

func (h *Heartbeat[T]) Key() string {
	return h.key
}

// Start grants the lease and writes the key within ctx. Keep-alive then runs
// until Stop, independent of ctx.
func (h *Heartbeat[T]) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	if err := h.setup(ctx, runCtx); err != nil {
		cancel()
		return err
	}

	h.cancel = cancel
	h.done = make(chan struct{})

	h.logger.Info("Heartbeat started",
		log.String("key", h.key),
		log.Duration("ttl", h.ttl))

	go h.monitorKeepAlive(runCtx)
	return nil
}

// Stop ends keep-alive and revokes the lease so the key goes away at once.
func (h *Heartbeat[T]) Stop(ctx context.Context) error {
	var err error
	h.once.Do(func() {
		if h.cancel != nil {
			h.cancel()
			<-h.done
		}
		if h.leaseID == 0 {
			return
		}

		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if _, rerr := h.client.Revoke(ctx, h.leaseID); rerr != nil {
			err = errors.Wrapf(ErrLease, rerr, "revoke lease of %s", h.key)
			return
		}
		h.logger.Debug("Heartbeat lease revoked", log.String("key", h.key))
	})
	return err
}

// setup issues its calls within ctx; the keep-alive stream lives as long as
// keepCtx.
func (h *Heartbeat[T]) setup(ctx, keepCtx context.Context) error {
	leaseResp, err := h.client.Grant(ctx, int64(h.ttl.Seconds()))
	if err != nil {
		return errors.Wrapf(ErrLease, err, "grant lease for %s", h.key)
	}

	value, err := json.Marshal(h.data)
	if err != nil {
		return errors.Wrap(ErrLease, err, "marshal heartbeat value")
	}

	if _, err := h.client.Put(ctx, h.key, string(value), clientv3.WithLease(leaseResp.ID)); err != nil {
		return errors.Wrapf(ErrLease, err, "put %s", h.key)
	}

	keepAliveCh, err := h.client.KeepAlive(keepCtx, leaseResp.ID)
	if err != nil {
		return errors.Wrapf(ErrLease, err, "keep alive %s", h.key)
	}

	h.leaseID = leaseResp.ID
	h.keepAliveCh = keepAliveCh
	return nil
}

func (h *Heartbeat[T]) monitorKeepAlive(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			return
		case resp, ok := <-h.keepAliveCh:
			if ok && resp != nil {
				h.logger.Debug("Lease kept alive",
					log.String("key", h.key),
					log.Int64("ttl", resp.TTL))
				continue
			}
			h.logger.Warn("Keep-alive channel closed, recreating lease",
				log.String("key", h.key))
			if err := h.recreateLease(ctx); err != nil {
				// only ctx cancellation ends the retry
				return
			}
		}
	}
}

func (h *Heartbeat[T]) recreateLease(ctx context.Context) error {
	operation := func() error {
		if err := ctx.Err(); err != nil {
			return retry.Permanent(err)
		}
		return h.setup(ctx, ctx)
	}

	if err := retry.New(h.logger, h.retry).Do(ctx, operation); err != nil {
		return err
	}
	h.logger.Info("Heartbeat lease recreated", log.String("key", h.key))
	return nil
}
