package registry

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/imtaco/stream-liveness/internal/errors"
	"github.com/imtaco/stream-liveness/internal/etcd"
	"github.com/imtaco/stream-liveness/internal/log"
	"github.com/imtaco/stream-liveness/internal/validation"
	"github.com/imtaco/stream-liveness/liveness"
)

const (
	ErrEtcd        errors.Code = "etcd"
	ErrWatchClosed errors.Code = "watch_closed"
)

type Config struct {
	Enabled    bool          `mapstructure:"enabled"`
	Prefix     string        `mapstructure:"prefix" validate:"required_if=Enabled true"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	// InstancePrefix is where each running service announces itself. Empty
	// disables the announcement.
	InstancePrefix string        `mapstructure:"instance_prefix"`
	InstanceTTL    time.Duration `mapstructure:"instance_ttl" validate:"omitempty,gte=1s"`
}

func Setup(v *viper.Viper, prefix string) {
	p := func(key string) string { return prefix + "." + key }

	v.SetDefault(p("enabled"), false)
	v.SetDefault(p("prefix"), "/liveness/streams/")
	v.SetDefault(p("retry_delay"), "1s")
	v.SetDefault(p("instance_prefix"), "/liveness/instances/")
	v.SetDefault(p("instance_ttl"), "10s")
}

// Registry mirrors the keys under an etcd prefix into the monitored stream
// set. Key format: {prefix}{streamID}; the value is ignored.
//
// It only removes streams it added itself, so streams configured statically
// or added through the API survive a resync.
type Registry struct {
	client     etcd.Watcher
	prefix     string
	ctrl       liveness.StreamController
	retryDelay time.Duration

	// owned is only touched by the watch goroutine
	owned map[string]struct{}

	cancel    context.CancelFunc
	initGetCh chan struct{}
	stoppedCh chan struct{}

	logger *log.Logger
}

func New(client etcd.Watcher, cfg Config, ctrl liveness.StreamController, logger *log.Logger) *Registry {
	if logger == nil {
		panic("logger is required")
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return &Registry{
		client:     client,
		prefix:     cfg.Prefix,
		ctrl:       ctrl,
		retryDelay: retryDelay,
		owned:      make(map[string]struct{}),
		initGetCh:  make(chan struct{}),
		logger:     logger,
	}
}

// Start launches the watch loop and waits for the first full read, at most
// 30s or until ctx is done.
func (r *Registry) Start(ctx context.Context) error {
	r.logger.Info("Starting etcd stream registry", log.String("prefix", r.prefix))

	ctxInit, cancelInit := context.WithTimeout(ctx, 30*time.Second)
	defer cancelInit()

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.stoppedCh = make(chan struct{})
	go r.getAndWatch(runCtx)

	select {
	case <-ctxInit.Done():
		return ctxInit.Err()
	case <-r.initGetCh:
	}

	r.logger.Info("Etcd stream registry synced")
	return nil
}

func (r *Registry) Stop() error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.stoppedCh != nil {
		<-r.stoppedCh
	}
	return nil
}

func (r *Registry) getAndWatch(ctx context.Context) {
	defer close(r.stoppedCh)
	var once sync.Once
	synced := func() { once.Do(func() { close(r.initGetCh) }) }

	for {
		err := r.getAndWatchOnce(ctx, synced)
		if ctx.Err() != nil {
			return
		}

		watchErrors.Add(context.Background(), 1)
		r.logger.Error("Etcd registry loop failed, retrying",
			log.Duration("delay", r.retryDelay),
			log.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.retryDelay):
		}
	}
}

func (r *Registry) getAndWatchOnce(ctx context.Context, synced func()) error {
	resp, err := r.client.Get(ctx, r.prefix, clientv3.WithPrefix())
	if err != nil {
		return errors.Wrap(ErrEtcd, err, "get stream prefix")
	}
	resyncs.Add(ctx, 1)

	want := make(map[string]struct{}, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		if id, ok := r.parseKey(string(kv.Key)); ok {
			want[id] = struct{}{}
		}
	}
	r.reconcile(want)

	synced()

	nextRev := resp.Header.Revision + 1
	r.logger.Debug("Watching stream prefix", log.Int64("revision", nextRev))

	watchCh := r.client.Watch(ctx, r.prefix,
		clientv3.WithPrefix(),
		clientv3.WithRev(nextRev))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case watchResp, ok := <-watchCh:
			if !ok {
				return errors.New(ErrWatchClosed, "watch channel closed")
			}
			if err := watchResp.Err(); err != nil {
				return errors.Wrap(ErrEtcd, err, "watch stream prefix")
			}
			r.handleWatch(watchResp)
		}
	}
}

// reconcile adds missing streams and removes owned streams that vanished
// while the watch was down.
func (r *Registry) reconcile(want map[string]struct{}) {
	for id := range r.owned {
		if _, ok := want[id]; !ok {
			r.remove(id)
		}
	}
	for id := range want {
		r.add(id)
	}
}

func (r *Registry) handleWatch(watchResp clientv3.WatchResponse) {
	for _, ev := range watchResp.Events {
		id, ok := r.parseKey(string(ev.Kv.Key))
		if !ok {
			continue
		}

		switch ev.Type {
		case clientv3.EventTypePut:
			r.add(id)
		case clientv3.EventTypeDelete:
			r.remove(id)
		}
	}
}

func (r *Registry) add(id string) {
	if _, ok := r.owned[id]; ok {
		return
	}
	// a stream that already exists (config or API) is not taken over
	if r.ctrl.AddStream(id) {
		r.owned[id] = struct{}{}
		keyEvents.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", "put")))
		r.logger.Info("Stream registered from etcd", log.StreamID(id))
	}
}

func (r *Registry) remove(id string) {
	if _, ok := r.owned[id]; !ok {
		return
	}
	delete(r.owned, id)
	r.ctrl.RemoveStream(id)
	keyEvents.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", "delete")))
	r.logger.Info("Stream unregistered from etcd", log.StreamID(id))
}

func (r *Registry) parseKey(key string) (string, bool) {
	if !strings.HasPrefix(key, r.prefix) {
		return "", false
	}
	id := strings.TrimPrefix(key, r.prefix)
	if !validation.IsStreamID(id) {
		keysRejected.Add(context.Background(), 1)
		r.logger.Warn("Ignoring etcd key, not a stream ID", log.String("key", key))
		return "", false
	}
	return id, true
}
