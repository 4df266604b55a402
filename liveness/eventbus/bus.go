package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/imtaco/stream-liveness/internal/errors"
	"github.com/imtaco/stream-liveness/internal/log"
	intotel "github.com/imtaco/stream-liveness/internal/otel"
	"github.com/imtaco/stream-liveness/liveness"
)

const (
	ErrClosed errors.Code = "bus_closed"
)

type Config struct {
	QueueSize      int           `mapstructure:"queue_size" validate:"gt=0"`
	HandlerTimeout time.Duration `mapstructure:"handler_timeout" validate:"gt=0"`
}

func Setup(v *viper.Viper, prefix string) {
	p := func(key string) string { return prefix + "." + key }

	v.SetDefault(p("queue_size"), 256)
	v.SetDefault(p("handler_timeout"), "5s")
}

// Handler consumes one event. A returned error is logged and does not affect
// other subscribers.
type Handler func(ctx context.Context, ev liveness.Event) error

type Subscription struct {
	id      uint64
	name    string
	handler Handler
}

func (s *Subscription) Name() string {
	return s.name
}

// Bus fans events out to subscribers from a single dispatcher goroutine, so
// every subscriber sees events in publish order.
type Bus struct {
	cfg Config

	subsMu sync.RWMutex
	subs   []*Subscription
	nextID uint64

	// closeMu guards closed and the send side of queue. closing wakes
	// publishers blocked on a full queue so Close can take the lock.
	closeMu   sync.RWMutex
	closed    bool
	closing   chan struct{}
	closeOnce sync.Once
	queue     chan liveness.Event
	done      chan struct{}

	tracer trace.Tracer
	logger *log.Logger
}

func New(cfg Config, logger *log.Logger) *Bus {
	if logger == nil {
		panic("logger is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 5 * time.Second
	}

	b := &Bus{
		cfg:    cfg,
		queue:   make(chan liveness.Event, cfg.QueueSize),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		tracer: intotel.Tracer("liveness.eventbus"),
		logger: logger,
	}
	go b.dispatch()
	return b
}

// Subscribe registers handler. Subscribers are invoked in registration order.
func (b *Bus) Subscribe(name string, handler Handler) *Subscription {
	if handler == nil {
		panic("handler is required")
	}
	b.subsMu.Lock()
	defer b.subsMu.Unlock()

	b.nextID++
	sub := &Subscription{id: b.nextID, name: name, handler: handler}
	b.subs = append(b.subs, sub)
	subscribers.Add(context.Background(), 1)

	b.logger.Info("Subscriber registered", log.String("subscriber", name))
	return sub
}

// Unsubscribe removes sub. An event already being dispatched may still reach it.
func (b *Bus) Unsubscribe(sub *Subscription) bool {
	if sub == nil {
		return false
	}
	b.subsMu.Lock()
	defer b.subsMu.Unlock()

	for i, s := range b.subs {
		if s.id != sub.id {
			continue
		}
		// copy so snapshots handed to the dispatcher stay intact
		next := make([]*Subscription, 0, len(b.subs)-1)
		next = append(next, b.subs[:i]...)
		next = append(next, b.subs[i+1:]...)
		b.subs = next
		subscribers.Add(context.Background(), -1)

		b.logger.Info("Subscriber removed", log.String("subscriber", sub.name))
		return true
	}
	return false
}

func (b *Bus) snapshot() []*Subscription {
	b.subsMu.RLock()
	defer b.subsMu.RUnlock()
	return b.subs
}

// Publish enqueues ev. It blocks while the queue is full until ctx is done or
// the bus is closing.
func (b *Bus) Publish(ctx context.Context, ev liveness.Event) error {
	b.closeMu.RLock()
	defer b.closeMu.RUnlock()

	if b.closed {
		eventsRejected.Add(ctx, 1)
		return errors.Newf(ErrClosed, "publish %s", ev.ID)
	}

	select {
	case b.queue <- ev:
		eventsPublished.Add(ctx, 1)
		return nil
	case <-ctx.Done():
		eventsRejected.Add(ctx, 1)
		return ctx.Err()
	case <-b.closing:
		eventsRejected.Add(ctx, 1)
		return errors.Newf(ErrClosed, "publish %s", ev.ID)
	}
}

// Close stops accepting events, delivers what is queued and returns once
// the dispatcher exits or ctx is done.
func (b *Bus) Close(ctx context.Context) error {
	b.closeOnce.Do(func() { close(b.closing) })

	b.closeMu.Lock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
	b.closeMu.Unlock()

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) dispatch() {
	defer close(b.done)

	for ev := range b.queue {
		for _, sub := range b.snapshot() {
			b.deliver(sub, ev)
		}
	}
	b.logger.Info("Event bus drained")
}

func (b *Bus) deliver(sub *Subscription, ev liveness.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.HandlerTimeout)
	defer cancel()

	attrs := metric.WithAttributes(attribute.String("subscriber", sub.name))
	if err := b.invoke(ctx, sub, ev); err != nil {
		subscriberFailures.Add(ctx, 1, attrs)
		b.logger.Error("Subscriber failed",
			log.String("subscriber", sub.name),
			log.StreamID(ev.StreamID),
			log.String("eventId", ev.ID),
			log.Error(err))
		return
	}
	eventsDelivered.Add(ctx, 1, attrs)
}

func (b *Bus) invoke(ctx context.Context, sub *Subscription, ev liveness.Event) (err error) {
	ctx, span := intotel.StartSpan(ctx, b.tracer, "liveness.deliver",
		attribute.String("subscriber", sub.name),
		attribute.String("stream.id", ev.StreamID),
		attribute.String("state", ev.Current.String()))
	defer intotel.EndSpan(span, &err)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return sub.handler(ctx, ev)
}
