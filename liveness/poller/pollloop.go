package poller

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/imtaco/stream-liveness/internal/errors"
	"github.com/imtaco/stream-liveness/internal/log"
	intotel "github.com/imtaco/stream-liveness/internal/otel"
	"github.com/imtaco/stream-liveness/internal/scheduler"
	isync "github.com/imtaco/stream-liveness/internal/sync"
	"github.com/imtaco/stream-liveness/liveness"
	"github.com/imtaco/stream-liveness/liveness/status"
)

// Store is the write side of the liveness cache used by the poll loop. Each
// tracking of a stream gets a generation; writes carry it, so a result of a
// removed task never lands on the entry of a re-added one.
type Store interface {
	Track(streamID string) uint64
	Untrack(streamID string, gen uint64) (liveness.Record, bool)
	UpdateTracked(streamID string, gen uint64, obs liveness.Observation) liveness.UpdateResult
}

// task is the per-stream poll state. polling is the Idle/Polling flag; the
// backoff is only touched by the goroutine that won the flag.
type task struct {
	streamID string
	gen      uint64
	ctx      context.Context
	cancel   context.CancelFunc
	polling  atomic.Bool
	backoff  *backoff.ExponentialBackOff
}

// PollLoop polls every monitored stream on its own schedule. Streams never
// share a lock on the poll path: a slow or failing stream only delays itself.
type PollLoop struct {
	cfg        Config
	client     liveness.StatusClient
	classifier liveness.Classifier
	store      Store
	publisher  liveness.Publisher

	sched *scheduler.KeyedScheduler
	// lifeMu serializes AddStream and RemoveStream so the task map and the
	// store change together; polls never take it
	lifeMu  sync.Mutex
	tasks   *isync.Map[string, *task]
	limiter *rate.Limiter
	seq     atomic.Uint64
	clock   clockwork.Clock
	tracer  trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc

	// runMu orders wg.Add against Stop's wg.Wait
	runMu    sync.Mutex
	stopped  bool
	wg       sync.WaitGroup
	started  atomic.Bool
	loopDone chan struct{}
	stopOnce sync.Once

	logger *log.Logger
}

func New(
	cfg Config,
	client liveness.StatusClient,
	classifier liveness.Classifier,
	store Store,
	publisher liveness.Publisher,
	logger *log.Logger,
) *PollLoop {
	return NewWithClock(cfg, client, classifier, store, publisher, clockwork.NewRealClock(), logger)
}

func NewWithClock(
	cfg Config,
	client liveness.StatusClient,
	classifier liveness.Classifier,
	store Store,
	publisher liveness.Publisher,
	clock clockwork.Clock,
	logger *log.Logger,
) *PollLoop {
	if logger == nil {
		panic("logger is required")
	}
	if client == nil || classifier == nil || store == nil || publisher == nil {
		panic("client, classifier, store and publisher are required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &PollLoop{
		cfg:        cfg,
		client:     client,
		classifier: classifier,
		store:      store,
		publisher:  publisher,
		sched:      scheduler.NewKeyedSchedulerWithClock(logger.Module("Sched"), clock),
		tasks:      isync.NewMap[string, *task](),
		limiter:    rate.NewLimiter(rate.Limit(cfg.RefreshRate), cfg.RefreshBurst),
		clock:      clock,
		tracer:     intotel.Tracer("liveness.poller"),
		ctx:        ctx,
		cancel:     cancel,
		loopDone:   make(chan struct{}),
		logger:     logger,
	}
}

// Start begins dispatching ticks. Streams added before Start are polled
// as soon as it runs.
func (p *PollLoop) Start(_ context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return nil
	}
	p.logger.Info("Starting poll loop",
		log.Duration("interval", p.cfg.Interval),
		log.Duration("maxBackoff", p.cfg.MaxBackoff))

	go func() {
		defer close(p.loopDone)
		for streamID := range p.sched.Chan() {
			p.onTick(streamID)
		}
	}()
	return nil
}

// Stop cancels in-flight polls, stops scheduling and waits for every poll
// goroutine to return.
func (p *PollLoop) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("Stopping poll loop")

		p.runMu.Lock()
		p.stopped = true
		p.runMu.Unlock()

		p.cancel()
		p.sched.Shutdown()
		if p.started.Load() {
			<-p.loopDone
		}
		p.wg.Wait()
	})
}

// AddStream starts monitoring streamID with an immediate first poll. It
// reports false when the stream is already monitored or the loop is stopped.
func (p *PollLoop) AddStream(streamID string) bool {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()

	if p.ctx.Err() != nil {
		return false
	}
	if _, ok := p.tasks.Load(streamID); ok {
		return false
	}

	ctx, cancel := context.WithCancel(p.ctx)
	t := &task{
		streamID: streamID,
		gen:      p.store.Track(streamID),
		ctx:      ctx,
		cancel:   cancel,
		backoff:  p.cfg.newBackOff(),
	}
	p.tasks.Store(streamID, t)
	p.sched.Enqueue(streamID, 0)
	streamsMonitored.Add(p.ctx, 1)

	p.logger.Info("Stream added", log.StreamID(streamID))
	return true
}

// RemoveStream stops monitoring streamID and drops its record. A poll that
// is in flight is cancelled and its result discarded.
func (p *PollLoop) RemoveStream(streamID string) bool {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()

	t, ok := p.tasks.LoadAndDelete(streamID)
	if !ok {
		return false
	}
	t.cancel()
	p.sched.Cancel(streamID)

	if rec, ok := p.store.Untrack(streamID, t.gen); ok && rec.IsLive() {
		liveStreams.Add(context.Background(), -1)
	}
	streamsMonitored.Add(context.Background(), -1)

	p.logger.Info("Stream removed", log.StreamID(streamID))
	return true
}

// Sync makes the monitored set equal to streamIDs.
func (p *PollLoop) Sync(streamIDs []string) {
	want := make(map[string]struct{}, len(streamIDs))
	for _, id := range streamIDs {
		want[id] = struct{}{}
	}

	for _, id := range p.Streams() {
		if _, ok := want[id]; !ok {
			p.RemoveStream(id)
		}
	}
	for id := range want {
		p.AddStream(id)
	}
}

func (p *PollLoop) Has(streamID string) bool {
	_, ok := p.tasks.Load(streamID)
	return ok
}

// Streams returns the monitored stream IDs, sorted.
func (p *PollLoop) Streams() []string {
	return isync.SortedKeys(p.tasks, func(a, b string) bool { return a < b })
}

// Refresh asks for an out-of-band poll of streamID. It is skipped when the
// stream is unknown or already polling, or when the global refresh budget is
// exhausted.
func (p *PollLoop) Refresh(streamID string) bool {
	t, ok := p.tasks.Load(streamID)
	if !ok {
		return false
	}
	if t.polling.Load() {
		refreshes.Add(t.ctx, 1, metric.WithAttributes(attribute.String("result", "busy")))
		return false
	}
	if !p.limiter.Allow() {
		refreshes.Add(t.ctx, 1, metric.WithAttributes(attribute.String("result", "limited")))
		p.logger.Debug("Refresh rate limited", log.StreamID(streamID))
		return false
	}

	refreshes.Add(t.ctx, 1, metric.WithAttributes(attribute.String("result", "accepted")))
	// pulls the pending tick forward, the scheduler keeps the earliest
	p.sched.Enqueue(streamID, 0)
	return true
}

func (p *PollLoop) onTick(streamID string) {
	t, ok := p.tasks.Load(streamID)
	if !ok {
		return
	}
	if !t.polling.CompareAndSwap(false, true) {
		ticksSkipped.Add(t.ctx, 1)
		p.logger.Debug("Tick skipped, poll in flight", log.StreamID(streamID))
		return
	}

	p.runMu.Lock()
	if p.stopped {
		p.runMu.Unlock()
		t.polling.Store(false)
		return
	}
	p.wg.Add(1)
	p.runMu.Unlock()

	go func() {
		defer p.wg.Done()
		p.poll(t)
	}()
}

// owns reports whether t is still the live task of its stream.
func (p *PollLoop) owns(t *task) bool {
	cur, ok := p.tasks.Load(t.streamID)
	return ok && cur == t && t.ctx.Err() == nil
}

func (p *PollLoop) poll(t *task) {
	streamID := t.streamID
	seq := p.seq.Add(1)

	ctx, span := intotel.StartSpan(t.ctx, p.tracer, "liveness.poll",
		attribute.String("stream.id", streamID),
		attribute.Int64("poll.seq", int64(seq)))

	polls.Add(ctx, 1)
	start := p.clock.Now()
	raw, err := p.client.Fetch(ctx, streamID)
	if err == nil && raw == nil {
		err = errors.Newf(status.ErrMalformedPayload, "empty status of %s", streamID)
	}
	obs := liveness.Observation{Seq: seq, At: p.clock.Now()}
	pollDuration.Record(ctx, obs.At.Sub(start).Seconds())

	if !p.owns(t) {
		span.End()
		stragglersDropped.Add(context.Background(), 1)
		p.logger.Debug("Discarding result of removed stream", log.StreamID(streamID))
		return
	}

	if err != nil {
		obs.Err = err
		kind := status.Kind(err)
		pollFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
		intotel.RecordError(span, err)
		p.logger.Warn("Poll failed",
			log.StreamID(streamID),
			log.String("kind", kind),
			log.Error(err))
	} else {
		obs.State = p.classifier.Classify(raw.Status)
		obs.Metrics = raw.Metrics
		span.SetAttributes(
			attribute.String("status.raw", raw.Status),
			attribute.String("status.state", obs.State.String()))
	}
	span.End()

	// the generation check runs under the entry's write lock, so a removal
	// after the owns check above still drops this result
	res := p.store.UpdateTracked(streamID, t.gen, obs)
	if !res.Applied {
		stragglersDropped.Add(t.ctx, 1)
	}
	if res.Changed {
		p.onTransition(t, res)
	}

	delay := p.cfg.Interval
	if err != nil {
		delay = t.backoff.NextBackOff()
	} else {
		t.backoff.Reset()
	}

	// clear the flag before scheduling, or a tick firing in between is lost
	t.polling.Store(false)
	if t.ctx.Err() == nil {
		p.sched.Enqueue(streamID, delay)
	}
}

func (p *PollLoop) onTransition(t *task, res liveness.UpdateResult) {
	rec := res.Record
	transitions.Add(t.ctx, 1, metric.WithAttributes(attribute.String("to", rec.State.String())))

	switch {
	case rec.State == liveness.StateLive:
		liveStreams.Add(t.ctx, 1)
	case res.Previous == liveness.StateLive:
		liveStreams.Add(t.ctx, -1)
	}

	p.logger.Info("Stream state changed",
		log.StreamID(rec.StreamID),
		log.State("from", res.Previous),
		log.State("to", rec.State))

	ev := liveness.NewEvent(rec.StreamID, res.Previous, rec.State, rec.LastChangedAt)
	if err := p.publisher.Publish(t.ctx, ev); err != nil {
		publishFailures.Add(context.Background(), 1)
		p.logger.Error("Failed to publish transition",
			log.StreamID(rec.StreamID),
			log.Error(err))
	}
}
