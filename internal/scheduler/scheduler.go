//nolint:forcetypeassert
package scheduler

import (
	"container/heap"
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/imtaco/stream-liveness/internal/log"
)

// KeyedScheduler fires string keys after a delay. It keeps one pending entry
// per key in a min-heap; enqueueing a key that is already pending keeps only
// the earlier deadline. The poll loop uses one key per stream, so pulling a
// tick forward (Enqueue with 0) and dropping a stream (Cancel) are both O(log n).
//
//	ks := NewKeyedScheduler(logger)
//	defer ks.Shutdown()
//
//	ks.Enqueue("cam-1", 5*time.Second)
//	ks.Enqueue("cam-1", 0) // fires now, the 5s entry is replaced
//
//	for key := range ks.Chan() {
//		...
//	}
type KeyedScheduler struct {
	items       map[string]*item
	heap        priorityQueue
	chSig       chan string
	chanEnqueue chan func()
	timer       clockwork.Timer
	timerTS     time.Time
	ctx         context.Context
	cancel      context.CancelFunc
	clock       clockwork.Clock
	logger      *log.Logger
}

func NewKeyedScheduler(logger *log.Logger) *KeyedScheduler {
	return NewKeyedSchedulerWithClock(logger, clockwork.NewRealClock())
}

func NewKeyedSchedulerWithClock(logger *log.Logger, clock clockwork.Clock) *KeyedScheduler {
	if logger == nil {
		panic("logger is required")
	}
	if clock == nil {
		panic("clock is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	ks := &KeyedScheduler{
		chSig:       make(chan string),
		items:       make(map[string]*item),
		heap:        make(priorityQueue, 0),
		chanEnqueue: make(chan func(), 100),
		timer:       clock.NewTimer(time.Hour),
		ctx:         ctx,
		cancel:      cancel,
		clock:       clock,
		logger:      logger,
	}
	ks.timer.Stop()
	heap.Init(&ks.heap)

	go ks.loop()
	return ks
}

// Chan delivers due keys. It is closed after Shutdown.
func (ks *KeyedScheduler) Chan() <-chan string {
	return ks.chSig
}

// Enqueue schedules key to fire after delay. It is a no-op after Shutdown.
func (ks *KeyedScheduler) Enqueue(key string, delay time.Duration) {
	ts := ks.clock.Now().Add(delay)
	ks.submit(func() {
		ks.doEnqueue(&item{key: key, ts: ts})
	})
}

func (ks *KeyedScheduler) submit(action func()) {
	select {
	case <-ks.ctx.Done():
	case ks.chanEnqueue <- action:
	}
}

func (ks *KeyedScheduler) doEnqueue(it *item) {
	curItem, ok := ks.items[it.key]
	if ok {
		// keep the earlier deadline
		if !it.ts.Before(curItem.ts) {
			return
		}
		heap.Remove(&ks.heap, curItem.index)
	}

	ks.items[it.key] = it
	heap.Push(&ks.heap, it)
	ks.scheduleNextTimer()
}

// Cancel drops the pending entry for key, if any. A key already delivered on
// Chan is not recalled.
func (ks *KeyedScheduler) Cancel(key string) {
	ks.submit(func() {
		ks.doCancel(key)
	})
}

func (ks *KeyedScheduler) doCancel(key string) {
	if it, exists := ks.items[key]; exists {
		delete(ks.items, key)
		heap.Remove(&ks.heap, it.index)
		ks.scheduleNextTimer()
	}
}

// Shutdown stops the loop and closes Chan. Pending keys are dropped.
func (ks *KeyedScheduler) Shutdown() {
	ks.cancel()
}

func (ks *KeyedScheduler) clearTimer() {
	ks.timer.Stop()
	ks.timerTS = time.Time{}
}

func (ks *KeyedScheduler) scheduleNextTimer() {
	if len(ks.items) == 0 {
		ks.clearTimer()
		return
	}

	top := ks.heap[0]
	// the same due, no need to reschedule
	if ks.timerTS.Equal(top.ts) {
		return
	}

	delay := top.ts.Sub(ks.clock.Now())
	if delay < 0 {
		delay = 0
	}

	ks.timerTS = top.ts
	ks.timer.Stop()
	ks.timer.Reset(delay)
}

func (ks *KeyedScheduler) loop() {
	defer close(ks.chSig)
	defer ks.clearTimer()

	for {
		select {
		case <-ks.ctx.Done():
			return
		case action := <-ks.chanEnqueue:
			action()
		case <-ks.timer.Chan():
			ks.timerTS = time.Time{}
			ks.fireDue()
		}
	}
}

func (ks *KeyedScheduler) popTop() *item {
	top := heap.Pop(&ks.heap).(*item)
	delete(ks.items, top.key)
	return top
}

func (ks *KeyedScheduler) fireDue() {
	now := ks.clock.Now()

	for len(ks.items) > 0 {
		if ks.heap[0].ts.After(now) {
			break
		}

		top := ks.popTop()
		select {
		case <-ks.ctx.Done():
			return
		case ks.chSig <- top.key:
		}
	}

	ks.scheduleNextTimer()
}
