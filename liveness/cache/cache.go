package cache

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	isync "github.com/imtaco/stream-liveness/internal/sync"
	"github.com/imtaco/stream-liveness/liveness"
)

type entry struct {
	gen uint64
	// mu serializes writers and guards retired; readers only load rec
	mu      sync.Mutex
	retired bool
	rec     atomic.Pointer[liveness.Record]
}

// retire stops e from taking updates and returns its last record.
func (e *entry) retire() *liveness.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.retired = true
	return e.rec.Load()
}

// Cache holds the latest liveness record per tracked stream. Reads never
// block on a writer: each record is an immutable snapshot behind an atomic
// pointer, and writers of different streams never contend.
type Cache struct {
	entries *isync.Map[string, *entry]
	gens    atomic.Uint64
	clock   clockwork.Clock
}

func New(clock clockwork.Clock) *Cache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache{
		entries: isync.NewMap[string, *entry](),
		clock:   clock,
	}
}

// Track starts a fresh entry for streamID and returns its generation. An
// entry left over from an earlier tracking is retired with its record, so
// results addressed to it are dropped.
func (c *Cache) Track(streamID string) uint64 {
	e := &entry{gen: c.gens.Add(1)}
	if old, loaded := c.entries.Swap(streamID, e); loaded {
		old.retire()
	}
	return e.gen
}

// Untrack drops streamID if it is still at generation gen, and returns the
// final record. Once it returns, no update can land on that generation.
func (c *Cache) Untrack(streamID string, gen uint64) (liveness.Record, bool) {
	e, ok := c.entries.Load(streamID)
	if !ok || e.gen != gen {
		return liveness.Record{}, false
	}
	rec := e.retire()
	isync.CompareAndDelete(c.entries, streamID, e)
	if rec == nil {
		return liveness.Record{StreamID: streamID, State: liveness.StateUnknown}, true
	}
	return *rec, true
}

// Remove drops streamID whatever its generation.
func (c *Cache) Remove(streamID string) bool {
	e, loaded := c.entries.LoadAndDelete(streamID)
	if loaded {
		e.retire()
	}
	return loaded
}

func (c *Cache) load(streamID string) *liveness.Record {
	e, ok := c.entries.Load(streamID)
	if !ok {
		return nil
	}
	return e.rec.Load()
}

// Current returns the record of streamID. ok is false when no poll has been
// attempted yet, in which case the record is in state unknown.
func (c *Cache) Current(streamID string) (liveness.Record, bool) {
	if r := c.load(streamID); r != nil {
		return *r, true
	}
	return liveness.Record{StreamID: streamID, State: liveness.StateUnknown}, false
}

// Update applies one poll observation to the current entry of streamID.
//
// Observations with a sequence not newer than the stored one are dropped. A
// failed observation only touches LastCheckedAt and LastError; the state is
// kept. The state changes only to a known value different from the current.
// An observation classified unknown counts as checked but not as a success.
func (c *Cache) Update(streamID string, obs liveness.Observation) liveness.UpdateResult {
	return c.update(streamID, 0, obs)
}

// UpdateTracked is Update restricted to generation gen. Results of an
// untracked or re-tracked stream are dropped.
func (c *Cache) UpdateTracked(streamID string, gen uint64, obs liveness.Observation) liveness.UpdateResult {
	return c.update(streamID, gen, obs)
}

// update applies obs to the entry of streamID; gen 0 matches any generation.
func (c *Cache) update(streamID string, gen uint64, obs liveness.Observation) liveness.UpdateResult {
	e, ok := c.entries.Load(streamID)
	if !ok || (gen != 0 && e.gen != gen) {
		return liveness.UpdateResult{Previous: liveness.StateUnknown}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.retired {
		return liveness.UpdateResult{Previous: liveness.StateUnknown}
	}

	next := liveness.Record{StreamID: streamID, State: liveness.StateUnknown}
	if prev := e.rec.Load(); prev != nil {
		if obs.Seq <= prev.Seq {
			return liveness.UpdateResult{Previous: prev.State, Record: *prev}
		}
		next = *prev
	}
	previous := next.State

	at := obs.At
	if at.IsZero() {
		at = c.clock.Now()
	}
	next.Seq = obs.Seq
	next.LastCheckedAt = at

	changed := false
	if obs.Err != nil {
		next.LastError = obs.Err.Error()
	} else {
		next.LastError = ""
		next.Metrics = obs.Metrics
		if obs.State.IsKnown() {
			next.LastSuccessAt = at
			if obs.State != next.State {
				next.State = obs.State
				next.LastChangedAt = at
				changed = true
			}
		}
	}

	e.rec.Store(&next)
	return liveness.UpdateResult{
		Applied:  true,
		Changed:  changed,
		Previous: previous,
		Record:   next,
	}
}

// IsStale reports whether the stream was not checked within maxAge. Streams
// without a record are always stale.
func (c *Cache) IsStale(streamID string, maxAge time.Duration) bool {
	r := c.load(streamID)
	if r == nil || r.LastCheckedAt.IsZero() {
		return true
	}
	return c.clock.Since(r.LastCheckedAt) > maxAge
}

// Snapshot returns every existing record ordered by stream ID.
func (c *Cache) Snapshot() []liveness.Record {
	out := make([]liveness.Record, 0, c.entries.Len())
	for _, e := range c.entries.Values() {
		if r := e.rec.Load(); r != nil {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StreamID < out[j].StreamID })
	return out
}

func (c *Cache) AnyLive() bool {
	live := false
	c.entries.Range(func(_ string, e *entry) bool {
		if r := e.rec.Load(); r != nil && r.IsLive() {
			live = true
			return false
		}
		return true
	})
	return live
}

// Live returns the IDs of live streams, sorted.
func (c *Cache) Live() []string {
	var ids []string
	c.entries.Range(func(id string, e *entry) bool {
		if r := e.rec.Load(); r != nil && r.IsLive() {
			ids = append(ids, id)
		}
		return true
	})
	sort.Strings(ids)
	return ids
}

// Age is the time since the last successful poll, or -1 if there was none.
func (c *Cache) Age(r liveness.Record) time.Duration {
	if r.LastSuccessAt.IsZero() {
		return -1
	}
	return c.clock.Since(r.LastSuccessAt)
}
