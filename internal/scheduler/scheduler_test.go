package scheduler

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/suite"

	"github.com/imtaco/stream-liveness/internal/log"
)

type SchedulerTestSuite struct {
	suite.Suite
	clock *clockwork.FakeClock
	ks    *KeyedScheduler
	fired chan string
}

func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerTestSuite))
}

func (s *SchedulerTestSuite) SetupTest() {
	s.clock = clockwork.NewFakeClock()
	s.ks = NewKeyedSchedulerWithClock(log.NewNop(), s.clock)
	s.fired = make(chan string, 16)

	go func() {
		for key := range s.ks.Chan() {
			s.fired <- key
		}
	}()
}

func (s *SchedulerTestSuite) TearDownTest() {
	s.ks.Shutdown()
}

// settle waits until every action submitted so far has run on the loop.
func (s *SchedulerTestSuite) settle() {
	done := make(chan struct{})
	s.ks.submit(func() { close(done) })
	<-done
}

func (s *SchedulerTestSuite) pending() map[string]time.Time {
	out := make(map[string]time.Time)
	done := make(chan struct{})
	s.ks.submit(func() {
		for k, it := range s.ks.items {
			out[k] = it.ts
		}
		close(done)
	})
	<-done
	return out
}

func (s *SchedulerTestSuite) expectFired(keys ...string) {
	for _, want := range keys {
		select {
		case got := <-s.fired:
			s.Equal(want, got)
		case <-time.After(time.Second):
			s.FailNow("timed out waiting for " + want)
		}
	}
}

func (s *SchedulerTestSuite) TestFiresInDeadlineOrder() {
	s.ks.Enqueue("cam-slow", 10*time.Second)
	s.ks.Enqueue("cam-fast", 5*time.Second)
	s.settle()

	s.clock.Advance(5 * time.Second)
	s.expectFired("cam-fast")

	s.clock.Advance(5 * time.Second)
	s.expectFired("cam-slow")
	s.Empty(s.pending())
}

func (s *SchedulerTestSuite) TestEarlierDeadlineWins() {
	start := s.clock.Now()
	s.ks.Enqueue("cam-1", 20*time.Second) // backoff
	s.ks.Enqueue("cam-1", 0)              // refresh
	s.expectFired("cam-1")
	s.Empty(s.pending())

	s.ks.Enqueue("cam-1", 5*time.Second)
	s.ks.Enqueue("cam-1", 40*time.Second) // later deadline is ignored
	s.Equal(map[string]time.Time{"cam-1": start.Add(5 * time.Second)}, s.pending())
}

func (s *SchedulerTestSuite) TestCancelRetargetsTimer() {
	start := s.clock.Now()
	s.ks.Enqueue("cam-1", 5*time.Second)
	s.ks.Enqueue("cam-2", 10*time.Second)
	s.settle()
	s.Equal(start.Add(5*time.Second), s.ks.timerTS)

	s.ks.Cancel("cam-1")
	s.settle()
	s.Equal(start.Add(10*time.Second), s.ks.timerTS)

	s.clock.Advance(10 * time.Second)
	s.expectFired("cam-2")

	s.ks.Cancel("cam-2")
	s.settle()
	s.True(s.ks.timerTS.IsZero())
}

func (s *SchedulerTestSuite) TestRescheduleAfterFire() {
	s.ks.Enqueue("cam-1", 5*time.Second)
	s.settle()

	for range 3 {
		s.clock.Advance(5 * time.Second)
		s.expectFired("cam-1")
		s.ks.Enqueue("cam-1", 5*time.Second)
		s.settle()
	}
	s.Len(s.pending(), 1)
}

func (s *SchedulerTestSuite) TestManyStreamsSameDeadline() {
	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, id := range ids {
		s.ks.Enqueue(id, time.Second)
	}
	s.settle()
	s.clock.Advance(time.Second)

	seen := make(map[string]bool)
	for range ids {
		select {
		case id := <-s.fired:
			seen[id] = true
		case <-time.After(time.Second):
			s.FailNow("timed out")
		}
	}
	s.Len(seen, len(ids))
}

func (s *SchedulerTestSuite) TestCallsAfterShutdownDoNotBlock() {
	s.ks.Shutdown()

	done := make(chan struct{})
	go func() {
		for range 200 {
			s.ks.Enqueue("cam-1", 0)
		}
		s.ks.Cancel("cam-1")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		s.Fail("enqueue blocked after shutdown")
	}

	s.Eventually(func() bool {
		_, open := <-s.ks.Chan()
		return !open
	}, time.Second, 10*time.Millisecond)
}
