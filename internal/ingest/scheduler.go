package ingest

import (
	"context"
	"sync"
	"time"
)

// Batch is a homogeneous slice of events handed to the committer in one
// transaction.
type Batch struct {
	Kind   EventKind
	Events []*Event
}

// TupleCount returns the total tuples across the batch.
func (b *Batch) TupleCount() int {
	total := 0
	for _, ev := range b.Events {
		total += len(ev.Tuples)
	}
	return total
}

// Committer persists one batch atomically.
type Committer interface {
	Commit(ctx context.Context, batch *Batch) (CommitResult, error)
}

// Timer is the subset of time.Timer the scheduler uses, injectable for
// tests.
type Timer interface {
	Stop() bool
}

// Clock creates flush timers. The real implementation delegates to
// time.AfterFunc.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// CommitFunc observes every attempted commit, successful or not.
type CommitFunc func(batch *Batch, result CommitResult, err error)

// Scheduler accumulates inbound events in two FIFO queues and drains them
// in batches, definitions strictly before updates so the rows a value
// references always land first.
//
// A drain runs when the combined pending count reaches the batch size, or
// when the flush interval elapses after an enqueue with no flush already
// scheduled. At most one drain loop runs at a time; it keeps pulling
// batches until both queues are empty.
type Scheduler struct {
	committer Committer
	logger    Logger
	clock     Clock
	onCommit  CommitFunc

	batchSize     int
	flushInterval time.Duration

	mu          sync.Mutex
	definitions []*Event
	updates     []*Event
	timer       Timer
	draining    bool
	closed      bool
	wg          sync.WaitGroup
}

// NewScheduler creates a scheduler draining into committer. onCommit may
// be nil.
func NewScheduler(committer Committer, batchSize int, flushInterval time.Duration, logger Logger, onCommit CommitFunc) *Scheduler {
	return &Scheduler{
		committer:     committer,
		logger:        logger,
		clock:         realClock{},
		onCommit:      onCommit,
		batchSize:     batchSize,
		flushInterval: flushInterval,
	}
}

// SetClock replaces the flush timer source. Test hook.
func (s *Scheduler) SetClock(clock Clock) {
	s.clock = clock
}

// Enqueue adds one event and triggers a drain when the combined queue
// depth reaches the batch size. Queues are unbounded; depth is reported
// through Pending for monitoring.
func (s *Scheduler) Enqueue(ev *Event) {
	if ev == nil {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if ev.Kind == Definition {
		s.definitions = append(s.definitions, ev)
	} else {
		s.updates = append(s.updates, ev)
	}
	pending := len(s.definitions) + len(s.updates)

	if pending >= s.batchSize {
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.startDrainLocked()
		s.mu.Unlock()
		return
	}

	if s.timer == nil && !s.draining {
		s.timer = s.clock.AfterFunc(s.flushInterval, s.timerFired)
	}
	s.mu.Unlock()
}

// Pending returns the combined queue depth.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.definitions) + len(s.updates)
}

// Close stops the flush timer, drains anything still queued, and waits
// for in-flight commits. Events enqueued after Close are dropped.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if len(s.definitions)+len(s.updates) > 0 {
		s.startDrainLocked()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) timerFired() {
	s.mu.Lock()
	s.timer = nil
	if !s.closed && len(s.definitions)+len(s.updates) > 0 {
		s.startDrainLocked()
	}
	s.mu.Unlock()
}

// startDrainLocked launches the drain loop unless one is already running.
// Caller holds s.mu.
func (s *Scheduler) startDrainLocked() {
	if s.draining {
		return
	}
	s.draining = true
	s.wg.Add(1)
	go s.drain()
}

func (s *Scheduler) drain() {
	defer s.wg.Done()
	for {
		batch := s.nextBatch()
		if batch == nil {
			return
		}

		result, err := s.committer.Commit(context.Background(), batch)
		if err != nil {
			s.logger.Error("batch commit failed",
				"kind", batch.Kind.String(),
				"events", len(batch.Events),
				"tuples", batch.TupleCount(),
				"elapsed", result.Elapsed,
				"error", err,
			)
		} else {
			s.logger.Debug("batch committed",
				"kind", batch.Kind.String(),
				"events", result.Events,
				"values", result.Values,
				"elapsed", result.Elapsed,
			)
		}
		if s.onCommit != nil {
			s.onCommit(batch, result, err)
		}
	}
}

// nextBatch takes up to batchSize events, from the definition queue first.
// When both queues are empty it clears the draining flag and returns nil.
func (s *Scheduler) nextBatch() *Batch {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.definitions) > 0 {
		return &Batch{Kind: Definition, Events: s.takeLocked(&s.definitions)}
	}
	if len(s.updates) > 0 {
		return &Batch{Kind: Update, Events: s.takeLocked(&s.updates)}
	}
	s.draining = false
	return nil
}

// takeLocked splits up to batchSize events off the front of a queue.
// Caller holds s.mu.
func (s *Scheduler) takeLocked(queue *[]*Event) []*Event {
	n := len(*queue)
	if n > s.batchSize {
		n = s.batchSize
	}
	taken := make([]*Event, n)
	copy(taken, (*queue)[:n])
	rest := (*queue)[n:]
	if len(rest) == 0 {
		*queue = nil
	} else {
		*queue = append([]*Event(nil), rest...)
	}
	return taken
}
