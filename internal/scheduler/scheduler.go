// Package scheduler provides the orchestrator's single periodic tick loop.
//
// Every time-based concern in fleetd (health-check retries, restart backoff,
// dependency-wait timeouts, forced-kill deadlines, log flushing) is a
// callback registered here; no other component owns a timer. Bounding the
// number of timer sources to one keeps overhead and ordering behavior
// predictable regardless of fleet size.
//
// The loop is also the orchestrator's single writer: all state mutation of
// managed runtimes happens from callbacks or from closures handed to Post.
// Asynchronous I/O (socket probes, cmd.Wait) runs on worker goroutines and
// reports back through Post rather than touching state directly.
package scheduler

import (
	"container/heap"
	"errors"
	"time"

	"github.com/loykin/fleetd/internal/metrics"
)

const DefaultTick = 50 * time.Millisecond

// ErrStopped is returned by Post and Call after the loop has shut down.
var ErrStopped = errors.New("scheduler stopped")

// Callback is a scheduled action owned by one component. A cancelled
// callback never fires, even if already due; the heap purges cancelled
// entries lazily when they surface.
type Callback struct {
	owner     string
	interval  time.Duration // 0 means one-shot
	next      time.Time
	action    func()
	cancelled bool
	index     int // heap bookkeeping
}

// Cancel marks the callback so it never fires again. Loop-only.
func (c *Callback) Cancel() { c.cancelled = true }

// Cancelled reports whether Cancel has been called. Loop-only.
func (c *Callback) Cancelled() bool { return c.cancelled }

type callbackHeap []*Callback

func (h callbackHeap) Len() int            { return len(h) }
func (h callbackHeap) Less(i, j int) bool  { return h[i].next.Before(h[j].next) }
func (h callbackHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *callbackHeap) Push(x interface{}) { c := x.(*Callback); c.index = len(*h); *h = append(*h, c) }
func (h *callbackHeap) Pop() interface{} {
	old := *h
	n := len(old)
	c := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return c
}

// Scheduler runs the tick loop. Schedule/CancelOwner must only be called
// from the loop itself (from a callback or a posted closure); Post and Call
// are safe from any goroutine.
type Scheduler struct {
	tick    time.Duration
	postq   chan func()
	cbs     callbackHeap
	current *Callback // popped callback whose action is executing
	quit    chan struct{}
	done    chan struct{}
}

func New(tick time.Duration) *Scheduler {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Scheduler{
		tick:  tick,
		postq: make(chan func(), 256),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start launches the loop goroutine.
func (s *Scheduler) Start() { go s.run() }

// Stop shuts the loop down. Pending callbacks are discarded; posted
// closures still queued are not executed.
func (s *Scheduler) Stop() {
	select {
	case <-s.quit:
	default:
		close(s.quit)
	}
	<-s.done
}

// Post runs fn on the loop. It blocks only while the post queue is full.
func (s *Scheduler) Post(fn func()) error {
	select {
	case <-s.done:
		return ErrStopped
	default:
	}
	select {
	case s.postq <- fn:
		return nil
	case <-s.done:
		return ErrStopped
	}
}

// Call runs fn on the loop and waits for its result. It is the bridge for
// external goroutines (HTTP handlers, CLI) into the single-writer loop.
func (s *Scheduler) Call(fn func() error) error {
	reply := make(chan error, 1)
	if err := s.Post(func() { reply <- fn() }); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrStopped
	}
}

// Schedule registers a callback firing first after delay and then every
// interval; interval 0 makes it one-shot. Loop-only.
func (s *Scheduler) Schedule(owner string, delay, interval time.Duration, action func()) *Callback {
	cb := &Callback{
		owner:    owner,
		interval: interval,
		next:     time.Now().Add(delay),
		action:   action,
	}
	heap.Push(&s.cbs, cb)
	return cb
}

// CancelOwner cancels every pending callback registered by owner, including
// the one whose action is currently executing: a due callback is popped off
// the heap before it fires, so a repeating callback cancelling its own owner
// must not be re-pushed. Loop-only.
func (s *Scheduler) CancelOwner(owner string) {
	if s.current != nil && s.current.owner == owner {
		s.current.cancelled = true
	}
	for _, cb := range s.cbs {
		if cb.owner == owner {
			cb.cancelled = true
		}
	}
}

// Pending returns the number of live (non-cancelled) callbacks. Loop-only.
func (s *Scheduler) Pending() int {
	n := 0
	for _, cb := range s.cbs {
		if !cb.cancelled {
			n++
		}
	}
	return n
}

func (s *Scheduler) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-s.quit:
			return
		case fn := <-s.postq:
			fn()
		case now := <-ticker.C:
			s.fireDue(now)
		}
	}
}

// fireDue pops and invokes every due callback, rescheduling repeating ones.
// Cancelled entries are purged here rather than on Cancel.
func (s *Scheduler) fireDue(now time.Time) {
	began := time.Now()
	fired := 0
	for s.cbs.Len() > 0 {
		cb := s.cbs[0]
		if cb.cancelled {
			heap.Pop(&s.cbs)
			continue
		}
		if cb.next.After(now) {
			break
		}
		heap.Pop(&s.cbs)
		s.current = cb
		cb.action()
		s.current = nil
		fired++
		// The action may cancel its own callback (repeating probes do).
		if cb.interval > 0 && !cb.cancelled {
			cb.next = now.Add(cb.interval)
			heap.Push(&s.cbs, cb)
		}
	}
	if fired > 0 {
		metrics.ObserveTick(time.Since(began).Seconds())
	}
	metrics.SetPendingCallbacks(s.cbs.Len())
}
