// Package bridge delivers worker notices from the supervisor to any number of
// subscribers.
//
// Every notice belongs to a worker instance identified by its generation. The
// bridge keeps track of the current generation and enforces:
//   - update and error notices of a superseded generation are dropped
//   - nothing is delivered for a generation after its stopped notice
//   - the stopped notice itself is delivered once, even for a superseded
//     generation, so consumers must compare generations
//
// Publish never blocks: each subscription has its own unbounded FIFO queue
// drained by a goroutine into the subscription channel.
package bridge

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/autosender/autosender/internal/model"
)

type Bridge struct {
	mx      sync.Mutex
	current uint64
	stopped map[uint64]struct{}
	subs    []*Subscription
	closed  bool
}

func New() *Bridge {
	return &Bridge{
		stopped: make(map[uint64]struct{}),
	}
}

// Advance makes gen the current generation. Lower values are ignored.
func (b *Bridge) Advance(gen uint64) {
	b.mx.Lock()
	defer b.mx.Unlock()
	if gen > b.current {
		b.current = gen
	}
	// generations older than the previous one can't emit anymore
	for g := range b.stopped {
		if g+1 < b.current {
			delete(b.stopped, g)
		}
	}
}

// Current returns the current generation.
func (b *Bridge) Current() uint64 {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.current
}

// Publish delivers n to all subscriptions interested in its kind. It reports
// whether the notice was accepted.
func (b *Bridge) Publish(n model.Notice) bool {
	b.mx.Lock()
	defer b.mx.Unlock()
	if b.closed {
		return false
	}

	if _, ok := b.stopped[n.Generation]; ok {
		slog.Debug("bridge: notice after stop dropped", "kind", n.Kind, "generation", n.Generation)
		return false
	}
	switch n.Kind {
	case model.NoticeStopped:
		b.stopped[n.Generation] = struct{}{}
	default:
		if n.Generation != b.current {
			slog.Debug("bridge: stale notice dropped", "kind", n.Kind, "generation", n.Generation, "current", b.current)
			return false
		}
	}

	for _, s := range b.subs {
		if s.wants(n.Kind) {
			s.push(n)
		}
	}
	return true
}

// Subscribe returns a subscription for the given kinds, or for all kinds when
// none are given. The caller must Close it.
func (b *Bridge) Subscribe(kinds ...model.NoticeKind) *Subscription {
	s := newSubscription(kinds)
	b.mx.Lock()
	defer b.mx.Unlock()
	if b.closed {
		s.Close()
		return s
	}
	b.subs = append(b.subs, s)
	s.detach = func() { b.unsubscribe(s) }
	return s
}

func (b *Bridge) unsubscribe(s *Subscription) {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.subs = slices.DeleteFunc(b.subs, func(x *Subscription) bool { return x == s })
}

// Close ends all subscriptions. Queued notices are still delivered.
func (b *Bridge) Close() {
	b.mx.Lock()
	subs := b.subs
	b.subs = nil
	b.closed = true
	b.mx.Unlock()
	for _, s := range subs {
		s.finish()
	}
}

// Subscription receives notices on C. C is closed after Close or after the
// bridge is closed and the queue is drained.
type Subscription struct {
	C <-chan model.Notice

	out    chan model.Notice
	kinds  []model.NoticeKind
	mx     sync.Mutex
	queue  []model.Notice
	wake   chan struct{}
	done   chan struct{} // Close: stop now
	eof    bool          // bridge closed: stop once drained
	once   sync.Once
	detach func()
	exited chan struct{}
}

func newSubscription(kinds []model.NoticeKind) *Subscription {
	out := make(chan model.Notice)
	s := &Subscription{
		C:      out,
		out:    out,
		kinds:  kinds,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *Subscription) wants(kind model.NoticeKind) bool {
	return len(s.kinds) == 0 || slices.Contains(s.kinds, kind)
}

func (s *Subscription) push(n model.Notice) {
	s.mx.Lock()
	s.queue = append(s.queue, n)
	s.mx.Unlock()
	s.signal()
}

func (s *Subscription) finish() {
	s.mx.Lock()
	s.eof = true
	s.mx.Unlock()
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.exited)
	defer close(s.out)
	for {
		s.mx.Lock()
		if len(s.queue) == 0 {
			eof := s.eof
			s.mx.Unlock()
			if eof {
				return
			}
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		n := s.queue[0]
		s.queue[0] = model.Notice{}
		s.queue = s.queue[1:]
		s.mx.Unlock()

		select {
		case s.out <- n:
		case <-s.done:
			return
		}
	}
}

// Close detaches the subscription and waits for its goroutine to end. Pending
// notices are discarded.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.detach != nil {
			s.detach()
		}
		close(s.done)
	})
	<-s.exited
}
