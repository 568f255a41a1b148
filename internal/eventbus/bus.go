// Package eventbus fans outreach events out to in-process observers
// (metrics, daily report). Publishing never blocks the scheduler.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the orchestrator.
const (
	CycleFinished  = "cycle.finished"
	DispatchSent   = "dispatch.sent"
	DispatchFailed = "dispatch.failed"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus delivers events to buffered subscribers. A full subscriber misses
// the event; Dropped counts how often that happened.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	Dropped() uint64
}

func New() Bus {
	return &memBus{subs: map[uint64]*sub{}}
}

type sub struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// offer sends without blocking. The lock orders it against close.
func (s *sub) offer(e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- e:
		return true
	default:
		return false
	}
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]*sub
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	targets := make([]*sub, 0, len(b.subs))
	for _, s := range b.subs {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		if !s.offer(e) {
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	s := &sub{ch: make(chan Event, buffer)}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			s.mu.Lock()
			s.closed = true
			close(s.ch)
			s.mu.Unlock()
		})
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
