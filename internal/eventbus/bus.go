package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Topics published by the robot runtime.
const (
	TopicCommandScheduled   = "command.scheduled"
	TopicCommandInitialized = "command.initialized"
	TopicCommandFinished    = "command.finished"
	TopicCommandInterrupted = "command.interrupted"
	TopicCommandDisplaced   = "command.displaced"
	TopicCommandPanic       = "command.panic"
	TopicCancelAll          = "command.cancel_all"
	TopicLogAlert           = "log.alert"
	TopicLoopOverrun        = "loop.overrun"
)

// Event is an in-memory notification. Publish never blocks; a subscriber
// whose buffer is full misses the event.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// Stats reports delivery counters.
type Stats struct {
	Published   uint64
	Dropped     uint64
	Subscribers int
}

// MemBus fans events out to buffered subscriber channels. It owns no
// goroutines.
type MemBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64

	published atomic.Uint64
	dropped   atomic.Uint64
	now       func() time.Time
}

func New() *MemBus {
	return &MemBus{subs: map[uint64]chan Event{}, now: time.Now}
}

func (b *MemBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = b.now()
	}
	b.published.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a channel with the given buffer (8 when <= 0).
// Unsubscribe removes and closes it; calling it twice is safe.
func (b *MemBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

func (b *MemBus) Stats() Stats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return Stats{Published: b.published.Load(), Dropped: b.dropped.Load(), Subscribers: n}
}
