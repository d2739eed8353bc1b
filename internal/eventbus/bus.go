// Package eventbus fans follower events out to in-process listeners.
//
// Publish never blocks: every subscriber owns a buffered channel and a
// subscriber that falls behind loses events.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"unfollowbot/internal/model"
)

type Type string

const (
	// Followed is published for every follower seen for the first time.
	Followed Type = "follower.followed"
	// Unfollowed is published for every confirmed unfollow.
	Unfollowed Type = "follower.unfollowed"
	// TickDone is published after each reconciliation tick.
	TickDone Type = "tick.done"
)

type Event struct {
	Type     Type
	Time     time.Time
	Follower model.Follower
	// Tick carries totals for TickDone.
	Tick *TickStats
}

type TickStats struct {
	Fetched    int
	Followed   int
	Unfollowed int
	Suspects   int
	Flushed    bool
	Took       time.Duration
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	// Dropped counts events lost to full subscriber buffers.
	Dropped() uint64
}

func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Hold the read lock while sending so Unsubscribe cannot close a channel
	// mid-send. Sends never block, so the lock is held briefly.
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

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
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
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
