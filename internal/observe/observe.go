// Package observe provides the two notification shapes used by the connection manager:
// a Cell that holds a latest value and replays it to every new subscriber, and a
// Broadcast that hands events only to observers subscribed at the time of emission.
package observe

import "sync"

// Cell holds the latest value of T.
type Cell[T any] struct {
	mu     sync.Mutex
	value  T
	nextID int
	subs   map[int]chan T
}

func NewCell[T any](initial T) *Cell[T] {
	return &Cell[T]{value: initial, subs: make(map[int]chan T)}
}

// Get returns the current value.
func (c *Cell[T]) Get() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Set stores v and offers it to subscribers. A subscriber that has not drained its
// previous value only ever sees the newest one.
func (c *Cell[T]) Set(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = v
	for _, ch := range c.subs {
		offerLatest(ch, v)
	}
}

// Update applies fn to the current value under the cell's lock and publishes the result.
func (c *Cell[T]) Update(fn func(T) T) T {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = fn(c.value)
	for _, ch := range c.subs {
		offerLatest(ch, c.value)
	}
	return c.value
}

// Subscribe returns a channel that immediately carries the current value, then every
// later one. The returned func unsubscribes and closes the channel.
func (c *Cell[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, 1)
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	ch <- c.value
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			close(ch)
			c.mu.Unlock()
		})
	}
}

func offerLatest[T any](ch chan T, v T) {
	select {
	case <-ch:
	default:
	}
	ch <- v
}

// Broadcast delivers events to current subscribers only. Nothing is retained for
// observers that subscribe later.
type Broadcast[T any] struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan T
	size   int
}

// NewBroadcast creates a broadcast whose subscriber channels buffer size events; an
// observer that falls further behind misses events rather than stalling the emitter.
func NewBroadcast[T any](size int) *Broadcast[T] {
	if size < 1 {
		size = 1
	}
	return &Broadcast[T]{subs: make(map[int]chan T), size: size}
}

func (b *Broadcast[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, b.size)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
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

// Emit sends v to every current subscriber without blocking. It returns how many
// subscribers received it.
func (b *Broadcast[T]) Emit(v T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, ch := range b.subs {
		select {
		case ch <- v:
			n++
		default:
		}
	}
	return n
}

// Subscribers returns the number of current subscribers.
func (b *Broadcast[T]) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
