package bus

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultBuffer is the per-subscriber queue length used when none is given.
const DefaultBuffer = 64

// RoomChannel returns the channel key carrying every message posted to roomID.
func RoomChannel(roomID string) string { return "room:" + roomID }

// UserChannel returns the channel key carrying every message addressed to user.
func UserChannel(user string) string { return "user:" + user }

// Bus routes published values to the live subscribers of a channel key.
// Nothing is buffered for absent subscribers and nothing is replayed.
type Bus[T any] struct {
	mu     sync.Mutex
	subs   map[string]map[string]*Subscription[T]
	buffer int
	log    *zap.Logger
}

// New creates an empty bus. buffer bounds each subscriber's pending queue.
func New[T any](buffer int, log *zap.Logger) *Bus[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus[T]{
		subs:   make(map[string]map[string]*Subscription[T]),
		buffer: buffer,
		log:    log,
	}
}

// Subscription is one live feed on one channel key.
type Subscription[T any] struct {
	id   string
	key  string
	ch   chan T
	bus  *Bus[T]
	once sync.Once
	done chan struct{}
}

// ID returns the unique subscriber id.
func (s *Subscription[T]) ID() string { return s.id }

// Key returns the channel key this subscription listens on.
func (s *Subscription[T]) Key() string { return s.key }

// C returns the feed. It is closed once the subscription is cancelled.
func (s *Subscription[T]) C() <-chan T { return s.ch }

// Done is closed when the subscription is cancelled.
func (s *Subscription[T]) Done() <-chan struct{} { return s.done }

// Cancel deregisters the subscription and closes its feed. Safe to call
// more than once and concurrently with Publish.
func (s *Subscription[T]) Cancel() {
	s.once.Do(func() {
		s.bus.remove(s)
		close(s.done)
	})
}

// Subscribe registers a new feed on key. The feed ends when ctx is done or
// Cancel is called.
func (b *Bus[T]) Subscribe(ctx context.Context, key string) *Subscription[T] {
	sub := &Subscription[T]{
		id:   uuid.NewString(),
		key:  key,
		ch:   make(chan T, b.buffer),
		bus:  b,
		done: make(chan struct{}),
	}

	b.mu.Lock()
	set, ok := b.subs[key]
	if !ok {
		set = make(map[string]*Subscription[T])
		b.subs[key] = set
	}
	set[sub.id] = sub
	b.mu.Unlock()

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				sub.Cancel()
			case <-sub.done:
			}
		}()
	}
	return sub
}

// Publish hands v to every subscriber currently registered on key and
// returns how many accepted it. A subscriber whose queue is full misses v;
// the others are unaffected. Publish never blocks on a subscriber.
func (b *Bus[T]) Publish(key string, v T) int {
	// The lock is held for the whole fan-out so that every subscriber of a
	// key sees publishes in the same order.
	b.mu.Lock()
	defer b.mu.Unlock()

	delivered := 0
	for _, sub := range b.subs[key] {
		select {
		case sub.ch <- v:
			delivered++
		default:
			b.log.Debug("subscriber queue full, dropping value",
				zap.String("channel", key), zap.String("subscriber", sub.id))
		}
	}
	return delivered
}

// Subscribers returns the number of live subscribers on key.
func (b *Bus[T]) Subscribers(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[key])
}

// Channels returns the number of keys with at least one subscriber.
func (b *Bus[T]) Channels() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Bus[T]) remove(sub *Subscription[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if set, ok := b.subs[sub.key]; ok {
		delete(set, sub.id)
		if len(set) == 0 {
			delete(b.subs, sub.key)
		}
	}
	// Closed under the lock, so Publish can never send on a closed feed.
	close(sub.ch)
}
