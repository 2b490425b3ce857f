package crdtkit

import (
	"log/slog"
	"sync"
)

// Subscription is a cancellable handle to a registered callback. Exactly one
// cancellation is honored; cancelling twice is a no-op. A subscription that
// is never cancelled stays active for the lifetime of the owning publisher.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Cancel removes the callback from its publisher.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

// publisher is an ordered collection of callbacks invoked synchronously, in
// registration order, on the thread performing the commit or merge that
// produced the event. Each emitting channel (document update v1/v2,
// awareness update/change) owns its own publisher.
type publisher[T any] struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscriber[T]
	logger *slog.Logger
}

func newPublisher[T any](logger *slog.Logger) *publisher[T] {
	return &publisher[T]{logger: logger}
}

func (p *publisher[T]) subscribe(fn func(T)) *Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.subs = append(p.subs, subscriber[T]{id: id, fn: fn})
	return &Subscription{cancel: func() { p.unsubscribe(id) }}
}

func (p *publisher[T]) unsubscribe(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.subs {
		if s.id == id {
			p.subs = append(p.subs[:i], p.subs[i+1:]...)
			return
		}
	}
}

func (p *publisher[T]) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// publish delivers the event to every subscriber in registration order. A
// panicking callback must not prevent the remaining callbacks from running,
// so each invocation is isolated and panics are surfaced as an error log.
func (p *publisher[T]) publish(event T) {
	p.mu.Lock()
	subs := make([]subscriber[T], len(p.subs))
	copy(subs, p.subs)
	p.mu.Unlock()

	for _, s := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("subscriber callback panicked",
						slog.Any("panic", r),
						slog.Uint64("subscription_id", s.id),
					)
				}
			}()
			s.fn(event)
		}()
	}
}
