package search

import "sync"

// Observable exposes a current value plus change notifications.
type Observable[T any] interface {
	Current() T
	// OnChange registers listener and returns a function that removes it.
	// The listener is invoked with the current value shortly after
	// registration and then after every change.
	OnChange(listener func(T)) (cancel func())
}

type listenerEntry[T any] struct {
	id uint64
	fn func(T)
	// seen is the last version delivered to fn. Only the run goroutine
	// updates it after registration.
	seen uint64
}

// publisher delivers values to listeners from one goroutine, so listeners
// never run concurrently with each other. Bursts of changes coalesce into a
// single delivery of the latest value. Each listener gets a given version at
// most once; a new listener receives only the current value.
type publisher[T any] struct {
	mu        sync.Mutex
	value     T
	version   uint64
	listeners []*listenerEntry[T]
	nextID    uint64

	pending   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newPublisher[T any](initial T) *publisher[T] {
	p := &publisher[T]{
		value:   initial,
		version: 1,
		pending: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *publisher[T]) Current() T {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value
}

func (p *publisher[T]) OnChange(listener func(T)) func() {
	if listener == nil {
		return func() {}
	}
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.listeners = append(p.listeners, &listenerEntry[T]{id: id, fn: listener})
	p.mu.Unlock()
	p.signal()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			for i, entry := range p.listeners {
				if entry.id == id {
					p.listeners = append(p.listeners[:i:i], p.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (p *publisher[T]) publish(value T) {
	p.mu.Lock()
	p.value = value
	p.version++
	p.mu.Unlock()
	p.signal()
}

func (p *publisher[T]) signal() {
	select {
	case p.pending <- struct{}{}:
	default:
	}
}

// close stops delivery. It does not wait for an in-progress delivery, so it
// is safe to call from inside a listener.
func (p *publisher[T]) close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
}

func (p *publisher[T]) run() {
	for {
		select {
		case <-p.done:
			return
		case <-p.pending:
		}
		// Prefer shutdown when both are ready.
		select {
		case <-p.done:
			return
		default:
		}

		p.mu.Lock()
		value := p.value
		version := p.version
		listeners := append([]*listenerEntry[T](nil), p.listeners...)
		p.mu.Unlock()

		for _, entry := range listeners {
			if entry.seen >= version {
				continue
			}
			entry.seen = version
			entry.fn(value)
		}
	}
}
