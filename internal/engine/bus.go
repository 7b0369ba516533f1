package engine

import (
	"context"
	"sync"
)

// Bus carries engine events to a single consumer. Producers only enqueue.
type Bus struct {
	events chan Event
}

func NewBus(size int) *Bus {
	if size <= 0 {
		size = 64
	}
	return &Bus{events: make(chan Event, size)}
}

// Publish enqueues ev, waiting for room until ctx is done.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	select {
	case b.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run delivers events to handle, one at a time, until ctx is done.
func (b *Bus) Run(ctx context.Context, handle func(Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.events:
			handle(ev)
		}
	}
}

// Readiness resolves once, when the engine reports it can accept commands.
type Readiness struct {
	once sync.Once
	ch   chan struct{}
}

func NewReadiness() *Readiness {
	return &Readiness{ch: make(chan struct{})}
}

func (r *Readiness) MarkReady() {
	r.once.Do(func() { close(r.ch) })
}

func (r *Readiness) Ready() <-chan struct{} {
	return r.ch
}

func (r *Readiness) IsReady() bool {
	select {
	case <-r.ch:
		return true
	default:
		return false
	}
}
