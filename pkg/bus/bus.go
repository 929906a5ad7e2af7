// Package bus carries normalized updates from adapters to dispatch workers and
// fans dispatch events out to observers such as metrics and the status server.
package bus

import (
	"context"
	"sync"
)

const defaultBufferSize = 100

type MessageBus struct {
	inbound chan Envelope

	eventSubscribers      map[uint64]chan Event
	nextEventSubscriberID uint64

	done      chan struct{}
	closeOnce sync.Once

	mu sync.RWMutex
}

func NewMessageBus() *MessageBus {
	return NewMessageBusWithBuffer(defaultBufferSize)
}

// NewMessageBusWithBuffer sizes the inbound queue. Non-positive sizes use the default.
func NewMessageBusWithBuffer(size int) *MessageBus {
	if size <= 0 {
		size = defaultBufferSize
	}
	return &MessageBus{
		inbound:          make(chan Envelope, size),
		eventSubscribers: make(map[uint64]chan Event),
		done:             make(chan struct{}),
	}
}

// PublishInbound queues one update for dispatch. It blocks while the queue is full.
func (mb *MessageBus) PublishInbound(ctx context.Context, env Envelope) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return false
	case <-mb.done:
		return false
	default:
	}

	select {
	case <-ctx.Done():
		return false
	case <-mb.done:
		return false
	case mb.inbound <- env:
		return true
	}
}

func (mb *MessageBus) ConsumeInbound(ctx context.Context) (Envelope, bool) {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return Envelope{}, false
	case <-mb.done:
		return Envelope{}, false
	case env := <-mb.inbound:
		return env, true
	}
}

// Pending returns the number of queued updates.
func (mb *MessageBus) Pending() int {
	return len(mb.inbound)
}

func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		close(mb.done)

		mb.mu.Lock()
		for id, ch := range mb.eventSubscribers {
			close(ch)
			delete(mb.eventSubscribers, id)
		}
		mb.mu.Unlock()
	})
}
