package bus

import (
	"context"
	"sync"

	"replybot/pkg/channel"
)

const defaultBufferSize = 100

// MessageBus carries chat events from the subscription to the dispatcher
// through a bounded queue and fans lifecycle events out to subscribers.
type MessageBus struct {
	inbound chan channel.Event

	eventSubscribers      map[uint64]chan Event
	nextEventSubscriberID uint64

	done      chan struct{}
	closeOnce sync.Once

	mu sync.RWMutex
}

func NewMessageBus() *MessageBus {
	return NewMessageBusSize(defaultBufferSize)
}

// NewMessageBusSize builds a bus whose inbound queue holds size events.
func NewMessageBusSize(size int) *MessageBus {
	if size <= 0 {
		size = defaultBufferSize
	}

	return &MessageBus{
		inbound:          make(chan channel.Event, size),
		eventSubscribers: make(map[uint64]chan Event),
		done:             make(chan struct{}),
	}
}

// PublishInbound blocks while the queue is full so the producer is slowed
// down instead of events being dropped.
func (mb *MessageBus) PublishInbound(ctx context.Context, event channel.Event) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	if event == nil {
		return false
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
	case mb.inbound <- event:
		return true
	}
}

func (mb *MessageBus) ConsumeInbound(ctx context.Context) (channel.Event, bool) {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return nil, false
	case <-mb.done:
		return nil, false
	case event := <-mb.inbound:
		return event, true
	}
}

// Pending reports how many events wait in the inbound queue.
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
