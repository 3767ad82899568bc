package messaging

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// SimpleBroker implements the Broker interface
// subscribers is a map where keys are subscriber IDs and values are channels for receiving events
type SimpleBroker struct {
	subscribers map[string]chan<- Event
	dropped     atomic.Int64
	mu          sync.RWMutex
}

// NewBroker creates a new event broker
func NewBroker() *SimpleBroker {
	return &SimpleBroker{
		subscribers: make(map[string]chan<- Event),
	}
}

// Publish delivers evt to every subscriber without blocking. A full channel
// loses the event and the first such subscriber is reported in the error.
func (b *SimpleBroker) Publish(evt Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var firstErr error
	for id, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			b.dropped.Add(1)
			if firstErr == nil {
				firstErr = fmt.Errorf("subscriber %s's channel is full", id)
			}
		}
	}
	return firstErr
}

// Subscribe registers a subscriber to receive events
func (b *SimpleBroker) Subscribe(id string, ch chan<- Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[id]; exists {
		return fmt.Errorf("%s is already subscribed", id)
	}

	b.subscribers[id] = ch
	return nil
}

// Unsubscribe removes a subscription
func (b *SimpleBroker) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[id]; !exists {
		return fmt.Errorf("%s is not subscribed", id)
	}

	delete(b.subscribers, id)
	return nil
}

// Dropped reports how many deliveries were lost to full channels
func (b *SimpleBroker) Dropped() int64 {
	return b.dropped.Load()
}

func (b *SimpleBroker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = make(map[string]chan<- Event)
	b.dropped.Store(0)
}
