package events

import (
	"context"
	"sync"
)

const defaultSubscriberBuffer = 16

// Broadcaster delivers envelopes in process to subscribers of a chart set.
// Slow subscribers miss envelopes rather than block publishers.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[int64]map[int64]chan Envelope
	nextID      int64
	bufferSize  int
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[int64]map[int64]chan Envelope),
		bufferSize:  defaultSubscriberBuffer,
	}
}

func (b *Broadcaster) Connect(context.Context) error { return nil }

// Close drops every subscriber.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for setID, subscribers := range b.subscribers {
		for _, stream := range subscribers {
			close(stream)
		}
		delete(b.subscribers, setID)
	}
	return nil
}

// Subscribe registers for envelopes of setID until ctx ends or the returned
// cleanup runs. The channel is closed on cleanup.
func (b *Broadcaster) Subscribe(ctx context.Context, setID int64) (<-chan Envelope, func()) {
	stream := make(chan Envelope, b.bufferSize)

	b.mu.Lock()
	b.nextID++
	subscriberID := b.nextID
	if b.subscribers[setID] == nil {
		b.subscribers[setID] = make(map[int64]chan Envelope)
	}
	b.subscribers[setID][subscriberID] = stream
	b.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() { b.unsubscribe(setID, subscriberID) })
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return stream, cleanup
}

func (b *Broadcaster) Publish(_ context.Context, envelope Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, stream := range b.subscribers[envelope.SetID] {
		select {
		case stream <- envelope:
		default:
		}
	}
	return nil
}

func (b *Broadcaster) unsubscribe(setID, subscriberID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subscribers := b.subscribers[setID]
	stream, ok := subscribers[subscriberID]
	if !ok {
		return
	}
	delete(subscribers, subscriberID)
	close(stream)
	if len(subscribers) == 0 {
		delete(b.subscribers, setID)
	}
}
