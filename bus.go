package link

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// SubscriberStats tracks frame delivery for one bus subscriber
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

type busSubscriber struct {
	ch      chan VitalsFrame
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// PacketBus fans decoded vitals frames out to subscribers. Delivery is
// non-blocking per subscriber: a consumer that cannot keep up loses
// frames (counted), and never stalls a connection's read loop.
type PacketBus struct {
	mu        sync.RWMutex
	subs      map[string]*busSubscriber
	published atomic.Uint64
	closed    bool
}

// NewPacketBus creates an empty bus
func NewPacketBus() *PacketBus {
	return &PacketBus{
		subs: make(map[string]*busSubscriber),
	}
}

// Subscribe registers a new subscriber with the given channel buffer and
// returns its id and receive channel. The channel is closed on
// Unsubscribe or bus Close.
func (b *PacketBus) Subscribe(buffer int) (string, <-chan VitalsFrame, error) {
	if buffer < 1 {
		buffer = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", nil, ErrBusClosed
	}

	id := uuid.NewString()
	sub := &busSubscriber{ch: make(chan VitalsFrame, buffer)}
	b.subs[id] = sub
	return id, sub.ch, nil
}

// Publish distributes a frame to all subscribers without blocking
func (b *PacketBus) Publish(frame VitalsFrame) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	b.published.Add(1)

	for _, sub := range b.subs {
		select {
		case sub.ch <- frame:
			sub.sent.Add(1)
		default:
			sub.dropped.Add(1)
		}
	}
}

// Unsubscribe removes a subscriber and closes its channel
func (b *PacketBus) Unsubscribe(id string) error {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()

	if !ok {
		return ErrSubscriberNotFound
	}
	close(sub.ch)
	return nil
}

// Stats returns delivery counters for one subscriber
func (b *PacketBus) Stats(id string) (SubscriberStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	sub, ok := b.subs[id]
	if !ok {
		return SubscriberStats{}, ErrSubscriberNotFound
	}
	return SubscriberStats{
		Sent:    sub.sent.Load(),
		Dropped: sub.dropped.Load(),
	}, nil
}

// Published returns the total number of frames published
func (b *PacketBus) Published() uint64 {
	return b.published.Load()
}

// Close shuts the bus down and closes all subscriber channels
func (b *PacketBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}
