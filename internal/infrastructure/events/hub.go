package events

import (
	"sync"
	"sync/atomic"

	"coachroom/internal/core/domain"
	"coachroom/internal/core/ports"

	"go.uber.org/zap"
)

const DefaultBuffer = 64

// Hub fans events out to per-topic subscribers. Publish never blocks: a
// subscriber whose buffer is full misses the event.
type Hub struct {
	buffer int
	logger *zap.SugaredLogger

	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}
	closed bool

	dropped atomic.Int64
}

func NewHub(buffer int, logger *zap.SugaredLogger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Hub{
		buffer: buffer,
		logger: logger,
		topics: make(map[string]map[*Subscription]struct{}),
	}
}

var _ ports.EventPublisher = (*Hub)(nil)

func (h *Hub) Publish(event domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.topics[event.Topic] {
		select {
		case sub.ch <- event:
		default:
			h.dropped.Add(1)
			h.logger.Debugw("event dropped for slow subscriber", "topic", event.Topic, "type", event.Type)
		}
	}
}

// Subscribe returns a subscription to topic. On a closed hub the
// subscription's channel is already closed.
func (h *Hub) Subscribe(topic string) *Subscription {
	sub := &Subscription{topic: topic, hub: h, ch: make(chan domain.Event, h.buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		sub.closed = true
		close(sub.ch)
		return sub
	}
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	return sub
}

// Subscribers returns the number of live subscriptions on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Dropped returns how many events were discarded because of full buffers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for topic, subs := range h.topics {
		for sub := range subs {
			sub.closeLocked()
		}
		delete(h.topics, topic)
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.topics[sub.topic]
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.topics, sub.topic)
	}
	sub.closeLocked()
}

type Subscription struct {
	topic  string
	hub    *Hub
	ch     chan domain.Event
	closed bool // guarded by hub.mu
}

func (s *Subscription) Topic() string { return s.topic }

// Events is closed when the subscription or the hub is closed.
func (s *Subscription) Events() <-chan domain.Event { return s.ch }

func (s *Subscription) Close() {
	s.hub.remove(s)
}

func (s *Subscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
