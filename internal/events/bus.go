package events

import (
	"strings"
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is used when a subscription asks for a buffer <= 0.
const DefaultBufferSize = 256

type subscription struct {
	ch    chan Event
	jobID string // empty matches every job
}

// EventBus is a channel-based pub-sub event bus shared by the jobs of a process.
// Subscribers pick a topic, every topic, or a single job.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[string][]subscription // topic -> subscribers
	allSubs []subscription            // subscribers to every topic
	closed  bool
	dropped atomic.Int64
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subs: make(map[string][]subscription),
	}
}

// Subscribe returns a channel receiving events of one topic from every job.
func (b *EventBus) Subscribe(topic string, bufSize int) <-chan Event {
	return b.add(topic, "", bufSize)
}

// SubscribeAll returns a channel receiving every event.
func (b *EventBus) SubscribeAll(bufSize int) <-chan Event {
	return b.add("", "", bufSize)
}

// SubscribeJob returns a channel receiving every event of one job.
func (b *EventBus) SubscribeJob(jobID string, bufSize int) <-chan Event {
	return b.add("", jobID, bufSize)
}

func (b *EventBus) add(topic, jobID string, bufSize int) <-chan Event {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	sub := subscription{ch: make(chan Event, bufSize), jobID: jobID}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(sub.ch)
		return sub.ch
	}

	if topic == "" {
		b.allSubs = append(b.allSubs, sub)
	} else {
		b.subs[topic] = append(b.subs[topic], sub)
	}
	return sub.ch
}

// TopicOf returns the topic an event belongs to ("job" or "task").
func TopicOf(event Event) string {
	topic, _, _ := strings.Cut(event.EventType(), ".")
	return topic
}

// Publish sends an event to the subscribers of its topic and to all-topic subscribers.
// Non-blocking: a full subscriber channel drops the event for that subscriber.
func (b *EventBus) Publish(event Event) {
	if b == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subs[TopicOf(event)] {
		b.send(sub, event)
	}
	for _, sub := range b.allSubs {
		b.send(sub, event)
	}
}

func (b *EventBus) send(sub subscription, event Event) {
	if sub.jobID != "" && sub.jobID != event.JobID() {
		return
	}
	select {
	case sub.ch <- event:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns how many deliveries were dropped because a subscriber was full.
func (b *EventBus) Dropped() int64 {
	return b.dropped.Load()
}

// Close closes the bus and every subscriber channel. Safe to call more than once.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, subs := range b.subs {
		for _, sub := range subs {
			close(sub.ch)
		}
	}
	for _, sub := range b.allSubs {
		close(sub.ch)
	}
}
