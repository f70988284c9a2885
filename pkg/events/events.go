package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventLayerInserted       EventType = "layer.inserted"
	EventLayerDeleted        EventType = "layer.deleted"
	EventLayersChanged       EventType = "layers.changed"
	EventLayersReordered     EventType = "layers.reordered"
	EventLayerDataChanged    EventType = "layer.data_changed"
	EventLayerLockChanged    EventType = "layer.lock_changed"
	EventActiveLayerChanged  EventType = "layer.active_changed"
	EventGroupInserted       EventType = "group.inserted"
	EventGroupDeleted        EventType = "group.deleted"
	EventSandboxCreated      EventType = "sandbox.created"
	EventSandboxDeleted      EventType = "sandbox.deleted"
	EventActionStarted       EventType = "action.started"
	EventActionCompleted     EventType = "action.completed"
	EventActionFailed        EventType = "action.failed"
	EventFilterProgress      EventType = "filter.progress"
	EventFilterCompleted     EventType = "filter.completed"
	EventFilterFailed        EventType = "filter.failed"
	EventFilterAborted       EventType = "filter.aborted"
	EventUndoChanged         EventType = "undo.changed"
	EventProvenanceRecorded  EventType = "provenance.recorded"
	EventProvenanceRetracted EventType = "provenance.retracted"
)

// Event represents an engine event
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// New creates an event with a fresh id
func New(t EventType, message string, metadata map[string]string) *Event {
	return &Event{
		ID:       uuid.New().String(),
		Type:     t,
		Message:  message,
		Metadata: metadata,
	}
}

// Publisher is implemented by anything that accepts events.
// Components hold a Publisher so tests can capture events without a running broker.
type Publisher interface {
	Publish(event *Event)
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 256),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 128)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Recorder is a synchronous Publisher that keeps every event in memory
type Recorder struct {
	mu     sync.Mutex
	events []*Event
}

// Publish stores the event
func (r *Recorder) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types in publish order
func (r *Recorder) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

// Reset clears the recorded events
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// Discard is a Publisher that drops every event
type Discard struct{}

// Publish drops the event
func (Discard) Publish(*Event) {}
