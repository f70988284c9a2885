/*
Package events provides the in-memory event broker that replaces direct
observer callbacks between stratum components.

Mutators never call listeners directly. The layer manager collects the events
produced by an operation while it holds its mutex and publishes them only after
the mutex is released, so a subscriber may call back into the manager without
deadlocking.

# Architecture

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  Publisher → Event Channel (buffer: 256)                   │
	│       ↓                                                    │
	│  Broadcast Loop (one goroutine)                            │
	│       ↓                                                    │
	│  Subscriber Channels (buffer: 128 each)                    │
	│                                                            │
	│  Layer Events:                                             │
	│    - layer.inserted, layer.deleted, layers.changed         │
	│    - layers.reordered, layer.data_changed                  │
	│    - layer.lock_changed, layer.active_changed              │
	│  Group Events:                                             │
	│    - group.inserted, group.deleted                         │
	│  Sandbox Events:                                           │
	│    - sandbox.created, sandbox.deleted                      │
	│  Action / Filter Events:                                   │
	│    - action.completed, action.failed                       │
	│    - filter.progress, filter.completed                     │
	│    - filter.failed, filter.aborted                         │
	│  History Events:                                           │
	│    - undo.changed, provenance.recorded                     │
	│    - provenance.retracted                                  │
	└────────────────────────────────────────────────────────┘

Delivery is non-blocking: a subscriber whose buffer is full misses the event.
Subscribers that need every event should drain their channel promptly.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			fmt.Printf("%s %s\n", event.Type, event.Metadata["layer_id"])
		}
	}()

Tests that need deterministic ordering use a Recorder, which implements
Publisher synchronously:

	rec := &events.Recorder{}
	mgr := manager.New(rec)
	...
	assert.Equal(t, []events.EventType{events.EventGroupInserted, ...}, rec.Types())
*/
package events
