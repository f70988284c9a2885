package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	assert.Equal(t, 1, broker.SubscriberCount())

	broker.Publish(New(EventLayerInserted, "Layer inserted", map[string]string{"layer_id": "layer_1"}))

	select {
	case event := <-sub:
		assert.Equal(t, EventLayerInserted, event.Type)
		assert.Equal(t, "layer_1", event.Metadata["layer_id"])
		assert.NotEmpty(t, event.ID)
		assert.False(t, event.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	broker.Unsubscribe(sub)
	assert.Equal(t, 0, broker.SubscriberCount())

	_, open := <-sub
	assert.False(t, open)

	// Second unsubscribe is a no-op
	broker.Unsubscribe(sub)
}

func TestBrokerPublishAfterStop(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	broker.Stop()
	broker.Stop()

	for i := 0; i < 512; i++ {
		broker.Publish(New(EventLayersChanged, "", nil))
	}
}

func TestRecorder(t *testing.T) {
	rec := &Recorder{}
	rec.Publish(New(EventGroupInserted, "", nil))
	rec.Publish(New(EventLayerInserted, "", nil))

	require.Len(t, rec.Events(), 2)
	assert.Equal(t, []EventType{EventGroupInserted, EventLayerInserted}, rec.Types())

	rec.Reset()
	assert.Empty(t, rec.Events())

	var p Publisher = Discard{}
	p.Publish(New(EventLayerDeleted, "", nil))
}
