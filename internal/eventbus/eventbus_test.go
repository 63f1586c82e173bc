package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesSubscriber(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(&Event{Type: ShardFailed, ShardID: "s0", Message: "heartbeat lag exceeded"})

	select {
	case ev := <-sub:
		assert.Equal(t, ShardFailed, ev.Type)
		assert.Equal(t, "s0", ev.ShardID)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event never delivered")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	b.Publish(&Event{Type: ShardMigrating, ShardID: "s1"})
	_, ok := <-sub
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestFullSubscriberQueueDropsWithoutBlockingOthers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	slow := b.Subscribe()
	defer b.Unsubscribe(slow)
	fast := b.Subscribe()
	defer b.Unsubscribe(fast)

	for i := 0; i < 60; i++ {
		b.Publish(&Event{Type: ShardMigrationProgress, ShardID: "s2"})
	}

	select {
	case <-fast:
	case <-time.After(time.Second):
		t.Fatal("fast subscriber starved by slow one")
	}
}
