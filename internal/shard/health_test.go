package shard

import (
	"testing"
	"time"

	"github.com/kvraft/kvraft/internal/eventbus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheckerFlipsLaggingShardToFailed(t *testing.T) {
	meta := newTestMetaStore(t)
	require.NoError(t, meta.PutShard(&Info{ID: "shard-0", Status: StatusHealthy}))
	require.NoError(t, meta.PutHeartbeat("shard-0", time.Now().Add(-time.Hour)))

	bus := eventbus.NewBroker()
	bus.Start()
	defer bus.Stop()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	hc := NewHealthChecker(meta, bus, HealthConfig{HeartbeatInterval: 10 * time.Millisecond, FailoverTimeout: time.Second}, zerolog.Nop())
	hc.Start()
	defer hc.Stop()

	select {
	case ev := <-sub:
		assert.Equal(t, eventbus.ShardFailed, ev.Type)
		assert.Equal(t, "shard-0", ev.ShardID)
	case <-time.After(2 * time.Second):
		t.Fatal("no ShardFailed event observed")
	}

	got, err := meta.GetShard("shard-0")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
}

func TestHealthCheckerLeavesFreshShardHealthy(t *testing.T) {
	meta := newTestMetaStore(t)
	require.NoError(t, meta.PutShard(&Info{ID: "shard-0", Status: StatusHealthy}))

	bus := eventbus.NewBroker()
	bus.Start()
	defer bus.Stop()

	hc := NewHealthChecker(meta, bus, HealthConfig{HeartbeatInterval: 10 * time.Millisecond, FailoverTimeout: time.Second}, zerolog.Nop())
	require.NoError(t, hc.Heartbeat("shard-0"))
	hc.Start()
	time.Sleep(50 * time.Millisecond)
	hc.Stop()

	got, err := meta.GetShard("shard-0")
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, got.Status)
}
