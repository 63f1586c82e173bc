package shard

import (
	"bytes"
	"testing"
	"time"

	"github.com/kvraft/kvraft/internal/eventbus"
	"github.com/kvraft/kvraft/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationBatchRoundTrip(t *testing.T) {
	b := Batch{
		Keys:   []string{"a", "b"},
		Values: [][]byte{[]byte("1"), []byte("2")},
		Done:   false,
		Sent:   2,
		Total:  10,
	}
	var buf bytes.Buffer
	require.NoError(t, wire.WriteFrame(&buf, wire.MsgMigrationBatch, EncodeBatch(b)))

	got, err := ReceiveBatch(&buf)
	require.NoError(t, err)
	assert.Equal(t, b.Keys, got.Keys)
	assert.Equal(t, b.Values, got.Values)
	assert.Equal(t, b.Done, got.Done)
	assert.Equal(t, b.Sent, got.Sent)
	assert.Equal(t, b.Total, got.Total)
}

func TestMigrationManagerStartMarksSourceMigrating(t *testing.T) {
	meta := newTestMetaStore(t)
	require.NoError(t, meta.PutShard(&Info{ID: "shard-0", Status: StatusHealthy}))

	bus := eventbus.NewBroker()
	bus.Start()
	defer bus.Stop()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	mgr := NewMigrationManager(meta, bus)
	mig, err := mgr.Start("m1", "shard-0", "shard-1", "a", "z")
	require.NoError(t, err)
	assert.Equal(t, MigrationInProgress, mig.Status)

	src, err := meta.GetShard("shard-0")
	require.NoError(t, err)
	assert.Equal(t, StatusMigrating, src.Status)

	select {
	case ev := <-sub:
		assert.Equal(t, eventbus.ShardMigrating, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no ShardMigrating event observed")
	}
}

func TestMigrationManagerSendBatchTracksProgressAndCompletes(t *testing.T) {
	meta := newTestMetaStore(t)
	require.NoError(t, meta.PutShard(&Info{ID: "shard-0", Status: StatusHealthy}))

	bus := eventbus.NewBroker()
	bus.Start()
	defer bus.Stop()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	mgr := NewMigrationManager(meta, bus)
	_, err := mgr.Start("m2", "shard-0", "shard-1", "a", "z")
	require.NoError(t, err)
	<-sub // drain ShardMigrating

	var buf bytes.Buffer
	require.NoError(t, mgr.SendBatch(&buf, "m2", Batch{
		Keys: []string{"a"}, Values: [][]byte{[]byte("1")}, Sent: 5, Total: 10,
	}))
	mig, err := meta.GetMigration("m2")
	require.NoError(t, err)
	assert.Equal(t, 50, mig.Progress)
	assert.Equal(t, MigrationInProgress, mig.Status)

	select {
	case ev := <-sub:
		assert.Equal(t, eventbus.ShardMigrationProgress, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no ShardMigrationProgress event observed")
	}

	require.NoError(t, mgr.SendBatch(&buf, "m2", Batch{
		Keys: []string{"b"}, Values: [][]byte{[]byte("2")}, Sent: 10, Total: 10, Done: true,
	}))
	mig, err = meta.GetMigration("m2")
	require.NoError(t, err)
	assert.Equal(t, 100, mig.Progress)
	assert.Equal(t, MigrationCompleted, mig.Status)

	src, err := meta.GetShard("shard-0")
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, src.Status)

	select {
	case ev := <-sub:
		assert.Equal(t, eventbus.ShardMigrationCompleted, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no ShardMigrationCompleted event observed")
	}
}
