package shard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetaStore(t *testing.T) *MetaStore {
	t.Helper()
	s, err := NewMetaStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMetaStoreShardCRUD(t *testing.T) {
	s := newTestMetaStore(t)

	require.NoError(t, s.PutShard(&Info{ID: "shard-0", LeaderAddr: "127.0.0.1:7000", Status: StatusHealthy}))
	got, err := s.GetShard("shard-0")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", got.LeaderAddr)
	assert.Equal(t, StatusHealthy, got.Status)
	assert.False(t, got.UpdatedAt.IsZero())

	list, err := s.ListShards()
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteShard("shard-0"))
	_, err = s.GetShard("shard-0")
	assert.Error(t, err)
}

func TestMetaStoreMigrationCRUD(t *testing.T) {
	s := newTestMetaStore(t)

	mig := &Migration{ID: "m1", SourceShard: "shard-0", DestShard: "shard-1", StartKey: "a", EndKey: "m", Status: MigrationInProgress, Progress: 10}
	require.NoError(t, s.PutMigration(mig))

	got, err := s.GetMigration("m1")
	require.NoError(t, err)
	assert.Equal(t, MigrationInProgress, got.Status)
	assert.Equal(t, 10, got.Progress)

	list, err := s.ListMigrations()
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMetaStoreHeartbeatRoundTrip(t *testing.T) {
	s := newTestMetaStore(t)

	zero, err := s.GetHeartbeat("shard-0")
	require.NoError(t, err)
	assert.True(t, zero.IsZero())

	now := time.Now().Truncate(time.Millisecond)
	require.NoError(t, s.PutHeartbeat("shard-0", now))
	got, err := s.GetHeartbeat("shard-0")
	require.NoError(t, err)
	assert.True(t, now.Equal(got))
}
