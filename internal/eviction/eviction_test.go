package eviction

import (
	"testing"
	"time"

	"github.com/kvraft/kvraft/internal/innerstore"
	"github.com/kvraft/kvraft/internal/item"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func putKey(store *innerstore.Store, key string, lastAccess int64, expireAt *int64) {
	env := item.NewEnvelope(item.NewStringValue([]byte("v")), 1)
	env.LastAccess = lastAccess
	env.ExpireAt = expireAt
	store.Insert(key, env)
}

// Scenario 8 (spec.md §8): ALLKEYS_LRU evicts the least-recently-touched
// keys first, one at a time, until usage (here: key count) drops below
// the ceiling; VOLATILE_LRU never evicts a key without expiration.
func TestAllKeysLRUEvictsOldestFirst(t *testing.T) {
	store := innerstore.New()
	now := time.Now().Unix()
	for i, k := range []string{"K1", "K2", "K3", "K4", "K5"} {
		putKey(store, k, now-int64(100-i), nil)
	}

	eng := New(store, AllKeysLRU, 3, func() int64 { return int64(store.Len()) })
	eng.sampleSize = 5

	err := eng.Admit()
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len())
	assert.Nil(t, store.Lookup("K1"))
	assert.Nil(t, store.Lookup("K2"))
	assert.Nil(t, store.Lookup("K3"))
	assert.NotNil(t, store.Lookup("K4"))
	assert.NotNil(t, store.Lookup("K5"))
}

func TestVolatileLRUNeverEvictsNonExpiringKey(t *testing.T) {
	store := innerstore.New()
	now := time.Now().Unix()
	putKey(store, "persistent", now-1000, nil)

	usage := int64(1000)
	eng := New(store, VolatileLRU, 900, func() int64 { return usage })
	eng.sampleSize = 5

	err := eng.Admit()
	assert.Error(t, err)
	assert.Equal(t, 1, store.Len(), "the only key has no expiration and must survive")
}

func TestAllKeysLRUPicksOldestAccessed(t *testing.T) {
	store := innerstore.New()
	now := time.Now().Unix()
	putKey(store, "oldest", now-500, nil)
	putKey(store, "newest", now, nil)

	eng := New(store, AllKeysLRU, 0, func() int64 { return 0 })
	eng.sampleSize = 5
	victim, ok := eng.pickVictim()
	require.True(t, ok)
	assert.Equal(t, "oldest", victim)
}

func TestVolatileTTLPicksSoonestExpiring(t *testing.T) {
	store := innerstore.New()
	now := time.Now().Unix()
	soon := now + 5
	later := now + 500
	putKey(store, "soon", now, &soon)
	putKey(store, "later", now, &later)
	putKey(store, "forever", now, nil)

	eng := New(store, VolatileTTL, 0, func() int64 { return 0 })
	eng.sampleSize = 5
	victim, ok := eng.pickVictim()
	require.True(t, ok)
	assert.Equal(t, "soon", victim)
}

func TestNoEvictionNeverEvicts(t *testing.T) {
	store := innerstore.New()
	putKey(store, "k", 0, nil)
	eng := New(store, NoEviction, 1, func() int64 { return 1000 })
	err := eng.Admit()
	assert.NoError(t, err)
	assert.Equal(t, 1, store.Len())
}
