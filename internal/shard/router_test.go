package shard

import (
	"testing"

	"github.com/kvraft/kvraft/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterRoutesKeyedCommandToOwningShard(t *testing.T) {
	ring := NewRing(HashMD5, 32)
	ring.AddShard("shard-0")
	ring.AddShard("shard-1")

	wantShard, ok := ring.Lookup("k")
	require.True(t, ok)

	var gotShard string
	router := NewRouter(ring, func(shardID string, cmd types.Command) (types.Reply, error) {
		gotShard = shardID
		return types.Simple("OK"), nil
	}, func(shardID string, cmd types.Command) (types.Reply, error) {
		t.Fatal("localExec should not be called for keyed command")
		return types.Reply{}, nil
	})

	reply, err := router.HandleCommand(types.Command{Verb: "SET", Args: [][]byte{[]byte("k"), []byte("v")}})
	require.NoError(t, err)
	assert.Equal(t, "OK", reply.Str)
	assert.Equal(t, wantShard, gotShard)
}

func TestRouterHandlesLocalVerbsWithoutRouting(t *testing.T) {
	ring := NewRing(HashMD5, 8)
	ring.AddShard("shard-0")

	called := false
	router := NewRouter(ring, func(shardID string, cmd types.Command) (types.Reply, error) {
		t.Fatal("exec should not be called for local verb")
		return types.Reply{}, nil
	}, func(shardID string, cmd types.Command) (types.Reply, error) {
		called = true
		return types.Integer(42), nil
	})

	reply, err := router.HandleCommand(types.Command{Verb: "DBSIZE"})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, int64(42), reply.Int)
}

func TestRouterRejectsKeyedCommandWithNoArgs(t *testing.T) {
	ring := NewRing(HashMD5, 8)
	ring.AddShard("shard-0")
	router := NewRouter(ring, nil, nil)

	reply, err := router.HandleCommand(types.Command{Verb: "GET"})
	require.Error(t, err)
	assert.Equal(t, types.ReplyError, reply.Kind)
}

func TestRouterErrorsWhenRingEmpty(t *testing.T) {
	ring := NewRing(HashMD5, 8)
	router := NewRouter(ring, nil, nil)

	reply, err := router.HandleCommand(types.Command{Verb: "GET", Args: [][]byte{[]byte("k")}})
	require.Error(t, err)
	assert.Equal(t, types.ReplyError, reply.Kind)
}
