package rdb

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/kvraft/kvraft/internal/engine"
	"github.com/kvraft/kvraft/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cmd(verb string, args ...string) types.Command {
	bs := make([][]byte, len(args))
	for i, a := range args {
		bs[i] = []byte(a)
	}
	return types.Command{Verb: verb, Args: bs}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	eng := engine.New()
	cs := &engine.ConnState{}

	_, err := eng.Dispatch(cs, cmd("SET", "str", "hello"))
	require.NoError(t, err)
	_, err = eng.Dispatch(cs, cmd("HSET", "h", "f", "v"))
	require.NoError(t, err)
	_, err = eng.Dispatch(cs, cmd("RPUSH", "l", "a", "b"))
	require.NoError(t, err)
	_, err = eng.Dispatch(cs, cmd("SADD", "s", "x", "y"))
	require.NoError(t, err)
	_, err = eng.Dispatch(cs, cmd("ZADD", "z", "1", "a", "2", "b"))
	require.NoError(t, err)
	_, err = eng.Dispatch(cs, cmd("EXPIRE", "str", "1000"))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "dump.rdb")
	store := New(path, eng, zerolog.Nop())
	require.NoError(t, store.Save())

	eng2 := engine.New()
	store2 := New(path, eng2, zerolog.Nop())
	require.NoError(t, store2.Load())

	cs2 := &engine.ConnState{}
	reply, err := eng2.Dispatch(cs2, cmd("GET", "str"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(reply.Bulk))

	reply, err = eng2.Dispatch(cs2, cmd("HGET", "h", "f"))
	require.NoError(t, err)
	assert.Equal(t, "v", string(reply.Bulk))

	reply, err = eng2.Dispatch(cs2, cmd("TTL", "str"))
	require.NoError(t, err)
	assert.Greater(t, reply.Int, int64(0))

	reply, err = eng2.Dispatch(cs2, cmd("ZCARD", "z"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), reply.Int)
}

func TestLoadMissingFileIsNoOp(t *testing.T) {
	eng := engine.New()
	store := New(filepath.Join(t.TempDir(), "absent.rdb"), eng, zerolog.Nop())
	assert.NoError(t, store.Load())
}

func TestSaveSkipsExpiredKeys(t *testing.T) {
	eng := engine.New()
	cs := &engine.ConnState{}
	_, err := eng.Dispatch(cs, cmd("SET", "gone", "v"))
	require.NoError(t, err)
	_, err = eng.Dispatch(cs, cmd("EXPIRE", "gone", "-5"))
	require.NoError(t, err)

	// give the expiry a moment in the past (EXPIRE computes now+seconds).
	time.Sleep(time.Millisecond)

	path := filepath.Join(t.TempDir(), "dump.rdb")
	store := New(path, eng, zerolog.Nop())
	require.NoError(t, store.Save())

	eng2 := engine.New()
	store2 := New(path, eng2, zerolog.Nop())
	require.NoError(t, store2.Load())

	cs2 := &engine.ConnState{}
	reply, err := eng2.Dispatch(cs2, cmd("EXISTS", "gone"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), reply.Int)
}
