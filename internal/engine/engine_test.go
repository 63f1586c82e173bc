package engine

import (
	"testing"

	"github.com/kvraft/kvraft/internal/eviction"
	"github.com/kvraft/kvraft/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine() *Engine {
	return New()
}

func cmd(verb string, args ...string) types.Command {
	bs := make([][]byte, len(args))
	for i, a := range args {
		bs[i] = []byte(a)
	}
	return types.Command{Verb: verb, Args: bs}
}

func mustDispatch(t *testing.T, e *Engine, cs *ConnState, c types.Command) types.Reply {
	t.Helper()
	reply, err := e.Dispatch(cs, c)
	require.NoError(t, err)
	return reply
}

func TestStringSetGetIncr(t *testing.T) {
	e := newTestEngine()
	cs := &ConnState{}

	mustDispatch(t, e, cs, cmd("SET", "k", "5"))
	reply := mustDispatch(t, e, cs, cmd("GET", "k"))
	assert.Equal(t, "5", string(reply.Bulk))

	reply = mustDispatch(t, e, cs, cmd("INCR", "k"))
	assert.Equal(t, int64(6), reply.Int)

	reply = mustDispatch(t, e, cs, cmd("DECR", "k"))
	assert.Equal(t, int64(5), reply.Int)
}

func TestHashRoundTrip(t *testing.T) {
	e := newTestEngine()
	cs := &ConnState{}

	reply := mustDispatch(t, e, cs, cmd("HSET", "h", "f1", "v1", "f2", "v2"))
	assert.Equal(t, int64(2), reply.Int)

	reply = mustDispatch(t, e, cs, cmd("HGET", "h", "f1"))
	assert.Equal(t, "v1", string(reply.Bulk))

	reply = mustDispatch(t, e, cs, cmd("HLEN", "h"))
	assert.Equal(t, int64(2), reply.Int)

	reply = mustDispatch(t, e, cs, cmd("HDEL", "h", "f1"))
	assert.Equal(t, int64(1), reply.Int)
}

func TestListPushPopRange(t *testing.T) {
	e := newTestEngine()
	cs := &ConnState{}

	mustDispatch(t, e, cs, cmd("RPUSH", "l", "a", "b", "c"))
	reply := mustDispatch(t, e, cs, cmd("LRANGE", "l", "0", "-1"))
	require.Len(t, reply.Array, 3)
	assert.Equal(t, "a", string(reply.Array[0].Bulk))
	assert.Equal(t, "c", string(reply.Array[2].Bulk))

	reply = mustDispatch(t, e, cs, cmd("LPOP", "l"))
	assert.Equal(t, "a", string(reply.Bulk))
}

func TestSetAddRemCard(t *testing.T) {
	e := newTestEngine()
	cs := &ConnState{}

	mustDispatch(t, e, cs, cmd("SADD", "s", "x", "y", "z"))
	reply := mustDispatch(t, e, cs, cmd("SCARD", "s"))
	assert.Equal(t, int64(3), reply.Int)

	reply = mustDispatch(t, e, cs, cmd("SISMEMBER", "s", "y"))
	assert.Equal(t, int64(1), reply.Int)

	mustDispatch(t, e, cs, cmd("SREM", "s", "y"))
	reply = mustDispatch(t, e, cs, cmd("SISMEMBER", "s", "y"))
	assert.Equal(t, int64(0), reply.Int)
}

// Mirrors spec.md §8 scenario 4 end-to-end through the command surface.
func TestZSetScenarioThroughDispatch(t *testing.T) {
	e := newTestEngine()
	cs := &ConnState{}

	mustDispatch(t, e, cs, cmd("ZADD", "z", "10", "A", "5", "B", "15", "C", "0", "D"))

	reply := mustDispatch(t, e, cs, cmd("ZRANGE", "z", "0", "3"))
	require.Len(t, reply.Array, 8)
	order := []string{string(reply.Array[0].Bulk), string(reply.Array[2].Bulk), string(reply.Array[4].Bulk), string(reply.Array[6].Bulk)}
	assert.Equal(t, []string{"D", "B", "A", "C"}, order)

	reply = mustDispatch(t, e, cs, cmd("ZRANK", "z", "A"))
	assert.Equal(t, int64(2), reply.Int)

	reply = mustDispatch(t, e, cs, cmd("ZCOUNT", "z", "5", "10"))
	assert.Equal(t, int64(2), reply.Int)
}

func TestBitmapSetGetCount(t *testing.T) {
	e := newTestEngine()
	cs := &ConnState{}

	mustDispatch(t, e, cs, cmd("SETBIT", "b", "0", "1"))
	mustDispatch(t, e, cs, cmd("SETBIT", "b", "7", "1"))
	reply := mustDispatch(t, e, cs, cmd("BITCOUNT", "b"))
	assert.Equal(t, int64(2), reply.Int)

	reply = mustDispatch(t, e, cs, cmd("GETBIT", "b", "0"))
	assert.Equal(t, int64(1), reply.Int)
}

func TestPFAddAndCount(t *testing.T) {
	e := newTestEngine()
	cs := &ConnState{}

	for i := 0; i < 1000; i++ {
		mustDispatch(t, e, cs, cmd("PFADD", "hll", string(rune('a'+i%26))+string(rune(i))))
	}
	reply := mustDispatch(t, e, cs, cmd("PFCOUNT", "hll"))
	assert.Greater(t, reply.Int, int64(0))
}

func TestMultiExecQueuesAndCommits(t *testing.T) {
	e := newTestEngine()
	cs := &ConnState{}

	reply := mustDispatch(t, e, cs, cmd("MULTI"))
	assert.Equal(t, "OK", reply.Str)

	reply = mustDispatch(t, e, cs, cmd("SET", "a", "1"))
	assert.Equal(t, "QUEUED", reply.Str)

	reply = mustDispatch(t, e, cs, cmd("SET", "b", "2"))
	assert.Equal(t, "QUEUED", reply.Str)

	reply = mustDispatch(t, e, cs, cmd("EXEC"))
	require.Len(t, reply.Array, 2)

	cs2 := &ConnState{}
	reply = mustDispatch(t, e, cs2, cmd("GET", "a"))
	assert.Equal(t, "1", string(reply.Bulk))
	reply = mustDispatch(t, e, cs2, cmd("GET", "b"))
	assert.Equal(t, "2", string(reply.Bulk))
}

func TestMultiForbidsFlushDB(t *testing.T) {
	e := newTestEngine()
	cs := &ConnState{}

	mustDispatch(t, e, cs, cmd("MULTI"))
	_, err := e.Dispatch(cs, cmd("FLUSHDB"))
	assert.Error(t, err)
}

func TestDiscardDropsQueue(t *testing.T) {
	e := newTestEngine()
	cs := &ConnState{}

	mustDispatch(t, e, cs, cmd("MULTI"))
	mustDispatch(t, e, cs, cmd("SET", "k", "1"))
	reply := mustDispatch(t, e, cs, cmd("DISCARD"))
	assert.Equal(t, "OK", reply.Str)

	reply = mustDispatch(t, e, cs, cmd("GET", "k"))
	assert.True(t, reply.Kind == types.ReplyNil)
}

func TestWrongTypeError(t *testing.T) {
	e := newTestEngine()
	cs := &ConnState{}

	mustDispatch(t, e, cs, cmd("SET", "k", "v"))
	_, err := e.Dispatch(cs, cmd("LPUSH", "k", "x"))
	require.Error(t, err)
	terr, ok := err.(*types.Error)
	require.True(t, ok)
	assert.Equal(t, types.KindWrongType, terr.Kind)
}

func TestExpireAndTTL(t *testing.T) {
	e := newTestEngine()
	cs := &ConnState{}

	mustDispatch(t, e, cs, cmd("SET", "k", "v"))
	reply := mustDispatch(t, e, cs, cmd("TTL", "k"))
	assert.Equal(t, int64(-1), reply.Int)

	mustDispatch(t, e, cs, cmd("EXPIRE", "k", "100"))
	reply = mustDispatch(t, e, cs, cmd("TTL", "k"))
	assert.Greater(t, reply.Int, int64(0))
}

func TestEvictionAdmitBlocksWrites(t *testing.T) {
	e := newTestEngine()
	// Empty store: there is nothing eligible to sample, so Admit can't
	// evict its way back under budget and the write is rejected with OOM.
	ev := eviction.New(e.InnerStore(), eviction.AllKeysLRU, 1, func() int64 { return 1000 })
	e.SetEvictionEngine(ev)

	cs := &ConnState{}
	_, err := e.Dispatch(cs, cmd("SET", "k", "v"))
	assert.Error(t, err)
}

func TestDBSizeAndFlushDB(t *testing.T) {
	e := newTestEngine()
	cs := &ConnState{}

	mustDispatch(t, e, cs, cmd("SET", "a", "1"))
	mustDispatch(t, e, cs, cmd("SET", "b", "2"))
	reply := mustDispatch(t, e, cs, cmd("DBSIZE"))
	assert.Equal(t, int64(2), reply.Int)

	mustDispatch(t, e, cs, cmd("FLUSHDB"))
	reply = mustDispatch(t, e, cs, cmd("DBSIZE"))
	assert.Equal(t, int64(0), reply.Int)
}
