package engine

import (
	"github.com/kvraft/kvraft/internal/item"
	"github.com/kvraft/kvraft/internal/txn"
	"github.com/kvraft/kvraft/internal/types"
)

func init() {
	register("DEL", cmdDel)
	register("EXISTS", cmdExists)
	register("EXPIRE", cmdExpire)
	register("TTL", cmdTTL)
}

// cmdDel deletes each visible key regardless of type through the MVCC
// delete path: the key gets a tombstone head, so views that can see the
// deleting transaction observe it as absent while older views still see
// the prior version.
func cmdDel(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) < 1 {
		return types.Reply{}, argError("wrong number of arguments for 'del' command")
	}
	var n int64
	for _, k := range args {
		key := string(k)
		if _, ok := e.resolve(view, key); ok {
			e.mv.Del(nil, txnID, key)
			n++
		}
	}
	return types.Integer(n), nil
}

func cmdExists(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) < 1 {
		return types.Reply{}, argError("wrong number of arguments for 'exists' command")
	}
	var n int64
	for _, k := range args {
		if _, ok := e.resolve(view, string(k)); ok {
			n++
		}
	}
	return types.Integer(n), nil
}

func cmdExpire(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) != 2 {
		return types.Reply{}, argError("wrong number of arguments for 'expire' command")
	}
	env, ok := e.resolve(view, string(args[0]))
	if !ok {
		return types.Integer(0), nil
	}
	seconds, err := parseInt(args[1])
	if err != nil {
		return types.Reply{}, err
	}
	env.Lock()
	at := nowUnix() + seconds
	env.ExpireAt = &at
	env.Unlock()
	return types.Integer(1), nil
}

func cmdTTL(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) != 1 {
		return types.Reply{}, argError("wrong number of arguments for 'ttl' command")
	}
	env, ok := e.resolve(view, string(args[0]))
	if !ok {
		return types.Integer(-2), nil
	}
	if env.ExpireAt == nil {
		return types.Integer(-1), nil
	}
	remaining := *env.ExpireAt - nowUnix()
	if remaining < 0 {
		remaining = 0
	}
	return types.Integer(remaining), nil
}

// fetchString fetches key's head and type-asserts it to a string value,
// reporting WRONGTYPE if present-but-different and absence as (nil, nil, false, nil).
func fetchString(e *Engine, view *txn.ReadView, key string) (*item.StringValue, *item.Envelope, bool, error) {
	env, ok := e.resolve(view, key)
	if !ok {
		return nil, nil, false, nil
	}
	sv, ok := env.Value.(*item.StringValue)
	if !ok {
		return nil, nil, false, wrongTypeError()
	}
	return sv, env, true, nil
}
