package engine

import (
	"github.com/kvraft/kvraft/internal/item"
	"github.com/kvraft/kvraft/internal/txn"
	"github.com/kvraft/kvraft/internal/types"
)

func init() {
	register("SET", cmdSet)
	register("GET", cmdGet)
	register("INCR", cmdIncr)
	register("DECR", cmdDecr)
}

func cmdSet(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) != 2 {
		return types.Reply{}, argError("wrong number of arguments for 'set' command")
	}
	e.mv.Set(nil, txnID, string(args[0]), item.NewStringValue(args[1]))
	return types.Simple("OK"), nil
}

func cmdGet(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) != 1 {
		return types.Reply{}, argError("wrong number of arguments for 'get' command")
	}
	sv, _, ok, err := fetchString(e, view, string(args[0]))
	if err != nil {
		return types.Reply{}, err
	}
	if !ok {
		return types.Nil(), nil
	}
	return types.Bulk(sv.Data), nil
}

func cmdIncr(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	return bumpBy(e, view, txnID, args, 1)
}

func cmdDecr(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	return bumpBy(e, view, txnID, args, -1)
}

// bumpBy implements INCR/DECR: parse the current value as an integer
// (treating absence as 0), add delta, and install the result as the new
// head under the same MVCC write path every other mutation uses.
func bumpBy(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte, delta int64) (types.Reply, error) {
	if len(args) != 1 {
		return types.Reply{}, argError("wrong number of arguments for 'incr/decr' command")
	}
	key := string(args[0])
	sv, _, ok, err := fetchString(e, view, key)
	if err != nil {
		return types.Reply{}, err
	}
	var n int64
	if ok {
		n, err = sv.Int()
		if err != nil {
			return types.Reply{}, argError("value is not an integer or out of range")
		}
	}
	n += delta
	nv := item.NewStringValue(nil)
	nv.SetInt(n)
	e.mv.Set(nil, txnID, key, nv)
	return types.Integer(n), nil
}
