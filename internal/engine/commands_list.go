package engine

import (
	"github.com/kvraft/kvraft/internal/item"
	"github.com/kvraft/kvraft/internal/txn"
	"github.com/kvraft/kvraft/internal/types"
)

func init() {
	register("LPUSH", cmdLPush)
	register("RPUSH", cmdRPush)
	register("LPOP", cmdLPop)
	register("RPOP", cmdRPop)
	register("LLEN", cmdLLen)
	register("LRANGE", cmdLRange)
}

func fetchList(e *Engine, view *txn.ReadView, key string) (*item.ListValue, bool, error) {
	env, ok := e.resolve(view, key)
	if !ok {
		return nil, false, nil
	}
	lv, ok := env.Value.(*item.ListValue)
	if !ok {
		return nil, false, wrongTypeError()
	}
	return lv, true, nil
}

func cmdLPush(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) < 2 {
		return types.Reply{}, argError("wrong number of arguments for 'lpush' command")
	}
	key := string(args[0])
	lv, ok, err := fetchList(e, view, key)
	if err != nil {
		return types.Reply{}, err
	}
	if !ok {
		lv = item.NewListValue()
	} else {
		lv = lv.Clone().(*item.ListValue)
	}
	n := lv.LPush(args[1:]...)
	e.mv.Set(nil, txnID, key, lv)
	return types.Integer(int64(n)), nil
}

func cmdRPush(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) < 2 {
		return types.Reply{}, argError("wrong number of arguments for 'rpush' command")
	}
	key := string(args[0])
	lv, ok, err := fetchList(e, view, key)
	if err != nil {
		return types.Reply{}, err
	}
	if !ok {
		lv = item.NewListValue()
	} else {
		lv = lv.Clone().(*item.ListValue)
	}
	n := lv.RPush(args[1:]...)
	e.mv.Set(nil, txnID, key, lv)
	return types.Integer(int64(n)), nil
}

func cmdLPop(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) != 1 {
		return types.Reply{}, argError("wrong number of arguments for 'lpop' command")
	}
	key := string(args[0])
	lv, ok, err := fetchList(e, view, key)
	if err != nil {
		return types.Reply{}, err
	}
	if !ok {
		return types.Nil(), nil
	}
	lv = lv.Clone().(*item.ListValue)
	popped := lv.LPop(1)
	e.mv.Set(nil, txnID, key, lv)
	if len(popped) == 0 {
		return types.Nil(), nil
	}
	return types.Bulk(popped[0]), nil
}

func cmdRPop(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) != 1 {
		return types.Reply{}, argError("wrong number of arguments for 'rpop' command")
	}
	key := string(args[0])
	lv, ok, err := fetchList(e, view, key)
	if err != nil {
		return types.Reply{}, err
	}
	if !ok {
		return types.Nil(), nil
	}
	lv = lv.Clone().(*item.ListValue)
	popped := lv.RPop(1)
	e.mv.Set(nil, txnID, key, lv)
	if len(popped) == 0 {
		return types.Nil(), nil
	}
	return types.Bulk(popped[0]), nil
}

func cmdLLen(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) != 1 {
		return types.Reply{}, argError("wrong number of arguments for 'llen' command")
	}
	lv, ok, err := fetchList(e, view, string(args[0]))
	if err != nil {
		return types.Reply{}, err
	}
	if !ok {
		return types.Integer(0), nil
	}
	return types.Integer(int64(lv.Len())), nil
}

func cmdLRange(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) != 3 {
		return types.Reply{}, argError("wrong number of arguments for 'lrange' command")
	}
	lv, ok, err := fetchList(e, view, string(args[0]))
	if err != nil {
		return types.Reply{}, err
	}
	if !ok {
		return types.Array(nil), nil
	}
	start, err := parseInt(args[1])
	if err != nil {
		return types.Reply{}, err
	}
	stop, err := parseInt(args[2])
	if err != nil {
		return types.Reply{}, err
	}
	elems := lv.Range(int(start), int(stop))
	out := make([]types.Reply, len(elems))
	for i, el := range elems {
		out[i] = types.Bulk(el)
	}
	return types.Array(out), nil
}
