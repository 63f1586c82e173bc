package engine

import (
	"github.com/kvraft/kvraft/internal/item"
	"github.com/kvraft/kvraft/internal/txn"
	"github.com/kvraft/kvraft/internal/types"
)

func init() {
	register("SADD", cmdSAdd)
	register("SREM", cmdSRem)
	register("SMEMBERS", cmdSMembers)
	register("SISMEMBER", cmdSIsMember)
	register("SCARD", cmdSCard)
}

func fetchSet(e *Engine, view *txn.ReadView, key string) (*item.SetValue, bool, error) {
	env, ok := e.resolve(view, key)
	if !ok {
		return nil, false, nil
	}
	sv, ok := env.Value.(*item.SetValue)
	if !ok {
		return nil, false, wrongTypeError()
	}
	return sv, true, nil
}

func cmdSAdd(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) < 2 {
		return types.Reply{}, argError("wrong number of arguments for 'sadd' command")
	}
	key := string(args[0])
	sv, ok, err := fetchSet(e, view, key)
	if err != nil {
		return types.Reply{}, err
	}
	if !ok {
		sv = item.NewSetValue()
	} else {
		sv = sv.Clone().(*item.SetValue)
	}
	n := sv.Add(args[1:]...)
	e.mv.Set(nil, txnID, key, sv)
	return types.Integer(int64(n)), nil
}

func cmdSRem(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) < 2 {
		return types.Reply{}, argError("wrong number of arguments for 'srem' command")
	}
	key := string(args[0])
	sv, ok, err := fetchSet(e, view, key)
	if err != nil {
		return types.Reply{}, err
	}
	if !ok {
		return types.Integer(0), nil
	}
	sv = sv.Clone().(*item.SetValue)
	n := sv.Rem(args[1:]...)
	e.mv.Set(nil, txnID, key, sv)
	return types.Integer(int64(n)), nil
}

func cmdSMembers(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) != 1 {
		return types.Reply{}, argError("wrong number of arguments for 'smembers' command")
	}
	sv, ok, err := fetchSet(e, view, string(args[0]))
	if err != nil {
		return types.Reply{}, err
	}
	if !ok {
		return types.Array(nil), nil
	}
	members := sv.ToSlice()
	out := make([]types.Reply, len(members))
	for i, m := range members {
		out[i] = types.Bulk(m)
	}
	return types.Array(out), nil
}

func cmdSIsMember(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) != 2 {
		return types.Reply{}, argError("wrong number of arguments for 'sismember' command")
	}
	sv, ok, err := fetchSet(e, view, string(args[0]))
	if err != nil {
		return types.Reply{}, err
	}
	if !ok || !sv.IsMember(args[1]) {
		return types.Integer(0), nil
	}
	return types.Integer(1), nil
}

func cmdSCard(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) != 1 {
		return types.Reply{}, argError("wrong number of arguments for 'scard' command")
	}
	sv, ok, err := fetchSet(e, view, string(args[0]))
	if err != nil {
		return types.Reply{}, err
	}
	if !ok {
		return types.Integer(0), nil
	}
	return types.Integer(int64(sv.Card())), nil
}
