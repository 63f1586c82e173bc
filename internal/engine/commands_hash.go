package engine

import (
	"github.com/kvraft/kvraft/internal/item"
	"github.com/kvraft/kvraft/internal/txn"
	"github.com/kvraft/kvraft/internal/types"
)

func init() {
	register("HSET", cmdHSet)
	register("HGET", cmdHGet)
	register("HDEL", cmdHDel)
	register("HGETALL", cmdHGetAll)
	register("HEXISTS", cmdHExists)
	register("HKEYS", cmdHKeys)
	register("HVALS", cmdHVals)
	register("HLEN", cmdHLen)
}

// fetchHash returns key's hash; absence is reported as ok=false and never
// creates a hash (write paths build a fresh one themselves).
func fetchHash(e *Engine, view *txn.ReadView, key string) (*item.HashValue, bool, error) {
	env, ok := e.resolve(view, key)
	if !ok {
		return nil, false, nil
	}
	hv, ok := env.Value.(*item.HashValue)
	if !ok {
		return nil, false, wrongTypeError()
	}
	return hv, true, nil
}

func cmdHSet(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) < 3 || len(args)%2 != 1 {
		return types.Reply{}, argError("wrong number of arguments for 'hset' command")
	}
	key := string(args[0])
	hv, ok, err := fetchHash(e, view, key)
	if err != nil {
		return types.Reply{}, err
	}
	if !ok {
		hv = item.NewHashValue()
	} else {
		hv = hv.Clone().(*item.HashValue)
	}
	var added int64
	for i := 1; i < len(args); i += 2 {
		if hv.Set(string(args[i]), args[i+1]) {
			added++
		}
	}
	e.mv.Set(nil, txnID, key, hv)
	return types.Integer(added), nil
}

func cmdHGet(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) != 2 {
		return types.Reply{}, argError("wrong number of arguments for 'hget' command")
	}
	hv, ok, err := fetchHash(e, view, string(args[0]))
	if err != nil {
		return types.Reply{}, err
	}
	if !ok {
		return types.Nil(), nil
	}
	v, found := hv.Get(string(args[1]))
	if !found {
		return types.Nil(), nil
	}
	return types.Bulk(v), nil
}

func cmdHDel(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) < 2 {
		return types.Reply{}, argError("wrong number of arguments for 'hdel' command")
	}
	key := string(args[0])
	hv, ok, err := fetchHash(e, view, key)
	if err != nil {
		return types.Reply{}, err
	}
	if !ok {
		return types.Integer(0), nil
	}
	hv = hv.Clone().(*item.HashValue)
	fields := make([]string, len(args)-1)
	for i, f := range args[1:] {
		fields[i] = string(f)
	}
	n := hv.Del(fields...)
	e.mv.Set(nil, txnID, key, hv)
	return types.Integer(int64(n)), nil
}

func cmdHGetAll(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) != 1 {
		return types.Reply{}, argError("wrong number of arguments for 'hgetall' command")
	}
	hv, ok, err := fetchHash(e, view, string(args[0]))
	if err != nil {
		return types.Reply{}, err
	}
	if !ok {
		return types.Array(nil), nil
	}
	var out []types.Reply
	for _, k := range hv.Keys() {
		v, _ := hv.Get(k)
		out = append(out, types.Bulk([]byte(k)), types.Bulk(v))
	}
	return types.Array(out), nil
}

func cmdHExists(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) != 2 {
		return types.Reply{}, argError("wrong number of arguments for 'hexists' command")
	}
	hv, ok, err := fetchHash(e, view, string(args[0]))
	if err != nil {
		return types.Reply{}, err
	}
	if !ok || !hv.Exists(string(args[1])) {
		return types.Integer(0), nil
	}
	return types.Integer(1), nil
}

func cmdHKeys(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) != 1 {
		return types.Reply{}, argError("wrong number of arguments for 'hkeys' command")
	}
	hv, ok, err := fetchHash(e, view, string(args[0]))
	if err != nil {
		return types.Reply{}, err
	}
	if !ok {
		return types.Array(nil), nil
	}
	var out []types.Reply
	for _, k := range hv.Keys() {
		out = append(out, types.Bulk([]byte(k)))
	}
	return types.Array(out), nil
}

func cmdHVals(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) != 1 {
		return types.Reply{}, argError("wrong number of arguments for 'hvals' command")
	}
	hv, ok, err := fetchHash(e, view, string(args[0]))
	if err != nil {
		return types.Reply{}, err
	}
	if !ok {
		return types.Array(nil), nil
	}
	var out []types.Reply
	for _, v := range hv.Values() {
		out = append(out, types.Bulk(v))
	}
	return types.Array(out), nil
}

func cmdHLen(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) != 1 {
		return types.Reply{}, argError("wrong number of arguments for 'hlen' command")
	}
	hv, ok, err := fetchHash(e, view, string(args[0]))
	if err != nil {
		return types.Reply{}, err
	}
	if !ok {
		return types.Integer(0), nil
	}
	return types.Integer(int64(hv.Len())), nil
}
