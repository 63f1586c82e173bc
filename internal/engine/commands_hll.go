package engine

import (
	"github.com/kvraft/kvraft/internal/item"
	"github.com/kvraft/kvraft/internal/txn"
	"github.com/kvraft/kvraft/internal/types"
)

func init() {
	register("PFADD", cmdPFAdd)
	register("PFCOUNT", cmdPFCount)
	register("PFMERGE", cmdPFMerge)
	register("RESTORE_HLL", cmdRestoreHLL)
}

func fetchHLL(e *Engine, view *txn.ReadView, key string) (*item.HLLValue, bool, error) {
	env, ok := e.resolve(view, key)
	if !ok {
		return nil, false, nil
	}
	hv, ok := env.Value.(*item.HLLValue)
	if !ok {
		return nil, false, wrongTypeError()
	}
	return hv, true, nil
}

func cmdPFAdd(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) < 2 {
		return types.Reply{}, argError("wrong number of arguments for 'pfadd' command")
	}
	key := string(args[0])
	hv, ok, err := fetchHLL(e, view, key)
	if err != nil {
		return types.Reply{}, err
	}
	if !ok {
		hv = item.NewHLLValue()
	} else {
		hv = hv.Clone().(*item.HLLValue)
	}
	for _, el := range args[1:] {
		hv.Add(el)
	}
	e.mv.Set(nil, txnID, key, hv)
	return types.Integer(1), nil
}

func cmdPFCount(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) < 1 {
		return types.Reply{}, argError("wrong number of arguments for 'pfcount' command")
	}
	merged, ok, err := fetchHLL(e, view, string(args[0]))
	if err != nil {
		return types.Reply{}, err
	}
	if !ok {
		merged = item.NewHLLValue()
	} else {
		merged = merged.Clone().(*item.HLLValue)
	}
	for _, k := range args[1:] {
		other, ok, err := fetchHLL(e, view, string(k))
		if err != nil {
			return types.Reply{}, err
		}
		if ok {
			merged.Merge(other)
		}
	}
	return types.Integer(int64(merged.Count())), nil
}

func cmdPFMerge(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) < 2 {
		return types.Reply{}, argError("wrong number of arguments for 'pfmerge' command")
	}
	dest := string(args[0])
	destHLL, ok, err := fetchHLL(e, view, dest)
	if err != nil {
		return types.Reply{}, err
	}
	if !ok {
		destHLL = item.NewHLLValue()
	} else {
		destHLL = destHLL.Clone().(*item.HLLValue)
	}
	for _, k := range args[1:] {
		src, ok, err := fetchHLL(e, view, string(k))
		if err != nil {
			return types.Reply{}, err
		}
		if ok {
			destHLL.Merge(src)
		}
	}
	e.mv.Set(nil, txnID, dest, destHLL)
	return types.Simple("OK"), nil
}

// cmdRestoreHLL installs a raw register set, used by AOF replay to
// restore an HLL without replaying every PFADD that built it.
func cmdRestoreHLL(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) != 2 {
		return types.Reply{}, argError("wrong number of arguments for 'restore_hll' command")
	}
	hv, err := item.Deserialize(item.KindHLL, args[1])
	if err != nil {
		return types.Reply{}, argError("invalid RESTORE_HLL payload")
	}
	e.mv.Set(nil, txnID, string(args[0]), hv)
	return types.Simple("OK"), nil
}
