package engine

import (
	"github.com/kvraft/kvraft/internal/item"
	"github.com/kvraft/kvraft/internal/txn"
	"github.com/kvraft/kvraft/internal/types"
)

func init() {
	register("SETBIT", cmdSetBit)
	register("GETBIT", cmdGetBit)
	register("BITCOUNT", cmdBitCount)
	register("BITOP", cmdBitOp)
	register("RESTORE_BITMAP", cmdRestoreBitmap)
}

func fetchBitmap(e *Engine, view *txn.ReadView, key string) (*item.BitmapValue, bool, error) {
	env, ok := e.resolve(view, key)
	if !ok {
		return nil, false, nil
	}
	bv, ok := env.Value.(*item.BitmapValue)
	if !ok {
		return nil, false, wrongTypeError()
	}
	return bv, true, nil
}

func cmdSetBit(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) != 3 {
		return types.Reply{}, argError("wrong number of arguments for 'setbit' command")
	}
	key := string(args[0])
	pos, err := parseInt(args[1])
	if err != nil {
		return types.Reply{}, err
	}
	val, err := parseInt(args[2])
	if err != nil {
		return types.Reply{}, err
	}
	if val != 0 && val != 1 {
		return types.Reply{}, argError("bit is not an integer or out of range")
	}
	bv, ok, err := fetchBitmap(e, view, key)
	if err != nil {
		return types.Reply{}, err
	}
	if !ok {
		bv = item.NewBitmapValue()
	} else {
		bv = bv.Clone().(*item.BitmapValue)
	}
	old := bv.SetBit(int(pos), byte(val))
	e.mv.Set(nil, txnID, key, bv)
	return types.Integer(int64(old)), nil
}

func cmdGetBit(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) != 2 {
		return types.Reply{}, argError("wrong number of arguments for 'getbit' command")
	}
	pos, err := parseInt(args[1])
	if err != nil {
		return types.Reply{}, err
	}
	bv, ok, err := fetchBitmap(e, view, string(args[0]))
	if err != nil {
		return types.Reply{}, err
	}
	if !ok {
		return types.Integer(0), nil
	}
	return types.Integer(int64(bv.GetBit(int(pos)))), nil
}

func cmdBitCount(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) != 1 && len(args) != 3 {
		return types.Reply{}, argError("wrong number of arguments for 'bitcount' command")
	}
	bv, ok, err := fetchBitmap(e, view, string(args[0]))
	if err != nil {
		return types.Reply{}, err
	}
	if !ok {
		return types.Integer(0), nil
	}
	if len(args) == 1 {
		return types.Integer(int64(bv.Popcount())), nil
	}
	startByte, err := parseInt(args[1])
	if err != nil {
		return types.Reply{}, err
	}
	endByte, err := parseInt(args[2])
	if err != nil {
		return types.Reply{}, err
	}
	return types.Integer(int64(bv.PopcountRange(int(startByte), int(endByte)))), nil
}

// cmdBitOp implements BITOP OP dest src [src ...]; the destination is
// written through the normal MVCC write path like any other command.
func cmdBitOp(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) < 3 {
		return types.Reply{}, argError("wrong number of arguments for 'bitop' command")
	}
	op := string(args[0])
	dest := string(args[1])

	srcs := make([]*item.BitmapValue, 0, len(args)-2)
	for _, k := range args[2:] {
		bv, ok, err := fetchBitmap(e, view, string(k))
		if err != nil {
			return types.Reply{}, err
		}
		if !ok {
			bv = item.NewBitmapValue()
		}
		srcs = append(srcs, bv)
	}

	result := item.BitOp(op, srcs...)
	e.mv.Set(nil, txnID, dest, result)
	return types.Integer(int64(len(result.Data))), nil
}

// cmdRestoreBitmap installs a raw byte array as a bitmap's full backing
// store in one shot, the AOF rewrite's dense-bitmap path (SPEC_FULL.md
// §4.7a) instead of replaying one SETBIT per set bit.
func cmdRestoreBitmap(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) != 2 {
		return types.Reply{}, argError("wrong number of arguments for 'restore_bitmap' command")
	}
	bv, err := item.Deserialize(item.KindBitmap, args[1])
	if err != nil {
		return types.Reply{}, argError("invalid RESTORE_BITMAP payload")
	}
	e.mv.Set(nil, txnID, string(args[0]), bv)
	return types.Simple("OK"), nil
}
