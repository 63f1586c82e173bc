package engine

import (
	"github.com/kvraft/kvraft/internal/item"
	"github.com/kvraft/kvraft/internal/txn"
	"github.com/kvraft/kvraft/internal/types"
)

func init() {
	register("ZADD", cmdZAdd)
	register("ZREM", cmdZRem)
	register("ZSCORE", cmdZScore)
	register("ZISMEMBER", cmdZIsMember)
	register("ZRANK", cmdZRank)
	register("ZREVRANK", cmdZRevRank)
	register("ZRANGE", cmdZRange)
	register("ZREVRANGE", cmdZRevRange)
	register("ZRANGEBYSCORE", cmdZRangeByScore)
	register("ZREVRANGEBYSCORE", cmdZRevRangeByScore)
	register("ZCOUNT", cmdZCount)
	register("ZCARD", cmdZCard)
}

func fetchZSet(e *Engine, view *txn.ReadView, key string) (*item.ZSetValue, bool, error) {
	env, ok := e.resolve(view, key)
	if !ok {
		return nil, false, nil
	}
	zv, ok := env.Value.(*item.ZSetValue)
	if !ok {
		return nil, false, wrongTypeError()
	}
	return zv, true, nil
}

func cmdZAdd(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) < 3 || len(args)%2 != 1 {
		return types.Reply{}, argError("wrong number of arguments for 'zadd' command")
	}
	key := string(args[0])
	zv, ok, err := fetchZSet(e, view, key)
	if err != nil {
		return types.Reply{}, err
	}
	if !ok {
		zv = item.NewZSetValue()
	} else {
		zv = zv.Clone().(*item.ZSetValue)
	}
	var added int64
	for i := 1; i < len(args); i += 2 {
		score, err := parseFloat(args[i])
		if err != nil {
			return types.Reply{}, err
		}
		if zv.Add(string(args[i+1]), score) {
			added++
		}
	}
	e.mv.Set(nil, txnID, key, zv)
	return types.Integer(added), nil
}

func cmdZRem(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) < 2 {
		return types.Reply{}, argError("wrong number of arguments for 'zrem' command")
	}
	key := string(args[0])
	zv, ok, err := fetchZSet(e, view, key)
	if err != nil {
		return types.Reply{}, err
	}
	if !ok {
		return types.Integer(0), nil
	}
	zv = zv.Clone().(*item.ZSetValue)
	members := make([]string, len(args)-1)
	for i, m := range args[1:] {
		members[i] = string(m)
	}
	n := zv.Rem(members...)
	e.mv.Set(nil, txnID, key, zv)
	return types.Integer(int64(n)), nil
}

func cmdZScore(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) != 2 {
		return types.Reply{}, argError("wrong number of arguments for 'zscore' command")
	}
	zv, ok, err := fetchZSet(e, view, string(args[0]))
	if err != nil {
		return types.Reply{}, err
	}
	if !ok {
		return types.Nil(), nil
	}
	score, found := zv.Score(string(args[1]))
	if !found {
		return types.Nil(), nil
	}
	return types.Bulk([]byte(formatFloat(score))), nil
}

func cmdZIsMember(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) != 2 {
		return types.Reply{}, argError("wrong number of arguments for 'zismember' command")
	}
	zv, ok, err := fetchZSet(e, view, string(args[0]))
	if err != nil {
		return types.Reply{}, err
	}
	if !ok || !zv.IsMember(string(args[1])) {
		return types.Integer(0), nil
	}
	return types.Integer(1), nil
}

func cmdZRank(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	return zRankImpl(e, view, args, false)
}

func cmdZRevRank(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	return zRankImpl(e, view, args, true)
}

func zRankImpl(e *Engine, view *txn.ReadView, args [][]byte, reverse bool) (types.Reply, error) {
	if len(args) != 2 {
		return types.Reply{}, argError("wrong number of arguments for 'zrank' command")
	}
	zv, ok, err := fetchZSet(e, view, string(args[0]))
	if err != nil {
		return types.Reply{}, err
	}
	if !ok {
		return types.Nil(), nil
	}
	var rank int
	var found bool
	if reverse {
		rank, found = zv.RevRank(string(args[1]))
	} else {
		rank, found = zv.Rank(string(args[1]))
	}
	if !found {
		return types.Nil(), nil
	}
	return types.Integer(int64(rank)), nil
}

func zMembersToReply(members []item.ZMember) types.Reply {
	out := make([]types.Reply, 0, len(members)*2)
	for _, m := range members {
		out = append(out, types.Bulk([]byte(m.Member)), types.Bulk([]byte(formatFloat(m.Score))))
	}
	return types.Array(out)
}

func cmdZRange(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	return zRangeImpl(e, view, args, false)
}

func cmdZRevRange(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	return zRangeImpl(e, view, args, true)
}

func zRangeImpl(e *Engine, view *txn.ReadView, args [][]byte, reverse bool) (types.Reply, error) {
	if len(args) != 3 {
		return types.Reply{}, argError("wrong number of arguments for 'zrange' command")
	}
	zv, ok, err := fetchZSet(e, view, string(args[0]))
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
	var members []item.ZMember
	if reverse {
		members = zv.RevRange(int(start), int(stop))
	} else {
		members = zv.Range(int(start), int(stop))
	}
	return zMembersToReply(members), nil
}

func cmdZRangeByScore(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	return zRangeByScoreImpl(e, view, args, false)
}

func cmdZRevRangeByScore(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	return zRangeByScoreImpl(e, view, args, true)
}

func zRangeByScoreImpl(e *Engine, view *txn.ReadView, args [][]byte, reverse bool) (types.Reply, error) {
	if len(args) != 3 {
		return types.Reply{}, argError("wrong number of arguments for 'zrangebyscore' command")
	}
	zv, ok, err := fetchZSet(e, view, string(args[0]))
	if err != nil {
		return types.Reply{}, err
	}
	if !ok {
		return types.Array(nil), nil
	}
	min, err := parseFloat(args[1])
	if err != nil {
		return types.Reply{}, err
	}
	max, err := parseFloat(args[2])
	if err != nil {
		return types.Reply{}, err
	}
	var members []item.ZMember
	if reverse {
		members = zv.RevRangeByScore(min, max)
	} else {
		members = zv.RangeByScore(min, max)
	}
	return zMembersToReply(members), nil
}

func cmdZCount(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) != 3 {
		return types.Reply{}, argError("wrong number of arguments for 'zcount' command")
	}
	zv, ok, err := fetchZSet(e, view, string(args[0]))
	if err != nil {
		return types.Reply{}, err
	}
	if !ok {
		return types.Integer(0), nil
	}
	min, err := parseFloat(args[1])
	if err != nil {
		return types.Reply{}, err
	}
	max, err := parseFloat(args[2])
	if err != nil {
		return types.Reply{}, err
	}
	return types.Integer(int64(zv.Count(min, max))), nil
}

func cmdZCard(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) != 1 {
		return types.Reply{}, argError("wrong number of arguments for 'zcard' command")
	}
	zv, ok, err := fetchZSet(e, view, string(args[0]))
	if err != nil {
		return types.Reply{}, err
	}
	if !ok {
		return types.Integer(0), nil
	}
	return types.Integer(int64(zv.Card())), nil
}
