package shard

import (
	"github.com/kvraft/kvraft/internal/types"
)

// localVerbs are handled by any node without consulting the ring
// (spec.md §4.9: "Non-goals: INFO, DBSIZE are handled locally").
var localVerbs = map[string]bool{
	"INFO":   true,
	"DBSIZE": true,
}

// Executor runs cmd against a specific shard's Raft group, either by
// applying it locally (this node holds that shard's leader) or by
// forwarding it to the leader over the intra-cluster client. Injected
// rather than imported so Router never depends on internal/raftnode or
// internal/rclient directly.
type Executor func(shardID string, cmd types.Command) (types.Reply, error)

// Router implements handle_command (spec.md §4.9): extract the first key
// argument, compute the owning shard from the consistent-hash ring, and
// dispatch. INFO and DBSIZE are answered locally without consulting the
// ring; any other command without a key argument is rejected.
type Router struct {
	ring      *Ring
	exec      Executor
	localExec Executor
}

// NewRouter builds a Router. exec handles ordinary key-addressed commands
// once routed to a shard ID; localExec answers commands in localVerbs
// without routing.
func NewRouter(ring *Ring, exec, localExec Executor) *Router {
	return &Router{ring: ring, exec: exec, localExec: localExec}
}

// HandleCommand routes cmd to its owning shard and returns the reply.
func (r *Router) HandleCommand(cmd types.Command) (types.Reply, error) {
	if localVerbs[cmd.Verb] {
		return r.localExec("", cmd)
	}
	if len(cmd.Args) == 0 {
		err := types.NewError(types.KindInvalidArgument, "ERR wrong number of arguments for '"+cmd.Verb+"' command")
		return types.ReplyFromError(err), err
	}
	shardID, ok := r.ring.Lookup(string(cmd.Args[0]))
	if !ok {
		err := types.NewError(types.KindInternal, "ERR no shard available to serve this key")
		return types.ReplyFromError(err), err
	}
	return r.exec(shardID, cmd)
}

// ShardFor exposes the ring lookup directly, for callers that need the
// owning shard ID without dispatching a command (e.g. migration planning).
func (r *Router) ShardFor(key string) (string, bool) {
	return r.ring.Lookup(key)
}
