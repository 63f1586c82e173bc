// Package engine implements the type-dispatched storage engine of
// spec.md §4.5: the layer that resolves a key's head envelope through
// MVCC, type-checks it against the command's expected variant, and updates
// access stats — for every verb of the command surface in spec.md §6.
// Mutating handlers work on a clone of the current value and install the
// result as a new MVCC version; they do not take the envelope's mutex.
package engine

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/kvraft/kvraft/internal/eviction"
	"github.com/kvraft/kvraft/internal/innerstore"
	"github.com/kvraft/kvraft/internal/item"
	"github.com/kvraft/kvraft/internal/mvcc"
	"github.com/kvraft/kvraft/internal/txn"
	"github.com/kvraft/kvraft/internal/types"
	"github.com/rs/zerolog"
)

// AppendHook is called so the AOF (internal/aof) can durably log mutating
// commands: once per mutating command that ExecuteOne applies without
// error, and for an EXEC batch once per mutating command in it (whether or
// not that command failed), bracketed by MULTI and EXEC markers. It is not
// called while the engine is in replay mode.
type AppendHook func(cmd types.Command)

// Engine is the thin type-dispatched layer over inner storage + MVCC.
type Engine struct {
	inner    *innerstore.Store
	mv       *mvcc.Layer
	txns     *txn.Manager
	evict    *eviction.Engine
	logger   zerolog.Logger
	isolation txn.Isolation

	mu         sync.Mutex // guards recovering + appendHook swap only
	recovering bool
	appendHook AppendHook

	stopCleaner chan struct{}
	cleanerOnce sync.Once

	saveHook     SaveHook
	shutdownHook ShutdownHook
}

type Option func(*Engine)

func WithIsolation(level txn.Isolation) Option {
	return func(e *Engine) { e.isolation = level }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New constructs an Engine with its own inner storage map. The eviction
// engine is wired in separately via SetEvictionEngine once constructed
// against InnerStore(), since the eviction engine must sample the same
// map this engine writes to.
func New(opts ...Option) *Engine {
	inner := innerstore.New()
	e := &Engine{
		inner:     inner,
		mv:        mvcc.New(inner),
		txns:      txn.NewManager(),
		isolation: txn.RepeatableRead,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetEvictionEngine wires the admission gate checked before mutating
// commands. A nil engine (the default) disables eviction entirely.
func (e *Engine) SetEvictionEngine(ev *eviction.Engine) { e.evict = ev }

// InnerStore exposes the backing map for RDB save/load (which operate
// under the write lock directly, bypassing MVCC) and for the eviction
// engine's sampling.
func (e *Engine) InnerStore() *innerstore.Store { return e.inner }

// TxnManager exposes the transaction manager for the Raft FSM and for
// tests that need to drive MVCC scenarios directly.
func (e *Engine) TxnManager() *txn.Manager { return e.txns }

// SetAppendHook wires the AOF's append callback. Nil disables logging.
func (e *Engine) SetAppendHook(h AppendHook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.appendHook = h
}

// SetRecovering toggles replay mode: while true, successful mutations are
// not re-emitted to the AOF (spec.md §4.7 "Replay").
func (e *Engine) SetRecovering(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recovering = v
}

func (e *Engine) emit(cmd types.Command) {
	e.mu.Lock()
	hook, recovering := e.appendHook, e.recovering
	e.mu.Unlock()
	if hook != nil && !recovering {
		hook(cmd)
	}
}

// ConnState carries one connection's MULTI/EXEC queue across calls to
// Dispatch. Ownership lives with the (out-of-scope) connection acceptor;
// the engine only reads and mutates it.
type ConnState struct {
	InMulti bool
	Queue   []types.Command
}

var forbiddenInMulti = map[string]bool{
	"FLUSHDB":        true,
	"SHUTDOWN":       true,
	"SAVE":           true,
	"BGSAVE":         true,
	"MULTI":          true,
	"RESTORE_HLL":    true,
	"RESTORE_BITMAP": true,
}

// Dispatch executes one command, honoring cs's MULTI/EXEC/DISCARD state.
// It fills the dispatcher role described in SPEC_FULL.md §6 "Consumed
// interfaces" (no Dispatcher type is declared in internal/types); the
// wire-protocol layer that parses verbs off the socket is out of scope
// and simply calls this.
func (e *Engine) Dispatch(cs *ConnState, cmd types.Command) (types.Reply, error) {
	verb := cmd.Verb

	switch verb {
	case "MULTI":
		if cs.InMulti {
			err := types.NewError(types.KindTransactionState, "MULTI calls can not be nested")
			return types.ReplyFromError(err), err
		}
		cs.InMulti = true
		cs.Queue = nil
		return types.Simple("OK"), nil

	case "DISCARD":
		if !cs.InMulti {
			err := types.NewError(types.KindTransactionState, "DISCARD without MULTI")
			return types.ReplyFromError(err), err
		}
		cs.InMulti = false
		cs.Queue = nil
		return types.Simple("OK"), nil

	case "EXEC":
		if !cs.InMulti {
			err := types.NewError(types.KindTransactionState, "EXEC without MULTI")
			return types.ReplyFromError(err), err
		}
		queue := cs.Queue
		cs.InMulti = false
		cs.Queue = nil
		results, err := e.ExecuteBatch(queue)
		if err != nil {
			return types.ReplyFromError(err), err
		}
		return types.Array(results), nil
	}

	if cs.InMulti {
		if forbiddenInMulti[verb] {
			err := types.NewError(types.KindTransactionState, fmt.Sprintf("%s is not allowed in transactions", verb))
			return types.ReplyFromError(err), err
		}
		cs.Queue = append(cs.Queue, cmd)
		return types.Simple("QUEUED"), nil
	}

	return e.ExecuteOne(cmd)
}

// ExecuteOne runs a single command outside of any explicit MULTI/EXEC,
// wrapping writes in their own one-command transaction and reads in a
// lightweight non-transactional read view.
func (e *Engine) ExecuteOne(cmd types.Command) (types.Reply, error) {
	if isReadOnly(cmd.Verb) {
		view := e.txns.NonTransactionalView()
		return e.execute(view, 0, cmd)
	}

	tx, err := e.txns.Begin(e.isolation)
	if err != nil {
		return types.ReplyFromError(err), err
	}
	view := e.txns.GetReadView(tx)
	reply, err := e.execute(view, tx.ID, cmd)
	if err != nil {
		e.txns.Rollback(tx)
		return reply, err
	}
	e.txns.Commit(tx)
	if mutates(cmd.Verb) {
		e.emit(cmd)
	}
	return reply, nil
}

// ExecuteBatch runs every command in cmds atomically under one
// transaction id, as EXEC (and a Raft-committed MULTI/EXEC entry) must.
func (e *Engine) ExecuteBatch(cmds []types.Command) ([]types.Reply, error) {
	tx, err := e.txns.Begin(e.isolation)
	if err != nil {
		return nil, err
	}
	view := e.txns.GetReadView(tx)

	results := make([]types.Reply, 0, len(cmds))
	for _, cmd := range cmds {
		reply, _ := e.execute(view, tx.ID, cmd)
		results = append(results, reply)
	}
	e.txns.Commit(tx)

	if len(cmds) > 0 {
		e.emit(types.Command{Verb: "MULTI"})
		for _, cmd := range cmds {
			if mutates(cmd.Verb) {
				e.emit(cmd)
			}
		}
		e.emit(types.Command{Verb: "EXEC"})
	}
	return results, nil
}

// execute dispatches cmd's verb to its handler. This is the "type-dispatched
// operations on top of MVCC" of spec.md §4.5, not the out-of-scope
// wire-level verb dispatch: every handler lives in this package.
func (e *Engine) execute(view *txn.ReadView, txnID uint64, cmd types.Command) (types.Reply, error) {
	if mutates(cmd.Verb) && e.evict != nil {
		if err := e.evict.Admit(); err != nil {
			return types.ReplyFromError(err), err
		}
	}

	h := cmdTable[cmd.Verb]
	if h == nil {
		err := types.NewError(types.KindInvalidArgument, fmt.Sprintf("unknown command %q", cmd.Verb))
		return types.ReplyFromError(err), err
	}
	reply, err := h(e, view, txnID, cmd.Args)
	if err != nil {
		return types.ReplyFromError(err), err
	}
	return reply, nil
}

type handlerFunc func(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error)

// cmdTable is filled by init() in each commands_*.go file.
var cmdTable = map[string]handlerFunc{}

func register(verb string, h handlerFunc) {
	cmdTable[verb] = h
}

var readOnlyVerbs = map[string]bool{
	"GET": true, "EXISTS": true, "TTL": true,
	"HGET": true, "HGETALL": true, "HEXISTS": true, "HKEYS": true, "HVALS": true, "HLEN": true,
	"LLEN": true, "LRANGE": true,
	"SMEMBERS": true, "SISMEMBER": true, "SCARD": true,
	"ZSCORE": true, "ZISMEMBER": true, "ZRANK": true, "ZREVRANK": true, "ZRANGE": true,
	"ZREVRANGE": true, "ZRANGEBYSCORE": true, "ZREVRANGEBYSCORE": true, "ZCOUNT": true, "ZCARD": true,
	"GETBIT": true, "BITCOUNT": true,
	"PFCOUNT": true,
	"DBSIZE":  true, "INFO": true,
}

func isReadOnly(verb string) bool { return readOnlyVerbs[verb] }

var mutatingVerbs = map[string]bool{
	"SET": true, "DEL": true, "INCR": true, "DECR": true, "EXPIRE": true,
	"HSET": true, "HDEL": true,
	"LPUSH": true, "RPUSH": true, "LPOP": true, "RPOP": true,
	"SADD": true, "SREM": true,
	"ZADD": true, "ZREM": true,
	"SETBIT": true, "BITOP": true, "RESTORE_BITMAP": true,
	"PFADD": true, "PFMERGE": true, "RESTORE_HLL": true,
	"FLUSHDB": true, "SAVE": true, "BGSAVE": true,
}

func mutates(verb string) bool { return mutatingVerbs[verb] }

// --- shared helpers used across commands_*.go ---

func argError(format string, args ...interface{}) *types.Error {
	return types.NewError(types.KindInvalidArgument, fmt.Sprintf(format, args...))
}

func wrongTypeError() *types.Error {
	return types.NewError(types.KindWrongType, "WRONGTYPE Operation against a key holding the wrong kind of value")
}

func parseInt(b []byte) (int64, error) {
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, argError("value is not an integer or out of range")
	}
	return n, nil
}

func parseFloat(b []byte) (float64, error) {
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return 0, argError("value is not a valid float")
	}
	return f, nil
}

func nowUnix() int64 { return time.Now().Unix() }

// resolve looks up key's visible head, touching access stats. ok=false
// means absent-or-expired.
func (e *Engine) resolve(view *txn.ReadView, key string) (*item.Envelope, bool) {
	env, ok := e.mv.Get(view, key)
	if !ok {
		return nil, false
	}
	if env.Expired(nowUnix()) {
		return nil, false
	}
	env.Touch(nowUnix())
	return env, true
}

// MemoryUsage estimates current memory usage in bytes by summing each
// live head envelope's serialized payload length. This is the
// MemoryUsageFunc the eviction engine polls.
func (e *Engine) MemoryUsage() int64 {
	var total int64
	e.inner.Range(func(key string, env *item.Envelope) bool {
		if env.Deleted || env.Discard {
			return true
		}
		total += int64(len(key)) + int64(len(env.Value.Serialize()))
		return true
	})
	return total
}

// DBSize returns the structural key count (includes tombstones/discarded
// heads still rooted in the map, matching spec.md's non-MVCC-aware
// DBSIZE).
func (e *Engine) DBSize() int64 { return int64(e.inner.Len()) }

// StartExpiryCleaner launches the background expired-key scanner
// (spec.md §4.5 "TTL"); it hard-deletes expired heads every interval
// until Stop is called.
func (e *Engine) StartExpiryCleaner(interval time.Duration) {
	e.cleanerOnce.Do(func() {
		e.stopCleaner = make(chan struct{})
		go e.runExpiryCleaner(interval)
	})
}

func (e *Engine) runExpiryCleaner(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.sweepExpired()
		case <-e.stopCleaner:
			return
		}
	}
}

func (e *Engine) sweepExpired() {
	now := nowUnix()
	var expired []string
	e.inner.Range(func(key string, env *item.Envelope) bool {
		if env.Expired(now) {
			expired = append(expired, key)
		}
		return true
	})
	for _, key := range expired {
		e.inner.Erase(key)
	}
	if len(expired) > 0 {
		e.logger.Debug().Int("count", len(expired)).Msg("expired keys swept")
	}
}

func (e *Engine) Stop() {
	if e.stopCleaner != nil {
		close(e.stopCleaner)
	}
}
