package engine

import (
	"fmt"

	"github.com/kvraft/kvraft/internal/txn"
	"github.com/kvraft/kvraft/internal/types"
)

// SaveHook and ShutdownHook let cmd/kvstored wire RDB persistence and a
// graceful stop into the admin command surface without internal/engine
// importing internal/rdb (which itself imports internal/engine).
type SaveHook func() error
type ShutdownHook func()

func init() {
	register("FLUSHDB", cmdFlushDB)
	register("DBSIZE", cmdDBSize)
	register("INFO", cmdInfo)
	register("SAVE", cmdSave)
	register("BGSAVE", cmdBGSave)
	register("SHUTDOWN", cmdShutdown)
}

func (e *Engine) SetSaveHook(h SaveHook)         { e.saveHook = h }
func (e *Engine) SetShutdownHook(h ShutdownHook) { e.shutdownHook = h }

func cmdFlushDB(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if len(args) != 0 {
		return types.Reply{}, argError("wrong number of arguments for 'flushdb' command")
	}
	e.inner.Flush()
	return types.Simple("OK"), nil
}

func cmdDBSize(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	return types.Integer(e.DBSize()), nil
}

func cmdInfo(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	info := fmt.Sprintf(
		"keys:%d\nmemory_bytes:%d\nevicted_keys:%d\neviction_policy:%s\nactive_txns:%d\n",
		e.DBSize(), e.MemoryUsage(), e.evictedCount(), e.evictionPolicy(), e.txns.ActiveCount(),
	)
	return types.Bulk([]byte(info)), nil
}

func (e *Engine) evictedCount() uint64 {
	if e.evict == nil {
		return 0
	}
	return e.evict.EvictedCount()
}

func (e *Engine) evictionPolicy() string {
	if e.evict == nil {
		return "noeviction"
	}
	return string(e.evict.Policy())
}

func cmdSave(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if e.saveHook == nil {
		return types.Reply{}, types.NewError(types.KindInternal, "SAVE is not wired to a persistence backend")
	}
	if err := e.saveHook(); err != nil {
		return types.Reply{}, types.Wrapf(types.KindInternal, err, "SAVE failed")
	}
	return types.Simple("OK"), nil
}

func cmdBGSave(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if e.saveHook == nil {
		return types.Reply{}, types.NewError(types.KindInternal, "BGSAVE is not wired to a persistence backend")
	}
	go func() {
		if err := e.saveHook(); err != nil {
			e.logger.Error().Err(err).Msg("background save failed")
		}
	}()
	return types.Simple("Background saving started"), nil
}

func cmdShutdown(e *Engine, view *txn.ReadView, txnID uint64, args [][]byte) (types.Reply, error) {
	if e.shutdownHook != nil {
		e.shutdownHook()
	}
	return types.Simple("OK"), nil
}
