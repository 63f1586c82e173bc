// Package mvcc implements the three core operations of spec.md §4.3 —
// get/set/del over undo chains — plus read-view-driven visibility, on top
// of internal/innerstore's single-lock key->envelope map.
package mvcc

import (
	"github.com/kvraft/kvraft/internal/innerstore"
	"github.com/kvraft/kvraft/internal/item"
	"github.com/kvraft/kvraft/internal/txn"
)

// Layer arbitrates version visibility over the inner storage map; the
// read views it is handed come from a txn.Manager owned by the caller.
type Layer struct {
	store *innerstore.Store
}

func New(store *innerstore.Store) *Layer {
	return &Layer{store: store}
}

// Get implements spec.md §4.3's get(read_view, key):
//  1. Look up head envelope. Absent => absent.
//  2. If head is visible and not Discard: tombstone => absent, else head.
//  3. Walk the undo chain for the first visible, non-Discard version.
//  4. Chain exhausted => absent.
func (l *Layer) Get(view *txn.ReadView, key string) (*item.Envelope, bool) {
	head := l.store.Lookup(key)
	if head == nil {
		return nil, false
	}

	for env := head; env != nil; {
		if !env.Discard && view.Visible(env.TxnID) {
			if env.Deleted {
				return nil, false
			}
			return env, true
		}
		if env.Undo == nil {
			break
		}
		env = env.Undo.Prior
	}
	return nil, false
}

// Set installs newVal as the new head for key under txnID, chaining the
// previous head (or a synthesized deleted sentinel, if the key was
// absent) as its undo record. The sentinel ensures that readers whose
// view predates this write see absence rather than the new value.
func (l *Layer) Set(tx *txn.Record, txnID uint64, key string, newVal item.Value) *item.Envelope {
	l.store.Lock()
	defer l.store.Unlock()

	prior := l.store.LookupLocked(key)
	env := item.NewEnvelope(newVal, txnID)
	env.Undo = &item.UndoRecord{Kind: item.UndoSet, Prior: l.priorOrSentinel(prior, txnID)}
	l.store.InsertLocked(key, env)
	return env
}

// Del installs a tombstone head for key under txnID.
func (l *Layer) Del(tx *txn.Record, txnID uint64, key string) *item.Envelope {
	l.store.Lock()
	defer l.store.Unlock()

	prior := l.store.LookupLocked(key)
	var tomb *item.Envelope
	if prior != nil {
		tomb = &item.Envelope{Value: prior.Value, TxnID: txnID, Deleted: true}
	} else {
		tomb = &item.Envelope{TxnID: txnID, Deleted: true}
	}
	tomb.Undo = &item.UndoRecord{Kind: item.UndoDelete, Prior: l.priorOrSentinel(prior, txnID)}
	l.store.InsertLocked(key, tomb)
	return tomb
}

// priorOrSentinel returns prior unchanged if it exists, or a synthesized
// deleted sentinel (txn id 0: visible to every view whose Low > 0, i.e.
// every view taken after server start) if the key has never existed.
func (l *Layer) priorOrSentinel(prior *item.Envelope, txnID uint64) *item.Envelope {
	if prior != nil {
		return prior
	}
	return &item.Envelope{TxnID: 0, Deleted: true}
}

// SetLocked installs newVal as key's head under txnID exactly as Set does,
// but returns nothing. It acquires the store's write lock itself.
func (l *Layer) SetLocked(txnID uint64, key string, newVal item.Value) {
	l.store.Lock()
	defer l.store.Unlock()
	prior := l.store.LookupLocked(key)
	env := item.NewEnvelope(newVal, txnID)
	env.Undo = &item.UndoRecord{Kind: item.UndoSet, Prior: l.priorOrSentinel(prior, txnID)}
	l.store.InsertLocked(key, env)
}
