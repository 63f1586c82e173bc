// Package innerstore implements the mapping from key to the latest item
// envelope, protected by a single reader-writer lock (spec.md §4.2). Per
// the source ambiguity noted in spec.md §9, this type — not a separate
// "MVCC inner storage" type — is canonical: the MVCC layer (internal/mvcc)
// is built directly on top of it.
package innerstore

import (
	"sync"

	"github.com/kvraft/kvraft/internal/item"
)

// Store is a key -> head-envelope map guarded by one RWMutex. Non-MVCC
// operations flush and RDB load take the write lock directly, and full
// iteration (Range) takes the read lock; MVCC get/set/del (internal/mvcc)
// take read/write locks around single-key lookups.
type Store struct {
	mu   sync.RWMutex
	data map[string]*item.Envelope
}

func New() *Store {
	return &Store{data: make(map[string]*item.Envelope)}
}

// Lookup returns the current head envelope for key, or nil if absent.
func (s *Store) Lookup(key string) *item.Envelope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data[key]
}

// Insert installs env as the head envelope for key, replacing any
// previous head (the previous head remains reachable only via env's own
// undo chain, which the caller is responsible for wiring).
func (s *Store) Insert(key string, env *item.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = env
}

// Erase removes key's head envelope entirely (used by hard-delete paths
// such as expired-key cleanup and FLUSHDB, not by MVCC DEL which installs
// a tombstone instead).
func (s *Store) Erase(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

// GetOrInsertDefault returns the current head envelope for key, installing
// fresh (built from the zero-value constructor) as the head first if
// absent.
func (s *Store) GetOrInsertDefault(key string, fresh func() *item.Envelope) *item.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	if env, ok := s.data[key]; ok {
		return env
	}
	env := fresh()
	s.data[key] = env
	return env
}

// Len reports the number of keys currently tracked (DBSIZE is MVCC-naive:
// it does not filter expired or tombstoned heads, matching the source's
// "structural" key count).
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Flush removes every key under the write lock.
func (s *Store) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]*item.Envelope)
}

// Range calls fn for every (key, envelope) pair under a read lock. fn
// must not call back into the Store.
func (s *Store) Range(fn func(key string, env *item.Envelope) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k, v := range s.data {
		if !fn(k, v) {
			return
		}
	}
}

// Lock/Unlock/RLock/RUnlock expose the map lock directly for compound
// operations (e.g. RDB load) that must appear atomic to clients.
func (s *Store) Lock()    { s.mu.Lock() }
func (s *Store) Unlock()  { s.mu.Unlock() }
func (s *Store) RLock()   { s.mu.RLock() }
func (s *Store) RUnlock() { s.mu.RUnlock() }

// ReplaceLocked swaps the entire backing map. Caller must hold Lock().
func (s *Store) ReplaceLocked(data map[string]*item.Envelope) {
	s.data = data
}

// InsertLocked installs env for key without acquiring the lock itself.
// Caller must hold Lock().
func (s *Store) InsertLocked(key string, env *item.Envelope) {
	s.data[key] = env
}

// LookupLocked returns key's head envelope without acquiring the lock
// itself. Caller must hold Lock() or RLock().
func (s *Store) LookupLocked(key string) *item.Envelope {
	return s.data[key]
}
