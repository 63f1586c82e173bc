// Package shard implements the shard router (spec.md §4.9): a static
// consistent-hash ring mapping keys to shard Raft groups, command routing,
// the bbolt-backed shard metadata store, the heartbeat/failover loop, and
// cross-shard migration.
package shard

import (
	"crypto/md5"
	"crypto/sha1"
	"fmt"
	"sort"
	"sync"
)

// HashFunc selects the digest used to place shards and keys on the ring.
type HashFunc string

const (
	HashMD5  HashFunc = "md5"
	HashSHA1 HashFunc = "sha1"
)

// DefaultVirtualNodes is the per-shard replica count on the ring, used when
// a caller doesn't specify one.
const DefaultVirtualNodes = 128

// Ring is a static consistent-hash ring over shard IDs. A key's owning
// shard is the first virtual node clockwise from the key's own hash.
// Safe for concurrent use.
type Ring struct {
	mu           sync.RWMutex
	hashFunc     HashFunc
	virtualNodes int
	points       map[uint32]string
	sorted       []uint32
	shards       map[string]bool
}

// NewRing constructs an empty ring. hashFunc defaults to HashMD5 and
// virtualNodes defaults to DefaultVirtualNodes if left zero/empty.
func NewRing(hashFunc HashFunc, virtualNodes int) *Ring {
	if hashFunc == "" {
		hashFunc = HashMD5
	}
	if virtualNodes <= 0 {
		virtualNodes = DefaultVirtualNodes
	}
	return &Ring{
		hashFunc:     hashFunc,
		virtualNodes: virtualNodes,
		points:       make(map[uint32]string),
		shards:       make(map[string]bool),
	}
}

func (r *Ring) hash(s string) uint32 {
	switch r.hashFunc {
	case HashSHA1:
		sum := sha1.Sum([]byte(s))
		return uint32(sum[0])<<24 | uint32(sum[1])<<16 | uint32(sum[2])<<8 | uint32(sum[3])
	default:
		sum := md5.Sum([]byte(s))
		return uint32(sum[0])<<24 | uint32(sum[1])<<16 | uint32(sum[2])<<8 | uint32(sum[3])
	}
}

// AddShard places shardID's virtual nodes on the ring. A no-op if shardID
// is already present.
func (r *Ring) AddShard(shardID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shards[shardID] {
		return
	}
	r.shards[shardID] = true
	for i := 0; i < r.virtualNodes; i++ {
		h := r.hash(fmt.Sprintf("%s#%d", shardID, i))
		r.points[h] = shardID
	}
	r.rebuildSortedLocked()
}

// RemoveShard removes shardID and all of its virtual nodes from the ring.
func (r *Ring) RemoveShard(shardID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.shards[shardID] {
		return
	}
	delete(r.shards, shardID)
	for i := 0; i < r.virtualNodes; i++ {
		h := r.hash(fmt.Sprintf("%s#%d", shardID, i))
		delete(r.points, h)
	}
	r.rebuildSortedLocked()
}

func (r *Ring) rebuildSortedLocked() {
	sorted := make([]uint32, 0, len(r.points))
	for h := range r.points {
		sorted = append(sorted, h)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	r.sorted = sorted
}

// Lookup returns the shard owning key, and false if the ring is empty.
func (r *Ring) Lookup(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.sorted) == 0 {
		return "", false
	}
	h := r.hash(key)
	idx := sort.Search(len(r.sorted), func(i int) bool { return r.sorted[i] >= h })
	if idx == len(r.sorted) {
		idx = 0
	}
	return r.points[r.sorted[idx]], true
}

// Shards returns the set of shard IDs currently on the ring.
func (r *Ring) Shards() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.shards))
	for id := range r.shards {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
