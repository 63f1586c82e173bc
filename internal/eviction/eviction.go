// Package eviction implements the memory-ceiling admission gate of
// spec.md §4.10: sampled victim selection by policy, run in front of
// mutating commands.
//
// The scoring shape here — filter the candidate set, score each sampled
// candidate, pick the best — follows the same filter/score/pick structure
// the teacher's scheduler uses to place a container onto a worker node,
// generalized from "pick a node for a container" to "pick a key to
// evict".
package eviction

import (
	"math/rand"
	"time"

	"github.com/kvraft/kvraft/internal/innerstore"
	"github.com/kvraft/kvraft/internal/item"
	"github.com/kvraft/kvraft/internal/types"
)

// Policy identifies one of the supported eviction policies.
type Policy string

const (
	NoEviction      Policy = "noeviction"
	VolatileLRU     Policy = "volatile-lru"
	VolatileLFU     Policy = "volatile-lfu"
	VolatileRandom  Policy = "volatile-random"
	VolatileTTL     Policy = "volatile-ttl"
	AllKeysLRU      Policy = "allkeys-lru"
	AllKeysLFU      Policy = "allkeys-lfu"
	AllKeysRandom   Policy = "allkeys-random"
	DefaultPolicy          = NoEviction
	DefaultSampleSize      = 5
)

func ParsePolicy(s string) Policy {
	switch Policy(s) {
	case VolatileLRU, VolatileLFU, VolatileRandom, VolatileTTL, AllKeysLRU, AllKeysLFU, AllKeysRandom:
		return Policy(s)
	default:
		return NoEviction
	}
}

// MemoryUsageFunc reports current estimated memory usage in bytes.
type MemoryUsageFunc func() int64

// Engine is the eviction admission gate wired in front of mutating
// commands by the storage engine.
type Engine struct {
	store      *innerstore.Store
	policy     Policy
	maxMemory  int64
	sampleSize int
	usage      MemoryUsageFunc
	rng        *rand.Rand
	evicted    uint64
}

func New(store *innerstore.Store, policy Policy, maxMemory int64, usage MemoryUsageFunc) *Engine {
	return &Engine{
		store:      store,
		policy:     policy,
		maxMemory:  maxMemory,
		sampleSize: DefaultSampleSize,
		usage:      usage,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (e *Engine) SetPolicy(p Policy)      { e.policy = p }
func (e *Engine) SetMaxMemory(n int64)    { e.maxMemory = n }
func (e *Engine) EvictedCount() uint64    { return e.evicted }
func (e *Engine) Policy() Policy          { return e.policy }
func (e *Engine) MaxMemory() int64        { return e.maxMemory }

// Admit is the admission gate called before a mutating command. If usage
// is at or above the ceiling it evicts victims per policy until usage
// drops below the ceiling or no eligible key remains; if it's still over
// afterward, the mutation is rejected with KindOOM. Read-only commands
// never call Admit.
func (e *Engine) Admit() error {
	if e.maxMemory <= 0 || e.policy == NoEviction {
		return nil
	}

	for e.usage() >= e.maxMemory {
		key, ok := e.pickVictim()
		if !ok {
			break
		}
		e.store.Erase(key)
		e.evicted++
	}

	if e.usage() >= e.maxMemory {
		return types.NewError(types.KindOOM, "OOM command not allowed when used memory > 'maxmemory'")
	}
	return nil
}

// candidate is a sampled key plus the envelope metadata needed to score it.
type candidate struct {
	key string
	env *item.Envelope
}

func (e *Engine) pickVictim() (string, bool) {
	pool := e.sampleCandidates()
	if len(pool) == 0 {
		return "", false
	}

	switch e.policy {
	case VolatileLRU, AllKeysLRU:
		return pickMin(pool, func(c candidate) int64 { return c.env.LastAccess }), true
	case VolatileLFU, AllKeysLFU:
		return pickMinTiedByAccess(pool), true
	case VolatileTTL:
		return pickMin(pool, func(c candidate) int64 { return *c.env.ExpireAt }), true
	case VolatileRandom, AllKeysRandom:
		return pool[e.rng.Intn(len(pool))].key, true
	default:
		return "", false
	}
}

// sampleCandidates samples up to sampleSize keys eligible for the current
// policy's candidate set (VOLATILE_* restricts to keys with an
// expiration; ALLKEYS_* and plain RANDOM consider every key).
func (e *Engine) sampleCandidates() []candidate {
	volatileOnly := e.policy == VolatileLRU || e.policy == VolatileLFU ||
		e.policy == VolatileRandom || e.policy == VolatileTTL

	var all []candidate
	e.store.Range(func(key string, env *item.Envelope) bool {
		if volatileOnly && env.ExpireAt == nil {
			return true
		}
		all = append(all, candidate{key: key, env: env})
		return true
	})

	if len(all) <= e.sampleSize {
		return all
	}

	e.rng.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	return all[:e.sampleSize]
}

func pickMin(pool []candidate, score func(candidate) int64) string {
	best := pool[0]
	bestScore := score(best)
	for _, c := range pool[1:] {
		if s := score(c); s < bestScore {
			best, bestScore = c, s
		}
	}
	return best.key
}

// pickMinTiedByAccess picks the lowest AccessFreq, ties broken by oldest
// LastAccess, per spec.md §4.10 "LFU: ... ties broken by oldest".
func pickMinTiedByAccess(pool []candidate) string {
	best := pool[0]
	for _, c := range pool[1:] {
		if c.env.AccessFreq < best.env.AccessFreq ||
			(c.env.AccessFreq == best.env.AccessFreq && c.env.LastAccess < best.env.LastAccess) {
			best = c
		}
	}
	return best.key
}
