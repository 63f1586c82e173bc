package item

import (
	"bytes"
	"sort"
)

// ZSetValue holds members with floating-point scores, ordered by
// (score, member) with ties broken by the bucket's own iteration order
// (see spec.md §4.1/§9 — intra-tie order is deliberately unspecified).
//
// It maintains both an ordered score -> set-of-members mapping (for
// range-by-score and rank traversal) and a flat member -> score mapping
// (for point lookup and ZADD's score update).
type ZSetValue struct {
	buckets map[float64]map[string]struct{}
	scores  map[string]float64
}

func NewZSetValue() *ZSetValue {
	return &ZSetValue{
		buckets: make(map[float64]map[string]struct{}),
		scores:  make(map[string]float64),
	}
}

func (z *ZSetValue) Kind() Kind { return KindZSet }

func (z *ZSetValue) Clone() Value {
	cp := NewZSetValue()
	for score, members := range z.buckets {
		bucket := make(map[string]struct{}, len(members))
		for m := range members {
			bucket[m] = struct{}{}
		}
		cp.buckets[score] = bucket
	}
	for m, s := range z.scores {
		cp.scores[m] = s
	}
	return cp
}

func (z *ZSetValue) Serialize() []byte {
	var buf bytes.Buffer
	putUint64(&buf, uint64(len(z.scores)))
	for m, s := range z.scores {
		putBytes(&buf, []byte(m))
		putFloat64(&buf, s)
	}
	return buf.Bytes()
}

func deserializeZSet(data []byte) (Value, error) {
	r := bytes.NewReader(data)
	n, err := getUint64(r)
	if err != nil {
		return nil, err
	}
	z := NewZSetValue()
	for i := uint64(0); i < n; i++ {
		m, err := getBytes(r)
		if err != nil {
			return nil, err
		}
		s, err := getFloat64(r)
		if err != nil {
			return nil, err
		}
		z.add(string(m), s)
	}
	return z, nil
}

// Add implements ZADD member score semantics: removing the member from
// its old score bucket if present (emptying and removing empty buckets),
// inserting into the new bucket, and updating the flat map. Returns true
// if the member is new.
func (z *ZSetValue) Add(member string, score float64) bool {
	_, existed := z.scores[member]
	z.add(member, score)
	return !existed
}

func (z *ZSetValue) add(member string, score float64) {
	if oldScore, ok := z.scores[member]; ok {
		if bucket, ok := z.buckets[oldScore]; ok {
			delete(bucket, member)
			if len(bucket) == 0 {
				delete(z.buckets, oldScore)
			}
		}
	}
	z.scores[member] = score
	bucket, ok := z.buckets[score]
	if !ok {
		bucket = make(map[string]struct{})
		z.buckets[score] = bucket
	}
	bucket[member] = struct{}{}
}

func (z *ZSetValue) Rem(members ...string) int {
	removed := 0
	for _, m := range members {
		score, ok := z.scores[m]
		if !ok {
			continue
		}
		delete(z.scores, m)
		if bucket, ok := z.buckets[score]; ok {
			delete(bucket, m)
			if len(bucket) == 0 {
				delete(z.buckets, score)
			}
		}
		removed++
	}
	return removed
}

func (z *ZSetValue) Score(member string) (float64, bool) {
	s, ok := z.scores[member]
	return s, ok
}

func (z *ZSetValue) IsMember(member string) bool {
	_, ok := z.scores[member]
	return ok
}

func (z *ZSetValue) Card() int { return len(z.scores) }

// ZMember pairs a member with its score, used by ordered traversal.
type ZMember struct {
	Member string
	Score  float64
}

// sortedScores returns the distinct scores in ascending order.
func (z *ZSetValue) sortedScores() []float64 {
	scores := make([]float64, 0, len(z.buckets))
	for s := range z.buckets {
		scores = append(scores, s)
	}
	sort.Float64s(scores)
	return scores
}

// ordered returns every member in ascending (score, bucket-iteration-order).
func (z *ZSetValue) ordered() []ZMember {
	out := make([]ZMember, 0, len(z.scores))
	for _, score := range z.sortedScores() {
		for m := range z.buckets[score] {
			out = append(out, ZMember{Member: m, Score: score})
		}
	}
	return out
}

// Rank returns the 0-based ascending rank of member, computed by ordered
// traversal accumulating bucket sizes.
func (z *ZSetValue) Rank(member string) (int, bool) {
	score, ok := z.scores[member]
	if !ok {
		return 0, false
	}
	rank := 0
	for _, s := range z.sortedScores() {
		if s == score {
			bucket := z.buckets[s]
			idx := 0
			for m := range bucket {
				if m == member {
					return rank + idx, true
				}
				idx++
			}
		}
		rank += len(z.buckets[s])
	}
	return 0, false
}

// RevRank returns the 0-based descending rank of member.
func (z *ZSetValue) RevRank(member string) (int, bool) {
	rank, ok := z.Rank(member)
	if !ok {
		return 0, false
	}
	return z.Card() - 1 - rank, true
}

// Range returns members in [start, stop] ascending rank, inclusive,
// Redis-style negative indices.
func (z *ZSetValue) Range(start, stop int) []ZMember {
	ordered := z.ordered()
	return sliceZRange(ordered, start, stop)
}

// RevRange returns members in [start, stop] descending rank, inclusive.
func (z *ZSetValue) RevRange(start, stop int) []ZMember {
	ordered := z.ordered()
	rev := make([]ZMember, len(ordered))
	for i, m := range ordered {
		rev[len(ordered)-1-i] = m
	}
	return sliceZRange(rev, start, stop)
}

func sliceZRange(members []ZMember, start, stop int) []ZMember {
	n := len(members)
	start = normalizeIndex(start, n)
	stop = normalizeIndex(stop, n)
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || n == 0 {
		return nil
	}
	out := make([]ZMember, stop-start+1)
	copy(out, members[start:stop+1])
	return out
}

// RangeByScore returns every member with min <= score <= max, ascending.
func (z *ZSetValue) RangeByScore(min, max float64) []ZMember {
	var out []ZMember
	for _, score := range z.sortedScores() {
		if score < min {
			continue
		}
		if score > max {
			break
		}
		for m := range z.buckets[score] {
			out = append(out, ZMember{Member: m, Score: score})
		}
	}
	return out
}

// RevRangeByScore returns every member with min <= score <= max, descending.
func (z *ZSetValue) RevRangeByScore(min, max float64) []ZMember {
	asc := z.RangeByScore(min, max)
	rev := make([]ZMember, len(asc))
	for i, m := range asc {
		rev[len(asc)-1-i] = m
	}
	return rev
}

// Count returns the number of members with min <= score <= max.
func (z *ZSetValue) Count(min, max float64) int {
	n := 0
	for score, bucket := range z.buckets {
		if score >= min && score <= max {
			n += len(bucket)
		}
	}
	return n
}
