package item

import "bytes"

// ListValue is an ordered sequence supporting push/pop at either end.
type ListValue struct {
	Elems [][]byte
}

func NewListValue() *ListValue {
	return &ListValue{}
}

func (l *ListValue) Kind() Kind { return KindList }

func (l *ListValue) Clone() Value {
	cp := NewListValue()
	cp.Elems = make([][]byte, len(l.Elems))
	for i, e := range l.Elems {
		dup := make([]byte, len(e))
		copy(dup, e)
		cp.Elems[i] = dup
	}
	return cp
}

func (l *ListValue) Serialize() []byte {
	var buf bytes.Buffer
	putUint64(&buf, uint64(len(l.Elems)))
	for _, e := range l.Elems {
		putBytes(&buf, e)
	}
	return buf.Bytes()
}

func deserializeList(data []byte) (Value, error) {
	r := bytes.NewReader(data)
	n, err := getUint64(r)
	if err != nil {
		return nil, err
	}
	l := NewListValue()
	l.Elems = make([][]byte, 0, n)
	for i := uint64(0); i < n; i++ {
		e, err := getBytes(r)
		if err != nil {
			return nil, err
		}
		l.Elems = append(l.Elems, e)
	}
	return l, nil
}

// LPush prepends elems in argument order (so LPUSH k a b leaves list b,a,...).
func (l *ListValue) LPush(elems ...[]byte) int {
	for _, e := range elems {
		dup := make([]byte, len(e))
		copy(dup, e)
		l.Elems = append([][]byte{dup}, l.Elems...)
	}
	return len(l.Elems)
}

// RPush appends elems in argument order.
func (l *ListValue) RPush(elems ...[]byte) int {
	for _, e := range elems {
		dup := make([]byte, len(e))
		copy(dup, e)
		l.Elems = append(l.Elems, dup)
	}
	return len(l.Elems)
}

// LPop removes up to count elements from the head.
func (l *ListValue) LPop(count int) [][]byte {
	if count > len(l.Elems) {
		count = len(l.Elems)
	}
	if count <= 0 {
		return nil
	}
	popped := l.Elems[:count]
	l.Elems = l.Elems[count:]
	return popped
}

// RPop removes up to count elements from the tail, returned in pop order
// (most recently tail-most first).
func (l *ListValue) RPop(count int) [][]byte {
	if count > len(l.Elems) {
		count = len(l.Elems)
	}
	if count <= 0 {
		return nil
	}
	n := len(l.Elems)
	popped := make([][]byte, count)
	for i := 0; i < count; i++ {
		popped[i] = l.Elems[n-1-i]
	}
	l.Elems = l.Elems[:n-count]
	return popped
}

func (l *ListValue) Len() int { return len(l.Elems) }

// Range returns elements in [start, stop] inclusive, Redis-style negative
// indices counting from the end, clamped to valid bounds.
func (l *ListValue) Range(start, stop int) [][]byte {
	n := len(l.Elems)
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
	out := make([][]byte, stop-start+1)
	copy(out, l.Elems[start:stop+1])
	return out
}

func normalizeIndex(idx, n int) int {
	if idx < 0 {
		idx = n + idx
	}
	return idx
}
