package item

import "bytes"

// HashValue is an unordered field -> value byte-string mapping.
type HashValue struct {
	Fields map[string][]byte
}

func NewHashValue() *HashValue {
	return &HashValue{Fields: make(map[string][]byte)}
}

func (h *HashValue) Kind() Kind { return KindHash }

func (h *HashValue) Clone() Value {
	cp := NewHashValue()
	for k, v := range h.Fields {
		dup := make([]byte, len(v))
		copy(dup, v)
		cp.Fields[k] = dup
	}
	return cp
}

func (h *HashValue) Serialize() []byte {
	var buf bytes.Buffer
	putUint64(&buf, uint64(len(h.Fields)))
	for k, v := range h.Fields {
		putBytes(&buf, []byte(k))
		putBytes(&buf, v)
	}
	return buf.Bytes()
}

func deserializeHash(data []byte) (Value, error) {
	r := bytes.NewReader(data)
	n, err := getUint64(r)
	if err != nil {
		return nil, err
	}
	h := NewHashValue()
	for i := uint64(0); i < n; i++ {
		k, err := getBytes(r)
		if err != nil {
			return nil, err
		}
		v, err := getBytes(r)
		if err != nil {
			return nil, err
		}
		h.Fields[string(k)] = v
	}
	return h, nil
}

// Set sets a field, returning true if the field did not already exist.
func (h *HashValue) Set(field string, value []byte) bool {
	_, existed := h.Fields[field]
	dup := make([]byte, len(value))
	copy(dup, value)
	h.Fields[field] = dup
	return !existed
}

func (h *HashValue) Get(field string) ([]byte, bool) {
	v, ok := h.Fields[field]
	return v, ok
}

// Del removes fields, returning the number actually removed.
func (h *HashValue) Del(fields ...string) int {
	n := 0
	for _, f := range fields {
		if _, ok := h.Fields[f]; ok {
			delete(h.Fields, f)
			n++
		}
	}
	return n
}

func (h *HashValue) Exists(field string) bool {
	_, ok := h.Fields[field]
	return ok
}

func (h *HashValue) Keys() []string {
	keys := make([]string, 0, len(h.Fields))
	for k := range h.Fields {
		keys = append(keys, k)
	}
	return keys
}

func (h *HashValue) Values() [][]byte {
	vals := make([][]byte, 0, len(h.Fields))
	for _, v := range h.Fields {
		vals = append(vals, v)
	}
	return vals
}

func (h *HashValue) Len() int { return len(h.Fields) }
