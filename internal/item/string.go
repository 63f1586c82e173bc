package item

import (
	"strconv"
)

// StringValue is an opaque byte sequence, optionally participating in
// INCR/DECR when it parses as a signed decimal integer.
type StringValue struct {
	Data []byte
}

func NewStringValue(data []byte) *StringValue {
	cp := make([]byte, len(data))
	copy(cp, data)
	return &StringValue{Data: cp}
}

func (s *StringValue) Kind() Kind { return KindString }

func (s *StringValue) Serialize() []byte {
	out := make([]byte, len(s.Data))
	copy(out, s.Data)
	return out
}

func deserializeString(data []byte) (Value, error) {
	return NewStringValue(data), nil
}

func (s *StringValue) Clone() Value {
	return NewStringValue(s.Data)
}

// Int parses Data as a signed decimal integer. Non-parseable values make
// INCR/DECR fail with a typed error at the engine boundary.
func (s *StringValue) Int() (int64, error) {
	return strconv.ParseInt(string(s.Data), 10, 64)
}

// SetInt overwrites Data with the decimal rendering of n.
func (s *StringValue) SetInt(n int64) {
	s.Data = []byte(strconv.FormatInt(n, 10))
}
