package item

import "bytes"

// SetValue is an unordered set of byte-string members.
type SetValue struct {
	Members map[string]struct{}
}

func NewSetValue() *SetValue {
	return &SetValue{Members: make(map[string]struct{})}
}

func (s *SetValue) Kind() Kind { return KindSet }

func (s *SetValue) Clone() Value {
	cp := NewSetValue()
	for m := range s.Members {
		cp.Members[m] = struct{}{}
	}
	return cp
}

func (s *SetValue) Serialize() []byte {
	var buf bytes.Buffer
	putUint64(&buf, uint64(len(s.Members)))
	for m := range s.Members {
		putBytes(&buf, []byte(m))
	}
	return buf.Bytes()
}

func deserializeSet(data []byte) (Value, error) {
	r := bytes.NewReader(data)
	n, err := getUint64(r)
	if err != nil {
		return nil, err
	}
	s := NewSetValue()
	for i := uint64(0); i < n; i++ {
		m, err := getBytes(r)
		if err != nil {
			return nil, err
		}
		s.Members[string(m)] = struct{}{}
	}
	return s, nil
}

// Add returns the number of members actually added (not already present).
func (s *SetValue) Add(members ...[]byte) int {
	added := 0
	for _, m := range members {
		key := string(m)
		if _, ok := s.Members[key]; !ok {
			s.Members[key] = struct{}{}
			added++
		}
	}
	return added
}

// Rem returns the number of members actually removed.
func (s *SetValue) Rem(members ...[]byte) int {
	removed := 0
	for _, m := range members {
		key := string(m)
		if _, ok := s.Members[key]; ok {
			delete(s.Members, key)
			removed++
		}
	}
	return removed
}

func (s *SetValue) IsMember(member []byte) bool {
	_, ok := s.Members[string(member)]
	return ok
}

func (s *SetValue) Card() int { return len(s.Members) }

func (s *SetValue) ToSlice() [][]byte {
	out := make([][]byte, 0, len(s.Members))
	for m := range s.Members {
		out = append(out, []byte(m))
	}
	return out
}
