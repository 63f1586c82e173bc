package item

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

func floatBits(f float64) uint64 { return math.Float64bits(f) }
func bitsFloat(b uint64) float64 { return math.Float64frombits(b) }

// The multi-field variants (hash, list, set, zset) share a small
// length-prefixed encoding: a uint64 count followed by that many
// length-prefixed byte strings (or pairs of them). This mirrors the
// framing spec.md §4.6 uses for the RDB payload itself, applied one level
// down to each variant's own Serialize/Deserialize.

func putUint64(buf *bytes.Buffer, n uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], n)
	buf.Write(b[:])
}

func getUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func putBytes(buf *bytes.Buffer, b []byte) {
	putUint64(buf, uint64(len(b)))
	buf.Write(b)
}

func getBytes(r *bytes.Reader) ([]byte, error) {
	n, err := getUint64(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, fmt.Errorf("item: short read: %w", err)
		}
	}
	return b, nil
}

func putFloat64(buf *bytes.Buffer, f float64) {
	putUint64(buf, floatBits(f))
}

func getFloat64(r *bytes.Reader) (float64, error) {
	bits, err := getUint64(r)
	if err != nil {
		return 0, err
	}
	return bitsFloat(bits), nil
}
