// Package wire implements the single length-prefixed, one-byte-type-tag
// binary frame format shared by the append-only log, the intra-cluster
// client and the shard migration stream (SPEC_FULL.md §5): every frame is
// [4-byte length][1-byte type][payload]. Raft traffic does not use it
// (the Raft replica runs over hashicorp/raft's TCP transport), and no
// package sends MsgRaftRPC frames.
// A command payload is the wire protocol's inline array form: [VERB,
// arg1, arg2, ...], argc-prefixed, each element individually
// length-prefixed.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/kvraft/kvraft/internal/types"
)

// MsgType tags a frame's payload shape.
type MsgType byte

const (
	MsgCommand MsgType = iota + 1
	MsgReply
	MsgRaftRPC
	MsgMigrationBatch
)

// WriteFrame writes one [length][type][payload] frame to w.
func WriteFrame(w io.Writer, typ MsgType, payload []byte) error {
	var header [5]byte
	binary.BigEndian.PutUint32(header[:4], uint32(len(payload)+1))
	header[4] = byte(typ)
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("wire: write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one frame from r, returning its type and payload.
func ReadFrame(r io.Reader) (MsgType, []byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 {
		return 0, nil, fmt.Errorf("wire: empty frame")
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, fmt.Errorf("wire: read frame body: %w", err)
	}
	return MsgType(body[0]), body[1:], nil
}

// EncodeCommand renders cmd as the inline-array command payload.
func EncodeCommand(cmd types.Command) []byte {
	argc := uint32(1 + len(cmd.Args))
	buf := appendUint32(nil, argc)
	buf = appendElement(buf, []byte(cmd.Verb))
	for _, a := range cmd.Args {
		buf = appendElement(buf, a)
	}
	return buf
}

// DecodeCommand parses a buffer produced by EncodeCommand.
func DecodeCommand(data []byte) (types.Command, error) {
	if len(data) < 4 {
		return types.Command{}, fmt.Errorf("wire: short command buffer")
	}
	argc := binary.BigEndian.Uint32(data[:4])
	data = data[4:]
	if argc == 0 {
		return types.Command{}, fmt.Errorf("wire: zero-length command")
	}
	elems := make([][]byte, 0, argc)
	for i := uint32(0); i < argc; i++ {
		el, rest, err := readElement(data)
		if err != nil {
			return types.Command{}, err
		}
		elems = append(elems, el)
		data = rest
	}
	return types.Command{Verb: string(elems[0]), Args: elems[1:]}, nil
}

// EncodeReply renders a types.Reply as a self-describing byte sequence:
// one kind-tag byte followed by a kind-specific body. Arrays nest
// recursively, each element itself length-prefixed, so the intra-cluster
// client can decode a forwarded command's reply without a second schema.
func EncodeReply(r types.Reply) []byte {
	buf := []byte{byte(r.Kind)}
	switch r.Kind {
	case types.ReplyNil:
	case types.ReplySimpleString:
		buf = appendElement(buf, []byte(r.Str))
	case types.ReplyBulkString:
		buf = appendElement(buf, r.Bulk)
	case types.ReplyInteger:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(r.Int))
		buf = append(buf, b[:]...)
	case types.ReplyArray:
		buf = appendUint32(buf, uint32(len(r.Array)))
		for _, el := range r.Array {
			buf = appendElement(buf, EncodeReply(el))
		}
	case types.ReplyError:
		buf = append(buf, byte(r.ErrKind))
		buf = appendElement(buf, []byte(r.ErrMsg))
	}
	return buf
}

// DecodeReply parses a buffer produced by EncodeReply.
func DecodeReply(data []byte) (types.Reply, error) {
	if len(data) < 1 {
		return types.Reply{}, fmt.Errorf("wire: empty reply buffer")
	}
	kind := types.ReplyKind(data[0])
	data = data[1:]

	switch kind {
	case types.ReplyNil:
		return types.Reply{Kind: types.ReplyNil}, nil
	case types.ReplySimpleString:
		el, _, err := readElement(data)
		if err != nil {
			return types.Reply{}, err
		}
		return types.Simple(string(el)), nil
	case types.ReplyBulkString:
		el, _, err := readElement(data)
		if err != nil {
			return types.Reply{}, err
		}
		return types.Bulk(el), nil
	case types.ReplyInteger:
		if len(data) < 8 {
			return types.Reply{}, fmt.Errorf("wire: short integer reply")
		}
		return types.Integer(int64(binary.BigEndian.Uint64(data[:8]))), nil
	case types.ReplyArray:
		if len(data) < 4 {
			return types.Reply{}, fmt.Errorf("wire: short array reply")
		}
		n := binary.BigEndian.Uint32(data[:4])
		data = data[4:]
		items := make([]types.Reply, 0, n)
		for i := uint32(0); i < n; i++ {
			el, rest, err := readElement(data)
			if err != nil {
				return types.Reply{}, err
			}
			sub, err := DecodeReply(el)
			if err != nil {
				return types.Reply{}, err
			}
			items = append(items, sub)
			data = rest
		}
		return types.Array(items), nil
	case types.ReplyError:
		if len(data) < 1 {
			return types.Reply{}, fmt.Errorf("wire: short error reply")
		}
		errKind := types.Kind(data[0])
		el, _, err := readElement(data[1:])
		if err != nil {
			return types.Reply{}, err
		}
		return types.Reply{Kind: types.ReplyError, ErrKind: errKind, ErrMsg: string(el)}, nil
	default:
		return types.Reply{}, fmt.Errorf("wire: unknown reply kind %d", kind)
	}
}

// AppendElement and ReadElement expose the length-prefixed element framing
// used internally by EncodeCommand/EncodeReply to other packages that want
// wire-compatible element encoding without a second schema — e.g. the shard
// router's migration batches, which piggyback on MsgMigrationBatch frames.
func AppendElement(buf, el []byte) []byte { return appendElement(buf, el) }

func ReadElement(data []byte) ([]byte, []byte, error) { return readElement(data) }

// AppendUint32 exposes the frame format's big-endian length-prefix encoding.
func AppendUint32(buf []byte, v uint32) []byte { return appendUint32(buf, v) }

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendElement(buf []byte, el []byte) []byte {
	buf = appendUint32(buf, uint32(len(el)))
	return append(buf, el...)
}

func readElement(data []byte) (elem []byte, rest []byte, err error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("wire: short element length")
	}
	n := binary.BigEndian.Uint32(data[:4])
	data = data[4:]
	if uint32(len(data)) < n {
		return nil, nil, fmt.Errorf("wire: short element body")
	}
	return data[:n], data[n:], nil
}
