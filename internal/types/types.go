// Package types holds the small set of value types shared across the
// storage engine, durability, Raft and shard-router packages: the command
// envelope, reply shape, and typed error kinds of spec.md §6/§7.
package types

import "fmt"

// Command is one already-parsed verb-and-arguments pair, the unit the
// storage engine, AOF and Raft state machine all operate on.
type Command struct {
	Verb string
	Args [][]byte

	// TxnID is not set by any caller in this module and is not read by
	// the engine, which takes transaction ids from internal/txn instead
	// (ExecuteOne and ExecuteBatch each begin their own transaction); 0
	// means non-transactional.
	TxnID uint64
}

// ReplyKind tags the shape of a Reply for a wire-protocol encoder
// (out of scope here; see SPEC_FULL.md §6 "Consumed interfaces").
type ReplyKind int

const (
	ReplyNil ReplyKind = iota
	ReplySimpleString
	ReplyBulkString
	ReplyInteger
	ReplyArray
	ReplyError
)

// Reply is the engine's result for one command, variant-tagged by Kind.
type Reply struct {
	Kind    ReplyKind
	Str     string
	Bulk    []byte
	Int     int64
	Array   []Reply
	ErrKind Kind
	ErrMsg  string
}

func Nil() Reply                { return Reply{Kind: ReplyNil} }
func Simple(s string) Reply     { return Reply{Kind: ReplySimpleString, Str: s} }
func Bulk(b []byte) Reply       { return Reply{Kind: ReplyBulkString, Bulk: b} }
func Integer(n int64) Reply     { return Reply{Kind: ReplyInteger, Int: n} }
func Array(items []Reply) Reply { return Reply{Kind: ReplyArray, Array: items} }

// Kind enumerates the error kinds surfaced to clients (spec.md §7).
type Kind int

const (
	KindWrongType Kind = iota
	KindInvalidArgument
	KindNotFound
	KindTransactionState
	KindNotLeader
	KindTimeout
	KindOOM
	KindInternal
)

// Error is the typed error wrapping a Kind, a message, and — for
// KindNotLeader — an optional hint at the current leader.
type Error struct {
	Kind       Kind
	Msg        string
	LeaderHint string
	wrapped    error
}

func (e *Error) Error() string {
	if e.LeaderHint != "" {
		return fmt.Sprintf("%s (leader hint: %s)", e.Msg, e.LeaderHint)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.wrapped }

func NewError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrapf(kind Kind, wrapped error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), wrapped: wrapped}
}

func NotLeaderError(hint string) *Error {
	return &Error{Kind: KindNotLeader, Msg: "not leader", LeaderHint: hint}
}

func ErrorReply(msg string) Reply {
	return Reply{Kind: ReplyError, ErrMsg: msg}
}

func ReplyFromError(err error) Reply {
	if te, ok := err.(*Error); ok {
		return Reply{Kind: ReplyError, ErrKind: te.Kind, ErrMsg: te.Error()}
	}
	return Reply{Kind: ReplyError, ErrKind: KindInternal, ErrMsg: err.Error()}
}
