package raftnode

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hashicorp/raft"
	"github.com/kvraft/kvraft/internal/engine"
	"github.com/kvraft/kvraft/internal/innerstore"
	"github.com/kvraft/kvraft/internal/rdb"
	"github.com/kvraft/kvraft/internal/types"
	"github.com/rs/zerolog"
)

// RaftCommand is the payload of one committed Raft log entry. A bare
// command and a MULTI/EXEC batch both travel as a one- or many-element
// Commands slice, so the FSM never needs to special-case either: both
// apply through engine.ExecuteBatch under a single transaction id.
type RaftCommand struct {
	Commands []types.Command
}

// applyResult is what FSM.Apply returns through the raft.Log future; the
// caller (Node.Apply) type-asserts it back out of future.Response().
type applyResult struct {
	Replies []types.Reply
	Err     error
}

// FSM routes committed Raft log entries through the storage engine's
// normal command handlers, and answers the library's snapshot/restore
// calls by reusing internal/rdb's binary format for the byte stream.
type FSM struct {
	eng    *engine.Engine
	logger zerolog.Logger
}

func NewFSM(eng *engine.Engine, logger zerolog.Logger) *FSM {
	return &FSM{eng: eng, logger: logger}
}

// Apply decodes one committed entry and runs it through the engine. This
// is spec.md §4.8's "apply(command) → response", except it is always a
// batch of at least one command: a lone SET and a five-command MULTI/EXEC
// both commit as a single Raft entry and are applied atomically here.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var rc RaftCommand
	if err := json.Unmarshal(log.Data, &rc); err != nil {
		return &applyResult{Err: fmt.Errorf("raftnode: unmarshal log entry: %w", err)}
	}

	replies, err := f.eng.ExecuteBatch(rc.Commands)
	if err != nil {
		f.logger.Error().Err(err).Uint64("index", log.Index).Msg("raft apply failed")
	}
	return &applyResult{Replies: replies, Err: err}
}

// Snapshot returns the byte stream hashicorp/raft will persist and later
// feed back through Restore, letting the library discard log entries up
// to the snapshot's last-included-index (spec.md §4.8 "Log compaction").
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	return &fsmSnapshot{store: f.eng.InnerStore()}, nil
}

// Restore replaces the engine's entire key set from a snapshot, the path
// taken on node restart and on InstallSnapshot to a lagging follower.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	data, err := rdb.DecodeSnapshot(rc)
	if err != nil {
		return fmt.Errorf("raftnode: decode snapshot: %w", err)
	}

	store := f.eng.InnerStore()
	store.Lock()
	defer store.Unlock()
	store.ReplaceLocked(data)

	f.logger.Info().Int("keys", len(data)).Msg("raft snapshot restored")
	return nil
}

// fsmSnapshot wraps one point-in-time read of inner storage; Persist
// streams it out through internal/rdb's encoder directly against the
// SnapshotSink, with no intermediate buffer.
type fsmSnapshot struct {
	store *innerstore.Store
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := rdb.EncodeSnapshot(s.store, sink); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *fsmSnapshot) Release() {}
