// Package raftnode wraps hashicorp/raft into the per-shard replica of
// spec.md §4.8: one Raft group per shard, its log and stable stores on
// raft-boltdb, its snapshots on raft.FileSnapshotStore, and its state
// machine (FSM, in fsm.go) routing committed commands through
// internal/engine. See SPEC_FULL.md §9 "Raft replica implementation
// strategy" for why the election/log-replication algorithm itself is not
// hand-rolled here.
package raftnode

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/kvraft/kvraft/internal/engine"
	"github.com/kvraft/kvraft/internal/types"
	"github.com/rs/zerolog"
)

// DefaultApplyTimeout is the commit-wait ceiling of spec.md §5 "Raft
// client waits on (index, term) with a default 10s timeout".
const DefaultApplyTimeout = 10 * time.Second

// Config configures one shard's Raft replica.
type Config struct {
	ShardID  string
	NodeID   string
	BindAddr string
	DataDir  string

	// ApplyTimeout overrides DefaultApplyTimeout; zero means use the
	// default.
	ApplyTimeout time.Duration

	// MaxRaftState approximates spec.md §4.8's "estimated persisted size
	// of (state + log)" compaction trigger. hashicorp/raft only exposes
	// an entry-count threshold (SnapshotThreshold), not a byte-size one,
	// so this is translated at a conservative 1 snapshot-worthy entry per
	// 256 bytes of state; see DESIGN.md for this approximation.
	MaxRaftState int64
}

// JoinFunc contacts leaderAddr to ask the current leader to add this node
// as a Raft voter, the out-of-process equivalent of the teacher's
// client.JoinCluster RPC. internal/rclient supplies the production
// implementation; tests may pass a stub or nil.
type JoinFunc func(leaderAddr, nodeID, bindAddr string) error

// Node is one shard's Raft replica.
type Node struct {
	shardID  string
	nodeID   string
	bindAddr string
	dataDir  string

	applyTimeout time.Duration
	maxRaftState int64

	raft      *raft.Raft
	fsm       *FSM
	transport *raft.NetworkTransport
	logger    zerolog.Logger
}

// New constructs a Node. It does not start Raft; call Bootstrap or Join.
func New(cfg Config, eng *engine.Engine, logger zerolog.Logger) *Node {
	timeout := cfg.ApplyTimeout
	if timeout == 0 {
		timeout = DefaultApplyTimeout
	}
	return &Node{
		shardID:      cfg.ShardID,
		nodeID:       cfg.NodeID,
		bindAddr:     cfg.BindAddr,
		dataDir:      cfg.DataDir,
		applyTimeout: timeout,
		maxRaftState: cfg.MaxRaftState,
		fsm:          NewFSM(eng, logger),
		logger:       logger,
	}
}

// bytesPerSnapshotEntry is the conservative per-entry size used to scale
// MaxRaftState (a byte budget) into hashicorp/raft's SnapshotThreshold (an
// entry count); see the Config.MaxRaftState doc comment.
const bytesPerSnapshotEntry = 256

// raftConfig builds the per-node Raft configuration for spec.md §4.8's
// [150, 300]ms randomized election timer: hashicorp/raft randomizes the
// election timer uniformly across [ElectionTimeout, 2*ElectionTimeout),
// so ElectionTimeout=150ms gives a [150, 300)ms range. The leader's
// replication loop sends heartbeats every HeartbeatTimeout/10, which is
// 15ms with HeartbeatTimeout=150ms; the heartbeat cadence is not 100ms
// and has no setting of its own here.
func (n *Node) raftConfig() *raft.Config {
	cfg := raft.DefaultConfig()
	cfg.LocalID = raft.ServerID(n.nodeID)
	cfg.HeartbeatTimeout = 150 * time.Millisecond
	cfg.ElectionTimeout = 150 * time.Millisecond
	cfg.LeaderLeaseTimeout = 75 * time.Millisecond
	cfg.CommitTimeout = 50 * time.Millisecond
	if n.maxRaftState > 0 {
		cfg.SnapshotThreshold = uint64(n.maxRaftState / bytesPerSnapshotEntry)
		if cfg.SnapshotThreshold < 1 {
			cfg.SnapshotThreshold = 1
		}
	}
	return cfg
}

func (n *Node) buildRaft() error {
	if err := os.MkdirAll(n.dataDir, 0o755); err != nil {
		return fmt.Errorf("raftnode: create data dir: %w", err)
	}

	addr, err := net.ResolveTCPAddr("tcp", n.bindAddr)
	if err != nil {
		return fmt.Errorf("raftnode: resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(n.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return fmt.Errorf("raftnode: create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(n.dataDir, 2, os.Stderr)
	if err != nil {
		return fmt.Errorf("raftnode: create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(n.dataDir, "raft-log.db"))
	if err != nil {
		return fmt.Errorf("raftnode: create log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(n.dataDir, "raft-stable.db"))
	if err != nil {
		return fmt.Errorf("raftnode: create stable store: %w", err)
	}

	r, err := raft.NewRaft(n.raftConfig(), n.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return fmt.Errorf("raftnode: create raft: %w", err)
	}

	n.raft = r
	n.transport = transport
	return nil
}

// Bootstrap initializes a brand-new single-node cluster for this shard.
func (n *Node) Bootstrap() error {
	if err := n.buildRaft(); err != nil {
		return err
	}

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{ID: raft.ServerID(n.nodeID), Address: n.transport.LocalAddr()},
		},
	}
	future := n.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil {
		return fmt.Errorf("raftnode: bootstrap cluster: %w", err)
	}
	return nil
}

// Join starts this node's Raft instance unbootstrapped and, if join is
// non-nil, asks leaderAddr's current leader to add it as a voter via
// AddVoter. The Raft instance then waits to be admitted to the cluster's
// configuration by that call.
func (n *Node) Join(leaderAddr string, join JoinFunc) error {
	if err := n.buildRaft(); err != nil {
		return err
	}
	if join == nil {
		return nil
	}
	if err := join(leaderAddr, n.nodeID, n.bindAddr); err != nil {
		return fmt.Errorf("raftnode: join via leader %s: %w", leaderAddr, err)
	}
	return nil
}

// AddVoter adds a new member to this shard's Raft group. Only the leader
// may call this successfully.
func (n *Node) AddVoter(nodeID, address string) error {
	if n.raft == nil {
		return types.NewError(types.KindInternal, "raft not initialized")
	}
	if !n.IsLeader() {
		return types.NotLeaderError(n.LeaderAddr())
	}
	future := n.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("raftnode: add voter %s: %w", nodeID, err)
	}
	return nil
}

// RemoveServer removes a member from this shard's Raft group.
func (n *Node) RemoveServer(nodeID string) error {
	if n.raft == nil {
		return types.NewError(types.KindInternal, "raft not initialized")
	}
	if !n.IsLeader() {
		return types.NotLeaderError(n.LeaderAddr())
	}
	future := n.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("raftnode: remove server %s: %w", nodeID, err)
	}
	return nil
}

// IsLeader reports whether this replica currently holds shard leadership.
func (n *Node) IsLeader() bool {
	return n.raft != nil && n.raft.State() == raft.Leader
}

// LeaderAddr returns the current leader's bind address, or "" if unknown.
func (n *Node) LeaderAddr() string {
	if n.raft == nil {
		return ""
	}
	addr, _ := n.raft.LeaderWithID()
	return string(addr)
}

// NodeID returns this replica's Raft server ID.
func (n *Node) NodeID() string { return n.nodeID }

// ShardID returns the shard this replica serves.
func (n *Node) ShardID() string { return n.shardID }

// Apply is spec.md §4.8's start_command: on the leader it appends cmds as
// one atomic log entry, waits for the commit-wait timeout, and returns
// each command's reply in order. Non-leaders return a NotLeaderError
// carrying a hint at the current leader.
func (n *Node) Apply(cmds []types.Command) ([]types.Reply, error) {
	if n.raft == nil {
		err := types.NewError(types.KindInternal, "raft not initialized")
		return nil, err
	}
	if !n.IsLeader() {
		err := types.NotLeaderError(n.LeaderAddr())
		return nil, err
	}

	data, err := json.Marshal(RaftCommand{Commands: cmds})
	if err != nil {
		return nil, types.Wrapf(types.KindInternal, err, "raftnode: marshal command")
	}

	future := n.raft.Apply(data, n.applyTimeout)
	if err := future.Error(); err != nil {
		if err == raft.ErrNotLeader || err == raft.ErrLeadershipLost {
			return nil, types.NotLeaderError(n.LeaderAddr())
		}
		return nil, types.Wrapf(types.KindTimeout, err, "raftnode: apply")
	}

	res, ok := future.Response().(*applyResult)
	if !ok || res == nil {
		return nil, types.NewError(types.KindInternal, "raftnode: fsm returned no result")
	}
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Replies, nil
}

// ApplyOne is Apply for the common single-command case.
func (n *Node) ApplyOne(cmd types.Command) (types.Reply, error) {
	replies, err := n.Apply([]types.Command{cmd})
	if err != nil {
		return types.ReplyFromError(err), err
	}
	return replies[0], nil
}

// Stats mirrors the teacher's GetRaftStats: state, indices and peer
// count, surfaced through INFO and internal/metrics.
func (n *Node) Stats() map[string]interface{} {
	if n.raft == nil {
		return nil
	}
	stats := map[string]interface{}{
		"shard_id":       n.shardID,
		"state":          n.raft.State().String(),
		"last_log_index": n.raft.LastIndex(),
		"applied_index":  n.raft.AppliedIndex(),
		"leader":         n.LeaderAddr(),
	}
	if cf := n.raft.GetConfiguration(); cf.Error() == nil {
		stats["peers"] = len(cf.Configuration().Servers)
	}
	return stats
}

// Shutdown stops this replica's Raft main loop and network transport.
func (n *Node) Shutdown() error {
	if n.raft == nil {
		return nil
	}
	future := n.raft.Shutdown()
	if err := future.Error(); err != nil {
		return fmt.Errorf("raftnode: shutdown: %w", err)
	}
	return nil
}
