// Command kvstored is the process entrypoint: it loads configuration,
// wires the storage engine to durability (AOF/RDB) and to a per-shard
// Raft group, stands up the shard router and metrics endpoint, and
// serves until an interrupt or fatal error.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/kvraft/kvraft/internal/aof"
	"github.com/kvraft/kvraft/internal/config"
	"github.com/kvraft/kvraft/internal/engine"
	"github.com/kvraft/kvraft/internal/eventbus"
	"github.com/kvraft/kvraft/internal/eviction"
	"github.com/kvraft/kvraft/internal/kvlog"
	"github.com/kvraft/kvraft/internal/metrics"
	"github.com/kvraft/kvraft/internal/raftnode"
	"github.com/kvraft/kvraft/internal/rclient"
	"github.com/kvraft/kvraft/internal/rdb"
	"github.com/kvraft/kvraft/internal/shard"
	"github.com/kvraft/kvraft/internal/txn"
	"github.com/kvraft/kvraft/internal/types"
	"github.com/spf13/cobra"
)

// migrateShardVerb is the admin verb an operator sends to kick off a
// shard migration: MIGRATE_SHARD <sourceShard> <destShard> <startKey> <endKey>.
const migrateShardVerb = "MIGRATE_SHARD"

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "kvstored",
	Short:   "kvstored is a distributed, Redis-protocol-compatible in-memory key-value store",
	Version: Version,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start this node, serving one shard's Raft group",
	RunE:  runStart,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to the kvstored config file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("metrics-addr", "127.0.0.1:9090", "Metrics server bind address")
	rootCmd.PersistentFlags().String("rcluster-addr", "127.0.0.1:7400", "Intra-cluster client/server bind address")
	rootCmd.PersistentFlags().StringToString("shard-peers", nil, "shard_id=rcluster_addr pairs for shards not hosted by this node")

	config.RegisterFlags(startCmd.Flags())
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	rclusterAddr, _ := cmd.Flags().GetString("rcluster-addr")
	shardPeers, _ := cmd.Flags().GetStringToString("shard-peers")

	kvlog.Init(kvlog.Config{Level: kvlog.Level(logLevel), JSONOutput: logJSON})
	logger := kvlog.WithComponent("kvstored")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	cfg.ApplyFlags(cmd.Flags())
	if cfg.NodeID == "" || cfg.ShardID == "" || cfg.BindAddr == "" {
		return fmt.Errorf("--node-id, --shard-id and --bind-addr are required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	isolation, err := txn.ParseIsolation(cfg.IsolationLevel)
	if err != nil {
		return fmt.Errorf("isolation_level: %w", err)
	}

	eng := engine.New(
		engine.WithIsolation(isolation),
		engine.WithLogger(kvlog.WithComponent("engine")),
	)

	evictPolicy := eviction.Policy(cfg.MaxMemoryPolicy)
	evictEngine := eviction.New(eng.InnerStore(), evictPolicy, cfg.MaxMemory, eng.MemoryUsage)
	eng.SetEvictionEngine(evictEngine)

	rdbPath := cfg.DataDir + "/" + cfg.DBFilename
	rdbStore := rdb.New(rdbPath, eng, kvlog.WithComponent("rdb"))
	eng.SetSaveHook(rdbStore.Save)

	var aofLog *aof.Log
	if cfg.AppendOnly {
		aofPath := cfg.DataDir + "/" + cfg.AppendFilename
		eng.SetRecovering(true)
		aofLog, err = aof.Open(aofPath, eng, aof.ParseFsyncPolicy(cfg.AppendFsync), kvlog.WithComponent("aof"),
			aof.WithAutoRewriteThresholds(cfg.AutoAOFRewriteMinSize, float64(cfg.AutoAOFRewritePercentage)))
		if err != nil {
			return fmt.Errorf("aof: open: %w", err)
		}
		if err := aofLog.Load(); err != nil {
			return fmt.Errorf("aof: load: %w", err)
		}
		eng.SetRecovering(false)
		aofLog.StartEverySecFlusher()
		aofLog.StartAutoRewrite()
	} else if err := rdbStore.Load(); err != nil {
		logger.Warn().Err(err).Msg("no existing snapshot to load")
	}
	eng.StartExpiryCleaner(time.Second)

	raftNode := raftnode.New(raftnode.Config{
		ShardID:  cfg.ShardID,
		NodeID:   cfg.NodeID,
		BindAddr: cfg.BindAddr,
		DataDir:  cfg.DataDir + "/raft",
	}, eng, kvlog.WithComponent("raft"))

	if cfg.JoinAddr != "" {
		if err := raftNode.Join(cfg.JoinAddr, rclient.JoinViaClient); err != nil {
			return fmt.Errorf("raft: join %s: %w", cfg.JoinAddr, err)
		}
	} else if err := raftNode.Bootstrap(); err != nil {
		return fmt.Errorf("raft: bootstrap: %w", err)
	}

	bus := eventbus.NewBroker()
	bus.Start()

	metaStore, err := shard.NewMetaStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("shard: metadata store: %w", err)
	}
	if err := metaStore.PutShard(&shard.Info{ID: cfg.ShardID, LeaderAddr: cfg.BindAddr, Status: shard.StatusHealthy}); err != nil {
		return fmt.Errorf("shard: record self: %w", err)
	}

	ring := shard.NewRing(shard.HashMD5, shard.DefaultVirtualNodes)
	ring.AddShard(cfg.ShardID)
	for peerShard := range shardPeers {
		ring.AddShard(peerShard)
	}

	health := shard.NewHealthChecker(metaStore, bus, shard.DefaultHealthConfig(), kvlog.WithComponent("shard-health"))
	health.Start()
	go heartbeatSelf(health, raftNode, cfg.ShardID)

	migrations := shard.NewMigrationManager(metaStore, bus)

	router := shard.NewRouter(ring,
		buildExecutor(raftNode, cfg.ShardID, shardPeers),
		func(shardID string, c types.Command) (types.Reply, error) { return eng.ExecuteOne(c) },
	)

	rclusterLn, err := net.Listen("tcp", rclusterAddr)
	if err != nil {
		return fmt.Errorf("rcluster: listen: %w", err)
	}
	rclusterServer := rclient.NewServer(rclusterLn, func(c types.Command) (types.Reply, error) {
		switch c.Verb {
		case rclient.ClusterAddVoterVerb:
			if len(c.Args) != 2 {
				return types.Reply{}, fmt.Errorf("rcluster: malformed CLUSTER_ADD_VOTER")
			}
			if err := raftNode.AddVoter(string(c.Args[0]), string(c.Args[1])); err != nil {
				return types.ReplyFromError(err), nil
			}
			return types.Simple("OK"), nil
		case migrateShardVerb:
			if len(c.Args) != 4 {
				return types.Reply{}, fmt.Errorf("rcluster: malformed MIGRATE_SHARD")
			}
			migID := uuid.NewString()
			_, err := migrations.Start(migID, string(c.Args[0]), string(c.Args[1]), string(c.Args[2]), string(c.Args[3]))
			if err != nil {
				return types.ReplyFromError(err), nil
			}
			return types.Simple(migID), nil
		default:
			return router.HandleCommand(c)
		}
	}, kvlog.WithComponent("rcluster"))
	go func() {
		if err := rclusterServer.Serve(); err != nil {
			logger.Error().Err(err).Msg("rcluster server stopped")
		}
	}()
	logger.Info().Str("addr", rclusterAddr).Msg("intra-cluster server listening")

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	metricsErrCh := make(chan error, 1)
	go func() {
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			metricsErrCh <- err
		}
	}()
	logger.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-metricsErrCh:
		logger.Error().Err(err).Msg("metrics server error")
	}

	health.Stop()
	bus.Stop()
	_ = rclusterLn.Close()
	if aofLog != nil {
		_ = aofLog.Close()
	}
	eng.Stop()
	if err := raftNode.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("raft shutdown")
	}
	_ = metaStore.Close()
	return nil
}

// buildExecutor returns the shard.Executor that applies a command locally
// when this node holds the target shard's Raft leadership, forwards it to
// a known peer's intra-cluster server otherwise, and surfaces a
// NotLeaderError hint when this node owns the shard but isn't its leader.
func buildExecutor(node *raftnode.Node, ownShard string, peers map[string]string) shard.Executor {
	clients := map[string]*rclient.Client{}
	return func(shardID string, c types.Command) (types.Reply, error) {
		if shardID == ownShard {
			if !node.IsLeader() {
				err := types.NotLeaderError(node.LeaderAddr())
				return types.ReplyFromError(err), err
			}
			reply, err := node.ApplyOne(c)
			return reply, err
		}
		addr, ok := peers[shardID]
		if !ok {
			err := fmt.Errorf("shard: no known peer address for shard %q", shardID)
			return types.ReplyFromError(err), err
		}
		client, ok := clients[shardID]
		if !ok {
			client = rclient.NewClient(addr)
			clients[shardID] = client
		}
		return client.Do(c)
	}
}

func heartbeatSelf(health *shard.HealthChecker, node *raftnode.Node, shardID string) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		if node.IsLeader() {
			_ = health.Heartbeat(shardID)
		}
	}
}

