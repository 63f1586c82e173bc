package shard

import (
	"time"

	"github.com/kvraft/kvraft/internal/eventbus"
	"github.com/rs/zerolog"
)

// HealthConfig configures the background heartbeat/failover loop
// (spec.md §4.9: "heartbeats each shard every heartbeat_interval; a shard
// whose last-heartbeat lag exceeds failover_timeout moves to FAILED").
type HealthConfig struct {
	HeartbeatInterval time.Duration
	FailoverTimeout   time.Duration
}

// DefaultHealthConfig mirrors the cadence spec.md's Raft timing section
// uses for the shard health-check background thread.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		HeartbeatInterval: time.Second,
		FailoverTimeout:   5 * time.Second,
	}
}

// HealthChecker periodically compares each shard's recorded heartbeat
// against FailoverTimeout and flips a lagging shard to StatusFailed,
// publishing a ShardFailed event for operators and metrics to observe.
type HealthChecker struct {
	meta   *MetaStore
	bus    *eventbus.Broker
	cfg    HealthConfig
	logger zerolog.Logger

	stop chan struct{}
	done chan struct{}
}

func NewHealthChecker(meta *MetaStore, bus *eventbus.Broker, cfg HealthConfig, logger zerolog.Logger) *HealthChecker {
	return &HealthChecker{
		meta:   meta,
		bus:    bus,
		cfg:    cfg,
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Heartbeat records that shardID's Raft group is alive as of now.
func (h *HealthChecker) Heartbeat(shardID string) error {
	return h.meta.PutHeartbeat(shardID, time.Now())
}

// Start launches the background check loop.
func (h *HealthChecker) Start() { go h.run() }

// Stop halts the loop and waits for it to exit.
func (h *HealthChecker) Stop() {
	close(h.stop)
	<-h.done
}

func (h *HealthChecker) run() {
	defer close(h.done)
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.checkAll()
		case <-h.stop:
			return
		}
	}
}

func (h *HealthChecker) checkAll() {
	shards, err := h.meta.ListShards()
	if err != nil {
		h.logger.Error().Err(err).Msg("shard: list shards for health check")
		return
	}
	now := time.Now()
	for _, info := range shards {
		if info.Status == StatusFailed {
			continue
		}
		last, err := h.meta.GetHeartbeat(info.ID)
		if err != nil {
			h.logger.Error().Err(err).Str("shard", info.ID).Msg("shard: read heartbeat")
			continue
		}
		if last.IsZero() || now.Sub(last) <= h.cfg.FailoverTimeout {
			continue
		}
		info.Status = StatusFailed
		if err := h.meta.PutShard(info); err != nil {
			h.logger.Error().Err(err).Str("shard", info.ID).Msg("shard: persist failed status")
			continue
		}
		h.logger.Warn().Str("shard", info.ID).Dur("lag", now.Sub(last)).Msg("shard: heartbeat lag exceeded failover timeout")
		h.bus.Publish(&eventbus.Event{
			Type:    eventbus.ShardFailed,
			ShardID: info.ID,
			Message: "heartbeat lag exceeded failover_timeout",
		})
	}
}
