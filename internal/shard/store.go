package shard

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketShards     = []byte("shards")
	bucketMigrations = []byte("migrations")
	bucketHeartbeats = []byte("heartbeats")
)

// Status is a shard's lifecycle state as tracked by the metadata store,
// distinct from (and coarser than) its Raft group's own leader/follower
// state.
type Status string

const (
	StatusHealthy   Status = "HEALTHY"
	StatusMigrating Status = "MIGRATING"
	StatusFailed    Status = "FAILED"
)

// Info is one shard's durable routing record.
type Info struct {
	ID         string    `json:"id"`
	LeaderAddr string    `json:"leader_addr"`
	Status     Status    `json:"status"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// MigrationStatus is a migration's lifecycle state.
type MigrationStatus string

const (
	MigrationPending    MigrationStatus = "PENDING"
	MigrationInProgress MigrationStatus = "IN_PROGRESS"
	MigrationCompleted  MigrationStatus = "COMPLETED"
)

// Migration is the durable record of one shard-to-shard key migration,
// covering spec.md §4.9's start/end key bounds and 0..100 progress.
type Migration struct {
	ID          string          `json:"id"`
	SourceShard string          `json:"source_shard"`
	DestShard   string          `json:"dest_shard"`
	StartKey    string          `json:"start_key"`
	EndKey      string          `json:"end_key"`
	Status      MigrationStatus `json:"status"`
	Progress    int             `json:"progress"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// MetaStore is the bbolt-backed durable record of shard assignments,
// migration checkpoints and peer heartbeats (SPEC_FULL.md §4.11),
// independent of each shard's own Raft-replicated KV data plane.
type MetaStore struct {
	db *bolt.DB
}

// NewMetaStore opens (creating if absent) the shard metadata database
// under dataDir.
func NewMetaStore(dataDir string) (*MetaStore, error) {
	dbPath := filepath.Join(dataDir, "shard-meta.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("shard: open metadata db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketShards, bucketMigrations, bucketHeartbeats} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &MetaStore{db: db}, nil
}

// Close releases the underlying database file.
func (s *MetaStore) Close() error { return s.db.Close() }

// PutShard upserts a shard's routing record.
func (s *MetaStore) PutShard(info *Info) error {
	info.UpdatedAt = time.Now()
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(info)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketShards).Put([]byte(info.ID), data)
	})
}

// GetShard looks up a shard's routing record.
func (s *MetaStore) GetShard(id string) (*Info, error) {
	var info Info
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketShards).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("shard: no metadata for %q", id)
		}
		return json.Unmarshal(data, &info)
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// ListShards returns every shard's routing record.
func (s *MetaStore) ListShards() ([]*Info, error) {
	var infos []*Info
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketShards).ForEach(func(k, v []byte) error {
			var info Info
			if err := json.Unmarshal(v, &info); err != nil {
				return err
			}
			infos = append(infos, &info)
			return nil
		})
	})
	return infos, err
}

// DeleteShard removes a shard's routing record.
func (s *MetaStore) DeleteShard(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketShards).Delete([]byte(id))
	})
}

// PutMigration upserts a migration record.
func (s *MetaStore) PutMigration(m *Migration) error {
	m.UpdatedAt = time.Now()
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMigrations).Put([]byte(m.ID), data)
	})
}

// GetMigration looks up a migration record.
func (s *MetaStore) GetMigration(id string) (*Migration, error) {
	var m Migration
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMigrations).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("shard: no migration record for %q", id)
		}
		return json.Unmarshal(data, &m)
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMigrations returns every migration record.
func (s *MetaStore) ListMigrations() ([]*Migration, error) {
	var ms []*Migration
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMigrations).ForEach(func(k, v []byte) error {
			var m Migration
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			ms = append(ms, &m)
			return nil
		})
	})
	return ms, err
}

// PutHeartbeat records the most recent heartbeat timestamp observed for a
// shard.
func (s *MetaStore) PutHeartbeat(shardID string, ts time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := ts.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketHeartbeats).Put([]byte(shardID), data)
	})
}

// GetHeartbeat returns the last recorded heartbeat for a shard, or the
// zero time if none has been recorded.
func (s *MetaStore) GetHeartbeat(shardID string) (time.Time, error) {
	var ts time.Time
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketHeartbeats).Get([]byte(shardID))
		if data == nil {
			return nil
		}
		return ts.UnmarshalBinary(data)
	})
	return ts, err
}
