package shard

import (
	"fmt"
	"io"

	"github.com/kvraft/kvraft/internal/eventbus"
	"github.com/kvraft/kvraft/internal/wire"
)

// MigrationManager tracks a source-shard-to-destination-shard key move
// (spec.md §4.9): Start marks the source MIGRATING, and SendBatch writes
// caller-supplied key batches to the destination in the wire frame format
// while recording progress. SendBatch does not wait for an acknowledgement
// from the destination, and neither method changes the ring's routing.
type MigrationManager struct {
	meta *MetaStore
	bus  *eventbus.Broker
}

func NewMigrationManager(meta *MetaStore, bus *eventbus.Broker) *MigrationManager {
	return &MigrationManager{meta: meta, bus: bus}
}

// Start records a new migration and flips the source shard to MIGRATING.
func (m *MigrationManager) Start(id, sourceShard, destShard, startKey, endKey string) (*Migration, error) {
	mig := &Migration{
		ID:          id,
		SourceShard: sourceShard,
		DestShard:   destShard,
		StartKey:    startKey,
		EndKey:      endKey,
		Status:      MigrationInProgress,
		Progress:    0,
	}
	if err := m.meta.PutMigration(mig); err != nil {
		return nil, fmt.Errorf("shard: record migration: %w", err)
	}
	src, err := m.meta.GetShard(sourceShard)
	if err != nil {
		src = &Info{ID: sourceShard}
	}
	src.Status = StatusMigrating
	if err := m.meta.PutShard(src); err != nil {
		return nil, fmt.Errorf("shard: mark source migrating: %w", err)
	}
	m.bus.Publish(&eventbus.Event{
		Type:    eventbus.ShardMigrating,
		ShardID: sourceShard,
		Message: fmt.Sprintf("migrating [%s, %s] to %s", startKey, endKey, destShard),
	})
	return mig, nil
}

// Batch is one chunk of a migration's key stream.
type Batch struct {
	Keys    []string
	Values  [][]byte
	Done    bool // true on the final batch of the migration
	Sent    int  // cumulative keys sent including this batch
	Total   int  // total keys the migration will move
}

// EncodeBatch renders a Batch as a MsgMigrationBatch frame payload, reusing
// internal/wire's element framing so the destination decodes it with the
// same primitives as any other wire frame.
func EncodeBatch(b Batch) []byte {
	buf := wire.AppendUint32(nil, uint32(len(b.Keys)))
	for i, k := range b.Keys {
		buf = wire.AppendElement(buf, []byte(k))
		buf = wire.AppendElement(buf, b.Values[i])
	}
	done := byte(0)
	if b.Done {
		done = 1
	}
	buf = append(buf, done)
	buf = wire.AppendUint32(buf, uint32(b.Sent))
	buf = wire.AppendUint32(buf, uint32(b.Total))
	return buf
}

// DecodeBatch parses a payload produced by EncodeBatch.
func DecodeBatch(data []byte) (Batch, error) {
	if len(data) < 4 {
		return Batch{}, fmt.Errorf("shard: short migration batch")
	}
	n := int(data[0])<<24 | int(data[1])<<16 | int(data[2])<<8 | int(data[3])
	data = data[4:]
	b := Batch{Keys: make([]string, 0, n), Values: make([][]byte, 0, n)}
	for i := 0; i < n; i++ {
		key, rest, err := wire.ReadElement(data)
		if err != nil {
			return Batch{}, err
		}
		data = rest
		val, rest, err := wire.ReadElement(data)
		if err != nil {
			return Batch{}, err
		}
		data = rest
		b.Keys = append(b.Keys, string(key))
		b.Values = append(b.Values, val)
	}
	if len(data) < 9 {
		return Batch{}, fmt.Errorf("shard: short migration batch trailer")
	}
	b.Done = data[0] == 1
	b.Sent = int(data[1])<<24 | int(data[2])<<16 | int(data[3])<<8 | int(data[4])
	b.Total = int(data[5])<<24 | int(data[6])<<16 | int(data[7])<<8 | int(data[8])
	return b, nil
}

// SendBatch writes one batch to w as a MsgMigrationBatch frame, updates
// the migration's recorded progress, and publishes a progress event. On
// the final batch it also marks the migration COMPLETED, restores the
// source shard to HEALTHY, and publishes ShardMigrationCompleted.
func (m *MigrationManager) SendBatch(w io.Writer, migID string, b Batch) error {
	if err := wire.WriteFrame(w, wire.MsgMigrationBatch, EncodeBatch(b)); err != nil {
		return fmt.Errorf("shard: write migration batch: %w", err)
	}

	mig, err := m.meta.GetMigration(migID)
	if err != nil {
		return err
	}
	progress := 100
	if b.Total > 0 {
		progress = (b.Sent * 100) / b.Total
	}
	mig.Progress = progress
	if b.Done {
		mig.Status = MigrationCompleted
		mig.Progress = 100
	}
	if err := m.meta.PutMigration(mig); err != nil {
		return fmt.Errorf("shard: persist migration progress: %w", err)
	}

	if b.Done {
		src, err := m.meta.GetShard(mig.SourceShard)
		if err != nil {
			src = &Info{ID: mig.SourceShard}
		}
		src.Status = StatusHealthy
		if err := m.meta.PutShard(src); err != nil {
			return fmt.Errorf("shard: restore source status: %w", err)
		}
		m.bus.Publish(&eventbus.Event{
			Type:    eventbus.ShardMigrationCompleted,
			ShardID: mig.SourceShard,
			Message: fmt.Sprintf("migration %s to %s complete", migID, mig.DestShard),
		})
		return nil
	}

	m.bus.Publish(&eventbus.Event{
		Type:    eventbus.ShardMigrationProgress,
		ShardID: mig.SourceShard,
		Message: fmt.Sprintf("migration %s: %d%%", migID, mig.Progress),
	})
	return nil
}

// ReceiveBatch reads one migration batch frame from r.
func ReceiveBatch(r io.Reader) (Batch, error) {
	typ, payload, err := wire.ReadFrame(r)
	if err != nil {
		return Batch{}, err
	}
	if typ != wire.MsgMigrationBatch {
		return Batch{}, fmt.Errorf("shard: unexpected frame type %d for migration batch", typ)
	}
	return DecodeBatch(payload)
}
