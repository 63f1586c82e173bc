// Package rdb implements the point-in-time binary snapshot format of
// spec.md §4.6: a save path that walks inner storage under a read-lock
// snapshot, and a load path that replaces (or populates) engine state
// atomically under the write lock.
package rdb

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kvraft/kvraft/internal/engine"
	"github.com/kvraft/kvraft/internal/innerstore"
	"github.com/kvraft/kvraft/internal/item"
	"github.com/rs/zerolog"
)

const (
	magic         = "REDIS0009"
	formatVersion = 9
)

// Store saves and loads the engine's inner storage to/from a single RDB
// file, the way the teacher's FSM snapshot/restore pair persists cluster
// state to a raft.FileSnapshotStore sidecar.
type Store struct {
	path   string
	engine *engine.Engine
	logger zerolog.Logger
}

func New(path string, eng *engine.Engine, logger zerolog.Logger) *Store {
	return &Store{path: path, engine: eng, logger: logger}
}

// Save writes the current non-expired key set to a temp file and renames
// it into place, so a crash mid-write never corrupts the prior snapshot.
func (s *Store) Save() error {
	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("rdb: create temp file: %w", err)
	}

	w := bufio.NewWriter(f)
	if err := s.encode(w); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("rdb: flush: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("rdb: fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rdb: close: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rdb: rename into place: %w", err)
	}

	s.logger.Info().Str("path", s.path).Msg("rdb snapshot saved")
	return nil
}

// encode writes the on-disk format directly from a read-lock snapshot of
// inner storage: magic, version, count, then each non-expired entry.
func (s *Store) encode(w io.Writer) error {
	return EncodeSnapshot(s.engine.InnerStore(), w)
}

// EncodeSnapshot writes store's live (non-expired, non-tombstoned) key set
// in the RDB wire format. Shared by Store.Save and by the Raft FSM's
// snapshot path (internal/raftnode), so log compaction persists state in
// the exact same format a manual SAVE would produce.
func EncodeSnapshot(store *innerstore.Store, w io.Writer) error {
	if _, err := io.WriteString(w, magic); err != nil {
		return err
	}
	if err := writeUint64(w, formatVersion); err != nil {
		return err
	}

	store.RLock()
	defer store.RUnlock()

	type entry struct {
		key string
		env *item.Envelope
	}
	var entries []entry
	now := time.Now().Unix()
	store.Range(func(key string, env *item.Envelope) bool {
		if env.Deleted || env.Discard || env.Expired(now) {
			return true
		}
		entries = append(entries, entry{key: key, env: env})
		return true
	})

	if err := writeUint64(w, uint64(len(entries))); err != nil {
		return err
	}

	for _, e := range entries {
		if err := writeUint64(w, uint64(e.env.Value.Kind())); err != nil {
			return err
		}
		if err := writeBytes(w, []byte(e.key)); err != nil {
			return err
		}
		if e.env.ExpireAt != nil {
			if err := writeUint64(w, 1); err != nil {
				return err
			}
			if err := writeUint64(w, uint64(*e.env.ExpireAt)); err != nil {
				return err
			}
		} else {
			if err := writeUint64(w, 0); err != nil {
				return err
			}
		}
		if err := writeBytes(w, e.env.Value.Serialize()); err != nil {
			return err
		}
	}
	return nil
}

// Load replaces the engine's entire key set from the snapshot file. If
// the file does not exist, Load is a no-op (a fresh server has nothing to
// restore). Every restored key is installed under tx_id=0 so it is
// visible to every future read view.
func (s *Store) Load() error {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("rdb: open: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	data, err := s.decode(r)
	if err != nil {
		return err
	}

	store := s.engine.InnerStore()
	store.Lock()
	defer store.Unlock()
	store.ReplaceLocked(data)

	s.logger.Info().Str("path", s.path).Int("keys", len(data)).Msg("rdb snapshot loaded")
	return nil
}

func (s *Store) decode(r io.Reader) (map[string]*item.Envelope, error) {
	return DecodeSnapshot(r)
}

// DecodeSnapshot reads the RDB wire format produced by EncodeSnapshot,
// reconstructing the key -> envelope map it describes.
func DecodeSnapshot(r io.Reader) (map[string]*item.Envelope, error) {
	magicBuf := make([]byte, len(magic))
	if _, err := io.ReadFull(r, magicBuf); err != nil {
		return nil, fmt.Errorf("rdb: read magic: %w", err)
	}
	if string(magicBuf) != magic {
		return nil, fmt.Errorf("rdb: bad magic %q", magicBuf)
	}

	version, err := readUint64(r)
	if err != nil {
		return nil, fmt.Errorf("rdb: read version: %w", err)
	}
	if version != formatVersion {
		return nil, fmt.Errorf("rdb: unsupported version %d", version)
	}

	count, err := readUint64(r)
	if err != nil {
		return nil, fmt.Errorf("rdb: read count: %w", err)
	}

	data := make(map[string]*item.Envelope, count)
	for i := uint64(0); i < count; i++ {
		kindTag, err := readUint64(r)
		if err != nil {
			return nil, fmt.Errorf("rdb: read type tag: %w", err)
		}
		keyBytes, err := readBytes(r)
		if err != nil {
			return nil, fmt.Errorf("rdb: read key: %w", err)
		}
		hasExpiry, err := readUint64(r)
		if err != nil {
			return nil, fmt.Errorf("rdb: read has-expiry flag: %w", err)
		}
		var expireAt *int64
		if hasExpiry != 0 {
			at, err := readUint64(r)
			if err != nil {
				return nil, fmt.Errorf("rdb: read expiry: %w", err)
			}
			v := int64(at)
			expireAt = &v
		}
		payload, err := readBytes(r)
		if err != nil {
			return nil, fmt.Errorf("rdb: read payload: %w", err)
		}

		val, err := item.Deserialize(item.Kind(kindTag), payload)
		if err != nil {
			return nil, fmt.Errorf("rdb: deserialize key %q: %w", keyBytes, err)
		}

		env := item.NewEnvelope(val, 0)
		env.ExpireAt = expireAt
		data[string(keyBytes)] = env
	}
	return data, nil
}

func writeUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func writeBytes(w io.Writer, b []byte) error {
	if err := writeUint64(w, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	n, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
