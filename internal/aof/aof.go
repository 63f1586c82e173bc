// Package aof implements the append-only command log of spec.md §4.7:
// fsync policies, replay, rewrite/compaction (with the dense-bitmap
// RESTORE_BITMAP path of SPEC_FULL.md §4.7a), and the background
// auto-rewrite trigger.
package aof

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/kvraft/kvraft/internal/engine"
	"github.com/kvraft/kvraft/internal/item"
	"github.com/kvraft/kvraft/internal/types"
	"github.com/kvraft/kvraft/internal/wire"
	"github.com/rs/zerolog"
)

// FsyncPolicy controls how aggressively Append durably flushes to disk.
type FsyncPolicy string

const (
	Always   FsyncPolicy = "always"
	EverySec FsyncPolicy = "everysec"
	Never    FsyncPolicy = "never"
)

func ParseFsyncPolicy(s string) FsyncPolicy {
	switch FsyncPolicy(s) {
	case Always, EverySec:
		return FsyncPolicy(s)
	default:
		return Never
	}
}

const bitmapDenseThreshold = 0.25

// Default auto-rewrite thresholds (spec.md §4.7).
const (
	DefaultMinRewriteSize  int64   = 64 * 1024 * 1024
	DefaultRewritePercent  float64 = 100
	autoRewriteCheckPeriod         = 30 * time.Second
)

// Log is the append-only log bound to one storage engine instance.
type Log struct {
	path   string
	eng    *engine.Engine
	policy FsyncPolicy
	logger zerolog.Logger

	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer

	minRewriteSize int64
	rewritePercent float64
	lastRewriteSize int64

	stopFlusher chan struct{}
	stopRewrite chan struct{}
}

type Option func(*Log)

func WithAutoRewriteThresholds(minSize int64, percent float64) Option {
	return func(l *Log) {
		l.minRewriteSize = minSize
		l.rewritePercent = percent
	}
}

// Open opens (creating if absent) the log file at path in append mode and
// wires its append hook into eng. Open itself never reads the file;
// callers that want existing entries replayed call Load on the returned Log.
func Open(path string, eng *engine.Engine, policy FsyncPolicy, logger zerolog.Logger, opts ...Option) (*Log, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("aof: open: %w", err)
	}

	l := &Log{
		path:           path,
		eng:            eng,
		policy:         policy,
		logger:         logger,
		file:           f,
		writer:         bufio.NewWriter(f),
		minRewriteSize: DefaultMinRewriteSize,
		rewritePercent: DefaultRewritePercent,
	}
	for _, opt := range opts {
		opt(l)
	}

	eng.SetAppendHook(l.Append)
	return l, nil
}

// Append writes one command frame, fsyncing immediately under ALWAYS.
func (l *Log) Append(cmd types.Command) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := wire.WriteFrame(l.writer, wire.MsgCommand, wire.EncodeCommand(cmd)); err != nil {
		l.logger.Error().Err(err).Str("verb", cmd.Verb).Msg("aof append failed")
		return
	}
	if l.policy == Always {
		if err := l.flushAndSyncLocked(); err != nil {
			l.logger.Error().Err(err).Msg("aof fsync failed")
		}
	}
}

func (l *Log) flushAndSyncLocked() error {
	if err := l.writer.Flush(); err != nil {
		return err
	}
	return l.file.Sync()
}

// StartEverySecFlusher launches the dedicated flush thread for the
// EVERYSEC policy; a no-op for other policies.
func (l *Log) StartEverySecFlusher() {
	if l.policy != EverySec {
		return
	}
	l.stopFlusher = make(chan struct{})
	go l.runEverySecFlusher()
}

func (l *Log) runEverySecFlusher() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			if err := l.flushAndSyncLocked(); err != nil {
				l.logger.Error().Err(err).Msg("aof everysec flush failed")
			}
			l.mu.Unlock()
		case <-l.stopFlusher:
			return
		}
	}
}

// Load replays every command in the log through the engine in replay
// mode, then restores normal (AOF-appending) operation.
func (l *Log) Load() error {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("aof: open for replay: %w", err)
	}
	defer f.Close()

	l.eng.SetRecovering(true)
	defer l.eng.SetRecovering(false)

	r := bufio.NewReader(f)
	cs := &engine.ConnState{}
	count := 0
	for {
		_, payload, err := wire.ReadFrame(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("aof: read frame during replay: %w", err)
		}
		cmd, err := wire.DecodeCommand(payload)
		if err != nil {
			return fmt.Errorf("aof: decode command during replay: %w", err)
		}
		if _, err := l.eng.Dispatch(cs, cmd); err != nil {
			l.logger.Warn().Err(err).Str("verb", cmd.Verb).Msg("aof replay command failed, continuing")
		}
		count++
	}

	l.logger.Info().Int("commands", count).Msg("aof replay complete")
	return nil
}

// Close flushes and closes the underlying file, stopping any background
// flush/rewrite goroutines first.
func (l *Log) Close() error {
	if l.stopFlusher != nil {
		close(l.stopFlusher)
	}
	if l.stopRewrite != nil {
		close(l.stopRewrite)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.flushAndSyncLocked(); err != nil {
		return err
	}
	return l.file.Close()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Rewrite re-materializes the log from current engine state: a temp file
// built from a minimal per-key command sequence, atomically renamed over
// the primary log (spec.md §4.7 "Rewrite (compaction)").
func (l *Log) Rewrite() error {
	tmpPath := l.path + ".rewrite"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("aof: create rewrite temp file: %w", err)
	}

	w := bufio.NewWriter(tmp)
	store := l.eng.InnerStore()
	store.RLock()
	now := time.Now().Unix()
	var walkErr error
	store.Range(func(key string, env *item.Envelope) bool {
		if env.Deleted || env.Discard || env.Expired(now) {
			return true
		}
		for _, cmd := range rewriteCommandsFor(key, env) {
			if err := wire.WriteFrame(w, wire.MsgCommand, wire.EncodeCommand(cmd)); err != nil {
				walkErr = err
				return false
			}
		}
		return true
	})
	store.RUnlock()

	if walkErr != nil {
		w.Flush()
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("aof: write rewrite entries: %w", walkErr)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("aof: flush rewrite temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("aof: fsync rewrite temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("aof: close rewrite temp file: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("aof: close active log before rename: %w", err)
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		return fmt.Errorf("aof: rename rewrite file into place: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("aof: reopen log after rewrite: %w", err)
	}
	l.file = f
	l.writer = bufio.NewWriter(f)

	if info, err := os.Stat(l.path); err == nil {
		l.lastRewriteSize = info.Size()
	}

	l.logger.Info().Str("path", l.path).Msg("aof rewrite complete")
	return nil
}

// rewriteCommandsFor emits the minimal command sequence that recreates
// key's current value, per spec.md §4.7 step 2-3.
func rewriteCommandsFor(key string, env *item.Envelope) []types.Command {
	var cmds []types.Command
	switch v := env.Value.(type) {
	case *item.StringValue:
		cmds = append(cmds, types.Command{Verb: "SET", Args: [][]byte{[]byte(key), v.Data}})
	case *item.HashValue:
		for _, f := range v.Keys() {
			val, _ := v.Get(f)
			cmds = append(cmds, types.Command{Verb: "HSET", Args: [][]byte{[]byte(key), []byte(f), val}})
		}
	case *item.ListValue:
		elems := v.Range(0, -1)
		if len(elems) > 0 {
			args := append([][]byte{[]byte(key)}, elems...)
			cmds = append(cmds, types.Command{Verb: "RPUSH", Args: args})
		}
	case *item.SetValue:
		members := v.ToSlice()
		if len(members) > 0 {
			args := append([][]byte{[]byte(key)}, members...)
			cmds = append(cmds, types.Command{Verb: "SADD", Args: args})
		}
	case *item.ZSetValue:
		for _, m := range v.Range(0, -1) {
			cmds = append(cmds, types.Command{
				Verb: "ZADD",
				Args: [][]byte{[]byte(key), []byte(formatFloat(m.Score)), []byte(m.Member)},
			})
		}
	case *item.BitmapValue:
		cmds = append(cmds, rewriteBitmapCommands(key, v)...)
	case *item.HLLValue:
		cmds = append(cmds, types.Command{Verb: "RESTORE_HLL", Args: [][]byte{[]byte(key), v.Serialize()}})
	}

	if env.ExpireAt != nil {
		remaining := *env.ExpireAt - time.Now().Unix()
		if remaining < 0 {
			remaining = 0
		}
		cmds = append(cmds, types.Command{
			Verb: "EXPIRE",
			Args: [][]byte{[]byte(key), []byte(strconv.FormatInt(remaining, 10))},
		})
	}
	return cmds
}

// rewriteBitmapCommands picks the dense RESTORE_BITMAP path when set bits
// make up at least 25% of the bitmap's bit length, else one SETBIT per set bit
// (SPEC_FULL.md §4.7a).
func rewriteBitmapCommands(key string, v *item.BitmapValue) []types.Command {
	bitLen := len(v.Data) * 8
	if bitLen == 0 {
		return nil
	}

	density := float64(v.Popcount()) / float64(bitLen)
	if density >= bitmapDenseThreshold {
		return []types.Command{{Verb: "RESTORE_BITMAP", Args: [][]byte{[]byte(key), v.Serialize()}}}
	}

	var cmds []types.Command
	for byteIdx, b := range v.Data {
		for bit := 0; bit < 8; bit++ {
			if b&(1<<uint(7-bit)) == 0 {
				continue
			}
			pos := byteIdx*8 + bit
			cmds = append(cmds, types.Command{
				Verb: "SETBIT",
				Args: [][]byte{[]byte(key), []byte(strconv.Itoa(pos)), []byte("1")},
			})
		}
	}
	return cmds
}

// StartAutoRewrite launches the background thread that wakes every 30s
// and rewrites when size and growth thresholds are both exceeded (spec.md
// §4.7 "Auto-rewrite trigger"). The first rewrite seeds last_rewrite_size.
func (l *Log) StartAutoRewrite() {
	l.stopRewrite = make(chan struct{})
	go l.runAutoRewrite()
}

func (l *Log) runAutoRewrite() {
	ticker := time.NewTicker(autoRewriteCheckPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.maybeRewrite()
		case <-l.stopRewrite:
			return
		}
	}
}

func (l *Log) maybeRewrite() {
	info, err := os.Stat(l.path)
	if err != nil {
		return
	}
	size := info.Size()

	l.mu.Lock()
	last := l.lastRewriteSize
	l.mu.Unlock()

	if last == 0 {
		l.mu.Lock()
		l.lastRewriteSize = size
		l.mu.Unlock()
		return
	}

	if size < l.minRewriteSize {
		return
	}
	growthPct := float64(size-last) / float64(last) * 100
	if growthPct < l.rewritePercent {
		return
	}

	if err := l.Rewrite(); err != nil {
		l.logger.Error().Err(err).Msg("aof auto-rewrite failed")
	}
}
