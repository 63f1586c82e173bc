// Package config loads the line-based `key value` configuration file
// (spec.md §6) and overlays it with command-line flags, producing the
// Config every other subsystem is constructed from.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

// SaveInterval is one `save <seconds> <changes>` RDB auto-save rule.
type SaveInterval struct {
	Seconds int
	Changes int
}

// Config is the full set of tunables parsed from the config file and/or
// overridden by flags. Zero-value fields are filled in by Default.
type Config struct {
	Port int

	MaxMemory               int64
	MaxMemoryPolicy         string
	AppendOnly              bool
	AppendFilename          string
	AppendFsync             string
	AutoAOFRewritePercentage int
	AutoAOFRewriteMinSize   int64
	SaveIntervals           []SaveInterval
	DBFilename              string

	NumSubReactors int
	NumWorkers     int
	IsolationLevel string

	NodeID    string
	ShardID   string
	BindAddr  string
	DataDir   string
	Peers     []string // "nodeID=bindAddr" shard/Raft peers
	JoinAddr  string
}

// Default returns the configuration's built-in defaults, applied before
// the config file and flags are layered on top.
func Default() *Config {
	return &Config{
		Port:                    6380,
		MaxMemory:               0,
		MaxMemoryPolicy:         "noeviction",
		AppendOnly:              false,
		AppendFilename:          "appendonly.aof",
		AppendFsync:             "everysec",
		AutoAOFRewritePercentage: 100,
		AutoAOFRewriteMinSize:   64 * 1024 * 1024,
		SaveIntervals:           []SaveInterval{{Seconds: 900, Changes: 1}},
		DBFilename:              "dump.rdb",
		NumSubReactors:          4,
		NumWorkers:              8,
		IsolationLevel:          "REPEATABLE_READ",
		DataDir:                 "./data",
	}
}

// Load reads path and overlays its key/value lines onto Default(). A
// missing file is not an error — the caller gets defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		key := fields[0]
		args := fields[1:]
		if err := applyDirective(cfg, key, args); err != nil {
			return nil, fmt.Errorf("config: line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return cfg, nil
}

func applyDirective(cfg *Config, key string, args []string) error {
	need := func(n int) error {
		if len(args) < n {
			return fmt.Errorf("%s: expected at least %d argument(s)", key, n)
		}
		return nil
	}
	switch key {
	case "port":
		if err := need(1); err != nil {
			return err
		}
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("port: %w", err)
		}
		cfg.Port = v
	case "maxmemory":
		if err := need(1); err != nil {
			return err
		}
		v, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("maxmemory: %w", err)
		}
		cfg.MaxMemory = v
	case "maxmemory-policy":
		if err := need(1); err != nil {
			return err
		}
		cfg.MaxMemoryPolicy = args[0]
	case "appendonly":
		if err := need(1); err != nil {
			return err
		}
		cfg.AppendOnly = args[0] == "yes" || args[0] == "true"
	case "appendfilename":
		if err := need(1); err != nil {
			return err
		}
		cfg.AppendFilename = strings.Trim(args[0], `"`)
	case "appendfsync":
		if err := need(1); err != nil {
			return err
		}
		cfg.AppendFsync = args[0]
	case "auto-aof-rewrite-percentage":
		if err := need(1); err != nil {
			return err
		}
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("auto-aof-rewrite-percentage: %w", err)
		}
		cfg.AutoAOFRewritePercentage = v
	case "auto-aof-rewrite-min-size":
		if err := need(1); err != nil {
			return err
		}
		v, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("auto-aof-rewrite-min-size: %w", err)
		}
		cfg.AutoAOFRewriteMinSize = v
	case "save":
		if err := need(2); err != nil {
			return err
		}
		seconds, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("save: %w", err)
		}
		changes, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("save: %w", err)
		}
		cfg.SaveIntervals = append(cfg.SaveIntervals, SaveInterval{Seconds: seconds, Changes: changes})
	case "dbfilename":
		if err := need(1); err != nil {
			return err
		}
		cfg.DBFilename = strings.Trim(args[0], `"`)
	case "num_sub_reactors":
		if err := need(1); err != nil {
			return err
		}
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("num_sub_reactors: %w", err)
		}
		cfg.NumSubReactors = v
	case "num_workers":
		if err := need(1); err != nil {
			return err
		}
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("num_workers: %w", err)
		}
		cfg.NumWorkers = v
	case "isolation_level":
		if err := need(1); err != nil {
			return err
		}
		cfg.IsolationLevel = args[0]
	case "peer":
		if err := need(1); err != nil {
			return err
		}
		cfg.Peers = append(cfg.Peers, args[0])
	default:
		return fmt.Errorf("unknown config directive %q", key)
	}
	return nil
}

// RegisterFlags adds the overlay flags onto flags, mirroring the config
// file's keys so the same names work on the command line.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.Int("port", 0, "Listening port (overrides config file)")
	flags.String("node-id", "", "Unique node ID")
	flags.String("shard-id", "", "Shard this node serves")
	flags.String("bind-addr", "", "Raft bind address")
	flags.String("data-dir", "", "Data directory")
	flags.String("join", "", "Existing cluster member address to join")
	flags.Bool("appendonly", false, "Enable append-only durability")
}

// ApplyFlags overlays any flags the caller actually set onto cfg, so an
// unset flag never clobbers a config-file value.
func (c *Config) ApplyFlags(flags *pflag.FlagSet) {
	if flags.Changed("port") {
		v, _ := flags.GetInt("port")
		c.Port = v
	}
	if flags.Changed("node-id") {
		c.NodeID, _ = flags.GetString("node-id")
	}
	if flags.Changed("shard-id") {
		c.ShardID, _ = flags.GetString("shard-id")
	}
	if flags.Changed("bind-addr") {
		c.BindAddr, _ = flags.GetString("bind-addr")
	}
	if flags.Changed("data-dir") {
		c.DataDir, _ = flags.GetString("data-dir")
	}
	if flags.Changed("join") {
		c.JoinAddr, _ = flags.GetString("join")
	}
	if flags.Changed("appendonly") {
		c.AppendOnly, _ = flags.GetBool("appendonly")
	}
}
