package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kvstore.conf")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.conf"))
	require.NoError(t, err)
	assert.Equal(t, Default().Port, cfg.Port)
}

func TestLoadParsesAllDirectives(t *testing.T) {
	path := writeConfigFile(t, `
# comment line, ignored

port 6400
maxmemory 104857600
maxmemory-policy allkeys-lru
appendonly yes
appendfilename "appendonly.aof"
appendfsync always
auto-aof-rewrite-percentage 150
auto-aof-rewrite-min-size 1048576
save 60 1000
save 300 10
dbfilename "dump.rdb"
num_sub_reactors 2
num_workers 16
isolation_level snapshot
peer node-2=127.0.0.1:7001
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 6400, cfg.Port)
	assert.Equal(t, int64(104857600), cfg.MaxMemory)
	assert.Equal(t, "allkeys-lru", cfg.MaxMemoryPolicy)
	assert.True(t, cfg.AppendOnly)
	assert.Equal(t, "appendonly.aof", cfg.AppendFilename)
	assert.Equal(t, "always", cfg.AppendFsync)
	assert.Equal(t, 150, cfg.AutoAOFRewritePercentage)
	assert.Equal(t, int64(1048576), cfg.AutoAOFRewriteMinSize)
	// Default() seeds one save interval; the file appends two more.
	assert.Equal(t, []SaveInterval{{900, 1}, {60, 1000}, {300, 10}}, cfg.SaveIntervals)
	assert.Equal(t, "dump.rdb", cfg.DBFilename)
	assert.Equal(t, 2, cfg.NumSubReactors)
	assert.Equal(t, 16, cfg.NumWorkers)
	assert.Equal(t, "snapshot", cfg.IsolationLevel)
	assert.Equal(t, []string{"node-2=127.0.0.1:7001"}, cfg.Peers)
}

func TestLoadRejectsUnknownDirective(t *testing.T) {
	path := writeConfigFile(t, "bogus-key 1\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMalformedValue(t *testing.T) {
	path := writeConfigFile(t, "port not-a-number\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyFlagsOnlyOverridesSetFlags(t *testing.T) {
	cfg := Default()
	cfg.Port = 6400
	cfg.DataDir = "./from-file"

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(flags)
	require.NoError(t, flags.Parse([]string{"--node-id=node-1", "--bind-addr=127.0.0.1:7000"}))

	cfg.ApplyFlags(flags)

	assert.Equal(t, 6400, cfg.Port, "port wasn't passed on the command line, file value should survive")
	assert.Equal(t, "./from-file", cfg.DataDir)
	assert.Equal(t, "node-1", cfg.NodeID)
	assert.Equal(t, "127.0.0.1:7000", cfg.BindAddr)
}
