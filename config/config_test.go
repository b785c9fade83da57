package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	conf, err := Load(afero.NewMemMapFs(), DefaultFile)
	require.NoError(t, err)
	if diff := cmp.Diff(Default(), conf); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, 1200*time.Millisecond, conf.Broadcast.Interval)
	require.Equal(t, ":55553", conf.Addr)
}

func TestFileAndEnv(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/ss.json", []byte(`{
		"addr": ":6000",
		"idle_timeout": "30s",
		"rpc_addr": ":6001",
		"log_pool": true,
		"broadcast": {
			"interval": "2s",
			"ttl": 4
		}
	}`), 0644))

	t.Setenv("STUDENTSYNC_RPC_ADDR", ":7001")
	t.Setenv("STUDENTSYNC_BROADCAST_PORT", "31000")

	conf, err := Load(fs, "/etc/ss.json")
	require.NoError(t, err)

	want := Default()
	want.Addr = ":6000"
	want.IdleTimeout = 30 * time.Second
	want.RPCAddr = ":7001"
	want.LogPool = true
	want.Broadcast.Interval = 2 * time.Second
	want.Broadcast.TTL = 4
	want.Broadcast.Port = 31000
	if diff := cmp.Diff(want, conf); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadErrors(t *testing.T) {
	fs := afero.NewMemMapFs()

	_, err := Load(fs, "/nonexistent.json")
	require.Error(t, err)

	require.NoError(t, afero.WriteFile(fs, "/typo.json", []byte(`{"adr": ":1"}`), 0644))
	_, err = Load(fs, "/typo.json")
	require.Error(t, err, "unknown keys should be rejected")

	require.NoError(t, afero.WriteFile(fs, "/bad.json", []byte(`{"knowledge_size": 0}`), 0644))
	_, err = Load(fs, "/bad.json")
	require.Error(t, err)
}

func TestPoolConfig(t *testing.T) {
	conf := Default()
	require.Equal(t, map[string]interface{}{"type": "mem", "knowledge_size": 4096}, conf.PoolConfig())

	conf.LogPool = true
	conf.KnowledgeSize = 10
	want := map[string]interface{}{
		"type": "logging",
		"nested": map[string]interface{}{
			"type":           "mem",
			"knowledge_size": 10,
		},
	}
	require.Equal(t, want, conf.PoolConfig())
}
