package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseFileOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "robustmq.toml")
	contents := `
cluster_name = "test-cluster"
broker_id = 7

[mqtt_flapping_detect]
max_client_connections = 42
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := ParseFile(path)
	require.NoError(t, err)
	require.Equal(t, "test-cluster", cfg.ClusterName)
	require.Equal(t, uint64(7), cfg.BrokerID)
	require.Equal(t, uint64(42), cfg.MQTTFlappingDetect.MaxClientConnections)
	// untouched keys keep their Default() value
	require.Equal(t, "local", cfg.Journal.Backend)
}

func TestSnapshotReplaceIsVisibleToNewLoad(t *testing.T) {
	snap := NewSnapshot(Default())
	require.Equal(t, "robustmq-default", snap.Load().ClusterName)

	next := Default()
	next.ClusterName = "swapped"
	snap.Replace(next)

	require.Equal(t, "swapped", snap.Load().ClusterName)
}
