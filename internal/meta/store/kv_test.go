package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestKV(t *testing.T) *KV {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meta.db")
	kv, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	return kv
}

func TestSetGetDeleteExists(t *testing.T) {
	kv := openTestKV(t)

	ok, err := kv.Exists("/mqtt/user/alice")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, kv.Set("/mqtt/user/alice", []byte("payload")))

	v, ok, err := kv.Get("/mqtt/user/alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("payload"), v)

	require.NoError(t, kv.Delete("/mqtt/user/alice"))
	_, ok, err = kv.Get("/mqtt/user/alice")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetPrefixAndDeletePrefix(t *testing.T) {
	kv := openTestKV(t)

	require.NoError(t, kv.Set("/index/shardA/0/offset/start", []byte("0")))
	require.NoError(t, kv.Set("/index/shardA/0/offset/end", []byte("99")))
	require.NoError(t, kv.Set("/index/shardB/0/offset/start", []byte("0")))

	entries, err := kv.GetPrefix("/index/shardA/")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.NoError(t, kv.DeletePrefix("/index/shardA/"))

	entries, err = kv.GetPrefix("/index/shardA/")
	require.NoError(t, err)
	require.Empty(t, entries)

	entries, err = kv.GetPrefix("/index/shardB/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	kv := openTestKV(t)
	require.NoError(t, kv.Set("/a", []byte("1")))
	require.NoError(t, kv.Set("/b", []byte("2")))

	snap, err := kv.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap, 2)

	require.NoError(t, kv.Delete("/a"))
	require.NoError(t, kv.Restore(snap))

	v, ok, err := kv.Get("/a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)
}
