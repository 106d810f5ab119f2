package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: \"7070\"\n"), 0o644))

	var reloaded atomic.Pointer[Config]
	w, err := NewWatcher(path, func(cfg *Config) { reloaded.Store(cfg) })
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: \"7071\"\n"), 0o644))

	require.Eventually(t, func() bool {
		cfg := reloaded.Load()
		return cfg != nil && cfg.Server.Port == "7071"
	}, 5*time.Second, 50*time.Millisecond)
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: \"7070\"\n"), 0o644))

	var count atomic.Int32
	w, err := NewWatcher(path, func(*Config) { count.Add(1) })
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o644))
	time.Sleep(2 * watchDebounceInterval)
	require.Equal(t, int32(0), count.Load())
}

func TestWatcherSkipsBrokenReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: \"7070\"\n"), 0o644))

	var count atomic.Int32
	w, err := NewWatcher(path, func(*Config) { count.Add(1) })
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	// A malformed file is logged and skipped; the callback never fires.
	require.NoError(t, os.WriteFile(path, []byte("server: [broken"), 0o644))
	time.Sleep(2 * watchDebounceInterval)
	require.Equal(t, int32(0), count.Load())

	require.NoError(t, w.Close())
	require.NoError(t, w.Close(), "closing twice is safe")
}
