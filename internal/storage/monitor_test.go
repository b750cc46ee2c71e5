package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSweep(t *testing.T) {
	t.Run("leaves the directory alone under the ceiling", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "a_signed.pdf")
		require.NoError(t, os.WriteFile(path, make([]byte, 64), 0o644))

		m, err := NewMonitor(&Config{Dir: dir, MaxBytes: 1024, Interval: time.Second})
		require.NoError(t, err)

		m.Sweep()
		require.FileExists(t, path)
	})

	t.Run("empties the directory over the ceiling", func(t *testing.T) {
		dir := t.TempDir()
		for _, name := range []string{"a_signed.pdf", "b_signed.pdf"} {
			require.NoError(t, os.WriteFile(filepath.Join(dir, name), make([]byte, 600), 0o644))
		}

		m, err := NewMonitor(&Config{Dir: dir, MaxBytes: 1024, Interval: time.Second})
		require.NoError(t, err)

		m.Sweep()

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Empty(t, entries)
	})
}

func TestMonitorLifecycle(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_signed.pdf"), make([]byte, 600), 0o644))

	m, err := NewMonitor(&Config{Dir: dir, MaxBytes: 100, Interval: 10 * time.Millisecond})
	require.NoError(t, err)

	ctx := t.Context()
	m.Start(ctx)

	require.Eventually(t, func() bool {
		entries, err := os.ReadDir(dir)
		return err == nil && len(entries) == 0
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, m.Stop(ctx))
}
