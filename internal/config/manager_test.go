package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_GetAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8081\n"), 0o600))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m, err := NewManager(path, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	assert.Equal(t, 8081, m.Get().Server.Port)

	var notified atomic.Int32
	m.OnChange(func(cfg *Config) {
		if cfg.Server.Port == 9091 {
			notified.Add(1)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, m.Watch(ctx))

	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9091\n"), 0o600))

	assert.Eventually(t, func() bool {
		return m.Get().Server.Port == 9091 && notified.Load() == 1
	}, 3*time.Second, 50*time.Millisecond)
}

func TestManager_KeepsConfigOnBadReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8082\n"), 0o600))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m, err := NewManager(path, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, m.Watch(ctx))

	// A reload that fails validation leaves the current config in place.
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: -1\n"), 0o600))

	time.Sleep(time.Second)
	assert.Equal(t, 8082, m.Get().Server.Port)

	t.Run("rejects invalid initial config", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(bad, []byte("server:\n  port: -1\n"), 0o600))
		_, err := NewManager(bad, logger)
		assert.Error(t, err)
	})
}
