package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, path, content string, modTime time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	if !modTime.IsZero() {
		require.NoError(t, os.Chtimes(path, modTime, modTime))
	}
}

func TestReloaderInitialLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "memflow.yaml")
	writeConfigFile(t, path, "store:\n  backend: redis\n", time.Time{})

	r := NewReloader(path, WithPollInterval(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	require.NotNil(t, r.Current())
	assert.Equal(t, "redis", r.Current().Store.Backend)
}

func TestReloaderRejectsInvalidInitialConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "memflow.yaml")
	writeConfigFile(t, path, "store:\n  backend: filesystem\n", time.Time{})

	r := NewReloader(path, WithPollInterval(10*time.Millisecond))
	err := r.Start(context.Background())
	require.Error(t, err)
}

func TestReloaderAppliesChange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "memflow.yaml")
	writeConfigFile(t, path, "entity:\n  max_entities_per_thread: 100\n", time.Time{})

	r := NewReloader(path, WithPollInterval(10*time.Millisecond))

	reloaded := make(chan *Config, 1)
	r.OnReload(func(old, next *Config) {
		assert.Equal(t, 100, old.Entity.MaxEntitiesPerThread)
		reloaded <- next
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	// Push the mod time well past the recorded one; coarse filesystem
	// timestamps must not mask the change.
	writeConfigFile(t, path,
		"entity:\n  max_entities_per_thread: 42\n",
		time.Now().Add(5*time.Second))

	select {
	case next := <-reloaded:
		assert.Equal(t, 42, next.Entity.MaxEntitiesPerThread)
	case <-time.After(3 * time.Second):
		t.Fatal("reload callback never fired")
	}

	assert.Equal(t, 42, r.Current().Entity.MaxEntitiesPerThread)
}

func TestReloaderKeepsPreviousConfigOnBadChange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "memflow.yaml")
	writeConfigFile(t, path, "store:\n  backend: redis\n", time.Time{})

	r := NewReloader(path, WithPollInterval(10*time.Millisecond))

	fired := make(chan struct{}, 1)
	r.OnReload(func(old, next *Config) { fired <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	// Fails validation, so the swap must not happen.
	writeConfigFile(t, path,
		"store:\n  backend: filesystem\n",
		time.Now().Add(5*time.Second))

	select {
	case <-fired:
		t.Fatal("reload callback fired for an invalid config")
	case <-time.After(300 * time.Millisecond):
	}

	assert.Equal(t, "redis", r.Current().Store.Backend)
}

func TestReloaderStartTwiceFails(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "memflow.yaml")
	writeConfigFile(t, path, "store:\n  backend: memory\n", time.Time{})

	r := NewReloader(path, WithPollInterval(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	require.Error(t, r.Start(ctx))
}

func TestReloaderStopIsIdempotent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "memflow.yaml")
	writeConfigFile(t, path, "store:\n  backend: memory\n", time.Time{})

	r := NewReloader(path, WithPollInterval(10*time.Millisecond))
	require.NoError(t, r.Start(context.Background()))

	r.Stop()
	r.Stop()
}
