package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kemudi.json")

	cfg := DefaultConfig()
	cfg.Providers.AnthropicAPIKey = "secret"
	require.NoError(t, Save(cfg, path))

	reloaded := make(chan *Config, 1)
	w := NewWatcher(path, zerolog.Nop(), func(next *Config) {
		select {
		case reloaded <- next:
		default:
		}
	})
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	// Let the watcher register before touching the file.
	time.Sleep(50 * time.Millisecond)

	cfg.Agent.Model = "updated-model"
	require.NoError(t, Save(cfg, path))

	select {
	case next := <-reloaded:
		assert.Equal(t, "updated-model", next.Agent.Model)
	case <-time.After(5 * time.Second):
		t.Fatal("config change was not observed")
	}

	cancel()
	<-done
}

func TestWatcher_ReloadSkipsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kemudi.json")

	bad := DefaultConfig()
	bad.Agent.Provider = "gemini"
	bad.Providers.AnthropicAPIKey = "secret"
	require.NoError(t, Save(bad, path))

	called := false
	w := NewWatcher(path, zerolog.Nop(), func(*Config) { called = true })
	w.reload()

	assert.False(t, called)
}

func TestWatcher_ReloadSkipsUnreadableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kemudi.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	called := false
	w := NewWatcher(path, zerolog.Nop(), func(*Config) { called = true })
	w.reload()

	assert.False(t, called)
}
