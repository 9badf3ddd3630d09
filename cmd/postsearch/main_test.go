package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "postsearch.json")
	body := `{"storage": {"driver": "memory"}, "embedder": {"provider": "local"}, "log": {"level": "error"}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestCommands(t *testing.T) {
	var names []string
	for _, cmd := range newApp().Commands {
		names = append(names, cmd.Name)
	}
	assert.Equal(t, []string{"serve", "mcp", "sync", "embed", "version"}, names)
}

func TestSyncRequiresTarget(t *testing.T) {
	cfg := memoryConfig(t)

	err := newApp().Run([]string{"postsearch", "--config", cfg, "sync"})
	assert.Error(t, err)

	err = newApp().Run([]string{"postsearch", "--config", cfg, "sync", "--pending", "post-1"})
	assert.Error(t, err)
}

func TestSyncPendingOnEmptyStore(t *testing.T) {
	err := newApp().Run([]string{"postsearch", "--config", memoryConfig(t), "sync", "--pending", "--workers", "2"})
	assert.NoError(t, err)
}

func TestSyncMissingPost(t *testing.T) {
	err := newApp().Run([]string{"postsearch", "--config", memoryConfig(t), "sync", "missing"})
	assert.Error(t, err)
}

func TestBadLogLevel(t *testing.T) {
	err := newApp().Run([]string{"postsearch", "--config", memoryConfig(t), "--log-level", "shout", "sync", "--pending"})
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	assert.NoError(t, newApp().Run([]string{"postsearch", "version"}))
}

func TestEmbedCommand(t *testing.T) {
	cfg := memoryConfig(t)
	assert.NoError(t, newApp().Run([]string{"postsearch", "--config", cfg, "embed", "black", "wallet"}))
	assert.Error(t, newApp().Run([]string{"postsearch", "--config", cfg, "embed"}))
}
