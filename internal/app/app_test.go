package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/CMoncur/proto-scrape/internal/config"
	"github.com/CMoncur/proto-scrape/internal/site"
	"github.com/CMoncur/proto-scrape/internal/storage/memory"
)

func defaultConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestNewInMemory(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Archive.Provider = "memory"
	cfg.Publish.Provider = "memory"

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	assert.IsType(t, &memory.Recorder{}, a.Recorder)
	assert.NotNil(t, a.Harvester)
	assert.NotNil(t, a.Runner)
	assert.Equal(t, []string{"icodrops", "smithandcrown"}, a.Registry.Names())
}

func TestNewLocalArchive(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Archive.Provider = "local"
	cfg.Archive.Dir = t.TempDir()
	cfg.Lock.Provider = "none"

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, a.Close())
}

func TestNewRejectsBadPostgresDSN(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Store.Provider = "postgres"
	cfg.Store.DSN = "not a dsn"

	_, err := New(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "postgres")
}

func TestNewUnknownProviders(t *testing.T) {
	tests := map[string]func(*config.Config){
		"store":   func(c *config.Config) { c.Store.Provider = "sqlite" },
		"archive": func(c *config.Config) { c.Archive.Provider = "s3" },
		"publish": func(c *config.Config) { c.Publish.Provider = "kafka" },
		"lock":    func(c *config.Config) { c.Lock.Provider = "etcd" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := defaultConfig(t)
			mutate(&cfg)
			_, err := New(context.Background(), cfg, nil)
			require.ErrorContains(t, err, "unknown "+name+" provider")
		})
	}
}

func TestAdapters(t *testing.T) {
	cfg := defaultConfig(t)
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	all, err := a.Adapters(nil)
	require.NoError(t, err)
	require.Len(t, all, 2)

	a.Config.Adapters.Enabled = []string{"smithandcrown"}
	enabled, err := a.Adapters(nil)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "smithandcrown", enabled[0].Name())

	named, err := a.Adapters([]string{"icodrops"})
	require.NoError(t, err)
	assert.Equal(t, "icodrops", named[0].Name())

	_, err = a.Adapters([]string{"coinlist"})
	require.ErrorIs(t, err, site.ErrUnknownAdapter)

	assert.Len(t, a.Dispatcher(all).Adapters(), 2)
	require.NoError(t, a.PushMetrics(context.Background()), "no pushgateway configured")
}
