package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true)
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Info("development logger ready")
	require.True(t, logger.Core().Enabled(zap.DebugLevel))
	_ = Sync(logger)
}

func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(false)
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Info("production logger ready")
	require.False(t, logger.Core().Enabled(zap.DebugLevel))
	_ = Sync(logger)
}

func TestSyncNop(t *testing.T) {
	t.Parallel()

	require.NoError(t, Sync(zap.NewNop()))
}
