package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMaintenanceDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Minute, cfg.RetentionSweepInterval)
	assert.Equal(t, 5*time.Minute, cfg.ProfileFlushInterval)
	assert.Equal(t, 15*time.Minute, cfg.SessionEvictionInterval)
	assert.Equal(t, 2*time.Hour, cfg.SessionIdleTimeout)
}

func TestLoadMaintenanceOverrides(t *testing.T) {
	t.Setenv("SESSION_EVICTION_MINUTES", "45")
	t.Setenv("SESSION_IDLE_MINUTES", "60")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, cfg.SessionEvictionInterval)
	assert.Equal(t, time.Hour, cfg.SessionIdleTimeout)
}

func TestTierForFallsBackToDefault(t *testing.T) {
	tc, known := TierFor("mogul")
	assert.False(t, known)
	assert.Equal(t, DefaultTier, tc.ID)

	tc, known = TierFor("investor")
	assert.True(t, known)
	assert.Equal(t, "investor", tc.ID)
}
