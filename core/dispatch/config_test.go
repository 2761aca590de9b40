package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, 7*24*time.Hour, c.DispatchWindow())
	assert.Equal(t, 30*time.Minute, c.DefaultExpiry())
	assert.Equal(t, 3, c.MaxAttempts)
	assert.Equal(t, 3, c.TxRetries)
	assert.Equal(t, 30*time.Second, c.SweepInterval())
	assert.Equal(t, 100, c.SweepPageSize)
	assert.Equal(t, 10, c.SweepMaxPages)
	assert.Equal(t, 10*time.Second, c.NotifyTimeout())
	require.NoError(t, c.Validate())
}

func TestConfigNegativeRetriesDisablesRetry(t *testing.T) {
	c := Config{TxRetries: -1}
	c.SetDefaults()
	assert.Equal(t, 0, c.TxRetries)
}

func TestConfigValidateLadder(t *testing.T) {
	c := DefaultConfig()
	c.Ladder = []LadderStep{{Attempt: 2, Tier: TierAvailable}, {Attempt: 1, Tier: TierReachable}}
	assert.Error(t, c.Validate())
}
