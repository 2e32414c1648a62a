package stats

import (
	"expvar"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsUpdater(t *testing.T) {
	su := NewStatsUpdater()
	require.NotNil(t, su, "expected StatsUpdater to be non-nil")
	require.NotNil(t, su.updateChan, "expected updateChan to be initialized")
	assert.NotNil(t, su.vars.Get("Uptime"), "expected Uptime to be published")

	su.RegisterMetric(CommandsSent)
	counter, ok := su.vars.Get(CommandsSent).(*expvar.Int)
	require.True(t, ok, "expected registered metric to be an expvar.Int")
	assert.Zero(t, counter.Value(), "expected registered metric to start at zero")

	su.Run()
	defer su.Stop()

	su.Incr(CommandsSent)
	su.Incr(CommandsSent)
	su.Decr(CommandsSent)

	deadline := time.Now().Add(time.Second)
	for counter.Value() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, int64(1), counter.Value(), "expected updates to be applied in order")
}
