package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyTracker(t *testing.T) {
	tracker := NewLatencyTracker(0.01)

	for _, op := range []string{"fetch.proxy", "cache.get"} {
		tracker.Record(op, 1*time.Millisecond)
		tracker.Record(op, 5*time.Millisecond)
		tracker.Record(op, 10*time.Millisecond)
		tracker.Record(op, 50*time.Millisecond)
		tracker.Record(op, 100*time.Millisecond)
	}

	stats, err := tracker.GetStats("cache.get")
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.Count)
	assert.InDelta(t, 1.0, stats.Min, 0.1)
	assert.InDelta(t, 100.0, stats.Max, 1.0)
	assert.InDelta(t, 10.0, stats.P50, 5.0)

	all := tracker.AllStats()
	require.Len(t, all, 2)
	assert.Equal(t, "cache.get", all[0].Operation)
	assert.Equal(t, "fetch.proxy", all[1].Operation)
	assert.True(t, strings.HasPrefix(all[0].String(), "cache.get (n=5)"))

	_, err = tracker.GetStats("missing")
	assert.Error(t, err)
}

func TestNilTrackerIgnoresRecords(t *testing.T) {
	var tracker *LatencyTracker
	assert.NotPanics(t, func() {
		tracker.Record("noop", time.Millisecond)
		tracker.Since("noop", time.Now())
	})
}

func TestEmptyStatsString(t *testing.T) {
	assert.Equal(t, "resolve: no data", Stats{Operation: "resolve"}.String())
}
