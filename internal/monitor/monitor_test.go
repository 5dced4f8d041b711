package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seolha-lab/lexcache/internal/cache"
	"github.com/seolha-lab/lexcache/internal/retry"
	"github.com/seolha-lab/lexcache/internal/warmup"
)

type fakeSources struct {
	cacheStats  cache.Stats
	warmupStats warmup.Stats
	retryStats  retry.QueueStats
}

func (f *fakeSources) cacheSource() cache.Stats      { return f.cacheStats }
func (f *fakeSources) warmupSource() warmup.Stats    { return f.warmupStats }
func (f *fakeSources) retrySource() retry.QueueStats { return f.retryStats }

type cacheFn func() cache.Stats

func (fn cacheFn) Stats() cache.Stats { return fn() }

type warmupFn func() warmup.Stats

func (fn warmupFn) Stats() warmup.Stats { return fn() }

type retryFn func() retry.QueueStats

func (fn retryFn) Stats() retry.QueueStats { return fn() }

func newTestMonitor(t *testing.T, src *fakeSources) *Monitor {
	t.Helper()
	m := NewMonitor(MonitorConfig{
		Cache:  cacheFn(src.cacheSource),
		Warmup: warmupFn(src.warmupSource),
		Retry:  retryFn(src.retrySource),
	})
	t.Cleanup(m.Stop)
	return m
}

func healthySources() *fakeSources {
	return &fakeSources{
		cacheStats: cache.Stats{Hits: 80, Misses: 20, HitRate: 0.8},
	}
}

func TestMonitor_HealthyScore(t *testing.T) {
	m := newTestMonitor(t, healthySources())

	snap := m.EvaluateOnce()
	assert.Equal(t, 100, snap.Health)
	assert.Equal(t, 0, snap.ActiveAlerts)
	assert.Empty(t, m.Alerts(false))
}

func TestMonitor_LowHitRateAlert(t *testing.T) {
	src := healthySources()
	src.cacheStats = cache.Stats{Hits: 5, Misses: 95, HitRate: 0.05}
	m := newTestMonitor(t, src)

	snap := m.EvaluateOnce()
	assert.Less(t, snap.Health, 100)
	require.Len(t, m.Alerts(false), 1)
	alert := m.Alerts(false)[0]
	assert.Equal(t, AlertLowHitRate, alert.Kind)
	assert.Equal(t, SeverityWarning, alert.Severity)

	// A second evaluation sustains the alert instead of duplicating it.
	m.EvaluateOnce()
	assert.Len(t, m.Alerts(false), 1)

	// Once the hit rate recovers the alert resolves itself.
	src.cacheStats = cache.Stats{Hits: 80, Misses: 20, HitRate: 0.8}
	m.EvaluateOnce()
	assert.Empty(t, m.Alerts(false))
	resolved := m.Alerts(true)
	require.Len(t, resolved, 1)
	assert.True(t, resolved[0].Resolved)
}

func TestMonitor_HitRateNeedsSampleSize(t *testing.T) {
	src := healthySources()
	// Terrible hit rate but only a handful of lookups.
	src.cacheStats = cache.Stats{Hits: 1, Misses: 9, HitRate: 0.1}
	m := newTestMonitor(t, src)

	snap := m.EvaluateOnce()
	assert.Equal(t, 100, snap.Health, "cold caches are not penalized")
	assert.Empty(t, m.Alerts(false))
}

func TestMonitor_WarmupFailureAlert(t *testing.T) {
	src := healthySources()
	src.warmupStats = warmup.Stats{Failed: 11}
	m := newTestMonitor(t, src)

	snap := m.EvaluateOnce()
	assert.Less(t, snap.Health, 100)
	require.Len(t, m.Alerts(false), 1)
	assert.Equal(t, AlertWarmupFailures, m.Alerts(false)[0].Kind)
}

func TestMonitor_RetryBacklogAlert(t *testing.T) {
	src := healthySources()
	src.retryStats = retry.QueueStats{Pending: 150}
	m := newTestMonitor(t, src)

	snap := m.EvaluateOnce()
	require.Len(t, m.Alerts(false), 1)
	alert := m.Alerts(false)[0]
	assert.Equal(t, AlertRetryBacklog, alert.Kind)
	assert.Equal(t, SeverityCritical, alert.Severity)
	assert.Equal(t, 70, snap.Health)

	// Backlog alerts stay open until an operator resolves them.
	src.retryStats = retry.QueueStats{}
	m.EvaluateOnce()
	require.Len(t, m.Alerts(false), 1)
	assert.True(t, m.ResolveAlert(alert.ID))
	assert.False(t, m.ResolveAlert(alert.ID), "resolving twice is a no-op")
	assert.Empty(t, m.Alerts(false))
}

func TestMonitor_ScoreFloor(t *testing.T) {
	src := &fakeSources{
		cacheStats:  cache.Stats{Hits: 0, Misses: 100, HitRate: 0},
		warmupStats: warmup.Stats{Failed: 50},
		retryStats:  retry.QueueStats{Pending: 500},
	}
	m := newTestMonitor(t, src)

	snap := m.EvaluateOnce()
	assert.Equal(t, 0, snap.Health)
}

func TestMonitor_UpdateThresholds(t *testing.T) {
	m := newTestMonitor(t, healthySources())

	updated := m.UpdateThresholds(Thresholds{MinHitRate: 0.5, MaxPendingJobs: 10})
	assert.Equal(t, 0.5, updated.MinHitRate)
	assert.Equal(t, 10, updated.MaxPendingJobs)
	// Unset fields keep their defaults.
	assert.Equal(t, DefaultThresholds().MaxFailedJobs, updated.MaxFailedJobs)
	assert.Equal(t, DefaultThresholds().MinSampleSize, updated.MinSampleSize)

	assert.Equal(t, updated, m.Thresholds())
}

func TestMonitor_ClearAlerts(t *testing.T) {
	src := healthySources()
	src.retryStats = retry.QueueStats{Pending: 150}
	m := newTestMonitor(t, src)

	m.EvaluateOnce()
	require.NotEmpty(t, m.Alerts(false))

	assert.Equal(t, 1, m.ClearAlerts())
	assert.Empty(t, m.Alerts(true))
}
