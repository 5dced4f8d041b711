// Package monitor derives a health score and threshold alerts from the
// cache, warmup, and retry subsystems.
package monitor

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/seolha-lab/lexcache/internal/cache"
	"github.com/seolha-lab/lexcache/internal/retry"
	"github.com/seolha-lab/lexcache/internal/warmup"
)

// Severity grades an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AlertKind identifies which threshold an alert came from. At most one
// unresolved alert exists per kind.
type AlertKind string

const (
	AlertLowHitRate      AlertKind = "low_hit_rate"
	AlertWarmupFailures  AlertKind = "warmup_failures"
	AlertRetryBacklog    AlertKind = "retry_backlog"
)

// Alert is one threshold violation.
type Alert struct {
	ID         string    `json:"id"`
	Kind       AlertKind `json:"kind"`
	Severity   Severity  `json:"severity"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
	Resolved   bool      `json:"resolved"`
	ResolvedAt time.Time `json:"resolved_at,omitempty"`
}

// Thresholds tune alerting and the health score.
type Thresholds struct {
	MinHitRate     float64 `json:"min_hit_rate"`     // alert when hit rate drops below
	MaxFailedJobs  int64   `json:"max_failed_jobs"`  // warmup failures before alerting
	MaxPendingJobs int     `json:"max_pending_jobs"` // retry backlog before alerting
	MinSampleSize  int64   `json:"min_sample_size"`  // lookups needed before hit rate counts
}

// DefaultThresholds returns the stock thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinHitRate:     0.2,
		MaxFailedJobs:  10,
		MaxPendingJobs: 100,
		MinSampleSize:  50,
	}
}

// Analytics is the combined observability snapshot served to management.
type Analytics struct {
	Health       int              `json:"health"`
	Cache        cache.Stats      `json:"cache"`
	Warmup       warmup.Stats     `json:"warmup"`
	Retry        retry.QueueStats `json:"retry"`
	ActiveAlerts int              `json:"active_alerts"`
	EvaluatedAt  time.Time        `json:"evaluated_at"`
}

// CacheSource, WarmupSource, and RetrySource are the stat feeds the monitor
// reads; satisfied by *cache.Store, *warmup.Scheduler, *retry.Queue.
type (
	CacheSource  interface{ Stats() cache.Stats }
	WarmupSource interface{ Stats() warmup.Stats }
	RetrySource  interface{ Stats() retry.QueueStats }
)

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	Cache      CacheSource
	Warmup     WarmupSource
	Retry      RetrySource
	Thresholds Thresholds
	Interval   time.Duration // evaluation tick, default 1m
	Logger     *slog.Logger
}

// Monitor evaluates thresholds on a tick and keeps the alert log.
type Monitor struct {
	mu         sync.Mutex
	thresholds Thresholds
	alerts     map[string]*Alert
	openByKind map[AlertKind]string // unresolved alert per kind

	cache    CacheSource
	warmup   WarmupSource
	retry    RetrySource
	interval time.Duration

	logger *slog.Logger
	now    func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMonitor creates a monitor. Call Start for the background tick, or drive
// it manually with EvaluateOnce.
func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Monitor{
		thresholds: cfg.Thresholds,
		alerts:     make(map[string]*Alert),
		openByKind: make(map[AlertKind]string),
		cache:      cfg.Cache,
		warmup:     cfg.Warmup,
		retry:      cfg.Retry,
		interval:   cfg.Interval,
		logger:     cfg.Logger.With("component", "monitor"),
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
}

// EvaluateOnce reads all stat sources, raises or sustains alerts, and
// returns the analytics snapshot. Manual tick entry point.
func (m *Monitor) EvaluateOnce() Analytics {
	var (
		cacheStats  cache.Stats
		warmupStats warmup.Stats
		retryStats  retry.QueueStats
	)
	if m.cache != nil {
		cacheStats = m.cache.Stats()
	}
	if m.warmup != nil {
		warmupStats = m.warmup.Stats()
	}
	if m.retry != nil {
		retryStats = m.retry.Stats()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	th := m.thresholds
	lookups := cacheStats.Hits + cacheStats.Misses

	if lookups >= th.MinSampleSize && cacheStats.HitRate < th.MinHitRate {
		m.raiseLocked(AlertLowHitRate, SeverityWarning,
			"cache hit rate below threshold")
	} else {
		m.resolveKindLocked(AlertLowHitRate)
	}

	if warmupStats.Failed > th.MaxFailedJobs {
		m.raiseLocked(AlertWarmupFailures, SeverityWarning,
			"failed warmup jobs above threshold")
	} else {
		m.resolveKindLocked(AlertWarmupFailures)
	}

	if retryStats.Pending > th.MaxPendingJobs {
		m.raiseLocked(AlertRetryBacklog, SeverityCritical,
			"retry queue backlog above threshold")
	}

	return Analytics{
		Health:       m.healthScoreLocked(cacheStats, warmupStats, retryStats),
		Cache:        cacheStats,
		Warmup:       warmupStats,
		Retry:        retryStats,
		ActiveAlerts: len(m.openByKind),
		EvaluatedAt:  m.now(),
	}
}

// healthScoreLocked maps current state onto 0–100: full marks minus
// penalties for a cold cache, warmup failures, and retry backlog.
func (m *Monitor) healthScoreLocked(c cache.Stats, w warmup.Stats, r retry.QueueStats) int {
	th := m.thresholds
	score := 100.0

	if c.Hits+c.Misses >= th.MinSampleSize && c.HitRate < th.MinHitRate {
		deficit := (th.MinHitRate - c.HitRate) / th.MinHitRate
		score -= 40 * deficit
	}
	if th.MaxFailedJobs > 0 && w.Failed > 0 {
		ratio := float64(w.Failed) / float64(th.MaxFailedJobs)
		if ratio > 1 {
			ratio = 1
		}
		score -= 30 * ratio
	}
	if th.MaxPendingJobs > 0 && r.Pending > 0 {
		ratio := float64(r.Pending) / float64(th.MaxPendingJobs)
		if ratio > 1 {
			ratio = 1
		}
		score -= 30 * ratio
	}

	if score < 0 {
		score = 0
	}
	return int(score)
}

func (m *Monitor) raiseLocked(kind AlertKind, severity Severity, message string) {
	if _, open := m.openByKind[kind]; open {
		return
	}
	alert := &Alert{
		ID:        uuid.NewString(),
		Kind:      kind,
		Severity:  severity,
		Message:   message,
		CreatedAt: m.now(),
	}
	m.alerts[alert.ID] = alert
	m.openByKind[kind] = alert.ID
	m.logger.Warn("alert raised", "alert_id", alert.ID, "kind", kind, "severity", severity)
}

// resolveKindLocked auto-resolves the open alert for a kind once its
// condition clears. Retry-backlog alerts are left for operators.
func (m *Monitor) resolveKindLocked(kind AlertKind) {
	id, open := m.openByKind[kind]
	if !open {
		return
	}
	alert := m.alerts[id]
	alert.Resolved = true
	alert.ResolvedAt = m.now()
	delete(m.openByKind, kind)
	m.logger.Info("alert auto-resolved", "alert_id", id, "kind", kind)
}

// ResolveAlert marks an alert resolved by id.
func (m *Monitor) ResolveAlert(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.alerts[id]
	if !ok || alert.Resolved {
		return false
	}
	alert.Resolved = true
	alert.ResolvedAt = m.now()
	delete(m.openByKind, alert.Kind)
	return true
}

// Alerts returns snapshots of the alert log, newest first. Resolved alerts
// are included only when asked for; evaluation ticks resolve alerts in place,
// so the log never hands out live structs.
func (m *Monitor) Alerts(includeResolved bool) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, 0, len(m.alerts))
	for _, alert := range m.alerts {
		if alert.Resolved && !includeResolved {
			continue
		}
		out = append(out, *alert)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ClearAlerts drops the whole alert log.
func (m *Monitor) ClearAlerts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.alerts)
	m.alerts = make(map[string]*Alert)
	m.openByKind = make(map[AlertKind]string)
	return n
}

// Thresholds returns the active thresholds.
func (m *Monitor) Thresholds() Thresholds {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.thresholds
}

// UpdateThresholds replaces the active thresholds. Zero-valued fields keep
// their current setting.
func (m *Monitor) UpdateThresholds(t Thresholds) Thresholds {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.MinHitRate > 0 {
		m.thresholds.MinHitRate = t.MinHitRate
	}
	if t.MaxFailedJobs > 0 {
		m.thresholds.MaxFailedJobs = t.MaxFailedJobs
	}
	if t.MaxPendingJobs > 0 {
		m.thresholds.MaxPendingJobs = t.MaxPendingJobs
	}
	if t.MinSampleSize > 0 {
		m.thresholds.MinSampleSize = t.MinSampleSize
	}
	m.logger.Info("thresholds updated",
		"min_hit_rate", m.thresholds.MinHitRate,
		"max_failed_jobs", m.thresholds.MaxFailedJobs,
		"max_pending_jobs", m.thresholds.MaxPendingJobs,
	)
	return m.thresholds
}

// Start launches the evaluation tick.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.EvaluateOnce()
			case <-m.stopCh:
				return
			}
		}
	}()
	m.logger.Info("monitor started", "interval", m.interval)
}

// Stop halts the evaluation tick.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}
