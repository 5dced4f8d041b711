// Package retry is the sole retry mechanism of the subsystem. Failed async
// operations become jobs with exponential backoff; a fixed-interval dispatch
// tick runs ready jobs at bounded concurrency, and a cleanup tick removes
// terminal jobs after their retention window.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/seolha-lab/lexcache/internal/metrics"
	lexerrors "github.com/seolha-lab/lexcache/pkg/errors"
)

// JobType is the closed set of retryable operations.
type JobType string

const (
	JobCompletion      JobType = "completion"
	JobStrategicReport JobType = "strategic-report"
	JobDocumentReview  JobType = "document-review"
	JobNotification    JobType = "notification"
)

var jobTypes = map[JobType]struct{}{
	JobCompletion:      {},
	JobStrategicReport: {},
	JobDocumentReview:  {},
	JobNotification:    {},
}

// Priority orders dispatch; higher goes first.
const (
	PriorityLow    = 1
	PriorityNormal = 5
	PriorityHigh   = 10
)

// Status enumerates the retry job state machine:
// pending → processing → completed | pending(nextRetryAt set) | failed.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Job is one resilient async operation.
type Job struct {
	ID          string         `json:"id"`
	Type        JobType        `json:"type"`
	Payload     map[string]any `json:"payload,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
	Priority    int            `json:"priority"`
	Status      Status         `json:"status"`
	Attempts    int            `json:"attempts"`
	MaxAttempts int            `json:"max_attempts"`
	NextRetryAt time.Time      `json:"next_retry_at"`
	CreatedAt   time.Time      `json:"created_at"`
	FinishedAt  time.Time      `json:"finished_at,omitempty"`
	LastError   string         `json:"last_error,omitempty"`
}

// Executor runs one job attempt. It must be idempotent; a job may be
// re-executed after a failure.
type Executor func(ctx context.Context, job *Job) error

// AddOptions tune a new job; zero values take queue defaults.
type AddOptions struct {
	Priority     int
	MaxAttempts  int
	InitialDelay time.Duration
}

// QueueConfig configures a Queue.
type QueueConfig struct {
	MaxConcurrent     int           // dispatch slots
	BaseDelay         time.Duration // first backoff step
	Multiplier        float64       // backoff growth factor
	MaxDelay          time.Duration // backoff ceiling
	MaxAttempts       int           // default per-job attempt bound
	DispatchInterval  time.Duration // dispatch tick period
	CleanupInterval   time.Duration // cleanup tick period
	CompletedGrace    time.Duration // completed jobs linger this long
	FailedRetention   time.Duration // failed jobs stay queryable this long
	Logger            *slog.Logger
}

// Queue holds retry jobs and dispatches the ready ones.
type Queue struct {
	mu        sync.Mutex
	jobs      map[string]*Job
	inflight  map[string]struct{}
	executors map[JobType]Executor

	maxConcurrent   int
	baseDelay       time.Duration
	multiplier      float64
	maxDelay        time.Duration
	maxAttempts     int
	dispatchEvery   time.Duration
	cleanupEvery    time.Duration
	completedGrace  time.Duration
	failedRetention time.Duration

	dispatched atomic.Int64
	completed  atomic.Int64
	failed     atomic.Int64

	logger *slog.Logger
	now    func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewQueue creates a queue. Call Start for the background ticks, or drive it
// manually with Dispatch and Cleanup.
func NewQueue(cfg QueueConfig) *Queue {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 2.0
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.DispatchInterval <= 0 {
		cfg.DispatchInterval = 5 * time.Second
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.CompletedGrace <= 0 {
		cfg.CompletedGrace = 5 * time.Minute
	}
	if cfg.FailedRetention <= 0 {
		cfg.FailedRetention = 24 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Queue{
		jobs:            make(map[string]*Job),
		inflight:        make(map[string]struct{}),
		executors:       make(map[JobType]Executor),
		maxConcurrent:   cfg.MaxConcurrent,
		baseDelay:       cfg.BaseDelay,
		multiplier:      cfg.Multiplier,
		maxDelay:        cfg.MaxDelay,
		maxAttempts:     cfg.MaxAttempts,
		dispatchEvery:   cfg.DispatchInterval,
		cleanupEvery:    cfg.CleanupInterval,
		completedGrace:  cfg.CompletedGrace,
		failedRetention: cfg.FailedRetention,
		logger:          cfg.Logger.With("component", "retry"),
		now:             time.Now,
		stopCh:          make(chan struct{}),
	}
}

// RegisterExecutor binds the operation for a job type. Jobs of an unbound
// type fail at dispatch.
func (q *Queue) RegisterExecutor(jobType JobType, exec Executor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.executors[jobType] = exec
}

// ============================================================================
// Job lifecycle
// ============================================================================

// AddJob enqueues a job, returning a snapshot of it immediately. The first
// attempt becomes eligible after opts.InitialDelay.
func (q *Queue) AddJob(jobType JobType, payload map[string]any, userID string, opts AddOptions) (Job, error) {
	if _, ok := jobTypes[jobType]; !ok {
		return Job{}, fmt.Errorf("retry: unknown job type %q", jobType)
	}
	if opts.Priority <= 0 {
		opts.Priority = PriorityNormal
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = q.maxAttempts
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	job := &Job{
		ID:          uuid.NewString(),
		Type:        jobType,
		Payload:     payload,
		UserID:      userID,
		Priority:    opts.Priority,
		Status:      StatusPending,
		MaxAttempts: opts.MaxAttempts,
		NextRetryAt: now.Add(opts.InitialDelay),
		CreatedAt:   now,
	}
	q.jobs[job.ID] = job
	q.updateDepthLocked()
	q.logger.Debug("retry job added", "job_id", job.ID, "type", jobType, "priority", job.Priority)
	return *job, nil
}

// GetJob returns a snapshot of a job by id. Dispatch goroutines update job
// state in place, so accessors never hand out the live struct. Terminal jobs
// stay queryable until cleanup.
func (q *Queue) GetJob(id string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// GetJobsByUser returns snapshots of the user's jobs, oldest first.
func (q *Queue) GetJobsByUser(userID string) []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Job
	for _, job := range q.jobs {
		if job.UserID == userID {
			out = append(out, *job)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// RemoveJob deletes a job unless it is processing. This is also how a
// pending job is cancelled.
func (q *Queue) RemoveJob(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok || job.Status == StatusProcessing {
		return false
	}
	delete(q.jobs, id)
	q.updateDepthLocked()
	return true
}

// ============================================================================
// Dispatch
// ============================================================================

// Dispatch runs one dispatch tick: ready jobs (pending, nextRetryAt elapsed,
// not in flight) are started concurrently up to the free slots, ordered by
// priority then nextRetryAt. Returns the number dispatched without waiting
// for completion.
func (q *Queue) Dispatch(ctx context.Context) int {
	q.mu.Lock()
	slots := q.maxConcurrent - len(q.inflight)
	if slots <= 0 {
		q.mu.Unlock()
		return 0
	}

	now := q.now()
	var ready []*Job
	for _, job := range q.jobs {
		if job.Status != StatusPending || job.NextRetryAt.After(now) {
			continue
		}
		if _, running := q.inflight[job.ID]; running {
			continue
		}
		ready = append(ready, job)
	}
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority > ready[j].Priority
		}
		if !ready[i].NextRetryAt.Equal(ready[j].NextRetryAt) {
			return ready[i].NextRetryAt.Before(ready[j].NextRetryAt)
		}
		return ready[i].ID < ready[j].ID
	})
	if len(ready) > slots {
		ready = ready[:slots]
	}

	for _, job := range ready {
		job.Status = StatusProcessing
		job.Attempts++
		q.inflight[job.ID] = struct{}{}
		q.dispatched.Add(1)
		q.wg.Add(1)
		go q.run(ctx, job)
	}
	q.updateDepthLocked()
	q.mu.Unlock()
	return len(ready)
}

func (q *Queue) run(ctx context.Context, job *Job) {
	defer q.wg.Done()

	q.mu.Lock()
	exec, ok := q.executors[job.Type]
	q.mu.Unlock()

	var err error
	if !ok {
		err = lexerrors.NewInternalError("", fmt.Sprintf("no executor for job type %q", job.Type))
	} else {
		err = q.execute(ctx, exec, job)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, job.ID)

	switch {
	case err == nil:
		job.Status = StatusCompleted
		job.FinishedAt = q.now()
		q.completed.Add(1)
		metrics.RetryDispatches.WithLabelValues(string(job.Type), "completed").Inc()
		q.logger.Debug("retry job completed", "job_id", job.ID, "type", job.Type, "attempts", job.Attempts)

	case !lexerrors.IsRetryable(err):
		// Non-retryable provider errors (auth, permission) terminate the
		// job regardless of remaining attempts.
		q.failLocked(job, err, "non_retryable")

	case job.Attempts < job.MaxAttempts:
		job.Status = StatusPending
		job.LastError = err.Error()
		job.NextRetryAt = q.now().Add(q.backoff(job.Attempts))
		metrics.RetryDispatches.WithLabelValues(string(job.Type), "retried").Inc()
		q.logger.Warn("retry job failed, rescheduled",
			"job_id", job.ID,
			"type", job.Type,
			"attempt", job.Attempts,
			"next_retry_at", job.NextRetryAt,
			"error", err,
		)

	default:
		q.failLocked(job, err, "exhausted")
	}
	q.updateDepthLocked()
}

// execute guards the executor so a panicking job cannot kill the loop.
func (q *Queue) execute(ctx context.Context, exec Executor, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = lexerrors.NewInternalError("", fmt.Sprintf("job panicked: %v", r))
		}
	}()
	return exec(ctx, job)
}

func (q *Queue) failLocked(job *Job, err error, reason string) {
	job.Status = StatusFailed
	job.LastError = err.Error()
	job.FinishedAt = q.now()
	q.failed.Add(1)
	metrics.RetryDispatches.WithLabelValues(string(job.Type), "failed").Inc()
	q.logger.Error("retry job failed permanently",
		"job_id", job.ID,
		"type", job.Type,
		"attempts", job.Attempts,
		"reason", reason,
		"error", err,
	)
}

// backoff computes the delay after the given attempt number:
// min(baseDelay · multiplier^(attempts−1), maxDelay).
func (q *Queue) backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := time.Duration(float64(q.baseDelay) * math.Pow(q.multiplier, float64(attempts-1)))
	if d > q.maxDelay || d <= 0 {
		return q.maxDelay
	}
	return d
}

// ============================================================================
// Cleanup
// ============================================================================

// Cleanup removes terminal jobs past their window: completed jobs after the
// grace period, failed jobs after the retention window. Returns the number
// removed. Manual tick entry point.
func (q *Queue) Cleanup() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	removed := 0
	for id, job := range q.jobs {
		var cutoff time.Duration
		switch job.Status {
		case StatusCompleted:
			cutoff = q.completedGrace
		case StatusFailed:
			cutoff = q.failedRetention
		default:
			continue
		}
		if now.Sub(job.FinishedAt) >= cutoff {
			delete(q.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		q.logger.Debug("retry cleanup", "removed", removed)
	}
	q.updateDepthLocked()
	return removed
}

// ============================================================================
// Stats and lifecycle
// ============================================================================

// QueueStats is a snapshot of queue state.
type QueueStats struct {
	Pending    int   `json:"pending"`
	Processing int   `json:"processing"`
	Completed  int   `json:"completed"`
	Failed     int   `json:"failed"`
	Dispatched int64 `json:"dispatched"`
	TotalDone  int64 `json:"total_completed"`
	TotalDead  int64 `json:"total_failed"`
}

// Stats returns a snapshot of queue state.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := QueueStats{
		Dispatched: q.dispatched.Load(),
		TotalDone:  q.completed.Load(),
		TotalDead:  q.failed.Load(),
	}
	for _, job := range q.jobs {
		switch job.Status {
		case StatusPending:
			stats.Pending++
		case StatusProcessing:
			stats.Processing++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		}
	}
	return stats
}

func (q *Queue) updateDepthLocked() {
	pending := 0
	for _, job := range q.jobs {
		if job.Status == StatusPending {
			pending++
		}
	}
	metrics.RetryQueueDepth.Set(float64(pending))
}

// Start launches the dispatch and cleanup tickers.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(2)
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(q.dispatchEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				q.Dispatch(ctx)
			case <-q.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(q.cleanupEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				q.Cleanup()
			case <-q.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	q.logger.Info("retry queue started",
		"dispatch_interval", q.dispatchEvery,
		"max_concurrent", q.maxConcurrent,
	)
}

// Stop halts the tickers and waits for in-flight jobs.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
	q.wg.Wait()
}
