package warmup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/seolha-lab/lexcache/internal/cache"
	"github.com/seolha-lab/lexcache/internal/metrics"
	"github.com/seolha-lab/lexcache/internal/usage"
)

// ActivitySource provides the demand signals used to gate due prompts and to
// pick per-user warmup candidates. Satisfied by *usage.Tracker.
type ActivitySource interface {
	ActiveUsers() int
	TypeFrequency(requestType cache.RequestType) int
	UserHistogram(userID string) []usage.CategoryCount
}

// computeFunc performs one warmup computation. Decoupled from the concrete
// store type so tests can fail deterministically.
type computeFunc func(ctx context.Context, p *Prompt, ttl time.Duration) error

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Store    *cache.Store
	Activity ActivitySource

	// Compute overrides the store-backed computation, tests only.
	Compute computeFunc

	Concurrency      int           // max jobs running at once
	MaxAttempts      int           // attempts per job before it fails
	WarmTTL          time.Duration // TTL applied to warmed entries
	DueCheckInterval time.Duration // recurrence evaluation tick
	DrainInterval    time.Duration // queue drain tick

	// UserTopCategories / UserCategoryCap bound WarmupForUser fan-out.
	UserTopCategories int
	UserCategoryCap   int

	Logger *slog.Logger
}

// Scheduler owns the warmup prompt catalog and its job queue.
type Scheduler struct {
	mu      sync.Mutex
	prompts map[string]*Prompt
	queue   []*Job            // pending jobs, head is next
	jobs    map[string]*Job   // every job ever created, by id
	queued  map[string]string // promptID -> pending/running job id, for dedup

	running int

	compute          computeFunc
	activity         ActivitySource
	concurrency      int
	maxAttempts      int
	warmTTL          time.Duration
	dueCheckInterval time.Duration
	drainInterval    time.Duration
	userTopCats      int
	userCatCap       int

	completed atomic.Int64
	retried   atomic.Int64
	failed    atomic.Int64

	logger *slog.Logger
	now    func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler. Call Start to run the background ticks,
// or drive it manually with RunDueCheck and DrainQueue.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WarmTTL <= 0 {
		cfg.WarmTTL = 7 * 24 * time.Hour
	}
	if cfg.DueCheckInterval <= 0 {
		cfg.DueCheckInterval = time.Minute
	}
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = 5 * time.Second
	}
	if cfg.UserTopCategories <= 0 {
		cfg.UserTopCategories = 3
	}
	if cfg.UserCategoryCap <= 0 {
		cfg.UserCategoryCap = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Scheduler{
		prompts:          make(map[string]*Prompt),
		jobs:             make(map[string]*Job),
		queued:           make(map[string]string),
		compute:          cfg.Compute,
		activity:         cfg.Activity,
		concurrency:      cfg.Concurrency,
		maxAttempts:      cfg.MaxAttempts,
		warmTTL:          cfg.WarmTTL,
		dueCheckInterval: cfg.DueCheckInterval,
		drainInterval:    cfg.DrainInterval,
		userTopCats:      cfg.UserTopCategories,
		userCatCap:       cfg.UserCategoryCap,
		logger:           cfg.Logger.With("component", "warmup"),
		now:              time.Now,
		stopCh:           make(chan struct{}),
	}
	if s.compute == nil && cfg.Store != nil {
		store := cfg.Store
		s.compute = func(ctx context.Context, p *Prompt, ttl time.Duration) error {
			_, err := store.GetOrCompute(ctx, p.Prompt, p.SystemPrompt, p.Metadata, cache.ComputeOptions{
				TTLOverride: ttl,
			})
			return err
		}
	}
	return s
}

// ============================================================================
// Prompt catalog
// ============================================================================

// AddPrompt registers a warmup prompt. An empty ID is assigned one; adding an
// existing ID replaces the registration. The catalog keeps its own copy, and
// the returned snapshot carries the assigned ID.
func (s *Scheduler) AddPrompt(p *Prompt) (Prompt, error) {
	if p == nil || strings.TrimSpace(p.Prompt) == "" {
		return Prompt{}, fmt.Errorf("warmup: prompt text is required")
	}
	reg := *p
	if reg.ID == "" {
		reg.ID = uuid.NewString()
	}
	if reg.Priority == "" {
		reg.Priority = PriorityNormal
	}
	if reg.Recurrence.Frequency == "" {
		reg.Recurrence.Frequency = FrequencyNone
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts[reg.ID] = &reg
	s.logger.Info("warmup prompt registered",
		"prompt_id", reg.ID,
		"priority", reg.Priority,
		"frequency", reg.Recurrence.Frequency,
	)
	return reg, nil
}

// RemovePrompt unregisters a prompt. Pending jobs for it stay queued and
// fail at dispatch.
func (s *Scheduler) RemovePrompt(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.prompts[id]; !ok {
		return false
	}
	delete(s.prompts, id)
	return true
}

// GetPrompt returns a snapshot of a registered prompt by id. Job runs update
// catalog prompts in place, so accessors never hand out the live struct.
func (s *Scheduler) GetPrompt(id string) (Prompt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prompts[id]
	if !ok {
		return Prompt{}, false
	}
	return *p, true
}

// Prompts returns snapshots of all registered prompts.
func (s *Scheduler) Prompts() []Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Prompt, 0, len(s.prompts))
	for _, p := range s.prompts {
		out = append(out, *p)
	}
	return out
}

// ============================================================================
// Scheduling
// ============================================================================

// ScheduleWarmup enqueues a job for the prompt and returns a snapshot of it.
// High priority jobs enter at the head of the queue. If the prompt already
// has a pending or running job that job's snapshot is returned and nothing
// new is enqueued.
func (s *Scheduler) ScheduleWarmup(promptID string, priority Priority) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.scheduleLocked(promptID, priority)
	if err != nil {
		return Job{}, err
	}
	return *job, nil
}

func (s *Scheduler) scheduleLocked(promptID string, priority Priority) (*Job, error) {
	if _, ok := s.prompts[promptID]; !ok {
		return nil, fmt.Errorf("warmup: unknown prompt %q", promptID)
	}
	if jobID, ok := s.queued[promptID]; ok {
		return s.jobs[jobID], nil
	}
	if priority != PriorityHigh {
		priority = PriorityNormal
	}

	job := &Job{
		ID:          uuid.NewString(),
		PromptID:    promptID,
		Priority:    priority,
		Status:      JobPending,
		MaxAttempts: s.maxAttempts,
		CreatedAt:   s.now(),
	}
	s.jobs[job.ID] = job
	s.queued[promptID] = job.ID
	if priority == PriorityHigh {
		s.queue = append([]*Job{job}, s.queue...)
	} else {
		s.queue = append(s.queue, job)
	}
	return job, nil
}

// WarmupAll schedules every registered prompt at its own priority and
// returns the number of newly queued jobs.
func (s *Scheduler) WarmupAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	queued := 0
	for id, p := range s.prompts {
		if _, dup := s.queued[id]; dup {
			continue
		}
		if _, err := s.scheduleLocked(id, p.Priority); err == nil {
			queued++
		}
	}
	return queued
}

// WarmupByCategory schedules all prompts of the given request type.
func (s *Scheduler) WarmupByCategory(requestType cache.RequestType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	queued := 0
	for id, p := range s.prompts {
		if p.Metadata.RequestType != requestType {
			continue
		}
		if _, dup := s.queued[id]; dup {
			continue
		}
		if _, err := s.scheduleLocked(id, p.Priority); err == nil {
			queued++
		}
	}
	return queued
}

// WarmupForUser schedules prompts matching the user's most-used categories,
// at high priority, capped per category. Returns the number of queued jobs.
func (s *Scheduler) WarmupForUser(userID string) int {
	if s.activity == nil {
		return 0
	}
	hist := s.activity.UserHistogram(userID)
	if len(hist) > s.userTopCats {
		hist = hist[:s.userTopCats]
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	queued := 0
	for _, bucket := range hist {
		perCategory := 0
		for id, p := range s.prompts {
			if perCategory >= s.userCatCap {
				break
			}
			if p.Metadata.RequestType != bucket.RequestType {
				continue
			}
			if bucket.Language != "" && p.Metadata.Language != "" && p.Metadata.Language != bucket.Language {
				continue
			}
			if _, dup := s.queued[id]; dup {
				continue
			}
			if _, err := s.scheduleLocked(id, PriorityHigh); err == nil {
				queued++
				perCategory++
			}
		}
	}
	return queued
}

// CancelJob removes a pending job from the queue. Running or finished jobs
// cannot be cancelled.
func (s *Scheduler) CancelJob(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status != JobPending {
		return false
	}
	for i, queued := range s.queue {
		if queued.ID == jobID {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			break
		}
	}
	delete(s.queued, job.PromptID)
	delete(s.jobs, jobID)
	return true
}

// GetJob returns a snapshot of a job by id.
func (s *Scheduler) GetJob(jobID string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// ============================================================================
// Due check
// ============================================================================

// RunDueCheck evaluates every prompt's recurrence and gating conditions at
// the given instant and schedules the due ones. Returns the number of newly
// queued jobs. The background tick calls this once a minute.
func (s *Scheduler) RunDueCheck(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	queued := 0
	for id, p := range s.prompts {
		if !s.dueAt(p, now) || !s.conditionsMet(p, now) {
			continue
		}
		if _, dup := s.queued[id]; dup {
			continue
		}
		if _, err := s.scheduleLocked(id, p.Priority); err == nil {
			queued++
		}
	}
	if queued > 0 {
		s.logger.Debug("due check queued jobs", "count", queued)
	}
	return queued
}

func (s *Scheduler) dueAt(p *Prompt, now time.Time) bool {
	switch p.Recurrence.Frequency {
	case FrequencyDaily:
	case FrequencyWeekly:
		if now.Weekday() != p.Recurrence.Weekday {
			return false
		}
	default:
		// none and on-demand prompts only run when explicitly scheduled.
		return false
	}

	target := atTimeOfDay(now, p.Recurrence.TimeOfDay)
	if now.Before(target) {
		return false
	}
	// Already ran in this occurrence window.
	return p.LastRun.Before(target)
}

// atTimeOfDay resolves "HH:MM" on now's date; malformed or empty means
// midnight.
func atTimeOfDay(now time.Time, hhmm string) time.Time {
	hour, min := 0, 0
	if hhmm != "" {
		if _, err := fmt.Sscanf(hhmm, "%d:%d", &hour, &min); err != nil {
			hour, min = 0, 0
		}
	}
	return time.Date(now.Year(), now.Month(), now.Day(), hour, min, 0, 0, now.Location())
}

func (s *Scheduler) conditionsMet(p *Prompt, now time.Time) bool {
	c := p.Conditions
	if c.Season != nil && !inSeason(now.Month(), c.Season) {
		return false
	}
	if s.activity == nil {
		return c.MinUserCount == 0 && c.MinUsageFrequency == 0
	}
	if c.MinUserCount > 0 && s.activity.ActiveUsers() < c.MinUserCount {
		return false
	}
	if c.MinUsageFrequency > 0 && s.activity.TypeFrequency(p.Metadata.RequestType) < c.MinUsageFrequency {
		return false
	}
	return true
}

func inSeason(m time.Month, w *SeasonalWindow) bool {
	if w.FromMonth <= w.ToMonth {
		return m >= w.FromMonth && m <= w.ToMonth
	}
	// Window wraps the year end.
	return m >= w.FromMonth || m <= w.ToMonth
}

// ============================================================================
// Drain
// ============================================================================

// DrainQueue dispatches pending jobs up to the concurrency limit. Jobs run
// in their own goroutines; the call returns the number dispatched without
// waiting for completion. The background tick calls this continuously.
func (s *Scheduler) DrainQueue(ctx context.Context) int {
	s.mu.Lock()
	dispatched := 0
	for len(s.queue) > 0 && s.running < s.concurrency {
		job := s.queue[0]
		s.queue = s.queue[1:]

		prompt, ok := s.prompts[job.PromptID]
		if !ok {
			job.Status = JobFailed
			job.LastError = "prompt no longer registered"
			job.FinishedAt = s.now()
			delete(s.queued, job.PromptID)
			s.failed.Add(1)
			metrics.WarmupJobs.WithLabelValues("failed").Inc()
			continue
		}

		job.Status = JobRunning
		job.Attempts++
		job.StartedAt = s.now()
		s.running++
		dispatched++

		s.wg.Add(1)
		go s.runJob(ctx, job, prompt)
	}
	s.mu.Unlock()
	return dispatched
}

func (s *Scheduler) runJob(ctx context.Context, job *Job, prompt *Prompt) {
	defer s.wg.Done()

	var err error
	if s.compute == nil {
		err = fmt.Errorf("warmup: no compute backend configured")
	} else {
		err = s.compute(ctx, prompt, s.warmTTL)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.running--

	if err == nil {
		job.Status = JobCompleted
		job.FinishedAt = s.now()
		prompt.LastRun = s.now()
		delete(s.queued, job.PromptID)
		s.completed.Add(1)
		metrics.WarmupJobs.WithLabelValues("completed").Inc()
		s.logger.Debug("warmup job completed", "job_id", job.ID, "prompt_id", prompt.ID)
		return
	}

	job.LastError = err.Error()
	if job.Attempts < job.MaxAttempts {
		job.Status = JobPending
		s.queue = append(s.queue, job)
		s.retried.Add(1)
		metrics.WarmupJobs.WithLabelValues("retried").Inc()
		s.logger.Warn("warmup job failed, requeued",
			"job_id", job.ID,
			"prompt_id", prompt.ID,
			"attempt", job.Attempts,
			"error", err,
		)
		return
	}

	job.Status = JobFailed
	job.FinishedAt = s.now()
	delete(s.queued, job.PromptID)
	s.failed.Add(1)
	metrics.WarmupJobs.WithLabelValues("failed").Inc()
	s.logger.Error("warmup job failed permanently",
		"job_id", job.ID,
		"prompt_id", prompt.ID,
		"attempts", job.Attempts,
		"error", err,
	)
}

// Stats returns a snapshot of scheduler state.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Prompts:    len(s.prompts),
		QueueDepth: len(s.queue),
		Running:    s.running,
		Completed:  s.completed.Load(),
		Retried:    s.retried.Load(),
		Failed:     s.failed.Load(),
	}
}

// ClearFinishedJobs drops completed and failed jobs from the job index.
func (s *Scheduler) ClearFinishedJobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, job := range s.jobs {
		if job.Status == JobCompleted || job.Status == JobFailed {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

// ============================================================================
// Lifecycle
// ============================================================================

// Start launches the due-check and drain tickers. Stop shuts them down and
// waits for running jobs.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.dueCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.RunDueCheck(s.now())
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.drainInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.DrainQueue(ctx)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	s.logger.Info("warmup scheduler started",
		"due_check_interval", s.dueCheckInterval,
		"drain_interval", s.drainInterval,
		"concurrency", s.concurrency,
	)
}

// Stop halts the tickers and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}
