package invalidation

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/seolha-lab/lexcache/internal/cache"
	"github.com/seolha-lab/lexcache/internal/metrics"
)

// EventTimeTick is the event type that time-based conditions evaluate
// against. The supervisor injects one periodically; management can too.
const EventTimeTick = "time_tick"

// Purger is the slice of the cache store the engine mutates. Satisfied by
// *cache.Store.
type Purger interface {
	InvalidateByTag(tag string) int
	InvalidateByUser(userID string) int
	InvalidateByPattern(pattern string, keepRecent int, userID string) (int, error)
	InvalidateByCriteria(c cache.Criteria) int
	Clear()
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	Cache     Purger
	QueueSize int // event queue capacity, default 256
	Logger    *slog.Logger
}

// Engine owns the trigger registry and the event queue. Events are consumed
// strictly FIFO by a single drain loop so trigger bookkeeping stays
// race-free.
type Engine struct {
	mu       sync.Mutex
	triggers map[string]*Trigger

	// actionCounts backs user-action frequency thresholds: occurrences of
	// each action_type seen since startup.
	actionCounts map[string]int

	events chan Event
	cache  Purger

	processed atomic.Int64
	dropped   atomic.Int64
	firings   atomic.Int64

	logger *slog.Logger
	now    func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewEngine creates an engine. Call Start for the background drain loop, or
// drive it manually with ProcessNext / DrainPending.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		triggers:     make(map[string]*Trigger),
		actionCounts: make(map[string]int),
		events:       make(chan Event, cfg.QueueSize),
		cache:        cfg.Cache,
		logger:       cfg.Logger.With("component", "invalidation"),
		now:          time.Now,
		stopCh:       make(chan struct{}),
	}
}

// ============================================================================
// Trigger registry
// ============================================================================

// AddTrigger registers a trigger. An empty ID is assigned one; new triggers
// default to active. The registry keeps its own copy, and the returned
// snapshot carries the assigned ID.
func (e *Engine) AddTrigger(t *Trigger) (Trigger, error) {
	if t == nil || len(t.Conditions) == 0 || len(t.Actions) == 0 {
		return Trigger{}, fmt.Errorf("invalidation: trigger needs at least one condition and one action")
	}
	reg := *t
	if reg.ID == "" {
		reg.ID = uuid.NewString()
		reg.Active = true
	}
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = e.now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.triggers[reg.ID] = &reg
	e.logger.Info("trigger registered", "trigger_id", reg.ID, "name", reg.Name, "active", reg.Active)
	return reg, nil
}

// RemoveTrigger unregisters a trigger.
func (e *Engine) RemoveTrigger(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.triggers[id]; !ok {
		return false
	}
	delete(e.triggers, id)
	return true
}

// ActivateTrigger marks a trigger active.
func (e *Engine) ActivateTrigger(id string) bool { return e.setActive(id, true) }

// DeactivateTrigger marks a trigger inactive; it keeps its statistics.
func (e *Engine) DeactivateTrigger(id string) bool { return e.setActive(id, false) }

func (e *Engine) setActive(id string, active bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.triggers[id]
	if !ok {
		return false
	}
	t.Active = active
	return true
}

// GetTrigger returns a snapshot of a trigger by id. The drain loop updates
// firing statistics in place, so accessors never hand out the live struct.
func (e *Engine) GetTrigger(id string) (Trigger, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.triggers[id]
	if !ok {
		return Trigger{}, false
	}
	return *t, true
}

// Triggers returns snapshots of all registered triggers, ordered by creation
// time.
func (e *Engine) Triggers() []Trigger {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Trigger, 0, len(e.triggers))
	for _, t := range e.triggers {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ============================================================================
// Event intake and drain
// ============================================================================

// TriggerEvent enqueues an event without blocking. Returns false when the
// queue is full and the event was dropped.
func (e *Engine) TriggerEvent(ev Event) bool {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now()
	}
	select {
	case e.events <- ev:
		return true
	default:
		e.dropped.Add(1)
		e.logger.Warn("event queue full, dropping event", "event_type", ev.Type, "source", ev.Source)
		return false
	}
}

// ProcessNext consumes and evaluates one queued event. Returns false when
// the queue is empty. Manual tick entry point; the drain loop calls this.
func (e *Engine) ProcessNext() bool {
	select {
	case ev := <-e.events:
		e.processEvent(ev)
		return true
	default:
		return false
	}
}

// DrainPending processes everything currently queued and returns the count.
func (e *Engine) DrainPending() int {
	n := 0
	for e.ProcessNext() {
		n++
	}
	return n
}

func (e *Engine) processEvent(ev Event) {
	e.processed.Add(1)
	metrics.InvalidationEvents.WithLabelValues(ev.Type).Inc()

	e.mu.Lock()
	if ev.Type == "user_action" {
		if at := ev.Data["action_type"]; at != "" {
			e.actionCounts[at]++
		}
	}

	// Snapshot the firing set under the lock, run actions outside it so a
	// slow purge never blocks registry mutation.
	var fired []*Trigger
	for _, t := range e.orderedTriggersLocked() {
		if !t.Active {
			continue
		}
		if e.matchesLocked(t, ev) {
			fired = append(fired, t)
		}
	}
	now := e.now()
	for _, t := range fired {
		t.LastTriggered = now
		t.TriggerCount++
	}
	e.mu.Unlock()

	for _, t := range fired {
		e.firings.Add(1)
		e.logger.Info("trigger fired",
			"trigger_id", t.ID,
			"name", t.Name,
			"event_type", ev.Type,
		)
		for _, action := range t.Actions {
			e.runAction(t, action, ev)
		}
	}
}

// orderedTriggersLocked returns triggers in deterministic order; caller
// holds mu.
func (e *Engine) orderedTriggersLocked() []*Trigger {
	out := make([]*Trigger, 0, len(e.triggers))
	for _, t := range e.triggers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// matchesLocked evaluates the trigger's condition list with OR semantics.
func (e *Engine) matchesLocked(t *Trigger, ev Event) bool {
	for _, c := range t.Conditions {
		if e.conditionMatchesLocked(t, c, ev) {
			return true
		}
	}
	return false
}

func (e *Engine) conditionMatchesLocked(t *Trigger, c Condition, ev Event) bool {
	switch c.Type {
	case ConditionContentChange:
		return ev.Type == "content_change" &&
			paramMatches(c.Params["entity_type"], ev.Data["entity_type"]) &&
			paramMatches(c.Params["change_type"], ev.Data["change_type"])

	case ConditionTimeBased:
		if ev.Type != EventTimeTick {
			return false
		}
		since := t.LastTriggered
		if since.IsZero() {
			since = t.CreatedAt
		}
		return e.now().Sub(since) >= time.Duration(c.Threshold)*time.Second

	case ConditionUserAction:
		if ev.Type != "user_action" {
			return false
		}
		actionType := ev.Data["action_type"]
		if !paramMatches(c.Params["action_type"], actionType) {
			return false
		}
		return c.Threshold <= 0 || e.actionCounts[actionType] >= c.Threshold

	case ConditionSystemEvent:
		return ev.Type == "system_event" &&
			paramMatches(c.Params["subtype"], ev.Data["subtype"])

	case ConditionDataUpdate:
		return ev.Type == "data_update" &&
			paramMatches(c.Params["category"], ev.Data["category"])
	}
	return false
}

// paramMatches treats an empty condition param as a wildcard.
func paramMatches(want, got string) bool {
	return want == "" || want == got
}

// ============================================================================
// Actions
// ============================================================================

func (e *Engine) runAction(t *Trigger, action Action, ev Event) {
	if action.Delay > 0 {
		// Fire-and-forget so the drain loop is never blocked on a delay.
		time.AfterFunc(action.Delay, func() {
			e.executeAction(t, action, ev)
		})
		return
	}
	e.executeAction(t, action, ev)
}

func (e *Engine) executeAction(t *Trigger, action Action, ev Event) {
	removed, err := e.applyAction(action, ev)
	if err != nil {
		metrics.InvalidationActions.WithLabelValues(string(action.Kind), "error").Inc()
		e.logger.Error("invalidation action failed",
			"trigger_id", t.ID,
			"action", action.Kind,
			"error", err,
		)
		return
	}
	metrics.InvalidationActions.WithLabelValues(string(action.Kind), "ok").Inc()
	e.logger.Info("invalidation action executed",
		"trigger_id", t.ID,
		"action", action.Kind,
		"removed", removed,
	)
}

func (e *Engine) applyAction(action Action, ev Event) (removed int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invalidation: action panicked: %v", r)
		}
	}()

	switch action.Kind {
	case ActionByTag:
		tag := action.Params["tag"]
		if tag == "" {
			return 0, fmt.Errorf("invalidation: by-tag action missing tag")
		}
		return e.cache.InvalidateByTag(tag), nil

	case ActionByUser:
		userID := action.Params["user_id"]
		if userID == "" {
			userID = eventUserID(ev)
		}
		if userID == "" {
			return 0, fmt.Errorf("invalidation: by-user action has no user id")
		}
		return e.cache.InvalidateByUser(userID), nil

	case ActionByPattern:
		pattern := action.Params["pattern"]
		if pattern == "" {
			return 0, fmt.Errorf("invalidation: by-pattern action missing pattern")
		}
		keep := 0
		if raw := action.Params["keep_recent"]; raw != "" {
			if keep, err = strconv.Atoi(raw); err != nil {
				return 0, fmt.Errorf("invalidation: bad keep_recent %q: %w", raw, err)
			}
		}
		return e.cache.InvalidateByPattern(pattern, keep, action.Params["user_id"])

	case ActionPartial:
		return e.cache.InvalidateByCriteria(cache.Criteria{
			RequestType:  cache.RequestType(action.Params["request_type"]),
			ContractType: action.Params["contract_type"],
			Language:     action.Params["language"],
			Jurisdiction: action.Params["jurisdiction"],
		}), nil

	case ActionFullClear:
		e.cache.Clear()
		return 0, nil
	}
	return 0, fmt.Errorf("invalidation: unknown action kind %q", action.Kind)
}

func eventUserID(ev Event) string {
	if id := ev.Data["user_id"]; id != "" {
		return id
	}
	return ev.Data["userId"]
}

// ============================================================================
// Lifecycle and stats
// ============================================================================

// Stats returns a snapshot of engine state.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	active := 0
	for _, t := range e.triggers {
		if t.Active {
			active++
		}
	}
	total := len(e.triggers)
	e.mu.Unlock()

	return Stats{
		Triggers:       total,
		ActiveTriggers: active,
		QueueDepth:     len(e.events),
		Processed:      e.processed.Load(),
		Dropped:        e.dropped.Load(),
		Firings:        e.firings.Load(),
	}
}

// Start launches the drain loop. It blocks on the queue and exits on Stop.
func (e *Engine) Start() {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case ev := <-e.events:
				e.processEvent(ev)
			case <-e.stopCh:
				return
			}
		}
	}()
	e.logger.Info("invalidation engine started", "queue_capacity", cap(e.events))
}

// Stop halts the drain loop. Queued events are discarded; delayed actions
// already scheduled still run.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}
