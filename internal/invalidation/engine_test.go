package invalidation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seolha-lab/lexcache/internal/cache"
	"github.com/seolha-lab/lexcache/internal/provider"
)

type fakePurger struct {
	mu       sync.Mutex
	tags     []string
	users    []string
	patterns []string
	criteria []cache.Criteria
	clears   int
}

func (f *fakePurger) InvalidateByTag(tag string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags = append(f.tags, tag)
	return 1
}

func (f *fakePurger) InvalidateByUser(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, userID)
	return 1
}

func (f *fakePurger) InvalidateByPattern(pattern string, keepRecent int, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patterns = append(f.patterns, pattern)
	return 1, nil
}

func (f *fakePurger) InvalidateByCriteria(c cache.Criteria) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.criteria = append(f.criteria, c)
	return 1
}

func (f *fakePurger) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
}

func (f *fakePurger) tagCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tags...)
}

func newTestEngine(t *testing.T, purger Purger) *Engine {
	t.Helper()
	e := NewEngine(EngineConfig{Cache: purger})
	t.Cleanup(e.Stop)
	return e
}

func contentChangeTrigger(t *testing.T, e *Engine, entityType, tag string) Trigger {
	t.Helper()
	trig, err := e.AddTrigger(&Trigger{
		Name: "on " + entityType + " change",
		Conditions: []Condition{{
			Type:   ConditionContentChange,
			Params: map[string]string{"entity_type": entityType},
		}},
		Actions: []Action{{
			Kind:   ActionByTag,
			Params: map[string]string{"tag": tag},
		}},
	})
	require.NoError(t, err)
	return trig
}

func fetchTrigger(t *testing.T, e *Engine, id string) Trigger {
	t.Helper()
	trig, ok := e.GetTrigger(id)
	require.True(t, ok)
	return trig
}

func TestEngine_AddTrigger(t *testing.T) {
	e := newTestEngine(t, &fakePurger{})

	trig := contentChangeTrigger(t, e, "contract_template", "contract:employment")
	assert.NotEmpty(t, trig.ID)
	assert.True(t, trig.Active)
	assert.False(t, trig.CreatedAt.IsZero())

	t.Run("rejects empty conditions or actions", func(t *testing.T) {
		_, err := e.AddTrigger(&Trigger{Name: "no conditions", Actions: trig.Actions})
		assert.Error(t, err)
		_, err = e.AddTrigger(&Trigger{Name: "no actions", Conditions: trig.Conditions})
		assert.Error(t, err)
	})

	assert.True(t, e.RemoveTrigger(trig.ID))
	assert.False(t, e.RemoveTrigger(trig.ID))
}

func TestEngine_ContentChangeFiresExactlyOnce(t *testing.T) {
	purger := &fakePurger{}
	e := newTestEngine(t, purger)
	trig := contentChangeTrigger(t, e, "contract_template", "contract:employment")

	e.TriggerEvent(Event{
		Type: "content_change",
		Data: map[string]string{"entity_type": "contract_template", "change_type": "updated"},
	})
	require.Equal(t, 1, e.DrainPending())

	assert.Equal(t, []string{"contract:employment"}, purger.tagCalls())
	fired := fetchTrigger(t, e, trig.ID)
	assert.Equal(t, int64(1), fired.TriggerCount)
	assert.False(t, fired.LastTriggered.IsZero())

	t.Run("non-matching entity type does not fire", func(t *testing.T) {
		e.TriggerEvent(Event{
			Type: "content_change",
			Data: map[string]string{"entity_type": "statute"},
		})
		require.Equal(t, 1, e.DrainPending())
		assert.Equal(t, int64(1), fetchTrigger(t, e, trig.ID).TriggerCount)
		assert.Len(t, purger.tagCalls(), 1)
	})
}

func TestEngine_ORSemantics(t *testing.T) {
	purger := &fakePurger{}
	e := newTestEngine(t, purger)
	trig, err := e.AddTrigger(&Trigger{
		Name: "compliance sources",
		Conditions: []Condition{
			{Type: ConditionDataUpdate, Params: map[string]string{"category": "regulation"}},
			{Type: ConditionSystemEvent, Params: map[string]string{"subtype": "model_upgrade"}},
		},
		Actions: []Action{{Kind: ActionByTag, Params: map[string]string{"tag": "compliance"}}},
	})
	require.NoError(t, err)

	e.TriggerEvent(Event{Type: "data_update", Data: map[string]string{"category": "regulation"}})
	e.TriggerEvent(Event{Type: "system_event", Data: map[string]string{"subtype": "model_upgrade"}})
	// An event matching both conditions still fires the trigger once.
	e.DrainPending()

	assert.Equal(t, int64(2), fetchTrigger(t, e, trig.ID).TriggerCount)
	assert.Len(t, purger.tagCalls(), 2)
}

func TestEngine_InactiveTriggerDoesNotFire(t *testing.T) {
	purger := &fakePurger{}
	e := newTestEngine(t, purger)
	trig := contentChangeTrigger(t, e, "contract_template", "contract:employment")

	require.True(t, e.DeactivateTrigger(trig.ID))
	e.TriggerEvent(Event{Type: "content_change", Data: map[string]string{"entity_type": "contract_template"}})
	e.DrainPending()
	assert.Empty(t, purger.tagCalls())
	assert.Equal(t, int64(0), fetchTrigger(t, e, trig.ID).TriggerCount)

	require.True(t, e.ActivateTrigger(trig.ID))
	e.TriggerEvent(Event{Type: "content_change", Data: map[string]string{"entity_type": "contract_template"}})
	e.DrainPending()
	assert.Len(t, purger.tagCalls(), 1)
}

func TestEngine_UserActionFrequencyThreshold(t *testing.T) {
	purger := &fakePurger{}
	e := newTestEngine(t, purger)
	trig, err := e.AddTrigger(&Trigger{
		Name: "repeated exports",
		Conditions: []Condition{{
			Type:      ConditionUserAction,
			Params:    map[string]string{"action_type": "bulk_export"},
			Threshold: 3,
		}},
		Actions: []Action{{Kind: ActionFullClear}},
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		e.TriggerEvent(Event{Type: "user_action", Data: map[string]string{"action_type": "bulk_export"}})
	}
	e.DrainPending()
	assert.Equal(t, int64(0), fetchTrigger(t, e, trig.ID).TriggerCount, "below threshold must not fire")

	e.TriggerEvent(Event{Type: "user_action", Data: map[string]string{"action_type": "bulk_export"}})
	e.DrainPending()
	assert.Equal(t, int64(1), fetchTrigger(t, e, trig.ID).TriggerCount)
	assert.Equal(t, 1, purger.clears)
}

func TestEngine_TimeBasedCondition(t *testing.T) {
	purger := &fakePurger{}
	e := newTestEngine(t, purger)

	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return base }

	trig, err := e.AddTrigger(&Trigger{
		Name: "hourly staleness purge",
		Conditions: []Condition{{
			Type:      ConditionTimeBased,
			Threshold: 3600,
		}},
		Actions: []Action{{Kind: ActionByTag, Params: map[string]string{"tag": "jurisdiction:KR"}}},
	})
	require.NoError(t, err)

	e.TriggerEvent(Event{Type: EventTimeTick})
	e.DrainPending()
	assert.Equal(t, int64(0), fetchTrigger(t, e, trig.ID).TriggerCount, "threshold not yet elapsed")

	base = base.Add(61 * time.Minute)
	e.TriggerEvent(Event{Type: EventTimeTick})
	e.DrainPending()
	assert.Equal(t, int64(1), fetchTrigger(t, e, trig.ID).TriggerCount)

	// Immediately after firing the elapsed clock restarts.
	e.TriggerEvent(Event{Type: EventTimeTick})
	e.DrainPending()
	assert.Equal(t, int64(1), fetchTrigger(t, e, trig.ID).TriggerCount)
}

func TestEngine_DelayedAction(t *testing.T) {
	purger := &fakePurger{}
	e := newTestEngine(t, purger)
	_, err := e.AddTrigger(&Trigger{
		Name: "deferred purge",
		Conditions: []Condition{{
			Type:   ConditionContentChange,
			Params: map[string]string{"entity_type": "contract_template"},
		}},
		Actions: []Action{{
			Kind:   ActionByTag,
			Params: map[string]string{"tag": "contract:employment"},
			Delay:  20 * time.Millisecond,
		}},
	})
	require.NoError(t, err)

	e.TriggerEvent(Event{Type: "content_change", Data: map[string]string{"entity_type": "contract_template"}})
	e.DrainPending()
	assert.Empty(t, purger.tagCalls(), "delayed action must not run inline")

	assert.Eventually(t, func() bool {
		return len(purger.tagCalls()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_ActionFailureIsolation(t *testing.T) {
	purger := &fakePurger{}
	e := newTestEngine(t, purger)
	trig, err := e.AddTrigger(&Trigger{
		Name: "bad then good",
		Conditions: []Condition{{
			Type:   ConditionSystemEvent,
			Params: map[string]string{"subtype": "redeploy"},
		}},
		Actions: []Action{
			{Kind: ActionByTag}, // missing tag param, fails
			{Kind: ActionByUser, Params: map[string]string{"user_id": "u9"}},
		},
	})
	require.NoError(t, err)

	e.TriggerEvent(Event{Type: "system_event", Data: map[string]string{"subtype": "redeploy"}})
	e.DrainPending()

	assert.Equal(t, int64(1), fetchTrigger(t, e, trig.ID).TriggerCount)
	assert.Equal(t, []string{"u9"}, purger.users, "sibling action still runs after a failure")
}

func TestEngine_QueueFullDropsEvent(t *testing.T) {
	e := NewEngine(EngineConfig{Cache: &fakePurger{}, QueueSize: 1})
	t.Cleanup(e.Stop)

	assert.True(t, e.TriggerEvent(Event{Type: "system_event"}))
	assert.False(t, e.TriggerEvent(Event{Type: "system_event"}))

	stats := e.Stats()
	assert.Equal(t, 1, stats.QueueDepth)
	assert.Equal(t, int64(1), stats.Dropped)
}

// Scenario: a plan-change action for one user purges that user's entries
// and nobody else's, end to end against a real store.
func TestEngine_UserActionInvalidatesOnlyThatUser(t *testing.T) {
	store := cache.NewStore(cache.StoreConfig{SweepInterval: 0})
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	seed := func(userID, prompt string) {
		t.Helper()
		_, err := store.Set(ctx, prompt, "",
			cache.Metadata{RequestType: cache.RequestGeneralQuestion, UserID: userID},
			&provider.Completion{Content: "answer for " + userID}, time.Hour)
		require.NoError(t, err)
	}
	seed("u1", "질문 하나")
	seed("u1", "질문 둘")
	seed("u2", "다른 사용자 질문")

	e := newTestEngine(t, store)
	_, err := e.AddTrigger(&Trigger{
		Name: "plan change",
		Conditions: []Condition{{
			Type:   ConditionUserAction,
			Params: map[string]string{"action_type": "plan_change"},
		}},
		Actions: []Action{{Kind: ActionByUser}},
	})
	require.NoError(t, err)

	e.TriggerEvent(Event{
		Type: "user_action",
		Data: map[string]string{"action_type": "plan_change", "userId": "u1"},
	})
	require.Equal(t, 1, e.DrainPending())

	assert.Equal(t, 1, store.Len())
	_, ok := store.Get(ctx, "다른 사용자 질문", "", cache.Metadata{RequestType: cache.RequestGeneralQuestion, UserID: "u2"})
	assert.True(t, ok, "other users' entries must survive")
}

func TestEngine_AccessorsReturnSnapshots(t *testing.T) {
	purger := &fakePurger{}
	e := newTestEngine(t, purger)
	trig := contentChangeTrigger(t, e, "contract_template", "contract:employment")

	e.TriggerEvent(Event{
		Type: "content_change",
		Data: map[string]string{"entity_type": "contract_template"},
	})
	require.Equal(t, 1, e.DrainPending())

	// The snapshot taken at registration is unaffected by the firing.
	assert.Equal(t, int64(0), trig.TriggerCount)
	assert.Equal(t, int64(1), fetchTrigger(t, e, trig.ID).TriggerCount)

	// Mutating a returned trigger does not touch the registry.
	cur := fetchTrigger(t, e, trig.ID)
	cur.Active = false
	assert.True(t, fetchTrigger(t, e, trig.ID).Active)
}

// Accessors must be safe to call while the drain loop updates firing
// statistics. Run with -race.
func TestEngine_AccessorsSafeDuringDrain(t *testing.T) {
	purger := &fakePurger{}
	e := newTestEngine(t, purger)
	trig := contentChangeTrigger(t, e, "contract_template", "contract:employment")
	e.Start()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			for _, cur := range e.Triggers() {
				_ = cur.LastTriggered
			}
			if cur, ok := e.GetTrigger(trig.ID); ok {
				_ = cur.TriggerCount
			}
		}
	}()

	for i := 0; i < 50; i++ {
		e.TriggerEvent(Event{
			Type: "content_change",
			Data: map[string]string{"entity_type": "contract_template"},
		})
	}
	<-done

	assert.Eventually(t, func() bool {
		return fetchTrigger(t, e, trig.ID).TriggerCount == 50
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_BackgroundDrainLoop(t *testing.T) {
	purger := &fakePurger{}
	e := newTestEngine(t, purger)
	contentChangeTrigger(t, e, "contract_template", "contract:employment")

	e.Start()
	e.TriggerEvent(Event{Type: "content_change", Data: map[string]string{"entity_type": "contract_template"}})

	assert.Eventually(t, func() bool {
		return len(purger.tagCalls()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), e.Stats().Processed)
}
