// Package usage tracks recent request activity per user. The warmup
// scheduler consults it for gating conditions (active user count, category
// frequency) and to derive per-user warmup candidates.
package usage

import (
	"sort"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/seolha-lab/lexcache/internal/cache"
)

// event is one observed request. Each event lives in the underlying TTL
// cache under its own key, so the window slides for free.
type event struct {
	UserID      string
	RequestType cache.RequestType
	Language    string
	At          time.Time
}

// CategoryCount is one bucket of a user's usage histogram.
type CategoryCount struct {
	RequestType cache.RequestType `json:"request_type"`
	Language    string            `json:"language"`
	Count       int               `json:"count"`
}

// Tracker records request activity within a sliding window.
type Tracker struct {
	events *gocache.Cache
	window time.Duration
}

// NewTracker creates a tracker with the given sliding window.
func NewTracker(window time.Duration) *Tracker {
	if window <= 0 {
		window = 7 * 24 * time.Hour
	}
	return &Tracker{
		events: gocache.New(window, window/4),
		window: window,
	}
}

// Record implements cache.UsageRecorder.
func (t *Tracker) Record(userID string, requestType cache.RequestType, language string) {
	if userID == "" {
		return
	}
	t.events.Set(uuid.NewString(), event{
		UserID:      userID,
		RequestType: requestType,
		Language:    language,
		At:          time.Now(),
	}, gocache.DefaultExpiration)
}

// ActiveUsers returns the number of distinct users seen within the window.
func (t *Tracker) ActiveUsers() int {
	users := make(map[string]struct{})
	for _, item := range t.events.Items() {
		if ev, ok := item.Object.(event); ok {
			users[ev.UserID] = struct{}{}
		}
	}
	return len(users)
}

// TypeFrequency returns how many requests of the category were seen within
// the window.
func (t *Tracker) TypeFrequency(requestType cache.RequestType) int {
	count := 0
	for _, item := range t.events.Items() {
		if ev, ok := item.Object.(event); ok && ev.RequestType == requestType {
			count++
		}
	}
	return count
}

// UserHistogram returns the user's recent usage grouped by request type and
// language, most frequent first.
func (t *Tracker) UserHistogram(userID string) []CategoryCount {
	type bucket struct {
		requestType cache.RequestType
		language    string
	}
	counts := make(map[bucket]int)
	for _, item := range t.events.Items() {
		ev, ok := item.Object.(event)
		if !ok || ev.UserID != userID {
			continue
		}
		counts[bucket{ev.RequestType, ev.Language}]++
	}

	result := make([]CategoryCount, 0, len(counts))
	for b, n := range counts {
		result = append(result, CategoryCount{
			RequestType: b.requestType,
			Language:    b.language,
			Count:       n,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].RequestType < result[j].RequestType
	})
	return result
}

// Flush drops all recorded events.
func (t *Tracker) Flush() {
	t.events.Flush()
}
