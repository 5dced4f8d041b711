package cache

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/seolha-lab/lexcache/internal/metrics"
	"github.com/seolha-lab/lexcache/internal/provider"
)

const topAccessedN = 5

// Store is the completion cache store. Every mutation (insert, evict,
// invalidate) is serialized under one mutation lock so the size counter
// stays consistent and an entry is never evicted mid-read.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*Entry

	totalSize int64
	maxBytes  int64

	maxEntryBytes        int
	defaultTTL           time.Duration
	compressionThreshold int

	client      provider.Client
	backing     Backing
	usage       UsageRecorder
	temperature *float64
	maxTokens   int
	logger      *slog.Logger
	tracer      trace.Tracer

	hits   atomic.Int64
	misses atomic.Int64

	sweepTicker *time.Ticker
	stopSweep   chan struct{}
	closeOnce   sync.Once

	now func() time.Time
}

// StoreConfig holds configuration for the Store.
type StoreConfig struct {
	MaxBytes             int64         // Total size budget in bytes (stored form)
	MaxEntryBytes        int           // Per-entry ceiling; oversized payloads are skipped
	DefaultTTL           time.Duration // TTL when no override is given
	CompressionThreshold int           // Compress payloads above this size
	SweepInterval        time.Duration // Expired-entry sweep period; 0 disables the sweeper

	Client  provider.Client // AI completion provider, required for GetOrCompute
	Backing Backing         // Optional durable layer
	Usage   UsageRecorder   // Optional usage observer

	Temperature *float64 // Sampling temperature forwarded to the provider, nil means provider default
	MaxTokens   int      // Completion length bound forwarded to the provider, 0 means provider default

	Logger *slog.Logger
	Tracer trace.Tracer
}

// DefaultStoreConfig returns sensible defaults.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		MaxBytes:             256 * 1024 * 1024,
		MaxEntryBytes:        4 * 1024 * 1024,
		DefaultTTL:           24 * time.Hour,
		CompressionThreshold: 1024,
		SweepInterval:        time.Minute,
	}
}

// NewStore creates a completion cache store. When SweepInterval is positive a
// background sweeper proactively removes expired entries; expiry is also
// enforced lazily on every read, so both read paths only ever return
// non-expired results.
func NewStore(cfg StoreConfig) *Store {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 256 * 1024 * 1024
	}
	if cfg.MaxEntryBytes <= 0 {
		cfg.MaxEntryBytes = 4 * 1024 * 1024
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 24 * time.Hour
	}
	if cfg.CompressionThreshold <= 0 {
		cfg.CompressionThreshold = 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("lexcache")
	}

	s := &Store{
		entries:              make(map[string]*Entry),
		maxBytes:             cfg.MaxBytes,
		maxEntryBytes:        cfg.MaxEntryBytes,
		defaultTTL:           cfg.DefaultTTL,
		compressionThreshold: cfg.CompressionThreshold,
		client:               cfg.Client,
		backing:              cfg.Backing,
		usage:                cfg.Usage,
		temperature:          cfg.Temperature,
		maxTokens:            cfg.MaxTokens,
		logger:               cfg.Logger,
		tracer:               cfg.Tracer,
		stopSweep:            make(chan struct{}),
		now:                  time.Now,
	}

	if cfg.SweepInterval > 0 {
		s.sweepTicker = time.NewTicker(cfg.SweepInterval)
		go s.sweepLoop()
	}

	return s
}

func (s *Store) sweepLoop() {
	for {
		select {
		case <-s.sweepTicker.C:
			s.SweepExpired()
		case <-s.stopSweep:
			return
		}
	}
}

// SweepExpired removes all expired entries and returns how many were removed.
// This is the manual tick entry point for the background sweeper.
func (s *Store) SweepExpired() int {
	now := s.now()

	s.mu.Lock()
	var removed []string
	for key, e := range s.entries {
		if e.ExpiresAt.Before(now) || e.ExpiresAt.Equal(now) {
			removed = append(removed, key)
		}
	}
	for _, key := range removed {
		s.removeLocked(key, "expired")
	}
	s.mu.Unlock()

	s.deleteFromBacking(removed)
	return len(removed)
}

// Get returns the cached completion for the logical request, or a miss.
// Access statistics are updated on every hit.
func (s *Store) Get(ctx context.Context, prompt, systemPrompt string, meta Metadata) (*provider.Completion, bool) {
	key := Fingerprint(prompt, systemPrompt, meta)
	return s.getByKey(ctx, key)
}

func (s *Store) getByKey(ctx context.Context, key string) (*provider.Completion, bool) {
	now := s.now()

	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok && s.backing != nil {
		e = s.restoreFromBacking(ctx, key, now)
		ok = e != nil
	}

	if !ok {
		s.misses.Add(1)
		metrics.CacheMisses.Inc()
		return nil, false
	}

	if !e.ExpiresAt.After(now) {
		// Lazy expiry at read.
		s.mu.Lock()
		if cur, still := s.entries[key]; still && cur == e {
			s.removeLocked(key, "expired")
		}
		s.mu.Unlock()
		s.misses.Add(1)
		metrics.CacheMisses.Inc()
		return nil, false
	}

	comp, err := decodePayload(e)
	if err != nil {
		// Corrupt entry, treat as miss and drop it.
		s.logger.Warn("dropping undecodable cache entry", "key", key, "error", err)
		s.mu.Lock()
		if _, still := s.entries[key]; still {
			s.removeLocked(key, "invalidated")
		}
		s.mu.Unlock()
		s.misses.Add(1)
		metrics.CacheMisses.Inc()
		return nil, false
	}

	s.mu.Lock()
	if cur, still := s.entries[key]; still {
		cur.LastAccessedAt = now
		cur.AccessCount++
	}
	s.mu.Unlock()

	s.hits.Add(1)
	metrics.CacheHits.Inc()
	return comp, true
}

// restoreFromBacking performs the read-through path on a memory miss. The
// restored entry re-enters the in-memory budget through the normal insert
// path.
func (s *Store) restoreFromBacking(ctx context.Context, key string, now time.Time) *Entry {
	blob, err := s.backing.Fetch(ctx, key)
	if err != nil {
		s.logger.Warn("backing fetch failed", "key", key, "error", err)
		return nil
	}
	if blob == nil {
		return nil
	}

	var e Entry
	if err := json.Unmarshal(blob, &e); err != nil {
		s.logger.Warn("backing entry undecodable", "key", key, "error", err)
		return nil
	}
	if !e.ExpiresAt.After(now) {
		return nil
	}

	s.mu.Lock()
	s.insertLocked(&e)
	s.mu.Unlock()
	return &e
}

// Set computes the fingerprint, tags, and size for the completion and inserts
// it, compressing the payload above the configured threshold. Expired entries
// are evicted first, then least-recently-accessed entries, until the size
// budget is satisfied. Returns the stored entry, or nil when the payload
// exceeded the per-entry ceiling.
func (s *Store) Set(ctx context.Context, prompt, systemPrompt string, meta Metadata, comp *provider.Completion, ttlOverride time.Duration) (*Entry, error) {
	payload, err := json.Marshal(comp)
	if err != nil {
		return nil, err
	}

	compressed := false
	if len(payload) > s.compressionThreshold {
		if packed, err := compressPayload(payload); err == nil && len(packed) < len(payload) {
			payload = packed
			compressed = true
		}
	}

	s.mu.RLock()
	budget := s.maxBytes
	s.mu.RUnlock()
	if len(payload) > s.maxEntryBytes || int64(len(payload)) > budget {
		s.logger.Debug("completion exceeds per-entry ceiling, not cached",
			"size", len(payload), "max", s.maxEntryBytes)
		return nil, nil
	}

	ttl := ttlOverride
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	now := s.now()
	normalized := NormalizePrompt(prompt)
	e := &Entry{
		ID:             uuid.NewString(),
		Key:            Fingerprint(prompt, systemPrompt, meta),
		Prompt:         normalized,
		Payload:        payload,
		Compressed:     compressed,
		Metadata:       meta,
		Tags:           DeriveTags(prompt, meta),
		Size:           len(payload),
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      now.Add(ttl),
	}

	s.mu.Lock()
	s.insertLocked(e)
	s.mu.Unlock()

	if s.backing != nil {
		if blob, err := json.Marshal(e); err == nil {
			if err := s.backing.Store(ctx, e.Key, blob, ttl); err != nil {
				s.logger.Warn("backing store failed", "key", e.Key, "error", err)
			}
		}
	}

	return e, nil
}

// insertLocked places an entry into the map, evicting expired entries first
// and then least-recently-accessed ones until the budget is satisfied.
// Caller holds the mutation lock.
func (s *Store) insertLocked(e *Entry) {
	if old, ok := s.entries[e.Key]; ok {
		s.totalSize -= int64(old.Size)
		delete(s.entries, e.Key)
	}

	now := s.now()
	if s.totalSize+int64(e.Size) > s.maxBytes {
		for key, cur := range s.entries {
			if !cur.ExpiresAt.After(now) {
				s.removeLocked(key, "expired")
			}
		}
	}

	s.evictLRULocked(int64(e.Size))

	s.entries[e.Key] = e
	s.totalSize += int64(e.Size)
	metrics.CacheEntries.Set(float64(len(s.entries)))
	metrics.CacheSizeBytes.Set(float64(s.totalSize))
}

// evictLRULocked removes least-recently-accessed entries until need bytes fit
// within the budget. Ties break on the older creation time.
func (s *Store) evictLRULocked(need int64) {
	for s.totalSize+need > s.maxBytes && len(s.entries) > 0 {
		var victim *Entry
		for _, cur := range s.entries {
			if victim == nil {
				victim = cur
				continue
			}
			if cur.LastAccessedAt.Before(victim.LastAccessedAt) ||
				(cur.LastAccessedAt.Equal(victim.LastAccessedAt) && cur.CreatedAt.Before(victim.CreatedAt)) {
				victim = cur
			}
		}
		s.removeLocked(victim.Key, "lru")
	}
}

// removeLocked deletes one entry and updates size accounting. Caller holds
// the mutation lock.
func (s *Store) removeLocked(key, reason string) {
	e, ok := s.entries[key]
	if !ok {
		return
	}
	s.totalSize -= int64(e.Size)
	delete(s.entries, key)
	metrics.CacheEvictions.WithLabelValues(reason).Inc()
	metrics.CacheEntries.Set(float64(len(s.entries)))
	metrics.CacheSizeBytes.Set(float64(s.totalSize))
}

// GetOrCompute is the primary entry point for request handlers: it returns
// the cached completion unless ForceFresh, otherwise calls the AI completion
// provider, stores the result, and returns it. A provider failure writes
// nothing and propagates unchanged; retry is the caller's responsibility.
func (s *Store) GetOrCompute(ctx context.Context, prompt, systemPrompt string, meta Metadata, opts ComputeOptions) (*provider.Completion, error) {
	ctx, span := s.tracer.Start(ctx, "cache.get_or_compute",
		trace.WithAttributes(
			attribute.String("request.type", string(meta.RequestType)),
			attribute.String("request.language", meta.Language),
			attribute.Bool("cache.force_fresh", opts.ForceFresh),
		))
	defer span.End()

	if s.usage != nil && meta.UserID != "" {
		s.usage.Record(meta.UserID, meta.RequestType, meta.Language)
	}

	if !opts.ForceFresh {
		if comp, ok := s.Get(ctx, prompt, systemPrompt, meta); ok {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return comp, nil
		}
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	start := s.now()
	comp, err := s.client.Complete(ctx, &provider.Request{
		Prompt:       prompt,
		SystemPrompt: systemPrompt,
		Temperature:  s.temperature,
		MaxTokens:    s.maxTokens,
	})
	elapsed := s.now().Sub(start).Seconds()
	if err != nil {
		metrics.ProviderLatency.WithLabelValues("", "error").Observe(elapsed)
		span.RecordError(err)
		return nil, err
	}
	metrics.ProviderLatency.WithLabelValues(comp.ModelID, "ok").Observe(elapsed)
	metrics.ProviderTokens.WithLabelValues(comp.ModelID, "input").Add(float64(comp.Usage.InputTokens))
	metrics.ProviderTokens.WithLabelValues(comp.ModelID, "output").Add(float64(comp.Usage.OutputTokens))

	if _, err := s.Set(ctx, prompt, systemPrompt, meta, comp, opts.TTLOverride); err != nil {
		s.logger.Warn("failed to cache completion", "error", err)
	}

	return comp, nil
}

// InvalidateByTag removes all entries carrying the tag and returns the count.
func (s *Store) InvalidateByTag(tag string) int {
	return s.invalidate(func(e *Entry) bool {
		for _, t := range e.Tags {
			if t == tag {
				return true
			}
		}
		return false
	})
}

// InvalidateByUser removes all entries owned by the user and returns the count.
func (s *Store) InvalidateByUser(userID string) int {
	return s.invalidate(func(e *Entry) bool {
		return e.Metadata.UserID == userID
	})
}

// InvalidateByFingerprint removes the entry with the exact key.
func (s *Store) InvalidateByFingerprint(key string) bool {
	s.mu.Lock()
	_, ok := s.entries[key]
	if ok {
		s.removeLocked(key, "invalidated")
	}
	s.mu.Unlock()

	if ok {
		s.deleteFromBacking([]string{key})
	}
	return ok
}

// InvalidateByCriteria removes entries matching every set field of the
// criteria and returns the count.
func (s *Store) InvalidateByCriteria(c Criteria) int {
	return s.invalidate(func(e *Entry) bool {
		if c.RequestType != "" && e.Metadata.RequestType != c.RequestType {
			return false
		}
		if c.ContractType != "" && e.Metadata.ContractType != c.ContractType {
			return false
		}
		if c.Language != "" && e.Metadata.Language != c.Language {
			return false
		}
		if c.Jurisdiction != "" && e.Metadata.Jurisdiction != c.Jurisdiction {
			return false
		}
		return true
	})
}

// InvalidateByPattern removes entries whose normalized prompt matches the
// regular expression, keeping the keepRecent most recently created matches.
// When userID is non-empty only that user's entries are considered.
func (s *Store) InvalidateByPattern(pattern string, keepRecent int, userID string) (int, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	var matched []*Entry
	for _, e := range s.entries {
		if userID != "" && e.Metadata.UserID != userID {
			continue
		}
		if re.MatchString(e.Prompt) {
			matched = append(matched, e)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	var removed []string
	if keepRecent < 0 {
		keepRecent = 0
	}
	for i := keepRecent; i < len(matched); i++ {
		removed = append(removed, matched[i].Key)
		s.removeLocked(matched[i].Key, "invalidated")
	}
	s.mu.Unlock()

	s.deleteFromBacking(removed)
	return len(removed), nil
}

func (s *Store) invalidate(match func(*Entry) bool) int {
	s.mu.Lock()
	var removed []string
	for key, e := range s.entries {
		if match(e) {
			removed = append(removed, key)
		}
	}
	for _, key := range removed {
		s.removeLocked(key, "invalidated")
	}
	s.mu.Unlock()

	s.deleteFromBacking(removed)
	return len(removed)
}

func (s *Store) deleteFromBacking(keys []string) {
	if s.backing == nil || len(keys) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.backing.Delete(ctx, keys...); err != nil {
		s.logger.Warn("backing delete failed", "keys", len(keys), "error", err)
	}
}

// Clear drops all entries and resets hit/miss counters.
func (s *Store) Clear() {
	s.mu.Lock()
	n := len(s.entries)
	s.entries = make(map[string]*Entry)
	s.totalSize = 0
	s.hits.Store(0)
	s.misses.Store(0)
	s.mu.Unlock()

	metrics.CacheEvictions.WithLabelValues("cleared").Add(float64(n))
	metrics.CacheEntries.Set(0)
	metrics.CacheSizeBytes.Set(0)

	if s.backing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.backing.Flush(ctx); err != nil {
			s.logger.Warn("backing flush failed", "error", err)
		}
	}
}

// ResetCounters zeroes the hit/miss counters without touching entries.
func (s *Store) ResetCounters() {
	s.hits.Store(0)
	s.misses.Store(0)
}

// SetMaxBytes retunes the size budget at runtime, evicting down to the new
// budget if necessary.
func (s *Store) SetMaxBytes(maxBytes int64) {
	if maxBytes <= 0 {
		return
	}
	s.mu.Lock()
	s.maxBytes = maxBytes
	s.evictLRULocked(0)
	s.mu.Unlock()
}

// Stats returns a snapshot of cache state.
func (s *Store) Stats() Stats {
	now := s.now()
	hits := s.hits.Load()
	misses := s.misses.Load()
	total := hits + misses

	s.mu.RLock()
	st := Stats{
		Entries:   len(s.entries),
		SizeBytes: s.totalSize,
		MaxBytes:  s.maxBytes,
		Hits:      hits,
		Misses:    misses,
	}

	// Copy the fields the ranking needs while still under the read lock;
	// getByKey mutates access statistics under the mutation lock.
	all := make([]TopEntry, 0, len(s.entries))
	for _, e := range s.entries {
		all = append(all, TopEntry{
			Key:         e.Key,
			Prompt:      e.Prompt,
			AccessCount: e.AccessCount,
		})
		if !e.ExpiresAt.After(now) {
			continue
		}
		until := e.ExpiresAt.Sub(now)
		if until <= time.Hour {
			st.ExpiringWithin1h++
		}
		if until <= 24*time.Hour {
			st.ExpiringWithin24h++
		}
	}
	s.mu.RUnlock()

	if total > 0 {
		st.HitRate = float64(hits) / float64(total)
		st.MissRate = float64(misses) / float64(total)
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].AccessCount > all[j].AccessCount
	})
	if len(all) > topAccessedN {
		all = all[:topAccessedN]
	}
	if len(all) > 0 {
		st.TopAccessed = all
	}

	return st
}

// Len returns the number of cached entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close stops the background sweeper and releases the backing.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if s.sweepTicker != nil {
			s.sweepTicker.Stop()
		}
		close(s.stopSweep)
	})
	if s.backing != nil {
		return s.backing.Close()
	}
	return nil
}

func compressPayload(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodePayload(e *Entry) (*provider.Completion, error) {
	data := e.Payload
	if e.Compressed {
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		data, err = io.ReadAll(r)
		if err != nil {
			return nil, err
		}
	}

	var comp provider.Completion
	if err := json.Unmarshal(data, &comp); err != nil {
		return nil, err
	}
	return &comp, nil
}
