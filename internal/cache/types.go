// Package cache implements the completion cache store: a size-bounded,
// TTL-expiring in-memory map from canonical request fingerprints to AI
// completions, with optional durable backing. Everything else in the
// subsystem (warmup, invalidation, retry) operates on this store.
package cache

import (
	"time"
)

// RequestType enumerates the known analysis request categories.
type RequestType string

const (
	RequestContractAnalysis RequestType = "contract-analysis"
	RequestComplianceCheck  RequestType = "compliance-check"
	RequestRiskAnalysis     RequestType = "risk-analysis"
	RequestStrategicReport  RequestType = "strategic-report"
	RequestGeneralQuestion  RequestType = "general-question"
)

// Metadata classifies a completion request. The fingerprint is computed from
// a fixed serialization order, so the order in which callers populate fields
// never affects the key.
type Metadata struct {
	RequestType  RequestType `json:"request_type,omitempty"`
	ContractType string      `json:"contract_type,omitempty"`
	Language     string      `json:"language,omitempty"`
	Jurisdiction string      `json:"jurisdiction,omitempty"`
	Version      string      `json:"version,omitempty"`
	UserID       string      `json:"user_id,omitempty"`
	Tags         []string    `json:"tags,omitempty"` // free-form extra classification
}

// Entry is a cached completion in its stored form.
type Entry struct {
	ID             string    `json:"id"`
	Key            string    `json:"key"`
	Prompt         string    `json:"prompt"` // normalized, kept for pattern invalidation
	Payload        []byte    `json:"payload"`
	Compressed     bool      `json:"compressed"`
	Metadata       Metadata  `json:"metadata"`
	Tags           []string  `json:"tags"`
	Size           int       `json:"size"` // len(Payload), post-compression
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	AccessCount    int64     `json:"access_count"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// TopEntry describes one of the most-accessed entries in a stats snapshot.
type TopEntry struct {
	Key         string `json:"key"`
	Prompt      string `json:"prompt"`
	AccessCount int64  `json:"access_count"`
}

// Stats holds a point-in-time snapshot of cache state for monitoring.
type Stats struct {
	Entries           int        `json:"entries"`
	SizeBytes         int64      `json:"size_bytes"`
	MaxBytes          int64      `json:"max_bytes"`
	Hits              int64      `json:"hits"`
	Misses            int64      `json:"misses"`
	HitRate           float64    `json:"hit_rate"`
	MissRate          float64    `json:"miss_rate"`
	TopAccessed       []TopEntry `json:"top_accessed"`
	ExpiringWithin1h  int        `json:"expiring_within_1h"`
	ExpiringWithin24h int        `json:"expiring_within_24h"`
}

// Criteria selects entries by structured attributes for partial invalidation.
// Zero fields are ignored; set fields must all match.
type Criteria struct {
	RequestType  RequestType `json:"request_type,omitempty"`
	ContractType string      `json:"contract_type,omitempty"`
	Language     string      `json:"language,omitempty"`
	Jurisdiction string      `json:"jurisdiction,omitempty"`
}

// ComputeOptions controls GetOrCompute behavior.
type ComputeOptions struct {
	ForceFresh  bool          // Skip the cache read, always call the provider
	TTLOverride time.Duration // TTL for the stored result, 0 means default
}

// UsageRecorder observes served requests so the warmup scheduler can learn
// which categories each user actually asks about.
type UsageRecorder interface {
	Record(userID string, requestType RequestType, language string)
}
