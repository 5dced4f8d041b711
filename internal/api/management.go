// Package api provides HTTP handlers for the cache management surface:
// stats and health reads, warmup and invalidation writes, alert handling.
package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/seolha-lab/lexcache/internal/cache"
	"github.com/seolha-lab/lexcache/internal/invalidation"
	"github.com/seolha-lab/lexcache/internal/monitor"
	"github.com/seolha-lab/lexcache/internal/retry"
	"github.com/seolha-lab/lexcache/internal/warmup"
)

// ManagementHandler handles the admin endpoints.
type ManagementHandler struct {
	store     *cache.Store
	scheduler *warmup.Scheduler
	engine    *invalidation.Engine
	queue     *retry.Queue
	monitor   *monitor.Monitor
	logger    *slog.Logger
}

// NewManagementHandler creates a new management handler.
func NewManagementHandler(
	store *cache.Store,
	scheduler *warmup.Scheduler,
	engine *invalidation.Engine,
	queue *retry.Queue,
	mon *monitor.Monitor,
	logger *slog.Logger,
) *ManagementHandler {
	return &ManagementHandler{
		store:     store,
		scheduler: scheduler,
		engine:    engine,
		queue:     queue,
		monitor:   mon,
		logger:    logger,
	}
}

// ============================================================================
// Read Endpoints
// ============================================================================

// GetCacheStats handles GET /cache/stats
func (h *ManagementHandler) GetCacheStats(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.store.Stats())
}

// GetHealth handles GET /health
func (h *ManagementHandler) GetHealth(w http.ResponseWriter, _ *http.Request) {
	snap := h.monitor.EvaluateOnce()
	status := "ok"
	if snap.Health < 50 {
		status = "degraded"
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status": status,
		"health": snap.Health,
	})
}

// GetAnalytics handles GET /analytics
func (h *ManagementHandler) GetAnalytics(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.monitor.EvaluateOnce())
}

// ListAlerts handles GET /alerts?include_resolved=true
func (h *ManagementHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	includeResolved, _ := strconv.ParseBool(r.URL.Query().Get("include_resolved"))
	h.writeJSON(w, http.StatusOK, map[string]any{
		"alerts": h.monitor.Alerts(includeResolved),
	})
}

// GetWarmupStats handles GET /warmup/stats
func (h *ManagementHandler) GetWarmupStats(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.scheduler.Stats())
}

// ListWarmupPrompts handles GET /warmup/prompts
func (h *ManagementHandler) ListWarmupPrompts(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"prompts": h.scheduler.Prompts(),
	})
}

// ListTriggers handles GET /trigger/list
func (h *ManagementHandler) ListTriggers(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"triggers": h.engine.Triggers(),
	})
}

// GetTriggerStats handles GET /trigger/stats
func (h *ManagementHandler) GetTriggerStats(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.Stats())
}

// GetRetryStats handles GET /retry/stats
func (h *ManagementHandler) GetRetryStats(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.queue.Stats())
}

// GetRetryJob handles GET /retry/job?id=...
func (h *ManagementHandler) GetRetryJob(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "id query parameter is required")
		return
	}
	job, ok := h.queue.GetJob(id)
	if !ok {
		h.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

// ListRetryJobsByUser handles GET /retry/jobs?user_id=...
func (h *ManagementHandler) ListRetryJobsByUser(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, "user_id query parameter is required")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"jobs": h.queue.GetJobsByUser(userID),
	})
}

// ============================================================================
// Warmup Endpoints
// ============================================================================

// AddWarmupPromptRequest is the body for POST /warmup/prompt.
type AddWarmupPromptRequest struct {
	Prompt       string            `json:"prompt"`
	SystemPrompt string            `json:"system_prompt,omitempty"`
	Metadata     cache.Metadata    `json:"metadata"`
	Priority     warmup.Priority   `json:"priority,omitempty"`
	Recurrence   warmup.Recurrence `json:"recurrence,omitempty"`
	Conditions   warmup.Conditions `json:"conditions,omitempty"`
}

// AddWarmupPrompt handles POST /warmup/prompt
func (h *ManagementHandler) AddWarmupPrompt(w http.ResponseWriter, r *http.Request) {
	var req AddWarmupPromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	prompt, err := h.scheduler.AddPrompt(&warmup.Prompt{
		Prompt:       req.Prompt,
		SystemPrompt: req.SystemPrompt,
		Metadata:     req.Metadata,
		Priority:     req.Priority,
		Recurrence:   req.Recurrence,
		Conditions:   req.Conditions,
	})
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeJSON(w, http.StatusCreated, prompt)
}

// TriggerWarmupRequest is the body for POST /warmup/trigger. Exactly one
// selector should be set; `all` wins if several are.
type TriggerWarmupRequest struct {
	All      bool              `json:"all,omitempty"`
	PromptID string            `json:"prompt_id,omitempty"`
	Category cache.RequestType `json:"category,omitempty"`
	UserID   string            `json:"user_id,omitempty"`
}

// TriggerWarmup handles POST /warmup/trigger
func (h *ManagementHandler) TriggerWarmup(w http.ResponseWriter, r *http.Request) {
	var req TriggerWarmupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch {
	case req.All:
		h.writeJSON(w, http.StatusAccepted, map[string]any{"queued": h.scheduler.WarmupAll()})
	case req.PromptID != "":
		job, err := h.scheduler.ScheduleWarmup(req.PromptID, warmup.PriorityHigh)
		if err != nil {
			h.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.writeJSON(w, http.StatusAccepted, job)
	case req.Category != "":
		h.writeJSON(w, http.StatusAccepted, map[string]any{
			"queued": h.scheduler.WarmupByCategory(req.Category),
		})
	case req.UserID != "":
		h.writeJSON(w, http.StatusAccepted, map[string]any{
			"queued": h.scheduler.WarmupForUser(req.UserID),
		})
	default:
		h.writeError(w, http.StatusBadRequest, "one of all, prompt_id, category, user_id is required")
	}
}

// CancelWarmupJob handles POST /warmup/job/cancel
func (h *ManagementHandler) CancelWarmupJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.JobID == "" {
		h.writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}
	if !h.scheduler.CancelJob(req.JobID) {
		h.writeError(w, http.StatusConflict, "job is not pending")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"cancelled": req.JobID})
}

// ============================================================================
// Invalidation Endpoints
// ============================================================================

// InvalidateByTag handles POST /invalidate/tag
func (h *ManagementHandler) InvalidateByTag(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tag string `json:"tag"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Tag == "" {
		h.writeError(w, http.StatusBadRequest, "tag is required")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"invalidated": h.store.InvalidateByTag(req.Tag)})
}

// InvalidateByUser handles POST /invalidate/user
func (h *ManagementHandler) InvalidateByUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		h.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"invalidated": h.store.InvalidateByUser(req.UserID)})
}

// InvalidateContractAnalysis handles POST /invalidate/contract-analysis
func (h *ManagementHandler) InvalidateContractAnalysis(w http.ResponseWriter, _ *http.Request) {
	n := h.store.InvalidateByCriteria(cache.Criteria{RequestType: cache.RequestContractAnalysis})
	h.writeJSON(w, http.StatusOK, map[string]any{"invalidated": n})
}

// InvalidateComplianceRules handles POST /invalidate/compliance-rules
func (h *ManagementHandler) InvalidateComplianceRules(w http.ResponseWriter, _ *http.Request) {
	n := h.store.InvalidateByCriteria(cache.Criteria{RequestType: cache.RequestComplianceCheck})
	h.writeJSON(w, http.StatusOK, map[string]any{"invalidated": n})
}

// InvalidateJurisdiction handles POST /invalidate/jurisdiction
func (h *ManagementHandler) InvalidateJurisdiction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Jurisdiction string `json:"jurisdiction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Jurisdiction == "" {
		h.writeError(w, http.StatusBadRequest, "jurisdiction is required")
		return
	}
	n := h.store.InvalidateByCriteria(cache.Criteria{Jurisdiction: req.Jurisdiction})
	h.writeJSON(w, http.StatusOK, map[string]any{"invalidated": n})
}

// ============================================================================
// Trigger Endpoints
// ============================================================================

// AddTrigger handles POST /trigger/new
func (h *ManagementHandler) AddTrigger(w http.ResponseWriter, r *http.Request) {
	var trig invalidation.Trigger
	if err := json.NewDecoder(r.Body).Decode(&trig); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	added, err := h.engine.AddTrigger(&trig)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeJSON(w, http.StatusCreated, added)
}

// triggerIDRequest is the body for trigger state changes.
type triggerIDRequest struct {
	TriggerID string `json:"trigger_id"`
}

// ActivateTrigger handles POST /trigger/activate
func (h *ManagementHandler) ActivateTrigger(w http.ResponseWriter, r *http.Request) {
	h.setTriggerActive(w, r, true)
}

// DeactivateTrigger handles POST /trigger/deactivate
func (h *ManagementHandler) DeactivateTrigger(w http.ResponseWriter, r *http.Request) {
	h.setTriggerActive(w, r, false)
}

func (h *ManagementHandler) setTriggerActive(w http.ResponseWriter, r *http.Request, active bool) {
	var req triggerIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TriggerID == "" {
		h.writeError(w, http.StatusBadRequest, "trigger_id is required")
		return
	}
	ok := false
	if active {
		ok = h.engine.ActivateTrigger(req.TriggerID)
	} else {
		ok = h.engine.DeactivateTrigger(req.TriggerID)
	}
	if !ok {
		h.writeError(w, http.StatusNotFound, "trigger not found")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"trigger_id": req.TriggerID, "active": active})
}

// DeleteTrigger handles POST /trigger/delete
func (h *ManagementHandler) DeleteTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TriggerID == "" {
		h.writeError(w, http.StatusBadRequest, "trigger_id is required")
		return
	}
	if !h.engine.RemoveTrigger(req.TriggerID) {
		h.writeError(w, http.StatusNotFound, "trigger not found")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"deleted": req.TriggerID})
}

// InjectEvent handles POST /event/inject
func (h *ManagementHandler) InjectEvent(w http.ResponseWriter, r *http.Request) {
	var ev invalidation.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil || ev.Type == "" {
		h.writeError(w, http.StatusBadRequest, "event type is required")
		return
	}
	if ev.Source == "" {
		ev.Source = "management"
	}
	if !h.engine.TriggerEvent(ev) {
		h.writeError(w, http.StatusServiceUnavailable, "event queue is full")
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]any{"queued": true})
}

// ============================================================================
// Alert / Threshold Endpoints
// ============================================================================

// ResolveAlert handles POST /alert/resolve
func (h *ManagementHandler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AlertID string `json:"alert_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AlertID == "" {
		h.writeError(w, http.StatusBadRequest, "alert_id is required")
		return
	}
	if !h.monitor.ResolveAlert(req.AlertID) {
		h.writeError(w, http.StatusNotFound, "alert not found or already resolved")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"resolved": req.AlertID})
}

// UpdateThresholds handles POST /thresholds/update
func (h *ManagementHandler) UpdateThresholds(w http.ResponseWriter, r *http.Request) {
	var req monitor.Thresholds
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.writeJSON(w, http.StatusOK, h.monitor.UpdateThresholds(req))
}

// ============================================================================
// Clear Endpoint
// ============================================================================

// Clear handles POST /clear with a scope of cache, metrics, alerts,
// warmup-jobs, or all.
func (h *ManagementHandler) Clear(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Scope string `json:"scope"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cleared := []string{}
	scope := req.Scope
	if scope == "" {
		scope = "cache"
	}
	if scope == "cache" || scope == "all" {
		h.store.Clear()
		cleared = append(cleared, "cache")
	}
	if scope == "metrics" || scope == "all" {
		h.store.ResetCounters()
		cleared = append(cleared, "metrics")
	}
	if scope == "alerts" || scope == "all" {
		h.monitor.ClearAlerts()
		cleared = append(cleared, "alerts")
	}
	if scope == "warmup-jobs" || scope == "all" {
		h.scheduler.ClearFinishedJobs()
		cleared = append(cleared, "warmup-jobs")
	}
	if len(cleared) == 0 {
		h.writeError(w, http.StatusBadRequest, "unknown scope "+strconv.Quote(scope))
		return
	}

	h.logger.Info("management clear", "scope", scope)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"cleared": cleared,
		"at":      time.Now().UTC(),
	})
}

// ============================================================================
// Helpers
// ============================================================================

func (h *ManagementHandler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

func (h *ManagementHandler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"message": message,
			"type":    "api_error",
		},
	}); err != nil {
		h.logger.Error("failed to encode error response", "error", err)
	}
}
