package api

import "net/http"

// RegisterRoutes mounts the management endpoints on the mux.
func (h *ManagementHandler) RegisterRoutes(mux *http.ServeMux) {
	// ========================================================================
	// Read Routes
	// ========================================================================
	mux.HandleFunc("GET /health", h.GetHealth)
	mux.HandleFunc("GET /cache/stats", h.GetCacheStats)
	mux.HandleFunc("GET /analytics", h.GetAnalytics)
	mux.HandleFunc("GET /alerts", h.ListAlerts)
	mux.HandleFunc("GET /warmup/stats", h.GetWarmupStats)
	mux.HandleFunc("GET /warmup/prompts", h.ListWarmupPrompts)
	mux.HandleFunc("GET /trigger/list", h.ListTriggers)
	mux.HandleFunc("GET /trigger/stats", h.GetTriggerStats)
	mux.HandleFunc("GET /retry/stats", h.GetRetryStats)
	mux.HandleFunc("GET /retry/job", h.GetRetryJob)
	mux.HandleFunc("GET /retry/jobs", h.ListRetryJobsByUser)

	// ========================================================================
	// Warmup Routes
	// ========================================================================
	mux.HandleFunc("POST /warmup/prompt", h.AddWarmupPrompt)
	mux.HandleFunc("POST /warmup/trigger", h.TriggerWarmup)
	mux.HandleFunc("POST /warmup/job/cancel", h.CancelWarmupJob)

	// ========================================================================
	// Invalidation Routes
	// ========================================================================
	mux.HandleFunc("POST /invalidate/tag", h.InvalidateByTag)
	mux.HandleFunc("POST /invalidate/user", h.InvalidateByUser)
	mux.HandleFunc("POST /invalidate/contract-analysis", h.InvalidateContractAnalysis)
	mux.HandleFunc("POST /invalidate/compliance-rules", h.InvalidateComplianceRules)
	mux.HandleFunc("POST /invalidate/jurisdiction", h.InvalidateJurisdiction)

	// ========================================================================
	// Trigger Routes
	// ========================================================================
	mux.HandleFunc("POST /trigger/new", h.AddTrigger)
	mux.HandleFunc("POST /trigger/activate", h.ActivateTrigger)
	mux.HandleFunc("POST /trigger/deactivate", h.DeactivateTrigger)
	mux.HandleFunc("POST /trigger/delete", h.DeleteTrigger)
	mux.HandleFunc("POST /event/inject", h.InjectEvent)

	// ========================================================================
	// Alert / Threshold / Clear Routes
	// ========================================================================
	mux.HandleFunc("POST /alert/resolve", h.ResolveAlert)
	mux.HandleFunc("POST /thresholds/update", h.UpdateThresholds)
	mux.HandleFunc("POST /clear", h.Clear)
}
