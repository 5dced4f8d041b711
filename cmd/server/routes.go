package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seolha-lab/lexcache/internal/api"
	"github.com/seolha-lab/lexcache/internal/config"
)

// buildMux assembles the management mux: admin endpoints plus the metrics
// scrape path.
func buildMux(cfg *config.Config, handler *api.ManagementHandler) *http.ServeMux {
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
	}

	return mux
}
