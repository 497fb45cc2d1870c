package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
)

// adminHandler serves operational endpoints: liveness, prometheus metrics,
// and the active configuration.
func (s *Server) adminHandler() http.Handler {
	router := httprouter.New()

	router.Handler(http.MethodGet, "/metrics", s.stats.Handler())

	router.HandlerFunc(http.MethodGet, "/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"uptime": time.Since(s.startTime).String(),
		})
	})

	router.HandlerFunc(http.MethodGet, "/config", func(w http.ResponseWriter, r *http.Request) {
		rt := s.gateway.Runtime()
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.Encode(map[string]any{
			"routes":          len(rt.Config().Routes),
			"transformations": rt.Registry().Len(),
			"clusters":        len(rt.Config().Clusters),
			"config":          rt.Config(),
		})
	})

	return router
}
