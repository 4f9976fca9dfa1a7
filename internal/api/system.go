package api

import (
	"net/http"
	"time"
)

// handleReload refreshes the device and automation registries from storage
// and resyncs transport workers with the gateway list.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.reload == nil {
		writeUnavailable(w, "reload not configured")
		return
	}

	start := time.Now()
	if err := s.reload(r.Context()); err != nil {
		s.logger.Error("registry reload failed", "error", err)
		writeInternalError(w, "reload failed: "+err.Error())
		return
	}

	s.logger.Info("registries reloaded via API", "duration_ms", time.Since(start).Milliseconds())
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"registry": s.registry.Stats(),
	})
}

// handleListSchedules returns the cached schedules.
func (s *Server) handleListSchedules(w http.ResponseWriter, _ *http.Request) {
	if s.rules == nil {
		writeUnavailable(w, "automation not configured")
		return
	}
	schedules := s.rules.Schedules()
	writeJSON(w, http.StatusOK, map[string]any{"schedules": schedules, "count": len(schedules)})
}

// handleListTriggers returns the cached triggers with their last firing.
func (s *Server) handleListTriggers(w http.ResponseWriter, _ *http.Request) {
	if s.rules == nil {
		writeUnavailable(w, "automation not configured")
		return
	}
	triggers := s.rules.Triggers()
	writeJSON(w, http.StatusOK, map[string]any{"triggers": triggers, "count": len(triggers)})
}
