package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleRunningProcesses(w http.ResponseWriter, r *http.Request) {
	var names []string
	for _, name := range strings.Split(r.URL.Query().Get("names"), ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "names query parameter is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"running": s.probe.RunningAmong(r.Context(), names)})
}

func (s *Server) handleProcessStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    name,
		"running": s.probe.IsRunning(r.Context(), name),
	})
}

func (s *Server) handleKillProcess(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.probe.Kill(r.Context(), name); err != nil {
		s.logger.Warn("kill process", "process", name, "err", err)
		writeError(w, http.StatusConflict, "kill_failed", err.Error())
		return
	}
	s.logger.Info("process killed", "process", name)
	w.WriteHeader(http.StatusNoContent)
}
