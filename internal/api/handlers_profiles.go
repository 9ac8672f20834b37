package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"workswitch/internal/core"
)

const maxImportBytes = 1 << 20

type stepResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	Enabled      bool   `json:"enabled"`
	DelayAfterMS int64  `json:"delay_after_ms"`
	ProcessName  string `json:"process_name,omitempty"`
	Target       string `json:"target,omitempty"`
	CheckRunning bool   `json:"check_running"`
	Command      string `json:"command,omitempty"`
	WorkingDir   string `json:"working_dir,omitempty"`
	KeepOpen     bool   `json:"keep_open"`
}

type scheduleResponse struct {
	Enabled bool    `json:"enabled"`
	Time    string  `json:"time"`
	Days    []int   `json:"days"`
	Cron    string  `json:"cron,omitempty"`
	NextRun *string `json:"next_run,omitempty"`
	Invalid string  `json:"invalid,omitempty"`
}

type profileResponse struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Steps       []stepResponse    `json:"steps"`
	Schedule    *scheduleResponse `json:"schedule,omitempty"`
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.profiles.Load(r.Context())
	if err != nil {
		s.logger.Error("load profiles", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load profiles")
		return
	}
	now := time.Now().In(s.location)
	resp := make([]profileResponse, 0, len(cfg.Profiles))
	for i := range cfg.Profiles {
		resp = append(resp, profileToResponse(&cfg.Profiles[i], now))
	}
	writeJSON(w, http.StatusOK, map[string]any{"profiles": resp})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.profiles.Load(r.Context())
	if err != nil {
		s.logger.Error("load profiles", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load profiles")
		return
	}
	profile, ok := cfg.FindProfile(chi.URLParam(r, "profileID"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "profile not found")
		return
	}
	writeJSON(w, http.StatusOK, profileToResponse(profile, time.Now().In(s.location)))
}

func (s *Server) handleExportProfile(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "profileID")
	data, err := s.profiles.ExportProfile(r.Context(), profileID)
	if err != nil {
		if errors.Is(err, core.ErrProfileNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "profile not found")
		} else {
			s.logger.Error("export profile", "profile_id", profileID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to export profile")
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+profileID+`.json"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleImportProfile(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to read body")
		return
	}
	profile, err := s.profiles.ImportProfile(r.Context(), data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_profile", err.Error())
		return
	}
	s.logger.Info("profile imported", "profile_id", profile.ID, "profile", profile.Name)
	writeJSON(w, http.StatusCreated, profileToResponse(profile, time.Now().In(s.location)))
}

func (s *Server) handleActivateProfile(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "profileID")
	activationID, profile, err := s.orchestrator.LaunchProfile(r.Context(), s.profiles, profileID)
	switch {
	case errors.Is(err, core.ErrProfileNotFound):
		writeError(w, http.StatusNotFound, "not_found", "profile not found")
		return
	case errors.Is(err, core.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "already_running", "an activation is already in progress")
		return
	case err != nil:
		s.logger.Error("activate profile", "profile_id", profileID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to activate profile")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"activation_id": activationID,
		"profile_id":    profile.ID,
		"profile_name":  profile.Name,
	})
}

func profileToResponse(p *core.Profile, now time.Time) profileResponse {
	resp := profileResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Steps:       make([]stepResponse, 0, len(p.Steps)),
	}
	for _, step := range p.Steps {
		resp.Steps = append(resp.Steps, stepResponse{
			ID:           step.ID,
			Name:         step.Name,
			Type:         string(step.Type),
			Enabled:      step.Enabled,
			DelayAfterMS: step.DelayAfter.Milliseconds(),
			ProcessName:  step.ProcessName,
			Target:       step.Target,
			CheckRunning: step.CheckRunning,
			Command:      step.Command,
			WorkingDir:   step.WorkingDir,
			KeepOpen:     step.KeepOpen,
		})
	}
	if p.Schedule != nil {
		resp.Schedule = scheduleToResponse(p.Schedule, now)
	}
	return resp
}

func scheduleToResponse(sched *core.Schedule, now time.Time) *scheduleResponse {
	resp := &scheduleResponse{
		Enabled: sched.Enabled,
		Time:    sched.Time,
		Days:    make([]int, 0, len(sched.Days)),
	}
	for _, d := range sched.Days {
		resp.Days = append(resp.Days, int(d))
	}
	spec, err := sched.CronSpec()
	if err != nil {
		resp.Invalid = err.Error()
		return resp
	}
	resp.Cron = spec
	if sched.Enabled {
		if next, err := sched.NextFireTimes(now, 1); err == nil && len(next) > 0 {
			resp.NextRun = formatTimePtr(&next[0])
		}
	}
	return resp
}
