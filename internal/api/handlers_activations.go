package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"workswitch/internal/core"
	"workswitch/internal/store"
)

type activationResponse struct {
	ID          string               `json:"id"`
	ProfileID   string               `json:"profile_id"`
	ProfileName string               `json:"profile_name"`
	Trigger     string               `json:"trigger"`
	Status      string               `json:"status"`
	StepsTotal  int                  `json:"steps_total"`
	StepsFailed int                  `json:"steps_failed"`
	StartedAt   string               `json:"started_at"`
	EndedAt     *string              `json:"ended_at,omitempty"`
	Steps       []stepResultResponse `json:"steps,omitempty"`
}

type stepResultResponse struct {
	Position  int     `json:"position"`
	StepID    string  `json:"step_id"`
	StepName  string  `json:"step_name"`
	Status    string  `json:"status"`
	Error     *string `json:"error,omitempty"`
	StartedAt string  `json:"started_at"`
	EndedAt   string  `json:"ended_at"`
}

type activationStatusResponse struct {
	Running    bool                    `json:"running"`
	Activation *currentActivationState `json:"activation,omitempty"`
}

type currentActivationState struct {
	ActivationID string `json:"activation_id"`
	ProfileID    string `json:"profile_id"`
	ProfileName  string `json:"profile_name"`
	StepName     string `json:"step_name,omitempty"`
	Current      int    `json:"current"`
	Total        int    `json:"total"`
	StartedAt    string `json:"started_at"`
}

func (s *Server) handleActivationStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse(s.orchestrator))
}

func (s *Server) handleCancelActivation(w http.ResponseWriter, r *http.Request) {
	running := s.orchestrator.Running()
	s.orchestrator.RequestCancel()
	if running {
		s.logger.Info("activation cancel requested")
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"cancel_requested": true, "running": running})
}

func (s *Server) handleListActivations(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := parseIntDefault(query.Get("limit"), 20)
	if limit > 200 {
		limit = 200
	}
	records, err := s.history.ListActivations(r.Context(), store.ListFilter{
		ProfileID: query.Get("profile_id"),
		Limit:     limit,
		Offset:    parseIntDefault(query.Get("offset"), 0),
	})
	if err != nil {
		s.logger.Error("list activations", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list activations")
		return
	}
	resp := make([]activationResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, activationToResponse(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"activations": resp})
}

func (s *Server) handleGetActivation(w http.ResponseWriter, r *http.Request) {
	activationID := chi.URLParam(r, "activationID")
	rec, err := s.history.GetActivation(r.Context(), activationID)
	if err != nil {
		if errors.Is(err, store.ErrActivationNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "activation not found")
		} else {
			s.logger.Error("get activation", "activation_id", activationID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load activation")
		}
		return
	}
	writeJSON(w, http.StatusOK, activationToResponse(rec))
}

func statusResponse(o *core.Orchestrator) activationStatusResponse {
	resp := activationStatusResponse{Running: o.Running()}
	if state, ok := o.Current(); ok {
		resp.Activation = &currentActivationState{
			ActivationID: state.ActivationID,
			ProfileID:    state.ProfileID,
			ProfileName:  state.ProfileName,
			StepName:     state.StepName,
			Current:      state.Current,
			Total:        state.Total,
			StartedAt:    formatTime(state.StartedAt),
		}
	}
	return resp
}

func activationToResponse(rec *core.ActivationRecord) activationResponse {
	resp := activationResponse{
		ID:          rec.ID,
		ProfileID:   rec.ProfileID,
		ProfileName: rec.ProfileName,
		Trigger:     string(rec.Trigger),
		Status:      string(rec.Status),
		StepsTotal:  rec.StepsTotal,
		StepsFailed: rec.StepsFailed,
		StartedAt:   formatTime(rec.StartedAt),
		EndedAt:     formatTimePtr(rec.EndedAt),
	}
	for _, step := range rec.Steps {
		resp.Steps = append(resp.Steps, stepResultResponse{
			Position:  step.Position,
			StepID:    step.StepID,
			StepName:  step.StepName,
			Status:    string(step.Status),
			Error:     step.Error,
			StartedAt: formatTime(step.StartedAt),
			EndedAt:   formatTime(step.EndedAt),
		})
	}
	return resp
}
