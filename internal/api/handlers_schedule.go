package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"workswitch/internal/core"
)

type schedulePreviewRequest struct {
	Time  string `json:"time"`
	Days  []int  `json:"days,omitempty"`
	Now   string `json:"now,omitempty"`
	Count int    `json:"count,omitempty"`
}

type schedulePreviewResponse struct {
	Valid     bool     `json:"valid"`
	Cron      string   `json:"cron,omitempty"`
	NextTimes []string `json:"next_times,omitempty"`
	Message   string   `json:"message,omitempty"`
}

func (s *Server) handleSchedulePreview(w http.ResponseWriter, r *http.Request) {
	var req schedulePreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, schedulePreviewResponse{Valid: false, Message: "invalid JSON payload"})
		return
	}
	if strings.TrimSpace(req.Time) == "" {
		writeJSON(w, http.StatusBadRequest, schedulePreviewResponse{Valid: false, Message: "time is required"})
		return
	}

	sched := &core.Schedule{Enabled: true, Time: strings.TrimSpace(req.Time)}
	for _, d := range req.Days {
		sched.Days = append(sched.Days, time.Weekday(d))
	}
	if err := sched.Validate(); err != nil {
		writeJSON(w, http.StatusOK, schedulePreviewResponse{Valid: false, Message: err.Error()})
		return
	}

	count := req.Count
	if count <= 0 || count > 10 {
		count = 5
	}
	base := time.Now().In(s.location)
	if req.Now != "" {
		if parsed, err := time.Parse(time.RFC3339, req.Now); err == nil {
			base = parsed.In(s.location)
		}
	}

	spec, _ := sched.CronSpec()
	times, err := sched.NextFireTimes(base, count)
	if err != nil {
		writeJSON(w, http.StatusOK, schedulePreviewResponse{Valid: false, Message: err.Error()})
		return
	}
	formatted := make([]string, 0, len(times))
	for _, t := range times {
		formatted = append(formatted, formatTime(t))
	}
	writeJSON(w, http.StatusOK, schedulePreviewResponse{Valid: true, Cron: spec, NextTimes: formatted})
}
