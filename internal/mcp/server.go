// Package mcp exposes profile activation as Model Context Protocol tools.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"workswitch/internal/core"
	"workswitch/internal/store"
)

// MCPServer serves the workswitch tools over stdio or streamable HTTP.
type MCPServer struct {
	profiles     core.ProfileSource
	orchestrator *core.Orchestrator
	history      *store.Store
	logger       *slog.Logger
	location     *time.Location
	server       *server.MCPServer
}

// NewMCPServer creates the server and registers its tools.
func NewMCPServer(profiles core.ProfileSource, orchestrator *core.Orchestrator, history *store.Store, logger *slog.Logger, location *time.Location) *MCPServer {
	s := &MCPServer{
		profiles:     profiles,
		orchestrator: orchestrator,
		history:      history,
		logger:       logger,
		location:     location,
	}
	s.server = server.NewMCPServer(
		"workswitch",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	s.registerTools(s.server)
	return s
}

// Run serves over stdio until stdin closes.
func (s *MCPServer) Run() error {
	s.logger.Info("MCP server starting on stdio")
	return server.ServeStdio(s.server)
}

// HTTPHandler returns a streamable HTTP handler for mounting under /mcp.
func (s *MCPServer) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.server)
}

func (s *MCPServer) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(mcp.NewTool("list_profiles",
		mcp.WithDescription("List launch profiles with their steps and schedules"),
	), s.handleListProfiles)

	mcpServer.AddTool(mcp.NewTool("activate_profile",
		mcp.WithDescription("Start launching the enabled steps of a profile. Fails if another activation is in progress."),
		mcp.WithString("profile_id",
			mcp.Required(),
			mcp.Description("Profile ID"),
		),
	), s.handleActivateProfile)

	mcpServer.AddTool(mcp.NewTool("cancel_activation",
		mcp.WithDescription("Ask the in-flight activation to stop before its next step"),
	), s.handleCancelActivation)

	mcpServer.AddTool(mcp.NewTool("activation_status",
		mcp.WithDescription("Show whether an activation is running and its progress"),
	), s.handleActivationStatus)

	mcpServer.AddTool(mcp.NewTool("list_activations",
		mcp.WithDescription("Show recent activations, newest first"),
		mcp.WithString("profile_id",
			mcp.Description("Only show activations of this profile"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Number of activations to return, default 10"),
			mcp.Min(1),
			mcp.Max(100),
		),
	), s.handleListActivations)

	mcpServer.AddTool(mcp.NewTool("preview_schedule",
		mcp.WithDescription("Preview the next fire times of a daily HH:MM schedule"),
		mcp.WithString("time",
			mcp.Required(),
			mcp.Description("Time of day, HH:MM"),
		),
		mcp.WithArray("days",
			mcp.Description("Weekdays, 0 = Sunday ... 6 = Saturday. Empty means every day."),
			mcp.Items(map[string]any{"type": "integer", "minimum": 0, "maximum": 6}),
		),
		mcp.WithNumber("count",
			mcp.Description("Number of fire times, default 5"),
			mcp.Min(1),
			mcp.Max(10),
		),
	), s.handleSchedulePreview)

	s.logger.Debug("MCP tools registered", "count", 6)
}

func (s *MCPServer) handleListProfiles(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cfg, err := s.profiles.Load(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load profiles: %v", err)), nil
	}
	if len(cfg.Profiles) == 0 {
		return mcp.NewToolResultText("No profiles configured"), nil
	}

	now := time.Now().In(s.location)
	var b strings.Builder
	fmt.Fprintf(&b, "%d profile(s):\n\n", len(cfg.Profiles))
	for i := range cfg.Profiles {
		p := &cfg.Profiles[i]
		fmt.Fprintf(&b, "%s (%s)\n", p.Name, p.ID)
		if p.Description != "" {
			fmt.Fprintf(&b, "  %s\n", p.Description)
		}
		for j, step := range p.Steps {
			state := ""
			if !step.Enabled {
				state = " [disabled]"
			}
			fmt.Fprintf(&b, "  %d. %s [%s]%s\n", j+1, step.Name, step.Type, state)
		}
		if p.Schedule != nil && p.Schedule.Enabled {
			if next, err := p.Schedule.NextFireTimes(now, 1); err == nil && len(next) > 0 {
				fmt.Fprintf(&b, "  Next scheduled: %s\n", formatTime(next[0]))
			} else if err != nil {
				fmt.Fprintf(&b, "  Schedule invalid: %v\n", err)
			}
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleActivateProfile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	profileID := mcp.ParseString(request, "profile_id", "")
	activationID, profile, err := s.orchestrator.LaunchProfile(ctx, s.profiles, profileID)
	switch {
	case errors.Is(err, core.ErrProfileNotFound):
		return mcp.NewToolResultError(fmt.Sprintf("profile not found: %s", profileID)), nil
	case errors.Is(err, core.ErrAlreadyRunning):
		return mcp.NewToolResultError("an activation is already in progress"), nil
	case err != nil:
		s.logger.Error("activate profile", "profile_id", profileID, "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to activate profile: %v", err)), nil
	}
	s.logger.Info("profile activated via mcp", "profile_id", profile.ID, "activation_id", activationID)
	return mcp.NewToolResultText(fmt.Sprintf("Activating %s\nActivation ID: %s\nSteps: %d",
		profile.Name, activationID, len(profile.EnabledSteps()))), nil
}

func (s *MCPServer) handleCancelActivation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.orchestrator.Running() {
		return mcp.NewToolResultText("No activation is running"), nil
	}
	s.orchestrator.RequestCancel()
	return mcp.NewToolResultText("Cancel requested"), nil
}

func (s *MCPServer) handleActivationStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	state, ok := s.orchestrator.Current()
	if !ok {
		return mcp.NewToolResultText("Idle"), nil
	}
	result := fmt.Sprintf("Running: %s (%s)\n", state.ProfileName, state.ActivationID)
	if state.Total > 0 {
		result += fmt.Sprintf("Step %d/%d: %s\n", state.Current, state.Total, state.StepName)
	}
	result += fmt.Sprintf("Started: %s\n", formatTime(state.StartedAt))
	return mcp.NewToolResultText(result), nil
}

func (s *MCPServer) handleListActivations(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	records, err := s.history.ListActivations(ctx, store.ListFilter{
		ProfileID: mcp.ParseString(request, "profile_id", ""),
		Limit:     int(mcp.ParseFloat64(request, "limit", 10)),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list activations: %v", err)), nil
	}
	if len(records) == 0 {
		return mcp.NewToolResultText("No activations recorded"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d activation(s):\n\n", len(records))
	for _, rec := range records {
		fmt.Fprintf(&b, "%s %s (%s)\n", statusToIcon(rec.Status), rec.ProfileName, rec.ID)
		fmt.Fprintf(&b, "    Trigger: %s\n", rec.Trigger)
		fmt.Fprintf(&b, "    Steps: %d, failed: %d\n", rec.StepsTotal, rec.StepsFailed)
		fmt.Fprintf(&b, "    Started: %s\n", formatTime(rec.StartedAt))
		if rec.EndedAt != nil {
			fmt.Fprintf(&b, "    Ended: %s\n", formatTime(*rec.EndedAt))
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleSchedulePreview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sched := &core.Schedule{Enabled: true, Time: strings.TrimSpace(mcp.ParseString(request, "time", ""))}
	if raw, ok := mcp.ParseArgument(request, "days", nil).([]any); ok {
		for _, v := range raw {
			n, ok := v.(float64)
			if !ok {
				return mcp.NewToolResultError(fmt.Sprintf("invalid weekday %v", v)), nil
			}
			sched.Days = append(sched.Days, time.Weekday(int(n)))
		}
	}
	if err := sched.Validate(); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid schedule: %v", err)), nil
	}

	count := int(mcp.ParseFloat64(request, "count", 5))
	if count <= 0 || count > 10 {
		count = 5
	}
	times, err := sched.NextFireTimes(time.Now().In(s.location), count)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid schedule: %v", err)), nil
	}
	spec, _ := sched.CronSpec()

	result := fmt.Sprintf("Schedule: %s (cron %q)\n", sched.Time, spec)
	result += fmt.Sprintf("Time zone: %s\n\n", s.location)
	result += "Next fire times:\n"
	for i, t := range times {
		result += fmt.Sprintf("  %d. %s\n", i+1, formatTime(t))
	}
	return mcp.NewToolResultText(result), nil
}

func formatTime(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

func statusToIcon(status core.ActivationStatus) string {
	switch status {
	case core.ActivationStatusCompleted:
		return "✅"
	case core.ActivationStatusCancelled:
		return "🚫"
	case core.ActivationStatusRunning:
		return "▶️"
	default:
		return "❓"
	}
}
