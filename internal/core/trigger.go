package core

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultPollInterval = 30 * time.Second
	defaultDelayFloor   = 500 * time.Millisecond
)

// TriggerConfig tunes the trigger loop. Zero values fall back to defaults.
type TriggerConfig struct {
	PollInterval time.Duration
	DelayFloor   time.Duration
	// StepTimeout bounds each unattended step. Zero leaves steps unbounded.
	StepTimeout time.Duration
	Location    *time.Location
}

// TriggerLoop fires scheduled profiles. It is independent of the
// Orchestrator's run slot and cancel flag.
type TriggerLoop struct {
	source   ProfileSource
	executor StepExecutor
	sink     Sink
	recorder recorder
	logger   *slog.Logger
	cfg      TriggerConfig
	now      func() time.Time

	lastMinute string
	fired      map[string]struct{}
}

// NewTriggerLoop constructs a trigger loop. history may be nil.
func NewTriggerLoop(source ProfileSource, executor StepExecutor, sink Sink, history History, logger *slog.Logger, cfg TriggerConfig) *TriggerLoop {
	if sink == nil {
		sink = discardSink{}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.DelayFloor <= 0 {
		cfg.DelayFloor = defaultDelayFloor
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &TriggerLoop{
		source:   source,
		executor: executor,
		sink:     sink,
		recorder: recorder{history: history, logger: logger},
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
		fired:    make(map[string]struct{}),
	}
}

// Run polls until ctx is done.
func (t *TriggerLoop) Run(ctx context.Context) {
	t.logger.Info("trigger loop started", "poll_interval", t.cfg.PollInterval)
	timer := time.NewTimer(t.cfg.PollInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("trigger loop stopped")
			return
		case <-timer.C:
		}
		t.Tick(ctx, t.now())
		timer.Reset(t.cfg.PollInterval)
	}
}

// Tick evaluates all schedules against now and runs the matching profiles
// synchronously. It returns the ids of the profiles fired during this call.
// Tick is not safe for concurrent use.
func (t *TriggerLoop) Tick(ctx context.Context, now time.Time) []string {
	now = now.In(t.cfg.Location)
	minute := now.Format("2006-01-02 15:04")
	if minute != t.lastMinute {
		clear(t.fired)
		t.lastMinute = minute
	}

	cfg, err := t.source.Load(ctx)
	if err != nil {
		t.logger.Warn("load profiles for schedule check", "err", err)
		return nil
	}

	clock := now.Format("15:04")
	day := now.Weekday()
	var fired []string
	for i := range cfg.Profiles {
		profile := &cfg.Profiles[i]
		if !t.due(profile, clock, day) {
			continue
		}
		t.fired[profile.ID] = struct{}{}
		fired = append(fired, profile.ID)

		safePublish(t.sink, t.logger, Event{
			Kind:        EventScheduledLaunchStarted,
			ProfileID:   profile.ID,
			ProfileName: profile.Name,
		})
		t.logger.Info("scheduled launch", "profile_id", profile.ID, "profile", profile.Name)
		t.RunUnattended(ctx, Activation{
			ID:          NewID(),
			ProfileID:   profile.ID,
			ProfileName: profile.Name,
			Trigger:     TriggerScheduled,
			Steps:       profile.EnabledSteps(),
		})
		if ctx.Err() != nil {
			break
		}
	}
	return fired
}

func (t *TriggerLoop) due(profile *Profile, clock string, day time.Weekday) bool {
	schedule := profile.Schedule
	if schedule == nil || !schedule.Enabled {
		return false
	}
	if err := schedule.Validate(); err != nil {
		t.logger.Warn("skipping malformed schedule", "profile_id", profile.ID, "err", err)
		return false
	}
	if !schedule.Matches(clock, day) {
		return false
	}
	_, seen := t.fired[profile.ID]
	return !seen
}

// RunUnattended runs the steps in order without a cancel path. Failures are
// logged and published, and never stop the remaining steps. Only ctx (process
// shutdown) ends the run early.
func (t *TriggerLoop) RunUnattended(ctx context.Context, a Activation) {
	if a.ID == "" {
		a.ID = NewID()
	}
	if a.Trigger == "" {
		a.Trigger = TriggerScheduled
	}
	t.recorder.start(ctx, a)

	failed := 0
	for i, step := range a.Steps {
		if ctx.Err() != nil {
			t.recorder.finish(ctx, a, ActivationStatusCancelled, failed)
			return
		}
		started := time.Now()
		cancelled, err := runBounded(ctx, t.executor, step, raceOptions{timeout: t.cfg.StepTimeout})
		if cancelled {
			t.recorder.finish(ctx, a, ActivationStatusCancelled, failed)
			return
		}
		if err != nil {
			failed++
			t.logger.Warn("unattended step failed",
				"trigger", a.Trigger, "profile", a.ProfileName, "step", step.Name, "err", err)
			safePublish(t.sink, t.logger, Event{
				Kind:         EventStepError,
				ActivationID: a.ID,
				ProfileID:    a.ProfileID,
				ProfileName:  a.ProfileName,
				StepName:     step.Name,
				Error:        err.Error(),
			})
		}
		t.recorder.step(ctx, a, i+1, step, started, err)

		timer := time.NewTimer(max(step.DelayAfter, t.cfg.DelayFloor))
		select {
		case <-ctx.Done():
			timer.Stop()
			t.recorder.finish(ctx, a, ActivationStatusCancelled, failed)
			return
		case <-timer.C:
		}
	}
	t.recorder.finish(ctx, a, ActivationStatusCompleted, failed)
}
