package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

const (
	defaultStepTimeout = 15 * time.Second
	defaultCancelPoll  = 50 * time.Millisecond
	defaultDelaySlice  = 100 * time.Millisecond
)

// Timing tunes the interactive run loop. Zero values fall back to defaults.
type Timing struct {
	StepTimeout time.Duration
	CancelPoll  time.Duration
	DelaySlice  time.Duration
}

func (t Timing) withDefaults() Timing {
	if t.StepTimeout <= 0 {
		t.StepTimeout = defaultStepTimeout
	}
	if t.CancelPoll <= 0 {
		t.CancelPoll = defaultCancelPoll
	}
	if t.DelaySlice <= 0 {
		t.DelaySlice = defaultDelaySlice
	}
	return t
}

// ActivationState is a snapshot of the in-flight interactive activation.
type ActivationState struct {
	ActivationID string
	ProfileID    string
	ProfileName  string
	StepName     string
	Current      int
	Total        int
	StartedAt    time.Time
}

// Orchestrator runs interactive activations one at a time.
type Orchestrator struct {
	executor StepExecutor
	sink     Sink
	recorder recorder
	logger   *slog.Logger
	timing   Timing

	running atomic.Bool
	cancel  atomic.Bool

	current       atomic.Pointer[ActivationState]
	lastProcesses atomic.Pointer[[]string]

	ctx atomic.Pointer[context.Context]
}

// NewOrchestrator constructs an orchestrator. history may be nil.
func NewOrchestrator(executor StepExecutor, sink Sink, history History, logger *slog.Logger, timing Timing) *Orchestrator {
	if sink == nil {
		sink = discardSink{}
	}
	return &Orchestrator{
		executor: executor,
		sink:     sink,
		recorder: recorder{history: history, logger: logger},
		logger:   logger,
		timing:   timing.withDefaults(),
	}
}

// Start binds the context used by activations started through Launch.
func (o *Orchestrator) Start(ctx context.Context) {
	o.ctx.Store(&ctx)
}

// Activate runs the activation to completion or cancellation on the calling
// goroutine. It returns ErrAlreadyRunning without side effects when another
// interactive activation holds the run slot.
func (o *Orchestrator) Activate(ctx context.Context, a Activation) (Outcome, error) {
	if !o.running.CompareAndSwap(false, true) {
		return OutcomeAlreadyRunning, ErrAlreadyRunning
	}
	a = prepare(a)
	return o.run(ctx, a, o.begin(a)), nil
}

// Launch claims the run slot synchronously and runs the activation in the
// background. The returned id identifies the activation in events and history.
func (o *Orchestrator) Launch(a Activation) (string, error) {
	if !o.running.CompareAndSwap(false, true) {
		return "", ErrAlreadyRunning
	}
	a = prepare(a)
	startedAt := o.begin(a)
	go o.run(o.ctxOrBackground(), a, startedAt)
	return a.ID, nil
}

// LaunchProfile loads the configuration, looks up profileID and launches its
// enabled steps as a manual activation.
func (o *Orchestrator) LaunchProfile(ctx context.Context, source ProfileSource, profileID string) (string, *Profile, error) {
	cfg, err := source.Load(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("load profiles: %w", err)
	}
	profile, ok := cfg.FindProfile(profileID)
	if !ok {
		return "", nil, ErrProfileNotFound
	}
	id, err := o.Launch(profile.NewActivation(TriggerManual, cfg.Settings))
	if err != nil {
		return "", profile, err
	}
	return id, profile, nil
}

// RequestCancel asks the in-flight activation to stop. It never blocks; the
// flag is cleared when the next activation starts, so calling it while idle
// has no effect.
func (o *Orchestrator) RequestCancel() {
	o.cancel.Store(true)
}

// Running reports whether an interactive activation holds the run slot.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// Current returns a snapshot of the in-flight activation, if any.
func (o *Orchestrator) Current() (ActivationState, bool) {
	state := o.current.Load()
	if state == nil {
		return ActivationState{}, false
	}
	return *state, true
}

// LastLaunchProcesses returns the process names of the most recent interactive activation.
func (o *Orchestrator) LastLaunchProcesses() []string {
	names := o.lastProcesses.Load()
	if names == nil {
		return nil
	}
	return append([]string(nil), (*names)...)
}

func prepare(a Activation) Activation {
	if a.ID == "" {
		a.ID = NewID()
	}
	if a.Trigger == "" {
		a.Trigger = TriggerManual
	}
	return a
}

// begin resets per-activation state right after the run slot is claimed, so
// a cancel requested after Launch returns is never lost.
func (o *Orchestrator) begin(a Activation) time.Time {
	o.cancel.Store(false)

	names := ProcessNames(a.Steps)
	o.lastProcesses.Store(&names)

	startedAt := time.Now().UTC()
	o.current.Store(&ActivationState{
		ActivationID: a.ID,
		ProfileID:    a.ProfileID,
		ProfileName:  a.ProfileName,
		Total:        len(a.Steps),
		StartedAt:    startedAt,
	})
	return startedAt
}

func (o *Orchestrator) run(ctx context.Context, a Activation, startedAt time.Time) Outcome {
	defer o.release()

	total := len(a.Steps)
	o.recorder.start(ctx, a)
	o.logger.Info("activation started", "activation_id", a.ID, "profile_id", a.ProfileID, "steps", total)

	failed := 0
	for i, step := range a.Steps {
		if o.cancel.Load() || ctx.Err() != nil {
			return o.cancelled(ctx, a, failed)
		}

		o.current.Store(&ActivationState{
			ActivationID: a.ID,
			ProfileID:    a.ProfileID,
			ProfileName:  a.ProfileName,
			StepName:     step.Name,
			Current:      i + 1,
			Total:        total,
			StartedAt:    startedAt,
		})
		o.publish(Event{
			Kind:         EventProgress,
			ActivationID: a.ID,
			ProfileID:    a.ProfileID,
			ProfileName:  a.ProfileName,
			StepName:     step.Name,
			Current:      i + 1,
			Total:        total,
		})

		stepStarted := time.Now()
		cancelled, err := runBounded(ctx, o.executor, step, raceOptions{
			timeout: o.timing.StepTimeout,
			cancel:  &o.cancel,
			poll:    o.timing.CancelPoll,
		})
		if cancelled {
			return o.cancelled(ctx, a, failed)
		}
		if err != nil {
			failed++
			stepErr := &StepError{Step: step.Name, Err: err}
			o.logger.Warn("step failed", "activation_id", a.ID, "step", step.Name, "err", err)
			o.publish(Event{
				Kind:         EventStepError,
				ActivationID: a.ID,
				ProfileID:    a.ProfileID,
				ProfileName:  a.ProfileName,
				StepName:     step.Name,
				Error:        stepErr.Err.Error(),
			})
		}
		o.recorder.step(ctx, a, i+1, step, stepStarted, err)

		if !o.wait(ctx, max(step.DelayAfter, a.DefaultDelay)) {
			return o.cancelled(ctx, a, failed)
		}
	}

	o.publish(Event{Kind: EventComplete, ActivationID: a.ID, ProfileID: a.ProfileID, ProfileName: a.ProfileName})
	o.recorder.finish(ctx, a, ActivationStatusCompleted, failed)
	o.logger.Info("activation complete", "activation_id", a.ID, "failed_steps", failed)
	return OutcomeCompleted
}

// wait sleeps for d in slices, returning false as soon as cancellation is observed.
func (o *Orchestrator) wait(ctx context.Context, d time.Duration) bool {
	remaining := d
	for remaining > 0 {
		if o.cancel.Load() {
			return false
		}
		slice := min(remaining, o.timing.DelaySlice)
		timer := time.NewTimer(slice)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
		remaining -= slice
	}
	return true
}

func (o *Orchestrator) cancelled(ctx context.Context, a Activation, failed int) Outcome {
	o.publish(Event{Kind: EventCancelled, ActivationID: a.ID, ProfileID: a.ProfileID, ProfileName: a.ProfileName})
	o.recorder.finish(ctx, a, ActivationStatusCancelled, failed)
	o.logger.Info("activation cancelled", "activation_id", a.ID)
	return OutcomeCancelled
}

func (o *Orchestrator) release() {
	o.current.Store(nil)
	o.running.Store(false)
}

func (o *Orchestrator) publish(ev Event) {
	safePublish(o.sink, o.logger, ev)
}

func (o *Orchestrator) ctxOrBackground() context.Context {
	if ctx := o.ctx.Load(); ctx != nil {
		return *ctx
	}
	return context.Background()
}
