package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// StepExecutor performs the platform action for one step. RunStep may block
// indefinitely; callers race it and may abandon it.
type StepExecutor interface {
	RunStep(ctx context.Context, step Step) error
}

// StepExecutorFunc adapts a function to the StepExecutor interface.
type StepExecutorFunc func(ctx context.Context, step Step) error

func (f StepExecutorFunc) RunStep(ctx context.Context, step Step) error { return f(ctx, step) }

// ProfileSource loads the configuration root. Implementations are expected to
// read fresh state on every call.
type ProfileSource interface {
	Load(ctx context.Context) (*AppConfig, error)
}

// History persists activation records. All calls are best-effort from the
// core's point of view.
type History interface {
	InsertActivation(ctx context.Context, rec *ActivationRecord) error
	RecordStepResult(ctx context.Context, activationID string, res StepResult) error
	MarkActivationFinished(ctx context.Context, id string, status ActivationStatus, stepsFailed int, endedAt time.Time) error
	PruneActivations(ctx context.Context, profileID string) error
}

type raceOptions struct {
	timeout time.Duration // zero disables the ceiling
	cancel  *atomic.Bool  // nil disables cancellation polling
	poll    time.Duration
}

// runBounded runs the executor on its own goroutine and waits for whichever
// comes first: the executor result, a raised cancel flag, the timeout, or ctx.
// When cancelled is true the executor goroutine has been abandoned.
func runBounded(ctx context.Context, executor StepExecutor, step Step, opts raceOptions) (cancelled bool, err error) {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("step panicked: %v", r)
			}
		}()
		done <- executor.RunStep(ctx, step)
	}()

	var timeoutC <-chan time.Time
	if opts.timeout > 0 {
		timer := time.NewTimer(opts.timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}
	var pollC <-chan time.Time
	if opts.cancel != nil {
		ticker := time.NewTicker(opts.poll)
		defer ticker.Stop()
		pollC = ticker.C
	}

	for {
		select {
		case err := <-done:
			return false, err
		case <-pollC:
			if opts.cancel.Load() {
				return true, nil
			}
		case <-timeoutC:
			return false, fmt.Errorf("%w after %s", ErrStepTimedOut, opts.timeout)
		case <-ctx.Done():
			return true, nil
		}
	}
}

func safePublish(sink Sink, logger *slog.Logger, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("publish event", "kind", ev.Kind, "panic", r)
		}
	}()
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	sink.Publish(ev)
}

// recorder writes history without letting storage problems reach the run loop.
type recorder struct {
	history History
	logger  *slog.Logger
}

func (r recorder) start(ctx context.Context, a Activation) {
	if r.history == nil {
		return
	}
	rec := &ActivationRecord{
		ID:          a.ID,
		ProfileID:   a.ProfileID,
		ProfileName: a.ProfileName,
		Trigger:     a.Trigger,
		Status:      ActivationStatusRunning,
		StepsTotal:  len(a.Steps),
		StartedAt:   time.Now().UTC(),
	}
	if err := r.history.InsertActivation(context.WithoutCancel(ctx), rec); err != nil {
		r.logger.Warn("record activation", "activation_id", a.ID, "err", err)
	}
}

func (r recorder) step(ctx context.Context, a Activation, position int, step Step, startedAt time.Time, stepErr error) {
	if r.history == nil {
		return
	}
	res := StepResult{
		Position:  position,
		StepID:    step.ID,
		StepName:  step.Name,
		Status:    stepStatusFor(stepErr),
		StartedAt: startedAt.UTC(),
		EndedAt:   time.Now().UTC(),
	}
	if stepErr != nil {
		msg := stepErr.Error()
		res.Error = &msg
	}
	if err := r.history.RecordStepResult(context.WithoutCancel(ctx), a.ID, res); err != nil {
		r.logger.Warn("record step result", "activation_id", a.ID, "step", step.Name, "err", err)
	}
}

func (r recorder) finish(ctx context.Context, a Activation, status ActivationStatus, failed int) {
	if r.history == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := r.history.MarkActivationFinished(ctx, a.ID, status, failed, time.Now().UTC()); err != nil {
		r.logger.Warn("finish activation", "activation_id", a.ID, "err", err)
	}
	if err := r.history.PruneActivations(ctx, a.ProfileID); err != nil {
		r.logger.Warn("prune activations", "profile_id", a.ProfileID, "err", err)
	}
}
