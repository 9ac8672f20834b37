package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"workswitch/internal/core"
)

// Relay forwards scheduled launches and step failures from a Hub to a
// Notifier until ctx is done.
type Relay struct {
	hub      *Hub
	notifier Notifier
	logger   *slog.Logger
	timeout  time.Duration
}

func NewRelay(hub *Hub, notifier Notifier, logger *slog.Logger) *Relay {
	return &Relay{hub: hub, notifier: notifier, logger: logger, timeout: 10 * time.Second}
}

// Run blocks until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	events, unsubscribe := r.hub.Subscribe(64)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			title, body, ok := Message(ev)
			if !ok {
				continue
			}
			sendCtx, cancel := context.WithTimeout(ctx, r.timeout)
			if err := r.notifier.Send(sendCtx, title, body); err != nil {
				r.logger.Warn("send notification", "kind", ev.Kind, "err", err)
			}
			cancel()
		}
	}
}

// Message renders the notification for ev. Kinds that are not worth a push
// return ok=false.
func Message(ev core.Event) (title, body string, ok bool) {
	switch ev.Kind {
	case core.EventScheduledLaunchStarted:
		return "Scheduled launch", fmt.Sprintf("Launching profile %q", ev.ProfileName), true
	case core.EventStepError:
		return fmt.Sprintf("Step failed: %s", ev.StepName), ev.Error, true
	default:
		return "", "", false
	}
}
