package notify

import (
	"context"
	"errors"
	"log/slog"

	"workswitch/internal/config"
)

// Notifier delivers a short human-readable message to the user.
type Notifier interface {
	Send(ctx context.Context, title, body string) error
}

// MultiNotifier fans a message out to several notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send tries every notifier and joins the failures.
func (m *MultiNotifier) Send(ctx context.Context, title, body string) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Send(ctx, title, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NoOpNotifier does nothing.
type NoOpNotifier struct{}

func (n *NoOpNotifier) Send(ctx context.Context, title, body string) error {
	return nil
}

// Build assembles the enabled notifiers from cfg. Notifiers that fail to
// initialise are logged and skipped; with none left it returns a NoOpNotifier.
func Build(cfg config.NotificationConfig, logger *slog.Logger) Notifier {
	var notifiers []Notifier
	if bark := cfg.Bark; bark.Enabled {
		bn, err := NewBarkNotifier(bark.URL)
		if err != nil {
			logger.Warn("bark notifier disabled", "err", err)
		} else {
			notifiers = append(notifiers, bn)
			logger.Info("bark notifications enabled")
		}
	}
	if len(notifiers) == 0 {
		return &NoOpNotifier{}
	}
	return NewMultiNotifier(notifiers...)
}
