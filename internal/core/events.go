package core

import (
	"time"
)

// EventKind names a notification published by the orchestrator and trigger loop.
type EventKind string

const (
	EventProgress               EventKind = "progress"
	EventStepError              EventKind = "step_error"
	EventCancelled              EventKind = "cancelled"
	EventComplete               EventKind = "complete"
	EventScheduledLaunchStarted EventKind = "scheduled_launch_started"
	EventConfigChanged          EventKind = "config_changed"
)

// Event is a one-way notification for outer layers. Fields not relevant
// to the kind are left zero.
type Event struct {
	Kind         EventKind `json:"kind"`
	ActivationID string    `json:"activation_id,omitempty"`
	ProfileID    string    `json:"profile_id,omitempty"`
	ProfileName  string    `json:"profile_name,omitempty"`
	StepName     string    `json:"step_name,omitempty"`
	Current      int       `json:"current,omitempty"`
	Total        int       `json:"total,omitempty"`
	Error        string    `json:"error,omitempty"`
	At           time.Time `json:"at"`
}

// Sink receives events. Implementations must not block the caller for long
// and have no way to report failure.
type Sink interface {
	Publish(ev Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ev Event)

func (f SinkFunc) Publish(ev Event) { f(ev) }

type discardSink struct{}

func (discardSink) Publish(Event) {}
