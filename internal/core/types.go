package core

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// StepType identifies the kind of action a step performs.
type StepType string

const (
	StepTypeApp      StepType = "app"
	StepTypeTerminal StepType = "terminal"
	StepTypeFolder   StepType = "folder"
	StepTypeURL      StepType = "url"
)

// Valid reports whether t is one of the known step types.
func (t StepType) Valid() bool {
	switch t {
	case StepTypeApp, StepTypeTerminal, StepTypeFolder, StepTypeURL:
		return true
	default:
		return false
	}
}

// DefaultStepDelay is applied when a step does not declare its own delay.
const DefaultStepDelay = 500 * time.Millisecond

// Step is a single launchable action within a profile.
type Step struct {
	ID          string
	Name        string
	Type        StepType
	Enabled     bool
	DelayAfter  time.Duration
	ProcessName string

	// app, folder and url
	Target       string
	CheckRunning bool

	// terminal
	Command    string
	WorkingDir string
	KeepOpen   bool
}

// Schedule fires a profile at a time of day on a set of weekdays.
// An empty Days slice means every day.
type Schedule struct {
	Enabled bool
	Time    string
	Days    []time.Weekday
}

// Matches reports whether the schedule should fire at the given minute key ("15:04")
// and weekday. Enabled state is not considered.
func (s *Schedule) Matches(clock string, day time.Weekday) bool {
	if s.Time != clock {
		return false
	}
	if len(s.Days) > 0 && !slices.Contains(s.Days, day) {
		return false
	}
	return true
}

// Validate checks the time-of-day and weekday values.
func (s *Schedule) Validate() error {
	if _, _, err := ParseTimeOfDay(s.Time); err != nil {
		return err
	}
	for _, d := range s.Days {
		if d < time.Sunday || d > time.Saturday {
			return fmt.Errorf("invalid weekday %d", d)
		}
	}
	return nil
}

// ParseTimeOfDay parses an "HH:MM" trigger value.
func ParseTimeOfDay(value string) (hour, minute int, err error) {
	parts := strings.Split(value, ":")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return 0, 0, fmt.Errorf("invalid time of day %q: expected HH:MM", value)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", value)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", value)
	}
	return hour, minute, nil
}

// Profile is a named, ordered collection of steps.
type Profile struct {
	ID          string
	Name        string
	Description string
	Steps       []Step
	Schedule    *Schedule
}

// EnabledSteps returns the profile's enabled steps in order.
func (p *Profile) EnabledSteps() []Step {
	steps := make([]Step, 0, len(p.Steps))
	for _, step := range p.Steps {
		if step.Enabled {
			steps = append(steps, step)
		}
	}
	return steps
}

// NewActivation builds an activation of the profile's enabled steps.
func (p *Profile) NewActivation(trigger Trigger, settings Settings) Activation {
	return Activation{
		ProfileID:    p.ID,
		ProfileName:  p.Name,
		Trigger:      trigger,
		Steps:        p.EnabledSteps(),
		DefaultDelay: settings.LaunchDelay,
	}
}

// ProcessNames returns the distinct non-empty process names of the given steps.
func ProcessNames(steps []Step) []string {
	var names []string
	for _, step := range steps {
		if step.ProcessName == "" || slices.Contains(names, step.ProcessName) {
			continue
		}
		names = append(names, step.ProcessName)
	}
	return names
}

// Settings holds global launch behaviour.
type Settings struct {
	LaunchDelay time.Duration
	CloseOnExit bool
}

// AppConfig is the configuration root handed to the core by a ProfileSource.
type AppConfig struct {
	Settings     Settings
	Profiles     []Profile
	StartupSteps []Step
}

// FindProfile returns the profile with the given id.
func (c *AppConfig) FindProfile(id string) (*Profile, bool) {
	for i := range c.Profiles {
		if c.Profiles[i].ID == id {
			return &c.Profiles[i], true
		}
	}
	return nil, false
}

// Trigger records what started an activation.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
	TriggerStartup   Trigger = "startup"
)

// ActivationStatus describes the lifecycle state of a recorded activation.
type ActivationStatus string

const (
	ActivationStatusRunning   ActivationStatus = "running"
	ActivationStatusCompleted ActivationStatus = "completed"
	ActivationStatusCancelled ActivationStatus = "cancelled"
)

// StepStatus describes how a single step ended.
type StepStatus string

const (
	StepStatusOK       StepStatus = "ok"
	StepStatusFailed   StepStatus = "failed"
	StepStatusTimedOut StepStatus = "timed_out"
)

// Activation is one request to run a list of steps.
type Activation struct {
	ID           string
	ProfileID    string
	ProfileName  string
	Trigger      Trigger
	Steps        []Step
	DefaultDelay time.Duration
}

// ActivationRecord is the persisted summary of an activation.
type ActivationRecord struct {
	ID          string
	ProfileID   string
	ProfileName string
	Trigger     Trigger
	Status      ActivationStatus
	StepsTotal  int
	StepsFailed int
	StartedAt   time.Time
	EndedAt     *time.Time
	Steps       []StepResult
}

// StepResult captures the outcome of one executed step.
type StepResult struct {
	Position  int
	StepID    string
	StepName  string
	Status    StepStatus
	Error     *string
	StartedAt time.Time
	EndedAt   time.Time
}
