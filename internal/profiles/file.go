package profiles

import (
	"time"

	"workswitch/internal/core"
)

// On-disk representation. Optional booleans and delays are pointers so that
// defaults can be applied when a field is absent.

type fileConfig struct {
	Settings     fileSettings  `json:"settings" yaml:"settings" toml:"settings"`
	Profiles     []fileProfile `json:"profiles" yaml:"profiles" toml:"profiles"`
	StartupSteps []fileStep    `json:"startup_steps,omitempty" yaml:"startup_steps,omitempty" toml:"startup_steps,omitempty"`
}

type fileSettings struct {
	LaunchDelayMS *int64 `json:"launch_delay_ms,omitempty" yaml:"launch_delay_ms,omitempty" toml:"launch_delay_ms,omitempty"`
	CloseOnExit   bool   `json:"close_on_exit" yaml:"close_on_exit" toml:"close_on_exit"`
}

type fileProfile struct {
	ID          string        `json:"id" yaml:"id" toml:"id"`
	Name        string        `json:"name" yaml:"name" toml:"name"`
	Description string        `json:"description" yaml:"description" toml:"description"`
	Steps       []fileStep    `json:"steps" yaml:"steps" toml:"steps"`
	Schedule    *fileSchedule `json:"schedule,omitempty" yaml:"schedule,omitempty" toml:"schedule,omitempty"`
}

type fileSchedule struct {
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Time    string `json:"time" yaml:"time" toml:"time"`
	Days    []int  `json:"days" yaml:"days" toml:"days"`
}

type fileStep struct {
	ID           string `json:"id" yaml:"id" toml:"id"`
	Name         string `json:"name" yaml:"name" toml:"name"`
	Type         string `json:"type" yaml:"type" toml:"type"`
	Enabled      *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty" toml:"enabled,omitempty"`
	DelayAfterMS *int64 `json:"delay_after,omitempty" yaml:"delay_after,omitempty" toml:"delay_after,omitempty"`
	ProcessName  string `json:"process_name" yaml:"process_name" toml:"process_name"`
	Target       string `json:"target,omitempty" yaml:"target,omitempty" toml:"target,omitempty"`
	CheckRunning *bool  `json:"check_running,omitempty" yaml:"check_running,omitempty" toml:"check_running,omitempty"`
	Command      string `json:"command,omitempty" yaml:"command,omitempty" toml:"command,omitempty"`
	WorkingDir   string `json:"working_dir,omitempty" yaml:"working_dir,omitempty" toml:"working_dir,omitempty"`
	KeepOpen     *bool  `json:"keep_open,omitempty" yaml:"keep_open,omitempty" toml:"keep_open,omitempty"`
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// MaxDelay caps delay_after and launch_delay_ms.
const MaxDelay = 24 * time.Hour

func millisOr(v *int64, def time.Duration) time.Duration {
	if v == nil {
		return def
	}
	if *v < 0 {
		return 0
	}
	if *v > MaxDelay.Milliseconds() {
		return MaxDelay
	}
	return time.Duration(*v) * time.Millisecond
}

func ptr[T any](v T) *T { return &v }

func (f *fileConfig) toCore() *core.AppConfig {
	cfg := &core.AppConfig{
		Settings: core.Settings{
			LaunchDelay: millisOr(f.Settings.LaunchDelayMS, core.DefaultStepDelay),
			CloseOnExit: f.Settings.CloseOnExit,
		},
		Profiles: make([]core.Profile, 0, len(f.Profiles)),
	}
	for _, p := range f.Profiles {
		cfg.Profiles = append(cfg.Profiles, p.toCore())
	}
	for _, s := range f.StartupSteps {
		cfg.StartupSteps = append(cfg.StartupSteps, s.toCore())
	}
	return cfg
}

func (p *fileProfile) toCore() core.Profile {
	profile := core.Profile{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Steps:       make([]core.Step, 0, len(p.Steps)),
	}
	for _, s := range p.Steps {
		profile.Steps = append(profile.Steps, s.toCore())
	}
	if p.Schedule != nil {
		sched := &core.Schedule{Enabled: p.Schedule.Enabled, Time: p.Schedule.Time}
		for _, d := range p.Schedule.Days {
			sched.Days = append(sched.Days, time.Weekday(d))
		}
		profile.Schedule = sched
	}
	return profile
}

func (s *fileStep) toCore() core.Step {
	return core.Step{
		ID:           s.ID,
		Name:         s.Name,
		Type:         core.StepType(s.Type),
		Enabled:      boolOr(s.Enabled, true),
		DelayAfter:   millisOr(s.DelayAfterMS, core.DefaultStepDelay),
		ProcessName:  s.ProcessName,
		Target:       s.Target,
		CheckRunning: boolOr(s.CheckRunning, true),
		Command:      s.Command,
		WorkingDir:   s.WorkingDir,
		KeepOpen:     boolOr(s.KeepOpen, true),
	}
}

func fromCore(cfg *core.AppConfig) *fileConfig {
	f := &fileConfig{
		Settings: fileSettings{
			LaunchDelayMS: ptr(cfg.Settings.LaunchDelay.Milliseconds()),
			CloseOnExit:   cfg.Settings.CloseOnExit,
		},
		Profiles: make([]fileProfile, 0, len(cfg.Profiles)),
	}
	for i := range cfg.Profiles {
		f.Profiles = append(f.Profiles, profileFromCore(&cfg.Profiles[i]))
	}
	for _, s := range cfg.StartupSteps {
		f.StartupSteps = append(f.StartupSteps, stepFromCore(s))
	}
	return f
}

func profileFromCore(p *core.Profile) fileProfile {
	fp := fileProfile{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Steps:       make([]fileStep, 0, len(p.Steps)),
	}
	for _, s := range p.Steps {
		fp.Steps = append(fp.Steps, stepFromCore(s))
	}
	if p.Schedule != nil {
		days := make([]int, 0, len(p.Schedule.Days))
		for _, d := range p.Schedule.Days {
			days = append(days, int(d))
		}
		fp.Schedule = &fileSchedule{Enabled: p.Schedule.Enabled, Time: p.Schedule.Time, Days: days}
	}
	return fp
}

func stepFromCore(s core.Step) fileStep {
	fs := fileStep{
		ID:           s.ID,
		Name:         s.Name,
		Type:         string(s.Type),
		Enabled:      ptr(s.Enabled),
		DelayAfterMS: ptr(s.DelayAfter.Milliseconds()),
		ProcessName:  s.ProcessName,
		Target:       s.Target,
		Command:      s.Command,
		WorkingDir:   s.WorkingDir,
	}
	switch s.Type {
	case core.StepTypeApp:
		fs.CheckRunning = ptr(s.CheckRunning)
	case core.StepTypeTerminal:
		fs.KeepOpen = ptr(s.KeepOpen)
	}
	return fs
}
