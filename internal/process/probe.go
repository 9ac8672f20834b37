// Package process queries and terminates processes by image name using the
// platform's process tools.
package process

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// DefaultTimeout bounds every query and kill.
const DefaultTimeout = 5 * time.Second

// CommandRunner runs a command and returns its standard output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output() // #nosec G204
}

// Probe answers is-running questions and kills processes by name.
type Probe struct {
	timeout time.Duration
	run     CommandRunner
	goos    string
}

// Option customises a Probe.
type Option func(*Probe)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Probe) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithRunner replaces the command runner.
func WithRunner(run CommandRunner) Option {
	return func(p *Probe) { p.run = run }
}

// WithOS overrides runtime.GOOS for command selection.
func WithOS(goos string) Option {
	return func(p *Probe) { p.goos = goos }
}

// NewProbe creates a probe for the current platform.
func NewProbe(opts ...Option) *Probe {
	p := &Probe{timeout: DefaultTimeout, run: execRunner, goos: runtime.GOOS}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Probe) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.timeout)
}

// IsRunning reports whether a process with the given image name is running.
// Name matching is case-insensitive. Errors and timeouts count as not running.
func (p *Probe) IsRunning(ctx context.Context, name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	ctx, cancel := p.bounded(ctx)
	defer cancel()

	if p.goos == "windows" {
		out, err := p.run(ctx, "tasklist", "/FI", "IMAGENAME eq "+name, "/FO", "CSV", "/NH")
		if err != nil {
			return false
		}
		text := string(out)
		return strings.Contains(strings.ToLower(text), strings.ToLower(name)) &&
			!strings.Contains(text, "No tasks are running")
	}

	// pgrep exits 1 when nothing matches.
	if _, err := p.run(ctx, "pgrep", "-ix", name); err == nil {
		return true
	}
	if bare, ok := stripExe(name); ok {
		if _, err := p.run(ctx, "pgrep", "-ix", bare); err == nil {
			return true
		}
	}
	return false
}

// Running returns the lowercase image names of all running processes.
func (p *Probe) Running(ctx context.Context) (map[string]struct{}, error) {
	ctx, cancel := p.bounded(ctx)
	defer cancel()

	set := make(map[string]struct{})
	if p.goos == "windows" {
		out, err := p.run(ctx, "tasklist", "/FO", "CSV", "/NH")
		if err != nil {
			return nil, fmt.Errorf("tasklist: %w", err)
		}
		for _, line := range strings.Split(string(out), "\n") {
			first, _, _ := strings.Cut(line, ",")
			name := strings.ToLower(strings.Trim(strings.TrimSpace(first), `"`))
			if name != "" {
				set[name] = struct{}{}
			}
		}
		return set, nil
	}

	out, err := p.run(ctx, "ps", "-eo", "comm")
	if err != nil {
		return nil, fmt.Errorf("ps: %w", err)
	}
	lines := strings.Split(string(out), "\n")
	if len(lines) > 0 {
		lines = lines[1:] // header
	}
	for _, line := range lines {
		name := strings.TrimSpace(line)
		if name == "" {
			continue
		}
		set[strings.ToLower(filepath.Base(name))] = struct{}{}
	}
	return set, nil
}

// RunningAmong returns the subset of names that are currently running, in
// input order. A failed listing yields an empty result.
func (p *Probe) RunningAmong(ctx context.Context, names []string) []string {
	running, err := p.Running(ctx)
	if err != nil {
		return []string{}
	}
	found := []string{}
	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		if _, ok := running[key]; ok {
			found = append(found, name)
			continue
		}
		if bare, ok := stripExe(key); ok {
			if _, ok := running[bare]; ok {
				found = append(found, name)
			}
		}
	}
	return found
}

// ErrKillFailed is returned when no process could be terminated.
var ErrKillFailed = errors.New("kill failed")

// Kill terminates every process with the given image name.
func (p *Probe) Kill(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: empty process name", ErrKillFailed)
	}
	ctx, cancel := p.bounded(ctx)
	defer cancel()

	if p.goos == "windows" {
		if _, err := p.run(ctx, "taskkill", "/F", "/IM", name); err != nil {
			return fmt.Errorf("%w: taskkill %s: %s", ErrKillFailed, name, stderrOf(err))
		}
		return nil
	}

	if _, err := p.run(ctx, "pkill", "-ix", name); err == nil {
		return nil
	}
	if bare, ok := stripExe(name); ok {
		if _, err := p.run(ctx, "pkill", "-ix", bare); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: pkill %s", ErrKillFailed, name)
}

// KillAll kills each name and joins the failures.
func (p *Probe) KillAll(ctx context.Context, names []string) error {
	var errs []error
	for _, name := range names {
		if err := p.Kill(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func stripExe(name string) (string, bool) {
	lower := strings.ToLower(name)
	if !strings.HasSuffix(lower, ".exe") {
		return name, false
	}
	return name[:len(name)-len(".exe")], true
}

func stderrOf(err error) string {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
		return strings.TrimSpace(string(exitErr.Stderr))
	}
	return err.Error()
}
