// Package launcher performs the platform action for a single step.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"workswitch/internal/core"
)

// ErrInvalidStep is returned when a step lacks the fields its type needs.
var ErrInvalidStep = errors.New("invalid step")

// RunningChecker is the subset of the process probe used for skip-if-running.
type RunningChecker interface {
	IsRunning(ctx context.Context, name string) bool
}

// StartFunc spawns cmd without waiting for it to exit.
type StartFunc func(cmd *exec.Cmd) error

func startDetached(cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

// Launcher implements core.StepExecutor.
type Launcher struct {
	probe  RunningChecker
	logger *slog.Logger
	goos   string
	start  StartFunc
	exists func(path string) bool
	look   func(file string) (string, error)
}

var _ core.StepExecutor = (*Launcher)(nil)

// New creates a launcher. probe may be nil, which disables the running check.
func New(probe RunningChecker, logger *slog.Logger) *Launcher {
	return &Launcher{
		probe:  probe,
		logger: logger,
		goos:   runtime.GOOS,
		start:  startDetached,
		exists: pathExists,
		look:   exec.LookPath,
	}
}

// RunStep launches one step. It returns once the process has been spawned;
// launched programs are never waited on.
func (l *Launcher) RunStep(ctx context.Context, step core.Step) error {
	switch step.Type {
	case core.StepTypeApp:
		return l.launchApp(ctx, step)
	case core.StepTypeTerminal:
		return l.launchTerminal(step)
	case core.StepTypeFolder:
		return l.launchFolder(step)
	case core.StepTypeURL:
		return l.launchURL(step)
	default:
		return fmt.Errorf("%w: %q", core.ErrUnknownStepType, step.Type)
	}
}

func (l *Launcher) launchApp(ctx context.Context, step core.Step) error {
	if strings.TrimSpace(step.Target) == "" {
		return fmt.Errorf("%w: no target specified", ErrInvalidStep)
	}
	if step.CheckRunning && step.ProcessName != "" && l.probe != nil {
		if l.probe.IsRunning(ctx, step.ProcessName) {
			l.logger.Info("already running, skipping", "step", step.Name, "process", step.ProcessName)
			return nil
		}
	}

	target := ExpandEnv(step.Target)
	switch {
	case IsURI(target):
		return l.spawn(l.openCommand(target), "launch URI %s", target)
	case l.exists(target):
		return l.spawn(exec.Command(target), "launch %s", target) // #nosec G204
	default:
		if l.goos == "windows" {
			return l.spawn(exec.Command("cmd", "/C", "start", "", target), "start %s", target) // #nosec G204
		}
		path, err := l.look(target)
		if err != nil {
			return fmt.Errorf("launch %s: %w", target, err)
		}
		return l.spawn(exec.Command(path), "launch %s", target) // #nosec G204
	}
}

func (l *Launcher) launchTerminal(step core.Step) error {
	command := strings.TrimSpace(step.Command)
	if command == "" {
		return fmt.Errorf("%w: no command specified", ErrInvalidStep)
	}
	dir := ExpandEnv(step.WorkingDir)

	var cmd *exec.Cmd
	switch l.goos {
	case "windows":
		flag := "/C"
		if step.KeepOpen {
			flag = "/K"
		}
		cmd = exec.Command("cmd", "/C", "start", "cmd", flag, command) // #nosec G204
	case "darwin":
		script := command
		if dir != "" {
			script = "cd " + shellQuote(dir) + " && " + command
		}
		if !step.KeepOpen {
			script += "; exit"
		}
		cmd = exec.Command("osascript", "-e", // #nosec G204
			fmt.Sprintf(`tell application "Terminal" to do script %q`, script))
	default:
		script := command
		if step.KeepOpen {
			script += `; exec "${SHELL:-sh}"`
		}
		cmd = exec.Command("x-terminal-emulator", "-e", "sh", "-c", script) // #nosec G204
	}
	if dir != "" {
		cmd.Dir = dir
	}
	return l.spawn(cmd, "launch terminal")
}

func (l *Launcher) launchFolder(step core.Step) error {
	if strings.TrimSpace(step.Target) == "" {
		return fmt.Errorf("%w: no folder specified", ErrInvalidStep)
	}
	target := ExpandEnv(step.Target)
	var cmd *exec.Cmd
	if l.goos == "windows" {
		cmd = exec.Command("explorer", target) // #nosec G204
	} else {
		cmd = l.openCommand(target)
	}
	return l.spawn(cmd, "open folder %s", target)
}

func (l *Launcher) launchURL(step core.Step) error {
	target := strings.TrimSpace(step.Target)
	if target == "" {
		return fmt.Errorf("%w: no URL specified", ErrInvalidStep)
	}
	return l.spawn(l.openCommand(target), "open URL %s", target)
}

// openCommand hands target to the desktop's default handler.
func (l *Launcher) openCommand(target string) *exec.Cmd {
	switch l.goos {
	case "windows":
		return exec.Command("cmd", "/C", "start", "", target) // #nosec G204
	case "darwin":
		return exec.Command("open", target) // #nosec G204
	default:
		return exec.Command("xdg-open", target) // #nosec G204
	}
}

func (l *Launcher) spawn(cmd *exec.Cmd, format string, args ...any) error {
	if err := l.start(cmd); err != nil {
		return fmt.Errorf(format+": %w", append(args, err)...)
	}
	l.logger.Debug("spawned", "args", cmd.Args, "dir", cmd.Dir)
	return nil
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
