package process

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeRunner struct {
	mu     sync.Mutex
	calls  []string
	answer func(cmd string) ([]byte, error)
}

func (f *fakeRunner) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := strings.Join(append([]string{name}, args...), " ")
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()
	return f.answer(cmd)
}

func (f *fakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

var errExit1 = errors.New("exit status 1")

func TestIsRunning_Pgrep(t *testing.T) {
	f := &fakeRunner{answer: func(cmd string) ([]byte, error) {
		if cmd == "pgrep -ix firefox" {
			return []byte("4242\n"), nil
		}
		return nil, errExit1
	}}
	p := NewProbe(WithRunner(f.run), WithOS("linux"))

	if !p.IsRunning(context.Background(), "firefox") {
		t.Fatal("expected firefox to be running")
	}
	if !p.IsRunning(context.Background(), "firefox.exe") {
		t.Fatal("expected .exe fallback to match")
	}
	if p.IsRunning(context.Background(), "slack") {
		t.Fatal("expected slack to be reported as not running")
	}
	if p.IsRunning(context.Background(), "  ") {
		t.Fatal("blank name must not be running")
	}
	want := []string{"pgrep -ix firefox", "pgrep -ix firefox.exe", "pgrep -ix firefox", "pgrep -ix slack"}
	if got := f.Calls(); !slices.Equal(got, want) {
		t.Fatalf("unexpected calls %v", got)
	}
}

func TestIsRunning_Tasklist(t *testing.T) {
	f := &fakeRunner{answer: func(cmd string) ([]byte, error) {
		if strings.Contains(cmd, "Code.exe") {
			return []byte(`"Code.exe","1234","Console","1","120,000 K"`), nil
		}
		return []byte("INFO: No tasks are running which match the specified criteria."), nil
	}}
	p := NewProbe(WithRunner(f.run), WithOS("windows"))

	if !p.IsRunning(context.Background(), "Code.exe") {
		t.Fatal("expected Code.exe to be running")
	}
	if p.IsRunning(context.Background(), "Slack.exe") {
		t.Fatal("expected Slack.exe to be reported as not running")
	}
}

func TestIsRunning_TimeoutMeansNotRunning(t *testing.T) {
	slow := func(ctx context.Context, name string, args ...string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	p := NewProbe(WithRunner(slow), WithOS("linux"), WithTimeout(20*time.Millisecond))

	start := time.Now()
	if p.IsRunning(context.Background(), "hung") {
		t.Fatal("timed out query must report not running")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("query was not bounded: %s", elapsed)
	}
}

func TestRunningAmong(t *testing.T) {
	ps := "COMMAND\n/usr/lib/firefox/firefox\nbash\n  Code  \n"
	f := &fakeRunner{answer: func(cmd string) ([]byte, error) {
		if cmd == "ps -eo comm" {
			return []byte(ps), nil
		}
		return nil, errExit1
	}}
	p := NewProbe(WithRunner(f.run), WithOS("darwin"))

	got := p.RunningAmong(context.Background(), []string{"Firefox", "slack", "code.exe", ""})
	if !slices.Equal(got, []string{"Firefox", "code.exe"}) {
		t.Fatalf("unexpected running set %v", got)
	}
}

func TestRunningAmong_ListingFailure(t *testing.T) {
	f := &fakeRunner{answer: func(string) ([]byte, error) { return nil, errExit1 }}
	p := NewProbe(WithRunner(f.run), WithOS("linux"))

	got := p.RunningAmong(context.Background(), []string{"bash"})
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil result, got %#v", got)
	}
}

func TestRunning_TasklistCSV(t *testing.T) {
	out := "\"System Idle Process\",\"0\",\"Services\",\"0\",\"8 K\"\r\n\"Code.exe\",\"1234\",\"Console\",\"1\",\"1 K\"\r\n"
	f := &fakeRunner{answer: func(string) ([]byte, error) { return []byte(out), nil }}
	p := NewProbe(WithRunner(f.run), WithOS("windows"))

	set, err := p.Running(context.Background())
	if err != nil {
		t.Fatalf("running: %v", err)
	}
	for _, name := range []string{"system idle process", "code.exe"} {
		if _, ok := set[name]; !ok {
			t.Errorf("expected %q in %v", name, set)
		}
	}
}

func TestKill(t *testing.T) {
	f := &fakeRunner{answer: func(cmd string) ([]byte, error) {
		if cmd == "pkill -ix steam" {
			return nil, nil
		}
		return nil, errExit1
	}}
	p := NewProbe(WithRunner(f.run), WithOS("linux"))
	ctx := context.Background()

	if err := p.Kill(ctx, "steam.exe"); err != nil {
		t.Fatalf("expected .exe fallback kill to succeed: %v", err)
	}
	if err := p.Kill(ctx, "ghost"); !errors.Is(err, ErrKillFailed) {
		t.Fatalf("expected ErrKillFailed, got %v", err)
	}
	err := p.KillAll(ctx, []string{"steam", "ghost", "phantom"})
	if !errors.Is(err, ErrKillFailed) || !strings.Contains(err.Error(), "phantom") {
		t.Fatalf("expected joined failures, got %v", err)
	}
}

func TestKill_Taskkill(t *testing.T) {
	f := &fakeRunner{answer: func(string) ([]byte, error) { return []byte("SUCCESS"), nil }}
	p := NewProbe(WithRunner(f.run), WithOS("windows"))

	if err := p.Kill(context.Background(), "Steam.exe"); err != nil {
		t.Fatalf("kill: %v", err)
	}
	if got := f.Calls(); !slices.Equal(got, []string{"taskkill /F /IM Steam.exe"}) {
		t.Fatalf("unexpected calls %v", got)
	}
}
